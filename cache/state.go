package cache

import "fmt"

// State is a Server lifecycle state.
type State int32

const (
	// StateUninitialized: no fields registered yet.
	StateUninitialized State = iota
	// StateFieldsReady: fields registered, nothing fetched.
	StateFieldsReady
	// StateWarm: at least one batch fetched; cache empty, every request misses.
	StateWarm
	// StatePopulated: cache set loaded and fixed for the rest of the run.
	StatePopulated
	// StateClosed: Close was called.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateFieldsReady:
		return "fields-ready"
	case StateWarm:
		return "warm"
	case StatePopulated:
		return "populated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *State) UnmarshalText(b []byte) error {
	for st := StateUninitialized; st <= StateClosed; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("cache: unknown state %q", b)
}
