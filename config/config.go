// Package config loads featcache settings from a JSONC file.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-kit/log"
	"github.com/tailscale/hujson"

	"github.com/IvanBrykalov/featcache/cache"
	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/policy"
	"github.com/IvanBrykalov/featcache/policy/ascending"
	"github.com/IvanBrykalov/featcache/policy/frequency"
)

// Errors returned by Load, Parse and Validate.
var (
	ErrConfigFileRead = errors.New("cannot read config file")
	ErrConfigInvalid  = errors.New("invalid config")
)

// Selection policy names.
const (
	PolicyAscending = "ascending"
	PolicyFrequency = "frequency"
)

// Config is the serialized form of cache.Options plus the node count.
type Config struct {
	Fields         []string `json:"fields"`
	Counting       bool     `json:"counting"`
	VNum           int      `json:"vnum"`
	Capacity       int      `json:"capacity,omitempty"`
	MaxBytes       int64    `json:"max_bytes,omitempty"`
	Shards         int      `json:"shards,omitempty"`
	Policy         string   `json:"policy,omitempty"`
	ObserveBatches int      `json:"observe_batches,omitempty"`
	FetchTimeout   Duration `json:"fetch_timeout,omitempty"`
	FetchRetries   int      `json:"fetch_retries,omitempty"`
	PopulateChunk  int      `json:"populate_chunk,omitempty"`
}

// Default returns the default configuration. VNum has no default.
func Default() Config {
	return Config{
		Fields:         []string{"features"},
		Counting:       true,
		Policy:         PolicyAscending,
		ObserveBatches: 1,
		PopulateChunk:  cache.DefaultPopulateChunk,
	}
}

// Load reads a JSONC file over Default(). Keys absent from the file keep
// their default values. The result is not validated: callers overlay flags
// first and then call Validate.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w %s: %w", ErrConfigFileRead, path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes JSONC data over Default(). It fails only on malformed input.
func Parse(data []byte) (Config, error) {
	standardized, err := hujson.Standardize(data)
	if err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSONC: %w", ErrConfigInvalid, err)
	}

	cfg := Default()
	if err := json.Unmarshal(standardized, &cfg); err != nil {
		return Config{}, fmt.Errorf("%w: invalid JSON: %w", ErrConfigInvalid, err)
	}
	return cfg, nil
}

// Validate checks value ranges. It does not consult the store.
func (c Config) Validate() error {
	switch {
	case c.VNum <= 0:
		return fmt.Errorf("%w: vnum must be > 0", ErrConfigInvalid)
	case len(c.Fields) == 0:
		return fmt.Errorf("%w: fields must not be empty", ErrConfigInvalid)
	case c.Capacity < 0, c.MaxBytes < 0, c.Shards < 0, c.FetchRetries < 0, c.PopulateChunk < 0, c.ObserveBatches < 0:
		return fmt.Errorf("%w: negative bound", ErrConfigInvalid)
	case c.FetchTimeout < 0:
		return fmt.Errorf("%w: fetch_timeout must be >= 0", ErrConfigInvalid)
	}
	if _, err := c.selector(); err != nil {
		return err
	}
	return nil
}

// Options converts c into cache.Options for store.
func (c Config) Options(store feature.Store, metrics cache.Metrics, logger log.Logger) (cache.Options, error) {
	if err := c.Validate(); err != nil {
		return cache.Options{}, err
	}
	sel, err := c.selector()
	if err != nil {
		return cache.Options{}, err
	}
	return cache.Options{
		VNum:           c.VNum,
		Store:          store,
		Fields:         append([]string(nil), c.Fields...),
		Counting:       c.Counting,
		Capacity:       c.Capacity,
		MaxBytes:       c.MaxBytes,
		Selector:       sel,
		ObserveBatches: c.ObserveBatches,
		Shards:         c.Shards,
		FetchTimeout:   time.Duration(c.FetchTimeout),
		FetchRetries:   c.FetchRetries,
		PopulateChunk:  c.PopulateChunk,
		Metrics:        metrics,
		Logger:         logger,
	}, nil
}

func (c Config) selector() (policy.Selector, error) {
	switch c.Policy {
	case "", PolicyAscending:
		return ascending.New(), nil
	case PolicyFrequency:
		return frequency.New(), nil
	default:
		return nil, fmt.Errorf("%w: unknown policy %q", ErrConfigInvalid, c.Policy)
	}
}

// Duration is a time.Duration written as a string ("250ms") in JSON.
type Duration time.Duration

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	switch v := v.(type) {
	case float64:
		*d = Duration(v)
	case string:
		p, err := time.ParseDuration(v)
		if err != nil {
			return err
		}
		*d = Duration(p)
	default:
		return fmt.Errorf("invalid duration %s", b)
	}
	return nil
}
