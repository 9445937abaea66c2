package cache

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/IvanBrykalov/featcache/feature"
	"github.com/IvanBrykalov/featcache/internal/singleflight"
	"github.com/IvanBrykalov/featcache/internal/util"
	"github.com/IvanBrykalov/featcache/policy"
)

var populateKey = struct{}{}

// server implements Server.
type server struct {
	opt   Options
	log   log.Logger
	table *table
	rec   *policy.Recorder

	// populate is coalesced: concurrent PopulateOnce callers share one run.
	// While it is in flight no batch is recorded.
	sf singleflight.Group[struct{}, *policy.Mask]

	// ---- guarded by mu ----
	mu        sync.RWMutex
	state     State
	fields    []string
	mask      *policy.Mask
	nodeBytes int64 // payload of one node over all fields, learned from fetched rows

	// ---- hot counters (separate cache lines to avoid false sharing) ----
	_          util.CacheLinePad
	hits       util.PaddedAtomicInt64
	misses     util.PaddedAtomicInt64
	remoteRows util.PaddedAtomicInt64
}

// New constructs a Server. It fails with ErrConfiguration when VNum or Store
// are missing or a bound is negative. Non-empty Options.Fields are registered
// right away.
func New(opt Options) (Server, error) {
	if err := opt.validate(); err != nil {
		return nil, err
	}
	opt.applyDefaults()

	s := &server{
		opt:   opt,
		log:   log.With(opt.Logger, "component", "featcache"),
		table: newTable(opt.Shards, opt.VNum),
		rec:   policy.NewRecorder(opt.VNum, opt.ObserveBatches),
	}
	if len(opt.Fields) > 0 {
		if err := s.InitFields(opt.Fields...); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// ---- Server implementation ----

func (s *server) InitFields(names ...string) error {
	if len(names) == 0 {
		return fmt.Errorf("%w: no field names", ErrConfiguration)
	}
	seen := make(map[string]struct{}, len(names))
	for _, n := range names {
		if n == "" {
			return fmt.Errorf("%w: empty field name", ErrConfiguration)
		}
		if _, dup := seen[n]; dup {
			return fmt.Errorf("%w: duplicate field %q", ErrConfiguration, n)
		}
		seen[n] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateUninitialized:
	case StateClosed:
		return ErrClosed
	default:
		return fmt.Errorf("%w: fields already registered (%s)", ErrConfiguration, strings.Join(s.fields, ","))
	}
	s.fields = slices.Clone(names)
	s.state = StateFieldsReady
	level.Debug(s.log).Log("msg", "fields registered", "fields", strings.Join(names, ","), "vnum", s.opt.VNum)
	return nil
}

func (s *server) Fetch(ctx context.Context, ids []feature.NodeID) (*Batch, error) {
	s.mu.RLock()
	state, fields := s.state, s.fields
	s.mu.RUnlock()

	switch state {
	case StateClosed:
		return nil, ErrClosed
	case StateUninitialized:
		return nil, fmt.Errorf("%w: fetch before InitFields", ErrUnknownField)
	}
	for i, id := range ids {
		if id < 0 || int64(id) >= int64(s.opt.VNum) {
			return nil, fmt.Errorf("%w: ids[%d]=%d not in [0, %d)", ErrOutOfRange, i, id, s.opt.VNum)
		}
	}

	b := newBatch(ids, fields)
	var missing []int
	for i, id := range ids {
		rows, ok := s.table.get(id)
		if !ok {
			missing = append(missing, i)
			continue
		}
		for f := range fields {
			b.rows[f][i] = rows[f]
		}
		b.hit[i] = true
	}
	b.Misses = len(missing)
	b.Hits = len(ids) - b.Misses

	if len(missing) > 0 {
		if err := s.fillMisses(ctx, b, missing); err != nil {
			return nil, err
		}
	}
	s.account(b)
	return b, nil
}

func (s *server) PopulateOnce(ctx context.Context) (*policy.Mask, error) {
	m, err, _ := s.sf.Do(ctx, populateKey, s.populateOnce)
	return m, err
}

func (s *server) MissRate() (float64, error) {
	if !s.opt.Counting {
		return 0, ErrCountingDisabled
	}
	hits, misses := s.hits.Load(), s.misses.Load()
	total := hits + misses
	if total == 0 {
		return 0, nil
	}
	return float64(misses) / float64(total), nil
}

func (s *server) ResetCounters() {
	s.hits.Store(0)
	s.misses.Store(0)
}

func (s *server) Stats() Stats {
	entries, bytes := s.table.stats()
	hits, misses := s.hits.Load(), s.misses.Load()
	return Stats{
		Requests:   hits + misses,
		Hits:       hits,
		Misses:     misses,
		RemoteRows: s.remoteRows.Load(),
		Entries:    entries,
		Bytes:      bytes,
		State:      s.State(),
	}
}

func (s *server) Observing() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.state {
	case StateFieldsReady, StateWarm:
		return !s.rec.Done()
	}
	return false
}

func (s *server) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *server) Mask() *policy.Mask {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.mask
}

func (s *server) Fields() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.fields)
}

func (s *server) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return nil
	}
	s.state = StateClosed
	s.table.reset()
	return nil
}

// ---- helpers ----

// account updates counters and the lifecycle after a successful fetch.
func (s *server) account(b *Batch) {
	if s.opt.Counting {
		s.hits.Add(int64(b.Hits))
		s.misses.Add(int64(b.Misses))
		s.opt.Metrics.Hit(b.Hits)
		s.opt.Metrics.Miss(b.Misses)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// An empty batch says nothing about the access pattern.
	if b.Len() == 0 {
		return
	}
	if s.state == StateFieldsReady {
		s.state = StateWarm
	}
	if s.state == StateWarm && !s.sf.InFlight(populateKey) && s.rec.Observe(b.IDs) && s.rec.Done() {
		level.Debug(s.log).Log("msg", "observation window closed", "batches", s.rec.Batches())
	}
	if s.nodeBytes == 0 {
		for f := range b.rows {
			s.nodeBytes += b.rows[f][0].Bytes()
		}
	}
}

func (s *server) populateOnce(ctx context.Context) (*policy.Mask, error) {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return nil, ErrClosed
	case StateUninitialized:
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: populate before InitFields", ErrUnknownField)
	case StateFieldsReady:
		s.mu.Unlock()
		return nil, ErrNotWarm
	case StatePopulated:
		s.mu.Unlock()
		return nil, ErrAlreadyPopulated
	}
	fields, nodeBytes := s.fields, s.nodeBytes
	s.mu.Unlock()

	start := time.Now()
	obs := s.rec.Observation()
	capacity := s.capacity(nodeBytes)
	mask := s.opt.Selector.Select(obs, capacity)
	err := s.populate(ctx, mask, fields)

	s.mu.Lock()
	defer s.mu.Unlock()

	if err != nil {
		s.table.reset()
		level.Error(s.log).Log("msg", "populate failed", "err", err)
		return nil, fmt.Errorf("cache: populate: %w", err)
	}
	if s.state == StateClosed {
		s.table.reset()
		return nil, ErrClosed
	}
	s.state = StatePopulated
	s.mask = mask
	// Warm-up requests miss by construction; the rate measures the populated set.
	s.ResetCounters()

	entries, bytes := s.table.stats()
	s.opt.Metrics.Populated(entries, bytes)
	level.Info(s.log).Log(
		"msg", "cache populated",
		"selector", s.opt.Selector.Name(),
		"observed", obs.Distinct(),
		"batches", obs.Batches,
		"capacity", capacity,
		"entries", entries,
		"bytes", bytes,
		"took", time.Since(start),
	)
	return mask, nil
}

// capacity resolves the cache set bound: the smallest of VNum, Capacity and
// MaxBytes over the per-node payload.
func (s *server) capacity(nodeBytes int64) int {
	c := s.opt.VNum
	if s.opt.Capacity > 0 {
		c = min(c, s.opt.Capacity)
	}
	if s.opt.MaxBytes > 0 && nodeBytes > 0 {
		c = min(c, int(s.opt.MaxBytes/nodeBytes))
	}
	return c
}
