package scan

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/memscan/memscan/pkg/logflags"
	"github.com/memscan/memscan/pkg/metrics"
	"github.com/memscan/memscan/pkg/target"
)

// State is the state of a Session.
type State uint8

const (
	StateIdle State = iota
	StateScanning
	StateRefining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateRefining:
		return "refining"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("State(%d)", s)
}

// Result is the outcome of a full or refine scan.
type Result struct {
	Kind       string
	Generation uint64
	Candidates int

	// Skipped counts the regions skipped by a full scan, or the candidates
	// a refine dropped because they could not be read.
	Skipped        int
	SkippedRegions []target.Region
	// Unmapped counts the candidates dropped by a refine because they were
	// no longer inside a readable region.
	Unmapped int
	// Rejected counts the candidates that did not satisfy the predicate.
	Rejected int
	// Dropped is the total number of candidates removed by a refine.
	Dropped int

	Retries   int
	BytesRead uint64
	Cancelled bool
	Duration  time.Duration
}

// Session is a search for values of one ScanType. Each full or refine
// scan produces a new generation of candidates. Readers of the candidates
// always see the last committed generation, never a scan in progress.
type Session struct {
	sc  *Scanner
	cfg Config
	t   ScanType

	writeMu sync.Mutex

	mu      sync.RWMutex
	state   State
	gen     uint64
	catalog *target.Catalog
	set     *CandidateSet
	err     error
}

// Type returns the scan type of the session.
func (s *Session) Type() ScanType {
	return s.t
}

// Config returns the configuration the session was started with.
func (s *Session) Config() Config {
	return s.cfg
}

// State returns the current state of the session.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Generation returns the generation of the current candidates, zero before
// the first scan.
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen
}

// Err returns the error that closed the session.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// Catalog returns the region catalog used by the last scan.
func (s *Session) Catalog() *target.Catalog {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.catalog
}

// Len returns the number of candidates.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Len()
}

// Candidates returns up to limit candidates starting at index offset, a
// negative limit returns all of them.
func (s *Session) Candidates(offset, limit int) []Candidate {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Candidates(offset, limit)
}

// Addresses returns the addresses of all candidates.
func (s *Session) Addresses() []uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Addresses()
}

// Get returns the candidate at addr.
func (s *Session) Get(addr uint64) (Candidate, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Get(addr)
}

// Footprint returns the approximate memory used by the candidates.
func (s *Session) Footprint() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.set.Footprint()
}

func (s *Session) snapshot() (uint64, *target.Catalog, *CandidateSet) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.gen, s.catalog, s.set
}

// begin moves the session from idle to state. For refines gen must be the
// current generation.
func (s *Session) begin(state State, gen *uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case s.state == StateClosed:
		return s.err
	case s.state != StateIdle:
		return ErrScanInProgress
	case gen != nil && (*gen == 0 || *gen != s.gen):
		return fmt.Errorf("%w: generation %d, current is %d", ErrSessionStale, *gen, s.gen)
	}
	s.state = state
	return nil
}

// commit publishes the candidates of a completed or cancelled scan as a
// new generation.
func (s *Session) commit(catalog *target.Catalog, set *CandidateSet) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return s.gen
	}
	s.gen++
	s.catalog = catalog
	s.set = set
	s.state = StateIdle
	return s.gen
}

// abort returns the session to idle without a new generation. Fatal
// errors close the session.
func (s *Session) abort(err error) {
	if target.IsFatal(err) {
		s.close(err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = StateIdle
	}
}

func (s *Session) close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return
	}
	s.state = StateClosed
	s.err = err
	s.set = nil
}

func (s *Session) run(ctx context.Context, units int, work func(ctx context.Context, i int) error) error {
	return runUnits(ctx, s.cfg.Workers, units, work)
}

// runUnits calls work for every unit on at most workers goroutines. Units
// not started when ctx is cancelled are left alone. The first error
// returned by work cancels the remaining units and is returned.
func runUnits(ctx context.Context, workers, units int, work func(ctx context.Context, i int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < units; i++ {
		if gctx.Err() != nil {
			break
		}
		i := i
		g.Go(func() error {
			return work(gctx, i)
		})
	}
	return g.Wait()
}

func (s *Session) finish(res *Result, start time.Time, err error) {
	s.sc.finish(res, start, err)
}

// finish logs the result and records it in the metrics.
func (sc *Scanner) finish(res *Result, start time.Time, err error) {
	res.Duration = time.Since(start)
	status := "ok"
	switch {
	case res.Cancelled:
		status = "cancelled"
	case err != nil:
		status = "error"
	}
	sc.metrics.ObserveScan(metrics.ScanStats{
		Kind:           res.Kind,
		Status:         status,
		Duration:       res.Duration,
		BytesRead:      res.BytesRead,
		Retries:        res.Retries,
		SkippedRegions: len(res.SkippedRegions),
		Unreadable:     res.Dropped - res.Unmapped - res.Rejected,
		Unmapped:       res.Unmapped,
		Rejected:       res.Rejected,
		Candidates:     res.Candidates,
	})
	log := sc.log.WithFields(logflags.Fields{
		"kind":       res.Kind,
		"generation": res.Generation,
		"candidates": res.Candidates,
		"skipped":    res.Skipped,
		"retries":    res.Retries,
		"bytes":      res.BytesRead,
		"duration":   res.Duration,
	})
	switch {
	case err != nil && !res.Cancelled:
		log.WithError(err).Error("scan failed")
	case res.Cancelled:
		log.Info("scan cancelled")
	default:
		log.Info("scan done")
	}
}

// WriteCandidate writes v at addr, which must be a candidate of the
// session. Writes are serialized. The snapshot of the candidate is not
// updated, the next refine reads the new value.
func (s *Session) WriteCandidate(ctx context.Context, addr uint64, v Value) error {
	s.mu.RLock()
	closed, err, ok := s.state == StateClosed, s.err, s.set.Contains(addr)
	s.mu.RUnlock()
	if closed {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %#x", ErrNotCandidate, addr)
	}
	return s.write(ctx, addr, v)
}

// WriteValue writes v at any address of the target.
func (s *Session) WriteValue(ctx context.Context, addr uint64, v Value) error {
	if err := s.Err(); err != nil {
		return err
	}
	return s.write(ctx, addr, v)
}

func (s *Session) write(ctx context.Context, addr uint64, v Value) error {
	if s.t.Numeric() && v.Raw != nil {
		return fmt.Errorf("%w: byte pattern written as %v", ErrValueType, s.t)
	}
	if s.t.Kind == KindBytes && len(v.Raw) != s.t.Size {
		return fmt.Errorf("%w: %d bytes written as %v", ErrPatternLengthMismatch, len(v.Raw), s.t)
	}
	data := s.t.Encode(v, s.cfg.ByteOrder)

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.cfg.retryPolicy().do(ctx, func(ctx context.Context) error {
		n, err := s.sc.src.WriteMemory(ctx, addr, data)
		if err == nil && n < len(data) {
			err = target.WriteError(addr, len(data), target.ErrUnwritable)
		}
		return err
	})
	if target.IsFatal(err) {
		s.close(err)
	}
	return err
}

// ReadValue reads the value of the session type at addr. The read
// bypasses the page cache of the source.
func (s *Session) ReadValue(ctx context.Context, addr uint64) (Value, error) {
	if err := s.Err(); err != nil {
		return Value{}, err
	}
	buf := make([]byte, s.t.Width())
	src := s.sc.live()
	_, err := s.cfg.retryPolicy().do(ctx, func(ctx context.Context) error {
		return readFull(ctx, src, buf, addr)
	})
	if err != nil {
		if target.IsFatal(err) {
			s.close(err)
		}
		return Value{}, err
	}
	return s.t.Decode(buf, s.cfg.ByteOrder), nil
}

// readFull reads len(buf) bytes at addr, short reads are unreadable.
func readFull(ctx context.Context, src target.MemoryReader, buf []byte, addr uint64) error {
	n, err := src.ReadMemory(ctx, buf, addr)
	if err == nil && n < len(buf) {
		err = target.ReadError(addr, len(buf), target.ErrUnreadable)
	}
	return err
}
