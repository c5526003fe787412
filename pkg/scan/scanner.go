package scan

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/memscan/memscan/pkg/logflags"
	"github.com/memscan/memscan/pkg/metrics"
	"github.com/memscan/memscan/pkg/target"
)

// Scanner drives the scans of one target. It owns at most one Session at
// a time, starting a session replaces the previous one.
type Scanner struct {
	src     target.Source
	cfg     Config
	log     logflags.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	session  *Session
	catalog  *target.Catalog
	pointers *PointerMap
}

// NewScanner returns a scanner reading memory from src.
func NewScanner(src target.Source, opts ...Option) (*Scanner, error) {
	if src == nil {
		return nil, errors.New("nil memory source")
	}
	sc := &Scanner{src: src, cfg: DefaultConfig()}
	for _, opt := range opts {
		if err := opt(sc); err != nil {
			return nil, err
		}
	}
	if sc.log == nil {
		sc.log = logflags.ScannerLogger()
	}
	return sc, nil
}

// Config returns the tunables of the scanner.
func (sc *Scanner) Config() Config {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.cfg
}

// SetConfig replaces the tunables of the scanner. Sessions keep the
// configuration they were started with, cfg applies to the next session.
func (sc *Scanner) SetConfig(cfg Config) {
	sc.mu.Lock()
	sc.cfg = cfg.normalize()
	sc.mu.Unlock()
}

// Source returns the memory source of the scanner.
func (sc *Scanner) Source() target.Source {
	return sc.src
}

// live returns the source for reads that must see the current memory of
// the target.
func (sc *Scanner) live() target.Source {
	return target.Uncached(sc.src)
}

// StartSession starts a new session searching values of type t. The
// current session, if any, is discarded.
func (sc *Scanner) StartSession(t ScanType) (*Session, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %v", ErrValueType, t)
	}
	sc.mu.Lock()
	s := &Session{sc: sc, cfg: sc.cfg, t: t, state: StateIdle}
	old := sc.session
	sc.session = s
	sc.mu.Unlock()

	if old != nil {
		old.close(ErrSessionStale)
	}
	sc.metrics.SetCandidates(0)
	sc.log.WithField("type", t).Debug("session started")
	return s, nil
}

// Session returns the current session or nil.
func (sc *Scanner) Session() *Session {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.session
}

// Reset discards the current session, its candidates and the pointer map.
func (sc *Scanner) Reset() {
	sc.mu.Lock()
	old := sc.session
	sc.session = nil
	sc.pointers = nil
	sc.mu.Unlock()

	if old != nil {
		old.close(ErrSessionStale)
		sc.log.Debug("session reset")
	}
	sc.metrics.SetCandidates(0)
}

// Regions captures the current region layout of the target.
func (sc *Scanner) Regions(ctx context.Context) (*target.Catalog, error) {
	sc.mu.Lock()
	prev := sc.catalog
	sc.mu.Unlock()

	c, err := target.Enumerate(ctx, sc.src, prev)
	if err != nil {
		return nil, err
	}

	sc.mu.Lock()
	if sc.catalog == nil || sc.catalog.Version() < c.Version() {
		sc.catalog = c
	}
	sc.mu.Unlock()
	return c, nil
}

// purge drops the pages cached by the source so that a scan never sees
// data read by an earlier generation.
func (sc *Scanner) purge() {
	if p, ok := sc.src.(target.Purger); ok {
		p.Purge()
	}
}
