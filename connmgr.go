package refstore

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"
)

type ManagerOptions struct {
	// ScratchDir holds this process's local replicas. Required.
	ScratchDir string

	Store   StoreOptions
	Logger  *slog.Logger
	Verbose bool
}

// ConnectionManager caches one open store per reference for the lifetime
// of a worker process.
//
// A store is opened on first use, after materializing a local replica, and
// stays open while anyone holds it. Stores obtained through
// ConnectionManager.Connection are held until Close; stores obtained
// through a Lease are held until the lease moves to another reference or
// is released.
//
// The manager's mutex guards only cache transitions. Reads through a
// Connection never touch it.
type ConnectionManager struct {
	dist       *Distributor
	scratchDir string
	storeOpt   StoreOptions
	logger     *slog.Logger
	verbose    bool

	group      singleflight.Group
	caseWarned sync.Map // caseMismatch -> struct{}

	mu     sync.Mutex
	cache  map[Reference]*cachedStore
	closed bool

	OpenCount  atomic.Uint64
	CloseCount atomic.Uint64
	HitCount   atomic.Uint64
}

type caseMismatch struct {
	ref           Reference
	caseSensitive bool
}

type cachedStore struct {
	store  *Store
	leases int
	pinned bool
}

func NewConnectionManager(dist *Distributor, opt ManagerOptions) *ConnectionManager {
	if dist == nil {
		panic("refstore: nil distributor")
	}
	if opt.ScratchDir == "" {
		panic("refstore: no scratch dir")
	}
	if opt.Logger == nil {
		opt.Logger = slog.Default()
	}
	if opt.Store.Logger == nil {
		opt.Store.Logger = opt.Logger
	}
	return &ConnectionManager{
		dist:       dist,
		scratchDir: opt.ScratchDir,
		storeOpt:   opt.Store,
		logger:     opt.Logger,
		verbose:    opt.Verbose,
		cache:      make(map[Reference]*cachedStore),
	}
}

func (m *ConnectionManager) Distributor() *Distributor {
	return m.dist
}

// Connection returns a view on the store of ref, opening it on first use.
// The store stays open until the manager is closed.
func (m *ConnectionManager) Connection(ctx context.Context, ref Reference, caseSensitive bool) (*Connection, error) {
	s, err := m.acquire(ctx, ref, false)
	if err != nil {
		return nil, err
	}
	return m.connect(ctx, s, caseSensitive), nil
}

// connect wraps s in a Connection, warning once per reference and policy
// when the policy differs from the one the store was built with.
func (m *ConnectionManager) connect(ctx context.Context, s *Store, caseSensitive bool) *Connection {
	if built := s.desc.CaseSensitive; built != caseSensitive {
		key := caseMismatch{s.desc.Reference, caseSensitive}
		if _, warned := m.caseWarned.LoadOrStore(key, struct{}{}); !warned {
			m.logger.LogAttrs(ctx, slog.LevelWarn, "refstore: connection case policy differs from build",
				slog.String("ref", s.desc.Reference.String()),
				slog.Bool("built_case_sensitive", built),
				slog.Bool("case_sensitive", caseSensitive))
		}
	}
	return newConnection(s, caseSensitive)
}

// NewLease returns an empty per-component slot.
func (m *ConnectionManager) NewLease() *Lease {
	return &Lease{m: m}
}

func (m *ConnectionManager) acquire(ctx context.Context, ref Reference, leased bool) (*Store, error) {
	if ref.IsZero() {
		return nil, configErrf(nil, "no reference")
	}
	for first := true; ; first = false {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return nil, ErrClosed
		}
		if cs := m.cache[ref]; cs != nil {
			if leased {
				cs.leases++
			} else {
				cs.pinned = true
			}
			m.mu.Unlock()
			if first {
				m.HitCount.Add(1)
			}
			return cs.store, nil
		}
		m.mu.Unlock()

		// A store opened here may be released and closed by someone else
		// before we get to hold it; the loop then opens it again.
		_, err, _ := m.group.Do(ref.String(), func() (any, error) {
			return nil, m.open(ctx, ref)
		})
		if err != nil {
			return nil, err
		}
	}
}

func (m *ConnectionManager) open(ctx context.Context, ref Reference) error {
	m.mu.Lock()
	_, cached := m.cache[ref]
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return ErrClosed
	} else if cached {
		return nil
	}

	path, err := m.dist.Materialize(ctx, ref, m.scratchDir)
	if err != nil {
		return err
	}
	s, err := OpenStore(path, m.storeOpt)
	if err != nil {
		return distErrf(ref, path, err, "opening replica")
	}
	if s.Reference() != ref {
		_ = s.Close()
		return distErrf(ref, path, nil, "replica holds %v", s.Reference())
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		_ = s.Close()
		return ErrClosed
	}
	m.cache[ref] = &cachedStore{store: s}
	m.OpenCount.Add(1)
	m.logger.LogAttrs(ctx, slog.LevelInfo, "refstore: opened", slog.String("ref", ref.String()), slog.String("path", path))
	return nil
}

// release drops one lease on s, closing it once nobody holds it.
func (m *ConnectionManager) release(ref Reference, s *Store) error {
	m.mu.Lock()
	cs := m.cache[ref]
	if cs == nil || cs.store != s {
		m.mu.Unlock()
		return nil
	}
	cs.leases--
	if cs.leases > 0 || cs.pinned {
		m.mu.Unlock()
		return nil
	}
	delete(m.cache, ref)
	m.mu.Unlock()
	return m.closeStore(s)
}

func (m *ConnectionManager) closeStore(s *Store) error {
	err := s.Close()
	m.CloseCount.Add(1)
	if m.verbose {
		m.logger.LogAttrs(context.Background(), slog.LevelDebug, "refstore: closed", slog.String("ref", s.Reference().String()))
	}
	return err
}

// Cached returns the references with an open store.
func (m *ConnectionManager) Cached() []Reference {
	m.mu.Lock()
	defer m.mu.Unlock()
	refs := make([]Reference, 0, len(m.cache))
	for ref := range m.cache {
		refs = append(refs, ref)
	}
	return refs
}

// Close closes every cached store. Later calls to the manager, its leases
// and existing connections fail with ErrClosed.
func (m *ConnectionManager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	stores := make([]*Store, 0, len(m.cache))
	for _, cs := range m.cache {
		stores = append(stores, cs.store)
	}
	clear(m.cache)
	m.mu.Unlock()

	var errs []error
	for _, s := range stores {
		if err := m.closeStore(s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Lease is one component's claim on at most one store at a time.
//
// The held store is published through an atomic pointer, so repeated
// lookups of the same reference take no lock. mu serializes switching and
// releasing.
type Lease struct {
	m    *ConnectionManager
	mu   sync.Mutex
	held atomic.Pointer[leaseSlot]
}

type leaseSlot struct {
	ref   Reference
	store *Store
}

// Connection returns a view on the store of ref. If the lease currently
// holds another reference, that store is released (and closed if nobody
// else holds it) before the new one is opened.
func (l *Lease) Connection(ctx context.Context, ref Reference, caseSensitive bool) (*Connection, error) {
	if slot := l.held.Load(); slot != nil && slot.ref == ref {
		l.m.HitCount.Add(1)
		return l.m.connect(ctx, slot.store, caseSensitive), nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if slot := l.held.Load(); slot != nil && slot.ref == ref {
		l.m.HitCount.Add(1)
		return l.m.connect(ctx, slot.store, caseSensitive), nil
	}
	if err := l.releaseLocked(); err != nil {
		return nil, err
	}
	s, err := l.m.acquire(ctx, ref, true)
	if err != nil {
		return nil, err
	}
	l.held.Store(&leaseSlot{ref: ref, store: s})
	return l.m.connect(ctx, s, caseSensitive), nil
}

func (l *Lease) Reference() Reference {
	if slot := l.held.Load(); slot != nil {
		return slot.ref
	}
	return Reference{}
}

// Release gives up the held store, if any.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.releaseLocked()
}

func (l *Lease) releaseLocked() error {
	slot := l.held.Swap(nil)
	if slot == nil {
		return nil
	}
	return l.m.release(slot.ref, slot.store)
}
