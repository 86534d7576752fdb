package session

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fjod/go_cart/cart-session/internal/persistence"
)

const (
	// DefaultIdleTTL is how long a client session may stay silent before it is dropped.
	DefaultIdleTTL = 30 * time.Minute

	// SweepInterval is how often the background sweep runs
	SweepInterval = time.Minute
)

type entry struct {
	coord    *Coordinator
	lastSeen time.Time
}

// Registry keeps one Coordinator per client session id.
type Registry struct {
	store   *persistence.Store
	opts    []Option
	idleTTL time.Duration
	now     func() time.Time
	log     *zap.Logger

	mu       sync.Mutex
	sessions map[string]*entry

	stopSweep chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

type RegistryConfig struct {
	IdleTTL       time.Duration
	SweepInterval time.Duration
	Logger        *zap.Logger
	Clock         func() time.Time
}

// NewRegistry starts the idle sweep. opts are applied to every coordinator it creates.
func NewRegistry(store *persistence.Store, cfg RegistryConfig, opts ...Option) *Registry {
	if cfg.IdleTTL <= 0 {
		cfg.IdleTTL = DefaultIdleTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = SweepInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	r := &Registry{
		store:     store,
		opts:      opts,
		idleTTL:   cfg.IdleTTL,
		now:       cfg.Clock,
		log:       cfg.Logger,
		sessions:  make(map[string]*entry),
		stopSweep: make(chan struct{}),
	}

	r.wg.Add(1)
	go r.sweepLoop(cfg.SweepInterval)

	return r
}

// Get returns the coordinator for id, creating it on first use.
func (r *Registry) Get(id string) *Coordinator {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.sessions[id]
	if !ok {
		opts := append([]Option{WithLogger(r.log.With(zap.String("client_session", id)))}, r.opts...)
		e = &entry{coord: NewCoordinator(r.store, opts...)}
		r.sessions[id] = e
	}
	e.lastSeen = r.now()
	return e.coord
}

// Remove closes and forgets the session.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		e.coord.Close()
	}
	return ok
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// ClearOwner empties the stored carts of owner and every live cart that belongs to it.
func (r *Registry) ClearOwner(ctx context.Context, owner string) {
	r.store.ClearOwner(ctx, owner)

	r.mu.Lock()
	coords := make([]*Coordinator, 0, len(r.sessions))
	for _, e := range r.sessions {
		coords = append(coords, e.coord)
	}
	r.mu.Unlock()

	for _, c := range coords {
		c.ClearIfOwner(owner)
	}
}

func (r *Registry) sweepLoop(interval time.Duration) {
	defer r.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.stopSweep:
			return
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := r.now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*Coordinator
	for id, e := range r.sessions {
		if e.lastSeen.Before(cutoff) {
			idle = append(idle, e.coord)
			delete(r.sessions, id)
		}
	}
	r.mu.Unlock()

	for _, c := range idle {
		c.Close()
	}
	if len(idle) > 0 {
		r.log.Debug("evicted idle client sessions", zap.Int("count", len(idle)))
	}
}

// Close stops the sweep and closes every coordinator. It is safe to call more than once.
func (r *Registry) Close() error {
	r.stopOnce.Do(func() { close(r.stopSweep) })
	r.wg.Wait()

	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*entry)
	r.mu.Unlock()

	for _, e := range sessions {
		e.coord.Close()
	}
	return nil
}
