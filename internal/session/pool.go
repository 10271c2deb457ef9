package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

const (
	// DefaultIdleTimeout is how long an unused session stays open.
	DefaultIdleTimeout = 300 * time.Second
	// healthCheckThreshold is the idle time after which a session is pinged before reuse.
	healthCheckThreshold = 1 * time.Minute
	defaultSweepInterval = 1 * time.Minute
)

var errPoolClosed = errors.New("session pool is closed")

// Options configures a Pool. Zero values select the defaults.
type Options struct {
	IdleTimeout   time.Duration
	SweepInterval time.Duration
}

// slot guards one owner's session. Holding the semaphore means holding the
// session. The pointer is atomic so Close can reach a session that is lent out.
type slot struct {
	sem     chan struct{}
	session atomic.Pointer[Session]
}

// Pool keeps at most one session per owner and lends it to one operation at
// a time. Concurrent acquires for the same owner wait on the owner's slot, so
// a session is authenticated once and then handed out in turn.
type Pool struct {
	creds  CredentialsProvider
	dialer Dialer

	idleTimeout      time.Duration
	healthCheckAfter time.Duration
	now              func() time.Time

	mu     sync.Mutex
	slots  map[string]*slot
	closed bool

	cleanupCtx    context.Context
	cleanupCancel context.CancelFunc
}

// NewPool creates a pool and starts its idle sweep.
func NewPool(creds CredentialsProvider, dialer Dialer, opts Options) *Pool {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = DefaultIdleTimeout
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = defaultSweepInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		creds:            creds,
		dialer:           dialer,
		idleTimeout:      opts.IdleTimeout,
		healthCheckAfter: healthCheckThreshold,
		now:              time.Now,
		slots:            make(map[string]*slot),
		cleanupCtx:       ctx,
		cleanupCancel:    cancel,
	}
	p.startCleanupGoroutine(opts.SweepInterval)
	return p
}

func (p *Pool) slotFor(ownerID string) (*slot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, mailerr.Connection("acquire", errPoolClosed)
	}
	sl, ok := p.slots[ownerID]
	if !ok {
		sl = &slot{sem: make(chan struct{}, 1)}
		p.slots[ownerID] = sl
	}
	return sl, nil
}

func (p *Pool) lookup(ownerID string) *slot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.slots[ownerID]
}

// Acquire returns the owner's healthy session, creating and authenticating
// one when none is pooled or the pooled one is degraded or closed. The caller
// must hand it back with Release or Invalidate.
func (p *Pool) Acquire(ctx context.Context, ownerID string) (*Session, error) {
	if ownerID == "" {
		return nil, mailerr.InvalidArgument("owner id is required")
	}

	sl, err := p.slotFor(ownerID)
	if err != nil {
		return nil, err
	}

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	s, err := p.prepare(ctx, ownerID, sl)
	if err != nil {
		<-sl.sem
		return nil, err
	}
	return s, nil
}

// prepare runs with the slot held.
func (p *Pool) prepare(ctx context.Context, ownerID string, sl *slot) (*Session, error) {
	if s := sl.session.Load(); s != nil {
		if s.Health() == Healthy && p.now().Sub(s.LastUsed()) > p.healthCheckAfter {
			if err := s.ping(ctx); err != nil {
				if ctx.Err() != nil {
					s.setHealth(Closed)
				} else {
					logrus.WithField("owner", ownerID).WithError(err).Info("Pool: health check failed, reconnecting")
					s.setHealth(Degraded)
				}
			} else {
				s.touch()
			}
		}
		if s.Health() == Healthy {
			return s, nil
		}
		s.close()
		sl.session.Store(nil)
		if err := ctx.Err(); err != nil {
			return nil, err
		}
	}

	creds, err := p.creds.MailboxCredentials(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	store, err := p.dialer.DialStore(ctx, creds)
	if err != nil {
		logrus.WithField("owner", ownerID).WithError(err).Warn("Pool: failed to open session")
		return nil, err
	}

	s := newSession(ownerID, creds, store, p.dialer, p.now)
	sl.session.Store(s)
	logrus.WithField("owner", ownerID).Debug("Pool: session created")
	return s, nil
}

// Release hands the session back. Its connections stay open unless the
// session became unhealthy while lent.
func (p *Pool) Release(s *Session) {
	p.giveBack(s, false)
}

// Invalidate closes the session's connections and removes it from the pool.
// Use it after a protocol-level failure.
func (p *Pool) Invalidate(s *Session) {
	p.giveBack(s, true)
}

func (p *Pool) giveBack(s *Session, invalidate bool) {
	if s == nil {
		return
	}
	sl := p.lookup(s.owner)
	if sl == nil {
		s.close()
		return
	}

	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()

	if invalidate || closed || s.Health() != Healthy {
		s.close()
		sl.session.CompareAndSwap(s, nil)
		if invalidate {
			logrus.WithField("owner", s.owner).Debug("Pool: session invalidated")
		}
	} else {
		s.touch()
	}

	select {
	case <-sl.sem:
	default:
		logrus.WithField("owner", s.owner).Warn("Pool: session released twice")
	}
}

// Logout closes the owner's session, waiting for any operation using it.
func (p *Pool) Logout(ctx context.Context, ownerID string) error {
	sl := p.lookup(ownerID)
	if sl == nil {
		return nil
	}

	select {
	case sl.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-sl.sem }()

	if s := sl.session.Swap(nil); s != nil {
		s.close()
		logrus.WithField("owner", ownerID).Debug("Pool: session logged out")
	}
	return nil
}

// Len returns the number of open sessions.
func (p *Pool) Len() int {
	p.mu.Lock()
	slots := make([]*slot, 0, len(p.slots))
	for _, sl := range p.slots {
		slots = append(slots, sl)
	}
	p.mu.Unlock()

	n := 0
	for _, sl := range slots {
		select {
		case sl.sem <- struct{}{}:
			if sl.session.Load() != nil {
				n++
			}
			<-sl.sem
		default:
			// In use, so it holds a session.
			n++
		}
	}
	return n
}

// Close stops the sweep and closes every session. Sessions that are lent out
// are torn down and closed when they are released.
func (p *Pool) Close() {
	p.cleanupCancel()

	p.mu.Lock()
	p.closed = true
	slots := p.slots
	p.mu.Unlock()

	for ownerID, sl := range slots {
		select {
		case sl.sem <- struct{}{}:
			if s := sl.session.Swap(nil); s != nil {
				s.close()
			}
			<-sl.sem
		default:
			logrus.WithField("owner", ownerID).Debug("Pool: closing session in use")
			if s := sl.session.Load(); s != nil {
				s.terminate()
			}
		}
	}
}
