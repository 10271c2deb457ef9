// Package outbox composes, relays and files outbound messages.
package outbox

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-smtp"
	"github.com/vdavid/vmail/mailcore/internal/blob"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"golang.org/x/time/rate"
)

const (
	DefaultMaxAttempts   = 3
	DefaultBackoffBase   = time.Second
	DefaultRatePerMinute = 30

	defaultMessageIDDomain = "mailcore.local"

	// detachedTimeout bounds the store writes that run after the caller's
	// context is done: the Sent copy and the draft saved on failure.
	detachedTimeout = 30 * time.Second
)

// Session is a pooled session that can reach both the store and the relay.
type Session interface {
	mailbox.Session
	Relay(ctx context.Context, fn func(c *smtp.Client) error) error
}

// Store files messages into folders.
type Store interface {
	Append(ctx context.Context, s mailbox.Session, folder string, raw []byte, flags []string, date time.Time) (uint32, error)
	Delete(ctx context.Context, s mailbox.Session, folder string, uid uint32) error
	FetchMessage(ctx context.Context, s mailbox.Session, folder string, uid uint32) (*models.Message, error)
}

// Options tunes retries and throttling. Zero values take the defaults,
// except RatePerMinute where a negative value disables the limit.
type Options struct {
	MaxAttempts     int
	BackoffBase     time.Duration
	RatePerMinute   int
	MessageIDDomain string
}

// Pipeline sends drafts through the owner's relay.
type Pipeline struct {
	store Store
	blobs blob.Store
	opts  Options
	// timer is nil outside tests, which makes backoff use a real timer.
	timer backoff.Timer
	now   func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// New creates a pipeline. blobs may be nil when drafts never carry attachments.
func New(store Store, blobs blob.Store, opts Options) *Pipeline {
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = DefaultBackoffBase
	}
	if opts.RatePerMinute == 0 {
		opts.RatePerMinute = DefaultRatePerMinute
	}
	if opts.MessageIDDomain == "" {
		opts.MessageIDDomain = defaultMessageIDDomain
	}
	if blobs == nil {
		blobs = blob.NewMemoryStore()
	}

	return &Pipeline{
		store:    store,
		blobs:    blobs,
		opts:     opts,
		now:      time.Now,
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiter returns the owner's send limiter, allowing a burst of one minute's quota.
func (p *Pipeline) limiter(owner string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.limiters[owner]
	if !ok {
		if p.opts.RatePerMinute < 0 {
			l = rate.NewLimiter(rate.Inf, 0)
		} else {
			l = rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.opts.RatePerMinute)), p.opts.RatePerMinute)
		}
		p.limiters[owner] = l
	}
	return l
}

// policy is exponential backoff without jitter: base, 2*base, 4*base, ...
// bounded by the attempt budget and ctx.
func (p *Pipeline) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.opts.BackoffBase
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	if b.MaxInterval < p.opts.BackoffBase {
		b.MaxInterval = p.opts.BackoffBase
	}
	b.Reset()

	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(p.opts.MaxAttempts-1)), ctx)
}

// detached returns a context that survives ctx's cancellation for follow-up writes.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), detachedTimeout)
}
