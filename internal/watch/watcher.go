// Package watch notifies owners' live clients when their inbox changes.
package watch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/emersion/go-imap"
	idle "github.com/emersion/go-imap-idle"
	"github.com/emersion/go-imap/client"
	"github.com/sirupsen/logrus"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/session"
)

const (
	DefaultInterval   = time.Minute
	DefaultRetryDelay = 10 * time.Second
)

// Notifier delivers a payload to every live client of an owner.
type Notifier interface {
	Send(owner string, msg []byte)
}

// Invalidator drops cached messages of a folder.
type Invalidator interface {
	InvalidateFolder(ctx context.Context, owner, folder string)
}

// Event is the payload pushed to clients.
type Event struct {
	Type   string `json:"type"`
	Folder string `json:"folder"`
}

// Options tunes the watcher. Interval is both the NOOP polling period for
// servers without IDLE and the longest time between two inbox checks.
type Options struct {
	Interval   time.Duration
	RetryDelay time.Duration
}

// Watcher keeps one IDLE connection per watched owner, separate from the
// session pool.
type Watcher struct {
	creds    session.CredentialsProvider
	dialer   session.Dialer
	inv      Invalidator
	notifier Notifier
	opts     Options

	mu      sync.Mutex
	running map[string]*run
	wg      sync.WaitGroup
}

type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(creds session.CredentialsProvider, dialer session.Dialer, inv Invalidator, notifier Notifier, opts Options) *Watcher {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	return &Watcher{
		creds:    creds,
		dialer:   dialer,
		inv:      inv,
		notifier: notifier,
		opts:     opts,
		running:  make(map[string]*run),
	}
}

// Start watches owner's inbox until Stop. Starting a watched owner is a no-op.
func (w *Watcher) Start(owner string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.running[owner]; ok {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{cancel: cancel, done: make(chan struct{})}
	w.running[owner] = r

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer close(r.done)
		w.loop(ctx, owner)
	}()
	logrus.WithField("owner", owner).Debug("Watch: started")
}

// Stop stops watching owner and waits for the connection to close.
func (w *Watcher) Stop(owner string) {
	w.mu.Lock()
	r, ok := w.running[owner]
	delete(w.running, owner)
	w.mu.Unlock()

	if !ok {
		return
	}
	r.cancel()
	<-r.done
	logrus.WithField("owner", owner).Debug("Watch: stopped")
}

// Watching reports whether owner is being watched.
func (w *Watcher) Watching(owner string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.running[owner]
	return ok
}

// Close stops every watch.
func (w *Watcher) Close() {
	w.mu.Lock()
	for owner, r := range w.running {
		r.cancel()
		delete(w.running, owner)
	}
	w.mu.Unlock()
	w.wg.Wait()
}

func (w *Watcher) loop(ctx context.Context, owner string) {
	for ctx.Err() == nil {
		err := w.watch(ctx, owner)
		if ctx.Err() != nil {
			return
		}
		logrus.WithField("owner", owner).WithError(err).Warn("Watch: inbox watch failed, retrying")

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.opts.RetryDelay):
		}
	}
}

// inboxState is what a wake compares to decide whether the inbox changed.
type inboxState struct {
	messages uint32
	uidNext  uint32
}

// watch runs one connection until it fails or ctx is done.
func (w *Watcher) watch(ctx context.Context, owner string) error {
	creds, err := w.creds.MailboxCredentials(ctx, owner)
	if err != nil {
		return err
	}
	c, err := w.dialer.DialStore(ctx, creds)
	if err != nil {
		return err
	}

	updates := make(chan client.Update, 16)
	wake := make(chan struct{}, 1)
	c.Updates = updates
	go func() {
		for range updates {
			select {
			case wake <- struct{}{}:
			default:
			}
		}
	}()
	defer func() {
		imaputil.Close(c)
		<-c.LoggedOut()
		close(updates)
	}()

	last, err := inboxStatus(ctx, c)
	if err != nil {
		return err
	}
	if _, err := c.Select(imaputil.InboxPath, true); err != nil {
		return err
	}

	for {
		if err := w.idle(ctx, c, wake); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		current, err := inboxStatus(ctx, c)
		if err != nil {
			return err
		}
		if current != last {
			last = current
			w.notify(ctx, owner)
		}
	}
}

// idle idles until the server reports a change, the interval elapses or ctx
// is done, and returns once IDLE has been left.
func (w *Watcher) idle(ctx context.Context, c *client.Client, wake <-chan struct{}) error {
	stop := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- idle.NewClient(c).IdleWithFallback(stop, w.opts.Interval)
	}()

	timer := time.NewTimer(w.opts.Interval)
	defer timer.Stop()

	ctxDone := ctx.Done()
	stopped := false
	for {
		select {
		case err := <-done:
			return err
		case <-wake:
		case <-timer.C:
		case <-ctxDone:
			ctxDone = nil
		}
		if !stopped {
			close(stop)
			stopped = true
		}
	}
}

func inboxStatus(ctx context.Context, c *client.Client) (inboxState, error) {
	var state inboxState
	err := imaputil.WithContext(ctx, c, func() error {
		status, err := c.Status(imaputil.InboxPath, []imap.StatusItem{imap.StatusMessages, imap.StatusUidNext})
		if err != nil {
			return err
		}
		state = inboxState{messages: status.Messages, uidNext: status.UidNext}
		return nil
	})
	return state, err
}

func (w *Watcher) notify(ctx context.Context, owner string) {
	w.inv.InvalidateFolder(ctx, owner, models.FolderInbox)

	payload, err := json.Marshal(Event{Type: "folder_changed", Folder: models.FolderInbox})
	if err != nil {
		logrus.WithError(err).Error("Watch: failed to marshal event")
		return
	}
	w.notifier.Send(owner, payload)
	logrus.WithField("owner", owner).Debug("Watch: inbox changed")
}
