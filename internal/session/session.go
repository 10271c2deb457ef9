// Package session pools one authenticated mail store and relay connection
// per mailbox owner.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/relay"
)

// Health is the state of a pooled session.
type Health int32

const (
	Healthy Health = iota
	// Degraded sessions saw a network error and are replaced on next acquire.
	Degraded
	Closed
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Degraded:
		return "degraded"
	default:
		return "closed"
	}
}

var errSessionClosed = errors.New("session is closed")

// Session is one owner's store connection plus a lazily dialled relay
// connection. It is lent to a single operation at a time by the Pool and must
// not be retained after Release.
type Session struct {
	owner  string
	creds  *models.MailboxCredentials
	dialer Dialer
	now    func() time.Time

	store *client.Client
	relay *smtp.Client

	lastUsed atomic.Int64
	health   atomic.Int32

	// folderPaths caches the resolved remote path per folder role.
	folderPaths map[string]string
}

func newSession(owner string, creds *models.MailboxCredentials, store *client.Client, dialer Dialer, now func() time.Time) *Session {
	s := &Session{
		owner:  owner,
		creds:  creds,
		dialer: dialer,
		now:    now,
		store:  store,
	}
	s.touch()
	return s
}

// Owner returns the mailbox owner the session belongs to.
func (s *Session) Owner() string {
	return s.owner
}

// Credentials returns the owner's mailbox settings.
func (s *Session) Credentials() *models.MailboxCredentials {
	return s.creds
}

// Health returns the current health state.
func (s *Session) Health() Health {
	return Health(s.health.Load())
}

// LastUsed returns the time of the last store or relay call.
func (s *Session) LastUsed() time.Time {
	return time.Unix(0, s.lastUsed.Load())
}

func (s *Session) touch() {
	s.lastUsed.Store(s.now().UnixNano())
}

func (s *Session) setHealth(h Health) {
	// Closed is final.
	for {
		current := s.health.Load()
		if Health(current) == Closed {
			return
		}
		if s.health.CompareAndSwap(current, int32(h)) {
			return
		}
	}
}

// FolderPath returns the cached remote path for a folder role.
func (s *Session) FolderPath(role string) (string, bool) {
	path, ok := s.folderPaths[role]
	return path, ok
}

// SetFolderPaths replaces the cached role to path mapping.
func (s *Session) SetFolderPaths(paths map[string]string) {
	s.folderPaths = paths
}

// ResetFolderPaths forgets the cached mapping, e.g. after the folder list changed.
func (s *Session) ResetFolderPaths() {
	s.folderPaths = nil
}

// Do runs one store call. When ctx is cancelled the connection is torn down
// and the session is marked closed; a network error marks it degraded and is
// returned as a connection error. Other errors are returned wrapped with op.
func (s *Session) Do(ctx context.Context, op string, fn func(c *client.Client) error) error {
	if s.Health() == Closed {
		return mailerr.Connection(op, errSessionClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := imap.WithContext(ctx, s.store, func() error {
		return fn(s.store)
	})
	s.touch()
	if err == nil {
		return nil
	}

	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		s.setHealth(Closed)
		logrus.WithFields(logrus.Fields{"owner": s.owner, "op": op}).Debug("Session: store call cancelled")
		return err
	}

	var classified *mailerr.Error
	if errors.As(err, &classified) {
		return err
	}

	if imap.IsConnectionError(err) {
		s.setHealth(Degraded)
		logrus.WithFields(logrus.Fields{"owner": s.owner, "op": op}).WithError(err).Warn("Session: store connection broken")
		return mailerr.Connection(op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// Relay runs one relay call, dialling the relay first if needed. A relay
// connection that fails at the network level or is cancelled is dropped and
// redialled on next use; the store connection is unaffected.
func (s *Session) Relay(ctx context.Context, fn func(c *smtp.Client) error) error {
	if s.Health() == Closed {
		return mailerr.Connection("relay", errSessionClosed)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	if s.relay == nil {
		c, err := s.dialer.DialRelay(ctx, s.creds)
		if err != nil {
			return err
		}
		s.relay = c
	}

	c := s.relay
	done := make(chan error, 1)
	go func() {
		done <- fn(c)
	}()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		_ = c.Close()
		<-done
		err = ctx.Err()
	}
	s.touch()

	if err != nil && (ctx.Err() != nil || errors.Is(err, mailerr.ErrConnection)) {
		s.dropRelay()
	}
	return err
}

func (s *Session) dropRelay() {
	if s.relay != nil {
		_ = s.relay.Close()
		s.relay = nil
	}
}

// ping checks the store connection with NOOP.
func (s *Session) ping(ctx context.Context) error {
	return imap.WithContext(ctx, s.store, func() error {
		return imap.Ping(s.store)
	})
}

func (s *Session) close() {
	s.health.Store(int32(Closed))
	if s.relay != nil {
		relay.Close(s.relay)
		s.relay = nil
	}
	imap.Close(s.store)
}

// terminate drops the store socket without waiting for the current holder.
func (s *Session) terminate() {
	s.health.Store(int32(Closed))
	if s.store != nil {
		_ = s.store.Terminate()
	}
}
