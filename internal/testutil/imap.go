package testutil

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend"
	"github.com/emersion/go-imap/backend/memory"
	imapclient "github.com/emersion/go-imap/client"
	"github.com/emersion/go-imap/server"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// countingBackend wraps the memory backend to count and optionally slow down logins.
type countingBackend struct {
	*memory.Backend
	logins     atomic.Int32
	loginDelay atomic.Int64
	rejectMove atomic.Bool
}

func (b *countingBackend) Login(connInfo *imap.ConnInfo, username, password string) (backend.User, error) {
	b.logins.Add(1)
	if d := time.Duration(b.loginDelay.Load()); d > 0 {
		time.Sleep(d)
	}
	user, err := b.Backend.Login(connInfo, username, password)
	if err != nil {
		return nil, err
	}
	return &movingUser{User: user, backend: b}, nil
}

// movingUser hands out mailboxes that implement MOVE, which the server
// always advertises but the memory backend lacks.
type movingUser struct {
	backend.User
	backend *countingBackend
}

func (u *movingUser) GetMailbox(name string) (backend.Mailbox, error) {
	mbox, err := u.User.GetMailbox(name)
	if err != nil {
		return nil, err
	}
	return &movingMailbox{Mailbox: mbox, backend: u.backend}, nil
}

type movingMailbox struct {
	backend.Mailbox
	backend *countingBackend
}

// MoveMessages copies the messages, then flags and expunges the originals.
func (m *movingMailbox) MoveMessages(uid bool, seqset *imap.SeqSet, dest string) error {
	if m.backend.rejectMove.Load() {
		return errors.New("MOVE is disabled")
	}
	if err := m.CopyMessages(uid, seqset, dest); err != nil {
		return err
	}
	if err := m.UpdateMessagesFlags(uid, seqset, imap.AddFlags, []string{imap.DeletedFlag}); err != nil {
		return err
	}
	return m.Expunge()
}

// TestIMAPServer represents a test IMAP server instance.
// The memory backend creates a single user "username"/"password" whose INBOX
// already holds one message.
type TestIMAPServer struct {
	Server   *server.Server
	Address  string
	Backend  *memory.Backend
	counting *countingBackend
	cleanup  func()
	username string
	password string
}

// NewTestIMAPServer starts an in-memory IMAP server on a random local port.
// It is shut down when the test finishes.
func NewTestIMAPServer(t *testing.T) *TestIMAPServer {
	t.Helper()

	be := &countingBackend{Backend: memory.New()}

	s := server.New(be)
	s.AllowInsecureAuth = true

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	var once sync.Once
	srv := &TestIMAPServer{
		Server:   s,
		Address:  listener.Addr().String(),
		Backend:  be.Backend,
		counting: be,
		cleanup: func() {
			once.Do(func() { _ = s.Close() })
		},
		username: "username",
		password: "password",
	}
	t.Cleanup(srv.Close)
	return srv
}

// Close shuts down the test IMAP server.
func (s *TestIMAPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Username returns the default test username.
func (s *TestIMAPServer) Username() string {
	return s.username
}

// Password returns the default test password.
func (s *TestIMAPServer) Password() string {
	return s.password
}

// Logins returns how many LOGIN commands the server has handled.
func (s *TestIMAPServer) Logins() int {
	return int(s.counting.logins.Load())
}

// SetLoginDelay makes every subsequent LOGIN take at least d.
func (s *TestIMAPServer) SetLoginDelay(d time.Duration) {
	s.counting.loginDelay.Store(int64(d))
}

// RejectMove makes every MOVE command fail with a NO reply, as on servers
// that advertise MOVE but refuse it for some mailboxes.
func (s *TestIMAPServer) RejectMove() {
	s.counting.rejectMove.Store(true)
}

// Connect opens an authenticated client for test setup and inspection.
func (s *TestIMAPServer) Connect(t *testing.T) (*imapclient.Client, func()) {
	t.Helper()

	c, err := imapclient.Dial(s.Address)
	if err != nil {
		t.Fatalf("Failed to connect to test server: %v", err)
	}

	if err := c.Login(s.username, s.password); err != nil {
		_ = c.Logout()
		t.Fatalf("Failed to login: %v", err)
	}

	return c, func() { _ = c.Logout() }
}

// EnsureMailbox creates the mailbox if it does not exist yet.
func (s *TestIMAPServer) EnsureMailbox(t *testing.T, name string) {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Status(name, []imap.StatusItem{imap.StatusMessages}); err == nil {
		return
	}
	if err := c.Create(name); err != nil {
		t.Fatalf("Failed to create mailbox %s: %v", name, err)
	}
}

// TestMessage describes a message to seed into the server.
type TestMessage struct {
	MessageID  string
	Subject    string
	From       string
	To         string
	Body       string
	ReceivedAt time.Time
	Flags      []string
}

// AddMessage appends msg to the mailbox, creating the mailbox if needed, and
// returns the new UID.
func (s *TestIMAPServer) AddMessage(t *testing.T, mailbox string, msg TestMessage) uint32 {
	t.Helper()

	s.EnsureMailbox(t, mailbox)

	c, cleanup := s.Connect(t)
	defer cleanup()

	if msg.MessageID == "" {
		msg.MessageID = fmt.Sprintf("<%d@test>", time.Now().UnixNano())
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now()
	}
	if msg.To == "" {
		msg.To = "username@example.com"
	}
	if msg.Body == "" {
		msg.Body = "Test message body."
	}

	raw := strings.Join([]string{
		"Message-ID: " + msg.MessageID,
		"Date: " + msg.ReceivedAt.Format(time.RFC1123Z),
		"From: " + msg.From,
		"To: " + msg.To,
		"Subject: " + msg.Subject,
		"Content-Type: text/plain; charset=utf-8",
		"",
		msg.Body,
	}, "\r\n")

	if err := c.Append(mailbox, msg.Flags, msg.ReceivedAt, strings.NewReader(raw)); err != nil {
		t.Fatalf("Failed to append message: %v", err)
	}

	if _, err := c.Select(mailbox, true); err != nil {
		t.Fatalf("Failed to select %s: %v", mailbox, err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.Header.Add("Message-Id", msg.MessageID)
	uids, err := c.UidSearch(criteria)
	if err != nil {
		t.Fatalf("Failed to search for message: %v", err)
	}
	if len(uids) == 0 {
		t.Fatalf("Message %s not found after append", msg.MessageID)
	}

	return uids[len(uids)-1]
}

// Flags returns the flags of the message, or nil if the UID does not exist.
func (s *TestIMAPServer) Flags(t *testing.T, mailbox string, uid uint32) []string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(mailbox, true); err != nil {
		t.Fatalf("Failed to select %s: %v", mailbox, err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)
	messages := make(chan *imap.Message, 1)
	if err := c.UidFetch(seqSet, []imap.FetchItem{imap.FetchFlags, imap.FetchUid}, messages); err != nil {
		t.Fatalf("Failed to fetch flags: %v", err)
	}
	for m := range messages {
		if m.Uid == uid {
			return m.Flags
		}
	}
	return nil
}

// UIDs returns the UIDs currently in the mailbox.
func (s *TestIMAPServer) UIDs(t *testing.T, mailbox string) []uint32 {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	if _, err := c.Select(mailbox, true); err != nil {
		t.Fatalf("Failed to select %s: %v", mailbox, err)
	}

	uids, err := c.UidSearch(imap.NewSearchCriteria())
	if err != nil {
		t.Fatalf("Failed to search %s: %v", mailbox, err)
	}
	return uids
}

// Mailboxes returns the names of all mailboxes.
func (s *TestIMAPServer) Mailboxes(t *testing.T) []string {
	t.Helper()

	c, cleanup := s.Connect(t)
	defer cleanup()

	ch := make(chan *imap.MailboxInfo, 20)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", ch)
	}()

	var names []string
	for m := range ch {
		names = append(names, m.Name)
	}
	if err := <-done; err != nil {
		t.Fatalf("Failed to list mailboxes: %v", err)
	}
	return names
}

// Credentials returns mailbox credentials pointing at this server and the
// given SMTP server address (which may be empty).
func (s *TestIMAPServer) Credentials(ownerID, smtpAddr string) *models.MailboxCredentials {
	return &models.MailboxCredentials{
		OwnerID:      ownerID,
		FromAddress:  "username@example.com",
		FromName:     "Test User",
		IMAPServer:   s.Address,
		IMAPUsername: s.username,
		IMAPPassword: s.password,
		SMTPServer:   smtpAddr,
		SMTPUsername: SMTPUsername,
		SMTPPassword: SMTPPassword,
	}
}

// StaticCredentials is an in-memory credentials provider keyed by owner.
type StaticCredentials map[string]*models.MailboxCredentials

// MailboxCredentials implements the session pool's credentials provider.
func (c StaticCredentials) MailboxCredentials(_ context.Context, ownerID string) (*models.MailboxCredentials, error) {
	creds, ok := c[ownerID]
	if !ok {
		return nil, mailerr.NotFound("no mailbox configured for owner %s", ownerID)
	}
	cp := *creds
	return &cp, nil
}
