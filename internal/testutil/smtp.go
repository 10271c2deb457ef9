package testutil

import (
	"io"
	"net"
	"strings"
	"sync"
	"testing"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// Credentials accepted by the test SMTP server.
const (
	SMTPUsername = "test-user"
	SMTPPassword = "test-pass"
)

// ReceivedMessage is a message accepted by the test SMTP server.
type ReceivedMessage struct {
	From string
	To   []string
	Data []byte
}

// MemoryBackend is an in-memory SMTP backend with failure injection.
type MemoryBackend struct {
	mu              sync.Mutex
	messages        []*ReceivedMessage
	transientFails  int
	rejected        map[string]bool
	dataAttempts    int
	authentications int
}

// NewMemoryBackend creates a new in-memory SMTP backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{rejected: make(map[string]bool)}
}

// NewSession creates a new SMTP session.
func (b *MemoryBackend) NewSession(*smtp.Conn) (smtp.Session, error) {
	return &memorySession{backend: b}, nil
}

// FailNextData makes the next n DATA commands fail with a 451 reply.
func (b *MemoryBackend) FailNextData(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transientFails = n
}

// RejectRecipient makes RCPT TO for addr fail with a 550 reply.
func (b *MemoryBackend) RejectRecipient(addr string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected[strings.ToLower(addr)] = true
}

// Messages returns all accepted messages.
func (b *MemoryBackend) Messages() []*ReceivedMessage {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*ReceivedMessage(nil), b.messages...)
}

// DataAttempts returns how many DATA commands were received, failed ones included.
func (b *MemoryBackend) DataAttempts() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dataAttempts
}

// Authentications returns how many successful AUTH exchanges happened.
func (b *MemoryBackend) Authentications() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.authentications
}

type memorySession struct {
	backend *MemoryBackend
	from    string
	to      []string
}

func (s *memorySession) AuthMechanisms() []string {
	return []string{sasl.Plain}
}

func (s *memorySession) Auth(mech string) (sasl.Server, error) {
	if mech != sasl.Plain {
		return nil, &smtp.SMTPError{
			Code:         504,
			EnhancedCode: smtp.EnhancedCode{5, 7, 4},
			Message:      "unsupported authentication mechanism",
		}
	}
	return sasl.NewPlainServer(func(identity, username, password string) error {
		if username != SMTPUsername || password != SMTPPassword {
			return &smtp.SMTPError{
				Code:         535,
				EnhancedCode: smtp.EnhancedCode{5, 7, 8},
				Message:      "invalid username or password",
			}
		}
		s.backend.mu.Lock()
		s.backend.authentications++
		s.backend.mu.Unlock()
		return nil
	}), nil
}

func (s *memorySession) Mail(from string, _ *smtp.MailOptions) error {
	s.from = from
	return nil
}

func (s *memorySession) Rcpt(to string, _ *smtp.RcptOptions) error {
	s.backend.mu.Lock()
	rejected := s.backend.rejected[strings.ToLower(to)]
	s.backend.mu.Unlock()

	if rejected {
		return &smtp.SMTPError{
			Code:         550,
			EnhancedCode: smtp.EnhancedCode{5, 1, 1},
			Message:      "mailbox unavailable",
		}
	}
	s.to = append(s.to, to)
	return nil
}

func (s *memorySession) Data(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	s.backend.mu.Lock()
	defer s.backend.mu.Unlock()

	s.backend.dataAttempts++
	if s.backend.transientFails > 0 {
		s.backend.transientFails--
		return &smtp.SMTPError{
			Code:         451,
			EnhancedCode: smtp.EnhancedCode{4, 3, 0},
			Message:      "temporary local problem, try again",
		}
	}

	s.backend.messages = append(s.backend.messages, &ReceivedMessage{
		From: s.from,
		To:   append([]string(nil), s.to...),
		Data: data,
	})

	return nil
}

func (s *memorySession) Reset() {
	s.from = ""
	s.to = nil
}

func (s *memorySession) Logout() error {
	return nil
}

// TestSMTPServer represents a test SMTP server instance.
type TestSMTPServer struct {
	Server  *smtp.Server
	Address string
	Backend *MemoryBackend
	cleanup func()
}

// NewTestSMTPServer starts an in-memory SMTP server on a random local port.
// It requires PLAIN authentication with SMTPUsername/SMTPPassword.
func NewTestSMTPServer(t *testing.T) *TestSMTPServer {
	t.Helper()

	be := NewMemoryBackend()

	s := smtp.NewServer(be)
	s.AllowInsecureAuth = true
	s.Domain = "localhost"

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	go func() {
		_ = s.Serve(listener)
	}()

	var once sync.Once
	srv := &TestSMTPServer{
		Server:  s,
		Address: listener.Addr().String(),
		Backend: be,
		cleanup: func() {
			once.Do(func() { _ = s.Close() })
		},
	}
	t.Cleanup(srv.Close)
	return srv
}

// Close shuts down the test SMTP server.
func (s *TestSMTPServer) Close() {
	if s.cleanup != nil {
		s.cleanup()
	}
}

// Messages returns all messages accepted by the server.
func (s *TestSMTPServer) Messages() []*ReceivedMessage {
	return s.Backend.Messages()
}
