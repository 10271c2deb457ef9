// Command probe checks a mail account against the mail core. It reports the
// server extensions the core uses, resolves the folder layout and reads the
// first inbox page through the same session pool the API server uses.
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/emersion/go-smtp"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/relay"
	"github.com/vdavid/vmail/mailcore/internal/session"
)

const (
	probeOwner      = "probe"
	probeTimeout    = 30 * time.Second
	defaultPageSize = 10
)

// extension is a server capability the core uses when present.
type extension struct {
	Name     string
	Fallback string
}

var extensions = []extension{
	{Name: "IDLE", Fallback: "inbox changes are polled with NOOP"},
	{Name: "MOVE", Fallback: "moves use COPY and EXPUNGE"},
	{Name: "SORT", Fallback: "message lists are sorted locally by arrival date"},
	{Name: "SPECIAL-USE", Fallback: "system folders are matched by name"},
}

// report is what one probe found.
type report struct {
	Supported []string
	Missing   []extension
	Folders   []*models.Folder
	Inbox     *models.Page
	// RelayChecked is false when no SMTP server was given.
	RelayChecked bool
	RelayErr     error
}

type staticCredentials struct {
	creds *models.MailboxCredentials
}

func (p staticCredentials) MailboxCredentials(_ context.Context, ownerID string) (*models.MailboxCredentials, error) {
	cp := *p.creds
	cp.OwnerID = ownerID
	return &cp, nil
}

func main() {
	if err := godotenv.Load(); err != nil {
		logrus.Debug("Probe: .env file not found, using environment variables")
	}

	creds, useTLS, pageSize, err := credentialsFromEnv()
	if err != nil {
		logrus.Fatalf("Probe: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	r, err := run(ctx, creds, session.NewDialer(useTLS), pageSize)
	if err != nil {
		logrus.Fatalf("Probe failed: %v", err)
	}
	r.log()
}

// credentialsFromEnv reads PROBE_* variables. The SMTP server is optional.
func credentialsFromEnv() (*models.MailboxCredentials, bool, int, error) {
	creds := &models.MailboxCredentials{
		OwnerID:      probeOwner,
		IMAPServer:   os.Getenv("PROBE_IMAP_SERVER"),
		IMAPUsername: os.Getenv("PROBE_IMAP_USER"),
		IMAPPassword: os.Getenv("PROBE_IMAP_PASSWORD"),
		SMTPServer:   os.Getenv("PROBE_SMTP_SERVER"),
		SMTPUsername: os.Getenv("PROBE_SMTP_USER"),
		SMTPPassword: os.Getenv("PROBE_SMTP_PASSWORD"),
	}
	if creds.IMAPServer == "" || creds.IMAPUsername == "" || creds.IMAPPassword == "" {
		return nil, false, 0, errors.New("PROBE_IMAP_SERVER, PROBE_IMAP_USER and PROBE_IMAP_PASSWORD are required")
	}
	if creds.SMTPUsername == "" {
		creds.SMTPUsername = creds.IMAPUsername
		creds.SMTPPassword = creds.IMAPPassword
	}

	useTLS := true
	if v := os.Getenv("PROBE_MAIL_TLS"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			return nil, false, 0, errors.New("PROBE_MAIL_TLS must be a boolean")
		}
		useTLS = parsed
	}

	pageSize := defaultPageSize
	if v := os.Getenv("PROBE_PAGE_SIZE"); v != "" {
		parsed, err := strconv.Atoi(v)
		if err != nil || parsed < 1 {
			return nil, false, 0, errors.New("PROBE_PAGE_SIZE must be a positive integer")
		}
		pageSize = parsed
	}

	return creds, useTLS, pageSize, nil
}

func run(ctx context.Context, creds *models.MailboxCredentials, dialer session.Dialer, pageSize int) (*report, error) {
	r := &report{}

	c, err := dialer.DialStore(ctx, creds)
	if err != nil {
		return nil, err
	}
	for _, ext := range extensions {
		ok, err := c.Support(ext.Name)
		if err != nil {
			imaputil.Close(c)
			return nil, err
		}
		if ok {
			r.Supported = append(r.Supported, ext.Name)
		} else {
			r.Missing = append(r.Missing, ext)
		}
	}
	imaputil.Close(c)

	pool := session.NewPool(staticCredentials{creds: creds}, dialer, session.Options{})
	defer pool.Close()

	s, err := pool.Acquire(ctx, creds.OwnerID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if s.Health() == session.Healthy {
			pool.Release(s)
		} else {
			pool.Invalidate(s)
		}
	}()

	sync := mailbox.NewSynchronizer(nil)
	if r.Folders, err = sync.ListFolders(ctx, s); err != nil {
		return nil, err
	}
	if r.Inbox, err = sync.FetchPage(ctx, s, models.FolderInbox, 1, pageSize, ""); err != nil {
		return nil, err
	}

	if creds.SMTPServer != "" {
		r.RelayChecked = true
		r.RelayErr = s.Relay(ctx, func(c *smtp.Client) error {
			return relay.Probe(c)
		})
	}

	return r, nil
}

func (r *report) log() {
	for _, name := range r.Supported {
		logrus.WithField("extension", name).Info("Probe: supported")
	}
	for _, ext := range r.Missing {
		logrus.WithField("extension", ext.Name).Warnf("Probe: not supported, %s", ext.Fallback)
	}

	for _, f := range r.Folders {
		logrus.WithFields(logrus.Fields{
			"name":     f.Name,
			"path":     f.Path,
			"system":   f.System,
			"messages": f.MessageCount,
			"unread":   f.UnreadCount,
		}).Info("Probe: folder")
	}

	logrus.WithFields(logrus.Fields{"total": r.Inbox.Total, "pages": r.Inbox.TotalPages}).Info("Probe: inbox")
	for _, m := range r.Inbox.Messages {
		logrus.WithFields(logrus.Fields{"uid": m.UID, "subject": m.Subject, "read": m.Flags.Read}).Info("Probe: message")
	}

	switch {
	case !r.RelayChecked:
		logrus.Info("Probe: no SMTP server given, relay not checked")
	case r.RelayErr != nil:
		logrus.WithError(r.RelayErr).Error("Probe: relay check failed")
	default:
		logrus.Info("Probe: relay accepted login")
	}
}
