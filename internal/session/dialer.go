package session

import (
	"context"

	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-smtp"
	"github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/relay"
)

// Dialer opens authenticated store and relay connections.
type Dialer interface {
	DialStore(ctx context.Context, creds *models.MailboxCredentials) (*client.Client, error)
	DialRelay(ctx context.Context, creds *models.MailboxCredentials) (*smtp.Client, error)
}

// CredentialsProvider looks up an owner's mailbox settings.
type CredentialsProvider interface {
	MailboxCredentials(ctx context.Context, ownerID string) (*models.MailboxCredentials, error)
}

// NetDialer dials real servers over TCP.
type NetDialer struct {
	UseTLS bool
}

// NewDialer returns a dialer that uses implicit TLS when useTLS is set.
func NewDialer(useTLS bool) *NetDialer {
	return &NetDialer{UseTLS: useTLS}
}

func (d *NetDialer) DialStore(ctx context.Context, creds *models.MailboxCredentials) (*client.Client, error) {
	if creds.IMAPServer == "" {
		return nil, mailerr.InvalidArgument("no IMAP server configured")
	}
	return imap.Connect(ctx, creds.IMAPServer, d.UseTLS, creds.IMAPUsername, creds.IMAPPassword)
}

func (d *NetDialer) DialRelay(ctx context.Context, creds *models.MailboxCredentials) (*smtp.Client, error) {
	if creds.SMTPServer == "" {
		return nil, mailerr.InvalidArgument("no SMTP server configured")
	}
	return relay.Dial(ctx, creds.SMTPServer, d.UseTLS, creds.SMTPUsername, creds.SMTPPassword)
}
