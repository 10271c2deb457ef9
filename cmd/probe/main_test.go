package main

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/session"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

func TestCredentialsFromEnv(t *testing.T) {
	t.Run("requires the IMAP account", func(t *testing.T) {
		t.Setenv("PROBE_IMAP_SERVER", "imap.example.com:993")
		t.Setenv("PROBE_IMAP_USER", "")
		t.Setenv("PROBE_IMAP_PASSWORD", "secret")

		_, _, _, err := credentialsFromEnv()
		assert.Error(t, err)
	})

	t.Run("reuses the IMAP login for SMTP", func(t *testing.T) {
		t.Setenv("PROBE_IMAP_SERVER", "imap.example.com:993")
		t.Setenv("PROBE_IMAP_USER", "user@example.com")
		t.Setenv("PROBE_IMAP_PASSWORD", "secret")
		t.Setenv("PROBE_SMTP_SERVER", "smtp.example.com:465")
		t.Setenv("PROBE_SMTP_USER", "")
		t.Setenv("PROBE_MAIL_TLS", "")
		t.Setenv("PROBE_PAGE_SIZE", "")

		creds, useTLS, pageSize, err := credentialsFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", creds.SMTPUsername)
		assert.Equal(t, "secret", creds.SMTPPassword)
		assert.True(t, useTLS)
		assert.Equal(t, defaultPageSize, pageSize)
	})

	t.Run("rejects bad options", func(t *testing.T) {
		t.Setenv("PROBE_IMAP_SERVER", "imap.example.com:993")
		t.Setenv("PROBE_IMAP_USER", "user@example.com")
		t.Setenv("PROBE_IMAP_PASSWORD", "secret")

		t.Setenv("PROBE_MAIL_TLS", "maybe")
		_, _, _, err := credentialsFromEnv()
		assert.Error(t, err)

		t.Setenv("PROBE_MAIL_TLS", "false")
		t.Setenv("PROBE_PAGE_SIZE", "0")
		_, _, _, err = credentialsFromEnv()
		assert.Error(t, err)
	})
}

func TestRun(t *testing.T) {
	imapServer := testutil.NewTestIMAPServer(t)
	smtpServer := testutil.NewTestSMTPServer(t)
	imapServer.AddMessage(t, "INBOX", testutil.TestMessage{
		Subject:    "Probe me",
		From:       "alice@example.com",
		ReceivedAt: time.Now().Add(time.Hour),
	})

	creds := imapServer.Credentials(probeOwner, smtpServer.Address)

	r, err := run(context.Background(), creds, session.NewDialer(false), 1)
	require.NoError(t, err)

	assert.Len(t, r.Supported, len(extensions)-len(r.Missing))

	var names []string
	for _, f := range r.Folders {
		names = append(names, f.Name)
	}
	assert.Contains(t, names, models.FolderInbox)

	require.NotNil(t, r.Inbox)
	assert.Equal(t, 2, r.Inbox.Total)
	assert.Equal(t, 2, r.Inbox.TotalPages)
	require.Len(t, r.Inbox.Messages, 1)
	assert.Equal(t, "Probe me", r.Inbox.Messages[0].Subject)

	assert.True(t, r.RelayChecked)
	assert.NoError(t, r.RelayErr)
	assert.Equal(t, 1, smtpServer.Backend.Authentications())
}

func TestRunWithoutRelay(t *testing.T) {
	imapServer := testutil.NewTestIMAPServer(t)
	creds := imapServer.Credentials(probeOwner, "")

	r, err := run(context.Background(), creds, session.NewDialer(false), defaultPageSize)
	require.NoError(t, err)
	assert.False(t, r.RelayChecked)
}

func TestRunRejectsBadLogin(t *testing.T) {
	imapServer := testutil.NewTestIMAPServer(t)
	creds := imapServer.Credentials(probeOwner, "")
	creds.IMAPPassword = "wrong"

	_, err := run(context.Background(), creds, session.NewDialer(false), defaultPageSize)
	assert.ErrorIs(t, err, mailerr.ErrAuthentication)
}
