package db

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

func sampleSettings(ownerID string) *models.MailboxSettings {
	return &models.MailboxSettings{
		OwnerID:               ownerID,
		FromAddress:           "owner@example.com",
		FromName:              "Owner",
		IMAPServerHostname:    "imap.example.com:993",
		IMAPUsername:          "owner@example.com",
		EncryptedIMAPPassword: []byte("encrypted_imap"),
		SMTPServerHostname:    "smtp.example.com:465",
		SMTPUsername:          "owner@example.com",
		EncryptedSMTPPassword: []byte("encrypted_smtp"),
		SentFolderName:        "Sent Items",
	}
}

func TestMailboxSettingsExist(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres container test in short mode")
	}

	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	exists, err := MailboxSettingsExist(ctx, pool, "owner-exist")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, SaveMailboxSettings(ctx, pool, sampleSettings("owner-exist")))

	exists, err = MailboxSettingsExist(ctx, pool, "owner-exist")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestSaveAndGetMailboxSettings(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres container test in short mode")
	}

	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()

	t.Run("saves and retrieves settings", func(t *testing.T) {
		require.NoError(t, SaveMailboxSettings(ctx, pool, sampleSettings("owner-1")))

		got, err := GetMailboxSettings(ctx, pool, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, "imap.example.com:993", got.IMAPServerHostname)
		assert.Equal(t, []byte("encrypted_imap"), got.EncryptedIMAPPassword)
		assert.Equal(t, "Sent Items", got.SentFolderName)
		assert.Equal(t, 50, got.PageSize)
		assert.False(t, got.CreatedAt.IsZero())
	})

	t.Run("updates existing settings", func(t *testing.T) {
		updated := sampleSettings("owner-1")
		updated.IMAPServerHostname = "imap.updated.com:993"
		updated.PageSize = 25
		require.NoError(t, SaveMailboxSettings(ctx, pool, updated))

		got, err := GetMailboxSettings(ctx, pool, "owner-1")
		require.NoError(t, err)
		assert.Equal(t, "imap.updated.com:993", got.IMAPServerHostname)
		assert.Equal(t, 25, got.PageSize)
	})

	t.Run("returns ErrMailboxSettingsNotFound for unknown owner", func(t *testing.T) {
		_, err := GetMailboxSettings(ctx, pool, "nobody")
		assert.True(t, errors.Is(err, ErrMailboxSettingsNotFound))
	})

	t.Run("deletes settings", func(t *testing.T) {
		require.NoError(t, DeleteMailboxSettings(ctx, pool, "owner-1"))
		_, err := GetMailboxSettings(ctx, pool, "owner-1")
		assert.ErrorIs(t, err, ErrMailboxSettingsNotFound)
	})
}

func TestCredentialStore(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping Postgres container test in short mode")
	}

	pool := testutil.NewTestDB(t)
	defer pool.Close()

	ctx := context.Background()
	store := NewCredentialStore(pool, testutil.GetTestEncryptor(t))

	t.Run("round trips decrypted credentials", func(t *testing.T) {
		err := store.SaveCredentials(ctx, "owner-creds", &models.MailboxSettingsRequest{
			FromAddress:        "me@example.com",
			IMAPServerHostname: "imap.example.com:993",
			IMAPUsername:       "me",
			IMAPPassword:       "imap-secret",
			SMTPServerHostname: "smtp.example.com:465",
			SMTPUsername:       "me",
			SMTPPassword:       "smtp-secret",
			TrashFolderName:    "Deleted Items",
		})
		require.NoError(t, err)

		creds, err := store.MailboxCredentials(ctx, "owner-creds")
		require.NoError(t, err)
		assert.Equal(t, "imap-secret", creds.IMAPPassword)
		assert.Equal(t, "smtp-secret", creds.SMTPPassword)
		assert.Equal(t, map[string]string{models.FolderTrash: "Deleted Items"}, creds.FolderOverrides)
	})

	t.Run("keeps stored passwords when omitted", func(t *testing.T) {
		err := store.SaveCredentials(ctx, "owner-creds", &models.MailboxSettingsRequest{
			IMAPServerHostname: "imap2.example.com:993",
			IMAPUsername:       "me",
			SMTPServerHostname: "smtp.example.com:465",
			SMTPUsername:       "me",
		})
		require.NoError(t, err)

		creds, err := store.MailboxCredentials(ctx, "owner-creds")
		require.NoError(t, err)
		assert.Equal(t, "imap2.example.com:993", creds.IMAPServer)
		assert.Equal(t, "imap-secret", creds.IMAPPassword)
	})

	t.Run("first save requires passwords", func(t *testing.T) {
		err := store.SaveCredentials(ctx, "owner-new", &models.MailboxSettingsRequest{IMAPServerHostname: "x"})
		assert.ErrorIs(t, err, mailerr.ErrInvalidArgument)
	})

	t.Run("unknown owner is not found", func(t *testing.T) {
		_, err := store.MailboxCredentials(ctx, "owner-missing")
		assert.ErrorIs(t, err, mailerr.ErrNotFound)
		_, err = store.Settings(ctx, "owner-missing")
		assert.ErrorIs(t, err, mailerr.ErrNotFound)
		assert.Equal(t, 0, store.PageSize(ctx, "owner-missing"))
	})

	t.Run("reports setup and page size", func(t *testing.T) {
		done, err := store.SetupComplete(ctx, "owner-creds")
		require.NoError(t, err)
		assert.True(t, done)

		done, err = store.SetupComplete(ctx, "owner-missing")
		require.NoError(t, err)
		assert.False(t, done)

		require.NoError(t, store.SaveCredentials(ctx, "owner-creds", &models.MailboxSettingsRequest{
			IMAPServerHostname: "imap.example.com:993",
			IMAPUsername:       "me",
			SMTPServerHostname: "smtp.example.com:465",
			SMTPUsername:       "me",
			PageSize:           25,
		}))
		assert.Equal(t, 25, store.PageSize(ctx, "owner-creds"))
	})
}
