package imap

import (
	"context"
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

func TestSpecialUseRole(t *testing.T) {
	tests := []struct {
		name       string
		attributes []string
		want       string
	}{
		{"sent", []string{`\HasNoChildren`, `\Sent`}, models.FolderSent},
		{"lower-case drafts", []string{`\drafts`}, models.FolderDrafts},
		{"junk is spam", []string{`\Junk`}, models.FolderSpam},
		{"trash", []string{`\Trash`}, models.FolderTrash},
		{"archive", []string{`\Archive`}, models.FolderArchive},
		{"no special use", []string{`\HasChildren`}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SpecialUseRole(&imap.MailboxInfo{Attributes: tt.attributes}))
		})
	}
}

func TestNameRole(t *testing.T) {
	assert.Equal(t, models.FolderSent, NameRole("Sent Items"))
	assert.Equal(t, models.FolderSpam, NameRole("junk"))
	assert.Equal(t, models.FolderTrash, NameRole("Deleted Messages"))
	assert.Equal(t, "", NameRole("Projects"))
	assert.Equal(t, "Sent", DefaultPath(models.FolderSent))
	assert.Equal(t, "Projects", DefaultPath("Projects"))
}

func TestIsSelectable(t *testing.T) {
	assert.True(t, IsSelectable(&imap.MailboxInfo{Attributes: []string{`\HasNoChildren`}}))
	assert.False(t, IsSelectable(&imap.MailboxInfo{Attributes: []string{`\Noselect`}}))
}

func TestListMailboxesAndCounts(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	server.AddMessage(t, "Sent", testutil.TestMessage{Subject: "out", From: "me@example.com"})
	server.AddMessage(t, "Sent", testutil.TestMessage{Subject: "out 2", From: "me@example.com", Flags: []string{imap.SeenFlag}})

	c, cleanup := server.Connect(t)
	defer cleanup()

	mailboxes, err := ListMailboxes(c)
	require.NoError(t, err)

	var names []string
	for _, m := range mailboxes {
		names = append(names, m.Name)
	}
	assert.Contains(t, names, "INBOX")
	assert.Contains(t, names, "Sent")

	status, err := MailboxCounts(c, "Sent")
	require.NoError(t, err)
	assert.Equal(t, uint32(2), status.Messages)
	assert.NotZero(t, status.UidNext)
}

func TestConnect(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)

	t.Run("logs in with valid credentials", func(t *testing.T) {
		c, err := Connect(context.Background(), server.Address, false, server.Username(), server.Password())
		require.NoError(t, err)
		defer Close(c)
		assert.NoError(t, Ping(c))
	})

	t.Run("rejects invalid credentials as authentication error", func(t *testing.T) {
		_, err := Connect(context.Background(), server.Address, false, server.Username(), "wrong")
		require.Error(t, err)
		assert.ErrorIs(t, err, mailerr.ErrAuthentication)
	})

	t.Run("unreachable server is a connection error", func(t *testing.T) {
		_, err := Connect(context.Background(), "127.0.0.1:1", false, "u", "p")
		require.Error(t, err)
		assert.ErrorIs(t, err, mailerr.ErrConnection)
	})
}
