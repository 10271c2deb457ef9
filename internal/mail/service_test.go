package mail

import (
	"context"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/batch"
	"github.com/vdavid/vmail/mailcore/internal/cache"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/outbox"
	"github.com/vdavid/vmail/mailcore/internal/session"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

const owner = "owner-1"

type testEnv struct {
	imap    *testutil.TestIMAPServer
	smtp    *testutil.TestSMTPServer
	pool    *session.Pool
	cache   *cache.Cache
	service *Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	imapServer := testutil.NewTestIMAPServer(t)
	smtpServer := testutil.NewTestSMTPServer(t)
	creds := imapServer.Credentials(owner, smtpServer.Address)

	pool := session.NewPool(testutil.StaticCredentials{owner: creds}, session.NewDialer(false), session.Options{})
	t.Cleanup(pool.Close)

	c := cache.New(time.Minute, nil)
	t.Cleanup(c.Close)

	sync := mailbox.NewSynchronizer(c)
	svc := NewService(pool, sync, c, outbox.New(sync, nil, outbox.Options{}), batch.NewCoordinator(sync))

	return &testEnv{imap: imapServer, smtp: smtpServer, pool: pool, cache: c, service: svc}
}

// removeOnServer deletes a message behind the service's back.
func (e *testEnv) removeOnServer(t *testing.T, mailbox string, uid uint32) {
	t.Helper()

	c, cleanup := e.imap.Connect(t)
	defer cleanup()

	_, err := c.Select(mailbox, false)
	require.NoError(t, err)
	set := new(imap.SeqSet)
	set.AddNum(uid)
	require.NoError(t, c.UidStore(set, imap.FormatFlagsOp(imap.AddFlags, true), []interface{}{imap.DeletedFlag}, nil))
	require.NoError(t, c.Expunge(nil))
}

func TestGetMessageUsesCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	uid := env.imap.AddMessage(t, "INBOX", testutil.TestMessage{Subject: "cached", From: "a@example.com"})

	msg, err := env.service.GetMessage(ctx, owner, "inbox", uid)
	require.NoError(t, err)
	assert.Equal(t, "cached", msg.Subject)
	assert.False(t, msg.Flags.Read)

	env.removeOnServer(t, "INBOX", uid)

	again, err := env.service.GetMessage(ctx, owner, "INBOX", uid)
	require.NoError(t, err, "served from cache")
	assert.Equal(t, "cached", again.Subject)

	env.cache.InvalidateFolder(ctx, owner, "inbox")
	_, err = env.service.GetMessage(ctx, owner, "inbox", uid)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)
}

func TestOpenMessageMarksRead(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	uid := env.imap.AddMessage(t, "INBOX", testutil.TestMessage{Subject: "open me", From: "a@example.com"})

	msg, err := env.service.OpenMessage(ctx, owner, "inbox", uid)
	require.NoError(t, err)
	assert.True(t, msg.Flags.Read)
	assert.Contains(t, env.imap.Flags(t, "INBOX", uid), imap.SeenFlag)

	reloaded, err := env.service.GetMessage(ctx, owner, "inbox", uid)
	require.NoError(t, err)
	assert.True(t, reloaded.Flags.Read, "the flag change invalidated the cached copy")
}

func TestMoveInvalidatesCache(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	uid := env.imap.AddMessage(t, "INBOX", testutil.TestMessage{Subject: "moving", From: "a@example.com"})

	_, err := env.service.GetMessage(ctx, owner, "inbox", uid)
	require.NoError(t, err)

	newUID, err := env.service.Move(ctx, owner, "inbox", uid, "archive")
	require.NoError(t, err)

	_, err = env.service.GetMessage(ctx, owner, "inbox", uid)
	assert.ErrorIs(t, err, mailerr.ErrNotFound)

	moved, err := env.service.GetMessage(ctx, owner, "archive", newUID)
	require.NoError(t, err)
	assert.Equal(t, "moving", moved.Subject)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	first := env.imap.AddMessage(t, "INBOX", testutil.TestMessage{Subject: "first", From: "a@example.com"})
	second := env.imap.AddMessage(t, "INBOX", testutil.TestMessage{Subject: "second", From: "a@example.com"})

	require.NoError(t, env.service.Delete(ctx, owner, "inbox", first, false))
	assert.Len(t, env.imap.UIDs(t, "Trash"), 1, "soft delete moves to trash")

	trashed := env.imap.UIDs(t, "Trash")[0]
	require.NoError(t, env.service.Delete(ctx, owner, "trash", trashed, false))
	assert.Empty(t, env.imap.UIDs(t, "Trash"), "deleting from trash is permanent")

	require.NoError(t, env.service.Delete(ctx, owner, "inbox", second, true))
	assert.NotContains(t, env.imap.UIDs(t, "INBOX"), second)
	assert.Empty(t, env.imap.UIDs(t, "Trash"))
}

func TestSendAndBatchValidateBeforeConnecting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.service.Send(ctx, owner, &models.OutboundDraft{BodyText: "no recipients"})
	assert.ErrorIs(t, err, mailerr.ErrInvalidArgument)

	_, err = env.service.ApplyBatch(ctx, owner, models.BatchOperation{Kind: models.BatchStar, Value: true}, "inbox", nil)
	assert.ErrorIs(t, err, mailerr.ErrInvalidArgument)

	assert.Zero(t, env.imap.Logins())
	assert.Zero(t, env.pool.Len())
}

func TestSendThroughService(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	messageID, err := env.service.Send(ctx, owner, &models.OutboundDraft{
		To:       []models.Address{{Address: "bob@example.com"}},
		Subject:  "hi",
		BodyText: "hello",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, messageID)
	assert.Len(t, env.smtp.Messages(), 1)

	page, err := env.service.FetchPage(ctx, owner, "sent", 1, 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, messageID, page.Messages[0].MessageID)
}

func TestBrokenSessionIsDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.service.ListFolders(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, 1, env.pool.Len())

	env.imap.Close()

	_, err = env.service.ListFolders(ctx, owner)
	assert.ErrorIs(t, err, mailerr.ErrConnection)
	assert.Zero(t, env.pool.Len())
}

func TestLogout(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	uid := env.imap.AddMessage(t, "INBOX", testutil.TestMessage{Subject: "bye", From: "a@example.com"})

	_, err := env.service.GetMessage(ctx, owner, "inbox", uid)
	require.NoError(t, err)
	require.Equal(t, 1, env.cache.Len())

	require.NoError(t, env.service.Logout(ctx, owner))
	assert.Zero(t, env.pool.Len())
	assert.Zero(t, env.cache.Len())
}
