// Package mail is the entry point the HTTP layer uses: every operation
// borrows the owner's pooled session for its duration.
package mail

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/batch"
	"github.com/vdavid/vmail/mailcore/internal/cache"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/outbox"
	"github.com/vdavid/vmail/mailcore/internal/session"
)

// Pool lends out per-owner sessions.
type Pool interface {
	Acquire(ctx context.Context, ownerID string) (*session.Session, error)
	Release(s *session.Session)
	Invalidate(s *session.Session)
	Logout(ctx context.Context, ownerID string) error
}

// Service runs mailbox operations on behalf of owners.
type Service struct {
	pool   Pool
	sync   *mailbox.Synchronizer
	cache  *cache.Cache
	outbox *outbox.Pipeline
	batch  *batch.Coordinator
}

func NewService(pool Pool, sync *mailbox.Synchronizer, c *cache.Cache, out *outbox.Pipeline, coordinator *batch.Coordinator) *Service {
	return &Service{
		pool:   pool,
		sync:   sync,
		cache:  c,
		outbox: out,
		batch:  coordinator,
	}
}

// withSession runs fn on the owner's session and hands the session back,
// dropping it if it became unhealthy.
func (svc *Service) withSession(ctx context.Context, owner string, fn func(s *session.Session) error) error {
	s, err := svc.pool.Acquire(ctx, owner)
	if err != nil {
		return err
	}

	err = fn(s)
	if s.Health() == session.Healthy {
		svc.pool.Release(s)
	} else {
		logrus.WithFields(logrus.Fields{"owner": owner, "health": s.Health().String()}).Warn("Mail: dropping unhealthy session")
		svc.pool.Invalidate(s)
	}
	return err
}

func (svc *Service) ListFolders(ctx context.Context, owner string) ([]*models.Folder, error) {
	var folders []*models.Folder
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		folders, err = svc.sync.ListFolders(ctx, s)
		return err
	})
	return folders, err
}

func (svc *Service) FetchPage(ctx context.Context, owner, folder string, page, pageSize int, search string) (*models.Page, error) {
	var result *models.Page
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		result, err = svc.sync.FetchPage(ctx, s, folder, page, pageSize, search)
		return err
	})
	return result, err
}

// GetMessage returns a full message, from the cache when possible. It does
// not change the message's flags.
func (svc *Service) GetMessage(ctx context.Context, owner, folder string, uid uint32) (*models.Message, error) {
	return svc.cache.GetOrLoad(ctx, owner, folder, uid, func(ctx context.Context) (*models.Message, error) {
		var msg *models.Message
		err := svc.withSession(ctx, owner, func(s *session.Session) error {
			var err error
			msg, err = svc.sync.FetchMessage(ctx, s, folder, uid)
			return err
		})
		return msg, err
	})
}

// OpenMessage returns a full message and marks it read. Failing to mark it
// read does not fail the call.
func (svc *Service) OpenMessage(ctx context.Context, owner, folder string, uid uint32) (*models.Message, error) {
	msg, err := svc.GetMessage(ctx, owner, folder, uid)
	if err != nil {
		return nil, err
	}
	if msg.Flags.Read {
		return msg, nil
	}

	if err := svc.SetFlag(ctx, owner, folder, uid, models.FlagRead, true); err != nil {
		logrus.WithFields(logrus.Fields{"owner": owner, "folder": folder, "uid": uid}).WithError(err).Warn("Mail: failed to mark message read")
		return msg, nil
	}
	msg.Flags.Read = true
	return msg, nil
}

func (svc *Service) SetFlag(ctx context.Context, owner, folder string, uid uint32, flag models.Flag, value bool) error {
	return svc.withSession(ctx, owner, func(s *session.Session) error {
		return svc.sync.SetFlag(ctx, s, folder, uid, flag, value)
	})
}

// Move moves a message and returns its UID in the target folder, or 0 if
// the server gave no way to find it.
func (svc *Service) Move(ctx context.Context, owner, from string, uid uint32, to string) (uint32, error) {
	var newUID uint32
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		newUID, err = svc.sync.Move(ctx, s, from, uid, to)
		return err
	})
	return newUID, err
}

// Delete moves a message to trash, or removes it for good when permanent is
// set or it already is in trash.
func (svc *Service) Delete(ctx context.Context, owner, folder string, uid uint32, permanent bool) error {
	if permanent || models.StorageFolder(folder) == models.FolderTrash {
		return svc.withSession(ctx, owner, func(s *session.Session) error {
			return svc.sync.Delete(ctx, s, folder, uid)
		})
	}
	_, err := svc.Move(ctx, owner, folder, uid, models.FolderTrash)
	return err
}

func (svc *Service) CreateFolder(ctx context.Context, owner, name string) (*models.Folder, error) {
	var folder *models.Folder
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		folder, err = svc.sync.CreateFolder(ctx, s, name)
		return err
	})
	return folder, err
}

func (svc *Service) RenameFolder(ctx context.Context, owner, oldName, newName string) error {
	return svc.withSession(ctx, owner, func(s *session.Session) error {
		return svc.sync.RenameFolder(ctx, s, oldName, newName)
	})
}

func (svc *Service) DeleteFolder(ctx context.Context, owner, name string) error {
	return svc.withSession(ctx, owner, func(s *session.Session) error {
		return svc.sync.DeleteFolder(ctx, s, name)
	})
}

func (svc *Service) SaveDraft(ctx context.Context, owner string, draft *models.OutboundDraft) (uint32, error) {
	var draftID uint32
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		draftID, err = svc.outbox.SaveDraft(ctx, s, draft)
		return err
	})
	return draftID, err
}

// Send sends draft and returns the delivered Message-ID.
func (svc *Service) Send(ctx context.Context, owner string, draft *models.OutboundDraft) (string, error) {
	if err := outbox.ValidateDraft(draft); err != nil {
		return "", err
	}

	var messageID string
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		messageID, err = svc.outbox.Send(ctx, s, draft)
		return err
	})
	return messageID, err
}

func (svc *Service) SendDraft(ctx context.Context, owner string, draftID uint32) (string, error) {
	var messageID string
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		messageID, err = svc.outbox.SendDraft(ctx, s, draftID)
		return err
	})
	return messageID, err
}

func (svc *Service) ApplyBatch(ctx context.Context, owner string, op models.BatchOperation, folder string, uids []uint32) (*models.BatchResult, error) {
	if err := batch.Validate(op, folder, uids); err != nil {
		return nil, err
	}

	var result *models.BatchResult
	err := svc.withSession(ctx, owner, func(s *session.Session) error {
		var err error
		result, err = svc.batch.Apply(ctx, s, op, folder, uids)
		return err
	})
	return result, err
}

// Logout closes the owner's session and forgets their cached messages.
func (svc *Service) Logout(ctx context.Context, owner string) error {
	if err := svc.pool.Logout(ctx, owner); err != nil {
		return err
	}
	svc.cache.InvalidateOwner(ctx, owner)
	return nil
}
