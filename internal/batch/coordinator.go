// Package batch applies one operation to many messages of a folder.
package batch

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// Mailbox is the set of per-message operations a batch is made of.
type Mailbox interface {
	Move(ctx context.Context, s mailbox.Session, from string, uid uint32, to string) (uint32, error)
	Delete(ctx context.Context, s mailbox.Session, folder string, uid uint32) error
	SetFlag(ctx context.Context, s mailbox.Session, folder string, uid uint32, flag models.Flag, value bool) error
}

// Coordinator runs batches item by item. A failed item never stops the
// rest, and completed items are not rolled back.
type Coordinator struct {
	mailbox Mailbox
}

func NewCoordinator(m Mailbox) *Coordinator {
	return &Coordinator{mailbox: m}
}

// Apply runs op on every UID of folder and reports the outcome per UID.
// Malformed input fails as a whole before any I/O. Once ctx is done the
// remaining UIDs fail with the context error.
func (c *Coordinator) Apply(ctx context.Context, s mailbox.Session, op models.BatchOperation, folder string, uids []uint32) (*models.BatchResult, error) {
	if err := Validate(op, folder, uids); err != nil {
		return nil, err
	}
	folder = models.NormalizeFolder(folder)
	run, err := c.step(op, folder)
	if err != nil {
		return nil, err
	}

	result := models.NewBatchResult()
	result.Attempted = dedupe(uids)

	for _, uid := range result.Attempted {
		if err := ctx.Err(); err != nil {
			result.Fail(uid, err)
			continue
		}
		if uid == 0 {
			result.Fail(uid, mailerr.InvalidArgument("uid 0 is not valid"))
			continue
		}

		newUID, err := run(ctx, s, uid)
		if err != nil {
			result.Fail(uid, err)
			continue
		}
		result.Succeed(uid)
		if newUID != 0 {
			result.RecordMove(uid, newUID)
		}
	}

	fields := logrus.Fields{
		"owner":     s.Owner(),
		"folder":    folder,
		"kind":      op.Kind,
		"attempted": len(result.Attempted),
		"failed":    len(result.Failed),
	}
	if len(result.Failed) > 0 {
		logrus.WithFields(fields).Warn("Batch: some messages failed")
	} else {
		logrus.WithFields(fields).Debug("Batch: applied")
	}

	return result, nil
}

// Validate checks a batch without touching the store.
func Validate(op models.BatchOperation, folder string, uids []uint32) error {
	if models.NormalizeFolder(folder) == "" {
		return mailerr.InvalidArgument("folder is required")
	}
	if len(uids) == 0 {
		return mailerr.InvalidArgument("no messages selected")
	}
	_, err := (&Coordinator{}).step(op, models.NormalizeFolder(folder))
	return err
}

type stepFunc func(ctx context.Context, s mailbox.Session, uid uint32) (uint32, error)

// step validates op and returns the per-message operation it stands for.
func (c *Coordinator) step(op models.BatchOperation, folder string) (stepFunc, error) {
	move := func(to string) stepFunc {
		return func(ctx context.Context, s mailbox.Session, uid uint32) (uint32, error) {
			return c.mailbox.Move(ctx, s, folder, uid, to)
		}
	}
	flag := func(f models.Flag, value bool) stepFunc {
		return func(ctx context.Context, s mailbox.Session, uid uint32) (uint32, error) {
			return 0, c.mailbox.SetFlag(ctx, s, folder, uid, f, value)
		}
	}

	switch op.Kind {
	case models.BatchDelete:
		if folder == models.FolderTrash {
			return func(ctx context.Context, s mailbox.Session, uid uint32) (uint32, error) {
				return 0, c.mailbox.Delete(ctx, s, folder, uid)
			}, nil
		}
		return move(models.FolderTrash), nil
	case models.BatchArchive:
		return move(models.FolderArchive), nil
	case models.BatchMove:
		target := strings.TrimSpace(op.Target)
		if target == "" {
			return nil, mailerr.InvalidArgument("move requires a target folder")
		}
		return move(target), nil
	case models.BatchMarkRead:
		return flag(models.FlagRead, op.Value), nil
	case models.BatchStar:
		return flag(models.FlagStarred, op.Value), nil
	default:
		return nil, mailerr.InvalidArgument("unknown batch operation %q", op.Kind)
	}
}

// dedupe drops repeated UIDs, keeping first occurrences in order.
func dedupe(uids []uint32) []uint32 {
	seen := make(map[uint32]bool, len(uids))
	out := make([]uint32, 0, len(uids))
	for _, uid := range uids {
		if seen[uid] {
			continue
		}
		seen[uid] = true
		out = append(out, uid)
	}
	return out
}
