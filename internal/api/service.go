// Package api exposes the mail core over HTTP.
package api

import (
	"context"

	"github.com/vdavid/vmail/mailcore/internal/models"
)

// MailService is the mail facade the handlers call. *mail.Service implements it.
type MailService interface {
	ListFolders(ctx context.Context, owner string) ([]*models.Folder, error)
	CreateFolder(ctx context.Context, owner, name string) (*models.Folder, error)
	RenameFolder(ctx context.Context, owner, oldName, newName string) error
	DeleteFolder(ctx context.Context, owner, name string) error

	FetchPage(ctx context.Context, owner, folder string, page, pageSize int, search string) (*models.Page, error)
	OpenMessage(ctx context.Context, owner, folder string, uid uint32) (*models.Message, error)
	SetFlag(ctx context.Context, owner, folder string, uid uint32, flag models.Flag, value bool) error
	Move(ctx context.Context, owner, from string, uid uint32, to string) (uint32, error)
	Delete(ctx context.Context, owner, folder string, uid uint32, permanent bool) error
	ApplyBatch(ctx context.Context, owner string, op models.BatchOperation, folder string, uids []uint32) (*models.BatchResult, error)

	SaveDraft(ctx context.Context, owner string, draft *models.OutboundDraft) (uint32, error)
	Send(ctx context.Context, owner string, draft *models.OutboundDraft) (string, error)
	SendDraft(ctx context.Context, owner string, draftID uint32) (string, error)

	Logout(ctx context.Context, owner string) error
}
