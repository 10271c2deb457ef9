// Package mailbox maps logical folders onto remote mailboxes and reads and
// mutates their messages through a pooled session.
package mailbox

import (
	"context"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// Session is the part of a pooled session the synchronizer needs.
type Session interface {
	Owner() string
	Credentials() *models.MailboxCredentials
	Do(ctx context.Context, op string, fn func(c *client.Client) error) error
	FolderPath(role string) (string, bool)
	SetFolderPaths(paths map[string]string)
	ResetFolderPaths()
}

// Invalidator drops cached messages after a mutation.
type Invalidator interface {
	Invalidate(ctx context.Context, owner, folder string, uid uint32)
	InvalidateFolder(ctx context.Context, owner, folder string)
}

type noopInvalidator struct{}

func (noopInvalidator) Invalidate(context.Context, string, string, uint32) {}
func (noopInvalidator) InvalidateFolder(context.Context, string, string)   {}

// Synchronizer resolves folder state on the remote store.
type Synchronizer struct {
	inv Invalidator
	now func() time.Time
}

// NewSynchronizer creates a synchronizer that reports mutations to inv, which may be nil.
func NewSynchronizer(inv Invalidator) *Synchronizer {
	if inv == nil {
		inv = noopInvalidator{}
	}
	return &Synchronizer{inv: inv, now: time.Now}
}

// roleOrder lists the roles resolved from the server, INBOX excluded.
var roleOrder = []string{
	models.FolderSent,
	models.FolderDrafts,
	models.FolderSpam,
	models.FolderTrash,
	models.FolderArchive,
}

// layout is the server's mailbox list mapped onto folders.
type layout struct {
	// roles maps a system role to an existing remote path.
	roles map[string]string
	// custom holds the selectable mailboxes that are not system folders.
	custom []string
	// all holds every mailbox path.
	all map[string]bool
}

func (l *layout) roleOf(path string) string {
	if strings.EqualFold(path, imaputil.InboxPath) {
		return models.FolderInbox
	}
	for role, p := range l.roles {
		if p == path {
			return role
		}
	}
	return ""
}

// loadLayout lists mailboxes and assigns system roles: an owner override
// wins, then a SPECIAL-USE attribute, then a well-known name.
func loadLayout(c *client.Client, overrides map[string]string) (*layout, error) {
	mailboxes, err := imaputil.ListMailboxes(c)
	if err != nil {
		return nil, err
	}

	l := &layout{roles: map[string]string{}, all: map[string]bool{}}
	for _, m := range mailboxes {
		l.all[m.Name] = true
	}

	for _, role := range roleOrder {
		if path := overrides[role]; path != "" && l.all[path] {
			l.roles[role] = path
		}
	}
	for _, m := range mailboxes {
		if role := imaputil.SpecialUseRole(m); role != "" {
			if _, taken := l.roles[role]; !taken {
				l.roles[role] = m.Name
			}
		}
	}
	for _, m := range mailboxes {
		if role := imaputil.NameRole(m.Name); role != "" {
			if _, taken := l.roles[role]; !taken {
				l.roles[role] = m.Name
			}
		}
	}

	for _, m := range mailboxes {
		if !imaputil.IsSelectable(m) || l.roleOf(m.Name) != "" {
			continue
		}
		l.custom = append(l.custom, m.Name)
	}

	return l, nil
}

// refreshLayout reloads the layout and caches the role paths on the session.
func refreshLayout(c *client.Client, s Session) (*layout, error) {
	l, err := loadLayout(c, s.Credentials().FolderOverrides)
	if err != nil {
		return nil, err
	}
	paths := make(map[string]string, len(l.roles))
	for role, path := range l.roles {
		paths[role] = path
	}
	s.SetFolderPaths(paths)
	return l, nil
}

// target is a resolved folder.
type target struct {
	folder  string // normalized logical name
	path    string // remote path, empty if a system folder does not exist yet
	starred bool
}

func normalize(folder string) (string, error) {
	folder = models.NormalizeFolder(folder)
	if folder == "" {
		return "", mailerr.InvalidArgument("folder name is required")
	}
	return folder, nil
}

// resolve maps a folder to its remote path. It must run inside Session.Do.
// A system folder that does not exist yet is created when create is set and
// otherwise returned with an empty path. A missing custom folder is NotFound.
func resolve(c *client.Client, s Session, folder string, create bool) (*target, error) {
	switch folder {
	case models.FolderInbox:
		return &target{folder: folder, path: imaputil.InboxPath}, nil
	case models.FolderStarred:
		return &target{folder: folder, path: imaputil.InboxPath, starred: true}, nil
	}

	if models.IsSystemFolder(folder) {
		path, ok := s.FolderPath(folder)
		if !ok {
			l, err := refreshLayout(c, s)
			if err != nil {
				return nil, err
			}
			path = l.roles[folder]
		}
		if path == "" && create {
			path = imaputil.DefaultPath(folder)
			if override := s.Credentials().FolderOverrides[folder]; override != "" {
				path = override
			}
			if err := c.Create(path); err != nil {
				return nil, err
			}
			s.ResetFolderPaths()
		}
		return &target{folder: folder, path: path}, nil
	}

	l, err := loadLayout(c, s.Credentials().FolderOverrides)
	if err != nil {
		return nil, err
	}
	for _, name := range l.custom {
		if name == folder {
			return &target{folder: folder, path: name}, nil
		}
	}
	return nil, mailerr.NotFound("folder %s not found", folder)
}

func uidSet(uid uint32) *imap.SeqSet {
	set := new(imap.SeqSet)
	set.AddNum(uid)
	return set
}
