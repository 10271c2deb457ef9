package mailbox

import (
	"context"
	"sort"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// ListFolders returns the system folders in canonical order followed by the
// custom folders sorted case-insensitively. System folders that do not exist
// on the server yet are listed with zero counts.
func (y *Synchronizer) ListFolders(ctx context.Context, s Session) ([]*models.Folder, error) {
	var folders []*models.Folder

	err := s.Do(ctx, "list folders", func(c *client.Client) error {
		l, err := refreshLayout(c, s)
		if err != nil {
			return err
		}

		folders = make([]*models.Folder, 0, len(models.SystemFolders)+len(l.custom))
		for _, name := range models.SystemFolders {
			f := &models.Folder{Name: name, System: true}
			switch name {
			case models.FolderInbox:
				f.Path = imaputil.InboxPath
				err = countStatus(c, f)
			case models.FolderStarred:
				f.Path = imaputil.InboxPath
				f.Virtual = true
				err = countStarred(c, f)
			default:
				if path, ok := l.roles[name]; ok {
					f.Path = path
					err = countStatus(c, f)
				}
			}
			if err != nil {
				return err
			}
			folders = append(folders, f)
		}

		custom := append([]string(nil), l.custom...)
		sort.Slice(custom, func(i, j int) bool {
			a, b := strings.ToLower(custom[i]), strings.ToLower(custom[j])
			if a == b {
				return custom[i] < custom[j]
			}
			return a < b
		})
		for _, path := range custom {
			f := &models.Folder{Name: path, Path: path}
			if err := countStatus(c, f); err != nil {
				return err
			}
			folders = append(folders, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return folders, nil
}

func countStatus(c *client.Client, f *models.Folder) error {
	status, err := imaputil.MailboxCounts(c, f.Path)
	if err != nil {
		return err
	}
	f.MessageCount = status.Messages
	f.UnreadCount = status.Unseen
	return nil
}

func countStarred(c *client.Client, f *models.Folder) error {
	if _, err := imaputil.SelectMailbox(c, imaputil.InboxPath); err != nil {
		return err
	}

	flagged := imaputil.FolderCriteria(true, "")
	uids, err := c.UidSearch(flagged)
	if err != nil {
		return err
	}
	f.MessageCount = uint32(len(uids))

	unread := imaputil.FolderCriteria(true, "")
	unread.WithoutFlags = append(unread.WithoutFlags, imap.SeenFlag)
	uids, err = c.UidSearch(unread)
	if err != nil {
		return err
	}
	f.UnreadCount = uint32(len(uids))
	return nil
}

// validateCustomName rejects empty and system folder names.
func validateCustomName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", mailerr.InvalidArgument("folder name is required")
	}
	if models.IsSystemFolder(name) || strings.EqualFold(name, imaputil.InboxPath) {
		return "", mailerr.InvalidArgument("%s is a system folder", name)
	}
	return name, nil
}

// CreateFolder creates a custom folder.
func (y *Synchronizer) CreateFolder(ctx context.Context, s Session, name string) (*models.Folder, error) {
	name, err := validateCustomName(name)
	if err != nil {
		return nil, err
	}

	err = s.Do(ctx, "create folder", func(c *client.Client) error {
		l, err := loadLayout(c, s.Credentials().FolderOverrides)
		if err != nil {
			return err
		}
		if l.roleOf(name) != "" {
			return mailerr.InvalidArgument("%s is a system folder", name)
		}
		if l.all[name] {
			return mailerr.InvalidArgument("folder %s already exists", name)
		}
		return c.Create(name)
	})
	if err != nil {
		return nil, err
	}

	s.ResetFolderPaths()
	return &models.Folder{Name: name, Path: name}, nil
}

// RenameFolder renames a custom folder.
func (y *Synchronizer) RenameFolder(ctx context.Context, s Session, oldName, newName string) error {
	oldName, err := validateCustomName(oldName)
	if err != nil {
		return err
	}
	newName, err = validateCustomName(newName)
	if err != nil {
		return err
	}
	if oldName == newName {
		return nil
	}

	err = s.Do(ctx, "rename folder", func(c *client.Client) error {
		l, err := loadLayout(c, s.Credentials().FolderOverrides)
		if err != nil {
			return err
		}
		if l.roleOf(oldName) != "" {
			return mailerr.InvalidArgument("%s is a system folder", oldName)
		}
		if !l.all[oldName] {
			return mailerr.NotFound("folder %s not found", oldName)
		}
		if l.all[newName] {
			return mailerr.InvalidArgument("folder %s already exists", newName)
		}
		// Servers refuse to rename the selected mailbox.
		if _, err := imaputil.SelectMailbox(c, imaputil.InboxPath); err != nil {
			return err
		}
		return c.Rename(oldName, newName)
	})
	if err != nil {
		return err
	}

	s.ResetFolderPaths()
	y.inv.InvalidateFolder(ctx, s.Owner(), oldName)
	return nil
}

// DeleteFolder deletes a custom folder and its messages.
func (y *Synchronizer) DeleteFolder(ctx context.Context, s Session, name string) error {
	name, err := validateCustomName(name)
	if err != nil {
		return err
	}

	err = s.Do(ctx, "delete folder", func(c *client.Client) error {
		l, err := loadLayout(c, s.Credentials().FolderOverrides)
		if err != nil {
			return err
		}
		if l.roleOf(name) != "" {
			return mailerr.InvalidArgument("%s is a system folder", name)
		}
		if !l.all[name] {
			return mailerr.NotFound("folder %s not found", name)
		}
		if _, err := imaputil.SelectMailbox(c, imaputil.InboxPath); err != nil {
			return err
		}
		return c.Delete(name)
	})
	if err != nil {
		return err
	}

	s.ResetFolderPaths()
	y.inv.InvalidateFolder(ctx, s.Owner(), name)
	return nil
}
