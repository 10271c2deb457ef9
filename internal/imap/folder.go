package imap

import (
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// InboxPath is the reserved name of the inbox (RFC 3501).
const InboxPath = "INBOX"

// specialUseRoles maps RFC 6154 attributes to system folder names.
var specialUseRoles = map[string]string{
	`\sent`:    models.FolderSent,
	`\drafts`:  models.FolderDrafts,
	`\trash`:   models.FolderTrash,
	`\junk`:    models.FolderSpam,
	`\archive`: models.FolderArchive,
}

// wellKnownNames lists common mailbox names per role for servers without SPECIAL-USE.
var wellKnownNames = map[string][]string{
	models.FolderSent:    {"Sent", "Sent Items", "Sent Messages", "Sent Mail"},
	models.FolderDrafts:  {"Drafts", "Draft"},
	models.FolderTrash:   {"Trash", "Deleted Items", "Deleted Messages", "Bin"},
	models.FolderSpam:    {"Spam", "Junk", "Junk E-mail", "Junk Email"},
	models.FolderArchive: {"Archive", "Archives"},
}

// DefaultPath is the mailbox created for a role the server does not have yet.
func DefaultPath(role string) string {
	if names, ok := wellKnownNames[role]; ok {
		return names[0]
	}
	return role
}

// ListMailboxes lists every mailbox on the server.
func ListMailboxes(c *client.Client) ([]*imap.MailboxInfo, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	mailboxes := make(chan *imap.MailboxInfo, 10)
	done := make(chan error, 1)

	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var result []*imap.MailboxInfo
	for m := range mailboxes {
		result = append(result, m)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to list mailboxes: %w", err)
	}

	return result, nil
}

// SpecialUseRole returns the system folder a mailbox is marked as via
// SPECIAL-USE attributes, or "" when it carries none.
func SpecialUseRole(info *imap.MailboxInfo) string {
	for _, attr := range info.Attributes {
		if role, ok := specialUseRoles[strings.ToLower(attr)]; ok {
			return role
		}
	}
	return ""
}

// NameRole guesses the system folder from a well-known mailbox name.
func NameRole(name string) string {
	for role, names := range wellKnownNames {
		for _, n := range names {
			if strings.EqualFold(n, name) {
				return role
			}
		}
	}
	return ""
}

// IsSelectable reports whether the mailbox can hold messages.
func IsSelectable(info *imap.MailboxInfo) bool {
	for _, attr := range info.Attributes {
		if strings.EqualFold(attr, `\Noselect`) || strings.EqualFold(attr, `\NonExistent`) {
			return false
		}
	}
	return true
}

// SelectMailbox selects path read-write unless it is already selected.
func SelectMailbox(c *client.Client, path string) (*imap.MailboxStatus, error) {
	if mbox := c.Mailbox(); mbox != nil && mbox.Name == path && !mbox.ReadOnly {
		return mbox, nil
	}
	status, err := c.Select(path, false)
	if err != nil {
		return nil, fmt.Errorf("failed to select %s: %w", path, err)
	}
	return status, nil
}

// MailboxCounts returns the message and unseen counts plus UIDNEXT of path.
func MailboxCounts(c *client.Client, path string) (*imap.MailboxStatus, error) {
	status, err := c.Status(path, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen, imap.StatusUidNext})
	if err != nil {
		return nil, fmt.Errorf("failed to get status of %s: %w", path, err)
	}
	return status, nil
}
