package models

import "strings"

// Logical names of the system folders.
const (
	FolderInbox   = "inbox"
	FolderStarred = "starred"
	FolderSent    = "sent"
	FolderDrafts  = "drafts"
	FolderSpam    = "spam"
	FolderTrash   = "trash"
	FolderArchive = "archive"
)

// SystemFolders lists the system folders in canonical display order.
var SystemFolders = []string{
	FolderInbox,
	FolderStarred,
	FolderSent,
	FolderDrafts,
	FolderSpam,
	FolderTrash,
	FolderArchive,
}

// Folder is a logical folder mapped onto a remote mailbox.
type Folder struct {
	Name         string `json:"name"`
	Path         string `json:"path"`
	System       bool   `json:"system"`
	Virtual      bool   `json:"virtual,omitempty"`
	MessageCount uint32 `json:"message_count"`
	UnreadCount  uint32 `json:"unread_count"`
}

// IsSystemFolder reports whether name is one of the fixed system folder names.
// The comparison is case-insensitive.
func IsSystemFolder(name string) bool {
	lower := strings.ToLower(strings.TrimSpace(name))
	for _, f := range SystemFolders {
		if f == lower {
			return true
		}
	}
	return false
}

// NormalizeFolder returns the canonical form of a folder name: system names
// are lower-cased, custom names are kept as given.
func NormalizeFolder(name string) string {
	name = strings.TrimSpace(name)
	if IsSystemFolder(name) {
		return strings.ToLower(name)
	}
	return name
}

// StorageFolder returns the folder a message actually lives in. The starred
// view is backed by the inbox, so its messages are keyed under inbox.
func StorageFolder(name string) string {
	name = NormalizeFolder(name)
	if name == FolderStarred {
		return FolderInbox
	}
	return name
}
