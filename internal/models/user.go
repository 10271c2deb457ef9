package models

import (
	"time"
)

// MailboxSettings is the stored configuration of one owner's mailbox, with
// passwords encrypted at rest.
type MailboxSettings struct {
	OwnerID               string    `json:"owner_id"`
	FromAddress           string    `json:"from_address"`
	FromName              string    `json:"from_name"`
	IMAPServerHostname    string    `json:"imap_server_hostname"`
	IMAPUsername          string    `json:"imap_username"`
	EncryptedIMAPPassword []byte    `json:"-"`
	SMTPServerHostname    string    `json:"smtp_server_hostname"`
	SMTPUsername          string    `json:"smtp_username"`
	EncryptedSMTPPassword []byte    `json:"-"`
	ArchiveFolderName     string    `json:"archive_folder_name"`
	SentFolderName        string    `json:"sent_folder_name"`
	DraftsFolderName      string    `json:"drafts_folder_name"`
	TrashFolderName       string    `json:"trash_folder_name"`
	SpamFolderName        string    `json:"spam_folder_name"`
	PageSize              int       `json:"page_size"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// MailboxSettingsRequest is the payload for saving mailbox settings.
type MailboxSettingsRequest struct {
	FromAddress        string `json:"from_address"`
	FromName           string `json:"from_name"`
	IMAPServerHostname string `json:"imap_server_hostname"`
	IMAPUsername       string `json:"imap_username"`
	IMAPPassword       string `json:"imap_password"`
	SMTPServerHostname string `json:"smtp_server_hostname"`
	SMTPUsername       string `json:"smtp_username"`
	SMTPPassword       string `json:"smtp_password"`
	ArchiveFolderName  string `json:"archive_folder_name"`
	SentFolderName     string `json:"sent_folder_name"`
	DraftsFolderName   string `json:"drafts_folder_name"`
	TrashFolderName    string `json:"trash_folder_name"`
	SpamFolderName     string `json:"spam_folder_name"`
	PageSize           int    `json:"page_size"`
}

// MailboxSettingsResponse is the settings payload returned to the owner.
// Passwords are never included.
type MailboxSettingsResponse struct {
	FromAddress        string `json:"from_address"`
	FromName           string `json:"from_name"`
	IMAPServerHostname string `json:"imap_server_hostname"`
	IMAPUsername       string `json:"imap_username"`
	IMAPPasswordSet    bool   `json:"imap_password_set"`
	SMTPServerHostname string `json:"smtp_server_hostname"`
	SMTPUsername       string `json:"smtp_username"`
	SMTPPasswordSet    bool   `json:"smtp_password_set"`
	ArchiveFolderName  string `json:"archive_folder_name"`
	SentFolderName     string `json:"sent_folder_name"`
	DraftsFolderName   string `json:"drafts_folder_name"`
	TrashFolderName    string `json:"trash_folder_name"`
	SpamFolderName     string `json:"spam_folder_name"`
	PageSize           int    `json:"page_size"`
}

// MailboxCredentials are the decrypted credentials a session logs in with.
type MailboxCredentials struct {
	OwnerID      string
	FromAddress  string
	FromName     string
	IMAPServer   string
	IMAPUsername string
	IMAPPassword string
	SMTPServer   string
	SMTPUsername string
	SMTPPassword string
	// FolderOverrides maps a system folder name (sent, drafts, ...) to a
	// remote mailbox path, bypassing discovery.
	FolderOverrides map[string]string
}

// From returns the owner's sender address.
func (c *MailboxCredentials) From() Address {
	return Address{Name: c.FromName, Address: c.FromAddress}
}

// AuthStatusResponse reports whether the owner is signed in and has a mailbox configured.
type AuthStatusResponse struct {
	IsAuthenticated bool   `json:"is_authenticated"`
	IsSetupComplete bool   `json:"is_setup_complete"`
	Owner           string `json:"owner"`
}
