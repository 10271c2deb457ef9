package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// ErrMailboxSettingsNotFound is returned when an owner has not configured a mailbox yet.
var ErrMailboxSettingsNotFound = errors.New("mailbox settings not found")

// MailboxSettingsExist returns true if the owner has saved mailbox settings.
func MailboxSettingsExist(ctx context.Context, pool *pgxpool.Pool, ownerID string) (bool, error) {
	var exists bool
	err := pool.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM mailbox_settings WHERE owner_id = $1)
	`, ownerID).Scan(&exists)

	if err != nil {
		return false, fmt.Errorf("failed to check mailbox settings existence: %w", err)
	}

	return exists, nil
}

// GetMailboxSettings returns the stored settings for the owner.
func GetMailboxSettings(ctx context.Context, pool *pgxpool.Pool, ownerID string) (*models.MailboxSettings, error) {
	var s models.MailboxSettings

	err := pool.QueryRow(ctx, `
		SELECT
			owner_id,
			from_address,
			from_name,
			imap_server_hostname,
			imap_username,
			encrypted_imap_password,
			smtp_server_hostname,
			smtp_username,
			encrypted_smtp_password,
			archive_folder_name,
			sent_folder_name,
			drafts_folder_name,
			trash_folder_name,
			spam_folder_name,
			page_size,
			created_at,
			updated_at
		FROM mailbox_settings
		WHERE owner_id = $1
	`, ownerID).Scan(
		&s.OwnerID,
		&s.FromAddress,
		&s.FromName,
		&s.IMAPServerHostname,
		&s.IMAPUsername,
		&s.EncryptedIMAPPassword,
		&s.SMTPServerHostname,
		&s.SMTPUsername,
		&s.EncryptedSMTPPassword,
		&s.ArchiveFolderName,
		&s.SentFolderName,
		&s.DraftsFolderName,
		&s.TrashFolderName,
		&s.SpamFolderName,
		&s.PageSize,
		&s.CreatedAt,
		&s.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrMailboxSettingsNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get mailbox settings: %w", err)
	}

	return &s, nil
}

// SaveMailboxSettings inserts or replaces the owner's settings.
func SaveMailboxSettings(ctx context.Context, pool *pgxpool.Pool, s *models.MailboxSettings) error {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 50
	}

	_, err := pool.Exec(ctx, `
		INSERT INTO mailbox_settings (
			owner_id,
			from_address,
			from_name,
			imap_server_hostname,
			imap_username,
			encrypted_imap_password,
			smtp_server_hostname,
			smtp_username,
			encrypted_smtp_password,
			archive_folder_name,
			sent_folder_name,
			drafts_folder_name,
			trash_folder_name,
			spam_folder_name,
			page_size
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (owner_id) DO UPDATE SET
			from_address = EXCLUDED.from_address,
			from_name = EXCLUDED.from_name,
			imap_server_hostname = EXCLUDED.imap_server_hostname,
			imap_username = EXCLUDED.imap_username,
			encrypted_imap_password = EXCLUDED.encrypted_imap_password,
			smtp_server_hostname = EXCLUDED.smtp_server_hostname,
			smtp_username = EXCLUDED.smtp_username,
			encrypted_smtp_password = EXCLUDED.encrypted_smtp_password,
			archive_folder_name = EXCLUDED.archive_folder_name,
			sent_folder_name = EXCLUDED.sent_folder_name,
			drafts_folder_name = EXCLUDED.drafts_folder_name,
			trash_folder_name = EXCLUDED.trash_folder_name,
			spam_folder_name = EXCLUDED.spam_folder_name,
			page_size = EXCLUDED.page_size,
			updated_at = NOW()
	`,
		s.OwnerID,
		s.FromAddress,
		s.FromName,
		s.IMAPServerHostname,
		s.IMAPUsername,
		s.EncryptedIMAPPassword,
		s.SMTPServerHostname,
		s.SMTPUsername,
		s.EncryptedSMTPPassword,
		s.ArchiveFolderName,
		s.SentFolderName,
		s.DraftsFolderName,
		s.TrashFolderName,
		s.SpamFolderName,
		pageSize,
	)

	if err != nil {
		return fmt.Errorf("failed to save mailbox settings: %w", err)
	}

	return nil
}

// DeleteMailboxSettings removes the owner's settings. Deleting absent settings is not an error.
func DeleteMailboxSettings(ctx context.Context, pool *pgxpool.Pool, ownerID string) error {
	if _, err := pool.Exec(ctx, `DELETE FROM mailbox_settings WHERE owner_id = $1`, ownerID); err != nil {
		return fmt.Errorf("failed to delete mailbox settings: %w", err)
	}
	return nil
}
