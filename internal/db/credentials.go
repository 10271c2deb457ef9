package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/vmail/mailcore/internal/crypto"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// CredentialStore resolves an owner's decrypted mailbox credentials from the
// settings table.
type CredentialStore struct {
	pool      *pgxpool.Pool
	encryptor *crypto.Encryptor
}

// NewCredentialStore creates a CredentialStore.
func NewCredentialStore(pool *pgxpool.Pool, encryptor *crypto.Encryptor) *CredentialStore {
	return &CredentialStore{pool: pool, encryptor: encryptor}
}

// MailboxCredentials returns the owner's credentials with passwords decrypted.
func (s *CredentialStore) MailboxCredentials(ctx context.Context, ownerID string) (*models.MailboxCredentials, error) {
	settings, err := GetMailboxSettings(ctx, s.pool, ownerID)
	if errors.Is(err, ErrMailboxSettingsNotFound) {
		return nil, mailerr.NotFound("no mailbox configured for owner %s", ownerID)
	}
	if err != nil {
		return nil, err
	}

	imapPassword, err := s.encryptor.Open(ownerID, settings.EncryptedIMAPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt IMAP password: %w", err)
	}

	smtpPassword, err := s.encryptor.Open(ownerID, settings.EncryptedSMTPPassword)
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt SMTP password: %w", err)
	}

	return &models.MailboxCredentials{
		OwnerID:         ownerID,
		FromAddress:     settings.FromAddress,
		FromName:        settings.FromName,
		IMAPServer:      settings.IMAPServerHostname,
		IMAPUsername:    settings.IMAPUsername,
		IMAPPassword:    imapPassword,
		SMTPServer:      settings.SMTPServerHostname,
		SMTPUsername:    settings.SMTPUsername,
		SMTPPassword:    smtpPassword,
		FolderOverrides: folderOverrides(settings),
	}, nil
}

// SaveCredentials encrypts the request's passwords and stores the settings.
// An empty password in the request keeps the stored one.
func (s *CredentialStore) SaveCredentials(ctx context.Context, ownerID string, req *models.MailboxSettingsRequest) error {
	existing, err := GetMailboxSettings(ctx, s.pool, ownerID)
	if err != nil && !errors.Is(err, ErrMailboxSettingsNotFound) {
		return err
	}

	settings := &models.MailboxSettings{
		OwnerID:            ownerID,
		FromAddress:        req.FromAddress,
		FromName:           req.FromName,
		IMAPServerHostname: req.IMAPServerHostname,
		IMAPUsername:       req.IMAPUsername,
		SMTPServerHostname: req.SMTPServerHostname,
		SMTPUsername:       req.SMTPUsername,
		ArchiveFolderName:  req.ArchiveFolderName,
		SentFolderName:     req.SentFolderName,
		DraftsFolderName:   req.DraftsFolderName,
		TrashFolderName:    req.TrashFolderName,
		SpamFolderName:     req.SpamFolderName,
		PageSize:           req.PageSize,
	}

	settings.EncryptedIMAPPassword, err = s.sealOrKeep(ownerID, req.IMAPPassword, existing, func(e *models.MailboxSettings) []byte { return e.EncryptedIMAPPassword })
	if err != nil {
		return mailerr.InvalidArgument("imap_password is required")
	}
	settings.EncryptedSMTPPassword, err = s.sealOrKeep(ownerID, req.SMTPPassword, existing, func(e *models.MailboxSettings) []byte { return e.EncryptedSMTPPassword })
	if err != nil {
		return mailerr.InvalidArgument("smtp_password is required")
	}

	return SaveMailboxSettings(ctx, s.pool, settings)
}

func (s *CredentialStore) sealOrKeep(ownerID, password string, existing *models.MailboxSettings, stored func(*models.MailboxSettings) []byte) ([]byte, error) {
	if password != "" {
		return s.encryptor.Seal(ownerID, password)
	}
	if existing != nil {
		return stored(existing), nil
	}
	return nil, errors.New("password missing")
}

func folderOverrides(s *models.MailboxSettings) map[string]string {
	overrides := make(map[string]string)
	for name, path := range map[string]string{
		models.FolderArchive: s.ArchiveFolderName,
		models.FolderSent:    s.SentFolderName,
		models.FolderDrafts:  s.DraftsFolderName,
		models.FolderTrash:   s.TrashFolderName,
		models.FolderSpam:    s.SpamFolderName,
	} {
		if path != "" {
			overrides[name] = path
		}
	}
	return overrides
}

// Settings returns the owner's stored settings, or a NotFound error when the
// owner has not configured a mailbox yet.
func (s *CredentialStore) Settings(ctx context.Context, ownerID string) (*models.MailboxSettings, error) {
	settings, err := GetMailboxSettings(ctx, s.pool, ownerID)
	if errors.Is(err, ErrMailboxSettingsNotFound) {
		return nil, mailerr.NotFound("no mailbox configured for owner %s", ownerID)
	}
	return settings, err
}

// SetupComplete reports whether the owner has saved mailbox settings.
func (s *CredentialStore) SetupComplete(ctx context.Context, ownerID string) (bool, error) {
	return MailboxSettingsExist(ctx, s.pool, ownerID)
}

// PageSize returns the owner's preferred page size, or 0 when unset or unknown.
func (s *CredentialStore) PageSize(ctx context.Context, ownerID string) int {
	settings, err := GetMailboxSettings(ctx, s.pool, ownerID)
	if err != nil {
		return 0
	}
	return settings.PageSize
}
