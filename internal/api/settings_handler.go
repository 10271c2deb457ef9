package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// SettingsStore reads and writes an owner's mailbox settings.
// *db.CredentialStore implements it.
type SettingsStore interface {
	Settings(ctx context.Context, owner string) (*models.MailboxSettings, error)
	SaveCredentials(ctx context.Context, owner string, req *models.MailboxSettingsRequest) error
}

// SettingsHandler handles mailbox settings requests.
type SettingsHandler struct {
	store SettingsStore
	mail  MailService
}

// NewSettingsHandler creates a new SettingsHandler instance. Saving settings
// logs the owner's pooled session out so the next operation uses them.
func NewSettingsHandler(store SettingsStore, mail MailService) *SettingsHandler {
	return &SettingsHandler{store: store, mail: mail}
}

// GetSettings returns the owner's settings without passwords.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	settings, err := h.store.Settings(r.Context(), owner)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONResponse(w, models.MailboxSettingsResponse{
		FromAddress:        settings.FromAddress,
		FromName:           settings.FromName,
		IMAPServerHostname: settings.IMAPServerHostname,
		IMAPUsername:       settings.IMAPUsername,
		IMAPPasswordSet:    len(settings.EncryptedIMAPPassword) > 0,
		SMTPServerHostname: settings.SMTPServerHostname,
		SMTPUsername:       settings.SMTPUsername,
		SMTPPasswordSet:    len(settings.EncryptedSMTPPassword) > 0,
		ArchiveFolderName:  settings.ArchiveFolderName,
		SentFolderName:     settings.SentFolderName,
		DraftsFolderName:   settings.DraftsFolderName,
		TrashFolderName:    settings.TrashFolderName,
		SpamFolderName:     settings.SpamFolderName,
		PageSize:           settings.PageSize,
	})
}

// PostSettings saves or updates the owner's settings. Passwords may be left
// empty on update to keep the stored ones.
func (h *SettingsHandler) PostSettings(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req models.MailboxSettingsRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := validateSettingsRequest(&req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.store.SaveCredentials(ctx, owner, &req); err != nil {
		WriteError(w, r, err)
		return
	}

	if err := h.mail.Logout(ctx, owner); err != nil {
		logrus.WithField("owner", owner).WithError(err).Warn("SettingsHandler: failed to drop session after settings change")
	}

	WriteJSONResponse(w, struct {
		Success bool `json:"success"`
	}{Success: true})
}

// validateSettingsRequest checks the fields every save needs. Passwords are
// checked by the store since they are only required on first save.
func validateSettingsRequest(req *models.MailboxSettingsRequest) error {
	required := []struct{ name, value string }{
		{"imap_server_hostname", req.IMAPServerHostname},
		{"imap_username", req.IMAPUsername},
		{"smtp_server_hostname", req.SMTPServerHostname},
		{"smtp_username", req.SMTPUsername},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return mailerr.InvalidArgument("%s is required", f.name)
		}
	}
	if req.PageSize < 0 {
		return mailerr.InvalidArgument("page_size must not be negative")
	}
	return nil
}
