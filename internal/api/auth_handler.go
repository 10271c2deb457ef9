package api

import (
	"context"
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// SetupChecker reports whether an owner has configured a mailbox.
type SetupChecker interface {
	SetupComplete(ctx context.Context, owner string) (bool, error)
}

type AuthHandler struct {
	setup SetupChecker
	mail  MailService
}

func NewAuthHandler(setup SetupChecker, mail MailService) *AuthHandler {
	return &AuthHandler{setup: setup, mail: mail}
}

func (h *AuthHandler) GetAuthStatus(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	isSetupComplete, err := h.setup.SetupComplete(r.Context(), owner)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONResponse(w, models.AuthStatusResponse{
		IsAuthenticated: true,
		IsSetupComplete: isSetupComplete,
		Owner:           owner,
	})
}

// Logout closes the owner's mail connections and drops cached messages.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.mail.Logout(r.Context(), owner); err != nil {
		WriteError(w, r, err)
		return
	}

	logrus.WithField("owner", owner).Info("AuthHandler: owner logged out")
	w.WriteHeader(http.StatusNoContent)
}
