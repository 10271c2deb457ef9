package api

import (
	"net/http"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// ComposeHandler handles drafts and outgoing mail.
type ComposeHandler struct {
	mail MailService
}

// NewComposeHandler creates a new ComposeHandler instance.
func NewComposeHandler(mail MailService) *ComposeHandler {
	return &ComposeHandler{mail: mail}
}

type draftResponse struct {
	DraftID uint32 `json:"draft_id"`
}

type sendResponse struct {
	MessageID string `json:"message_id"`
}

// SaveDraft stores a draft, replacing its previous revision when draft_id is set.
func (h *ComposeHandler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var draft models.OutboundDraft
	if !decodeJSON(w, r, &draft) {
		return
	}

	draftID, err := h.mail.SaveDraft(r.Context(), owner, &draft)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, draftResponse{DraftID: draftID})
}

// Send delivers a message composed in the request body.
func (h *ComposeHandler) Send(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var draft models.OutboundDraft
	if !decodeJSON(w, r, &draft) {
		return
	}

	messageID, err := h.mail.Send(r.Context(), owner, &draft)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{"owner": owner, "message_id": messageID}).Info("ComposeHandler: message sent")
	WriteJSONResponse(w, sendResponse{MessageID: messageID})
}

// SendDraft delivers the saved draft named in the path.
func (h *ComposeHandler) SendDraft(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	draftID, err := parseUID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	messageID, err := h.mail.SendDraft(r.Context(), owner, draftID)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{"owner": owner, "draft_id": draftID, "message_id": messageID}).Info("ComposeHandler: draft sent")
	WriteJSONResponse(w, sendResponse{MessageID: messageID})
}
