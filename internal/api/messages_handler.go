package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// DefaultPageSize is used when neither the request nor the owner's settings give one.
const DefaultPageSize = 50

// PageSizer returns the owner's preferred page size, or 0 if unset.
type PageSizer interface {
	PageSize(ctx context.Context, owner string) int
}

// MessagesHandler handles message listing, reading and mutation.
type MessagesHandler struct {
	mail  MailService
	sizer PageSizer
}

// NewMessagesHandler creates a new MessagesHandler. sizer may be nil.
func NewMessagesHandler(mail MailService, sizer PageSizer) *MessagesHandler {
	return &MessagesHandler{mail: mail, sizer: sizer}
}

type flagRequest struct {
	Flag  models.Flag `json:"flag"`
	Value bool        `json:"value"`
}

type moveRequest struct {
	Target string `json:"target"`
}

type moveResponse struct {
	Folder string `json:"folder"`
	UID    uint32 `json:"uid"`
}

type batchRequest struct {
	Operation models.BatchOperation `json:"operation"`
	UIDs      []uint32              `json:"uids"`
}

type batchResponse struct {
	Attempted []uint32          `json:"attempted"`
	Succeeded []uint32          `json:"succeeded"`
	Failed    map[string]string `json:"failed"`
	Moved     map[string]uint32 `json:"moved,omitempty"`
}

// pageSize returns the owner's configured page size, or DefaultPageSize.
func (h *MessagesHandler) pageSize(ctx context.Context, owner string) int {
	if h.sizer != nil {
		if n := h.sizer.PageSize(ctx, owner); n > 0 {
			return n
		}
	}
	return DefaultPageSize
}

// ListMessages returns one page of a folder, newest first.
func (h *MessagesHandler) ListMessages(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	page, limit, err := ParsePaginationParams(r, h.pageSize(ctx, owner))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	result, err := h.mail.FetchPage(ctx, owner, r.PathValue("folder"), page, limit, r.URL.Query().Get("search"))
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONResponse(w, result)
}

// GetMessage returns a full message and marks it read.
func (h *MessagesHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	uid, err := parseUID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	msg, err := h.mail.OpenMessage(r.Context(), owner, r.PathValue("folder"), uid)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONResponse(w, msg)
}

// DeleteMessage moves a message to trash, or removes it for good with ?permanent=true.
func (h *MessagesHandler) DeleteMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	uid, err := parseUID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	permanent := false
	if raw := r.URL.Query().Get("permanent"); raw != "" {
		if permanent, err = strconv.ParseBool(raw); err != nil {
			WriteError(w, r, mailerr.InvalidArgument("invalid permanent flag %q", raw))
			return
		}
	}

	if err := h.mail.Delete(r.Context(), owner, r.PathValue("folder"), uid, permanent); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// SetFlag sets or clears the read or starred flag.
func (h *MessagesHandler) SetFlag(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	uid, err := parseUID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var req flagRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.mail.SetFlag(r.Context(), owner, r.PathValue("folder"), uid, req.Flag, req.Value); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// MoveMessage moves a message and returns where it landed.
func (h *MessagesHandler) MoveMessage(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}
	uid, err := parseUID(r)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	var req moveRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	newUID, err := h.mail.Move(r.Context(), owner, r.PathValue("folder"), uid, req.Target)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONResponse(w, moveResponse{Folder: models.NormalizeFolder(req.Target), UID: newUID})
}

// Batch applies one operation to many messages. Item failures are reported
// in the body; the status is only an error when the batch itself is invalid.
func (h *MessagesHandler) Batch(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req batchRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	folder := r.PathValue("folder")
	result, err := h.mail.ApplyBatch(r.Context(), owner, req.Operation, folder, req.UIDs)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	if len(result.Failed) > 0 {
		logrus.WithFields(logrus.Fields{
			"owner":  owner,
			"folder": folder,
			"op":     req.Operation.Kind,
			"failed": len(result.Failed),
		}).Info("MessagesHandler: batch finished with failures")
	}

	WriteJSONResponse(w, toBatchResponse(result))
}

func toBatchResponse(result *models.BatchResult) batchResponse {
	resp := batchResponse{
		Attempted: result.Attempted,
		Succeeded: result.Succeeded,
		Failed:    make(map[string]string, len(result.Failed)),
	}
	for uid, reason := range result.FailureReasons() {
		resp.Failed[strconv.FormatUint(uint64(uid), 10)] = reason
	}
	if len(result.Moved) > 0 {
		resp.Moved = make(map[string]uint32, len(result.Moved))
		for uid, newUID := range result.Moved {
			resp.Moved[strconv.FormatUint(uint64(uid), 10)] = newUID
		}
	}
	return resp
}
