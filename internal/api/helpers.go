package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/auth"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 10 << 20

// errorResponse is the body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// StatusFor maps an error kind to its HTTP status code.
func StatusFor(err error) int {
	switch mailerr.KindOf(err) {
	case mailerr.KindInvalidArgument:
		return http.StatusBadRequest
	case mailerr.KindAuthentication:
		return http.StatusUnauthorized
	case mailerr.KindNotFound:
		return http.StatusNotFound
	case mailerr.KindDelivery:
		return http.StatusUnprocessableEntity
	case mailerr.KindConnection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// WriteError writes err as a JSON error reply. Unclassified errors are logged
// and reported without their details.
func WriteError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	reason := mailerr.Reason(err)

	entry := logrus.WithFields(logrus.Fields{"method": r.Method, "path": r.URL.Path, "status": status}).WithError(err)
	if status == http.StatusInternalServerError {
		entry.Error("API: request failed")
		reason = "internal server error"
	} else {
		entry.Debug("API: request rejected")
	}

	writeStatus(w, status, reason)
}

func writeStatus(w http.ResponseWriter, status int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: reason}); err != nil {
		logrus.WithError(err).Warn("API: failed to write error response")
	}
}

// WriteJSONResponse encodes data into a buffer first so that an encoding
// failure never leaves a partial body. Returns false if the write failed.
func WriteJSONResponse(w http.ResponseWriter, data any) bool {
	return writeJSON(w, http.StatusOK, data)
}

func writeJSON(w http.ResponseWriter, status int, data any) bool {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		logrus.WithError(err).Error("API: failed to encode response")
		writeStatus(w, http.StatusInternalServerError, "internal server error")
		return false
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(buf.Bytes()); err != nil {
		logrus.WithError(err).Warn("API: failed to write response")
		return false
	}
	return true
}

// ownerFromRequest returns the authenticated owner, writing 401 when absent.
func ownerFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner, ok := auth.OwnerFromContext(r.Context())
	if !ok {
		logrus.WithField("path", r.URL.Path).Warn("API: no owner in context")
		writeStatus(w, http.StatusUnauthorized, "unauthorized")
		return "", false
	}
	return owner, true
}

// decodeJSON decodes the request body into v, writing 400 on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeStatus(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		WriteError(w, r, mailerr.InvalidArgument("invalid request body: %v", err))
		return false
	}
	return true
}

// parseUID reads the {uid} path value.
func parseUID(r *http.Request) (uint32, error) {
	raw := r.PathValue("uid")
	uid, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || uid == 0 {
		return 0, mailerr.InvalidArgument("invalid message uid %q", raw)
	}
	return uint32(uid), nil
}

// ParsePaginationParams parses page and limit from query parameters.
// Missing values fall back to page 1 and defaultLimit. Malformed values are
// rejected rather than silently replaced.
func ParsePaginationParams(r *http.Request, defaultLimit int) (page, limit int, err error) {
	page = 1
	limit = defaultLimit

	if pageStr := r.URL.Query().Get("page"); pageStr != "" {
		if page, err = strconv.Atoi(pageStr); err != nil {
			return 0, 0, mailerr.InvalidArgument("invalid page %q", pageStr)
		}
	}

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if limit, err = strconv.Atoi(limitStr); err != nil {
			return 0, 0, mailerr.InvalidArgument("invalid limit %q", limitStr)
		}
	}

	return page, limit, nil
}
