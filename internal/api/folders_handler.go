package api

import (
	"net/http"

	"github.com/sirupsen/logrus"
)

// FoldersHandler handles folder listing and management.
type FoldersHandler struct {
	mail MailService
}

// NewFoldersHandler creates a new FoldersHandler instance.
func NewFoldersHandler(mail MailService) *FoldersHandler {
	return &FoldersHandler{mail: mail}
}

type folderRequest struct {
	Name string `json:"name"`
}

// GetFolders returns the system folders followed by the custom folders.
func (h *FoldersHandler) GetFolders(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	folders, err := h.mail.ListFolders(r.Context(), owner)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	WriteJSONResponse(w, folders)
}

// CreateFolder creates a custom folder.
func (h *FoldersHandler) CreateFolder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req folderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	folder, err := h.mail.CreateFolder(r.Context(), owner, req.Name)
	if err != nil {
		WriteError(w, r, err)
		return
	}

	logrus.WithFields(logrus.Fields{"owner": owner, "folder": folder.Name}).Info("FoldersHandler: created folder")
	writeJSON(w, http.StatusCreated, folder)
}

// RenameFolder renames the custom folder named in the path.
func (h *FoldersHandler) RenameFolder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	var req folderRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if err := h.mail.RenameFolder(r.Context(), owner, r.PathValue("name"), req.Name); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// DeleteFolder deletes the custom folder named in the path.
func (h *FoldersHandler) DeleteFolder(w http.ResponseWriter, r *http.Request) {
	owner, ok := ownerFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.mail.DeleteFolder(r.Context(), owner, r.PathValue("name")); err != nil {
		WriteError(w, r, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
