package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

func TestFoldersHandler(t *testing.T) {
	env := newTestEnv(t)
	handler := NewFoldersHandler(env.service)

	t.Run("returns 401 when no owner in context", func(t *testing.T) {
		VerifyAuthCheck(t, handler.GetFolders, "GET", "/api/v1/folders")
		VerifyAuthCheck(t, handler.CreateFolder, "POST", "/api/v1/folders")
	})

	t.Run("lists system folders first", func(t *testing.T) {
		env.imap.EnsureMailbox(t, "zeta")
		env.imap.EnsureMailbox(t, "Alpha")

		rr := httptest.NewRecorder()
		handler.GetFolders(rr, createRequestWithOwner(t, "GET", "/api/v1/folders", testOwner, nil))
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		folders := decodeBody[[]models.Folder](t, rr)
		var names []string
		for _, f := range folders {
			names = append(names, f.Name)
		}
		assert.Equal(t, append(append([]string{}, models.SystemFolders...), "Alpha", "zeta"), names)
		assert.True(t, folders[0].System)
		assert.Equal(t, uint32(1), folders[0].MessageCount)
	})

	t.Run("creates a custom folder", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.CreateFolder(rr, createRequestWithOwner(t, "POST", "/api/v1/folders", testOwner, folderRequest{Name: "Projects"}))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, "Projects", decodeBody[models.Folder](t, rr).Name)
		assert.Contains(t, env.imap.Mailboxes(t), "Projects")
	})

	t.Run("rejects system folder names", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.CreateFolder(rr, createRequestWithOwner(t, "POST", "/api/v1/folders", testOwner, folderRequest{Name: "Trash"}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, errorReason(t, rr), "system folder")

		rr = httptest.NewRecorder()
		handler.DeleteFolder(rr, createRequestWithOwner(t, "DELETE", "/api/v1/folders/inbox", testOwner, nil, "name", "inbox"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		rr = httptest.NewRecorder()
		handler.RenameFolder(rr, createRequestWithOwner(t, "PUT", "/api/v1/folders/sent", testOwner, folderRequest{Name: "x"}, "name", "sent"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("rejects malformed bodies", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.CreateFolder(rr, createRequestWithOwner(t, "POST", "/api/v1/folders", testOwner, "{"))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("renames and deletes a custom folder", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.RenameFolder(rr, createRequestWithOwner(t, "PUT", "/api/v1/folders/Projects", testOwner, folderRequest{Name: "Archive 2024"}, "name", "Projects"))
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())

		mailboxes := env.imap.Mailboxes(t)
		assert.Contains(t, mailboxes, "Archive 2024")
		assert.NotContains(t, mailboxes, "Projects")

		rr = httptest.NewRecorder()
		handler.DeleteFolder(rr, createRequestWithOwner(t, "DELETE", "/api/v1/folders/Archive%202024", testOwner, nil, "name", "Archive 2024"))
		require.Equal(t, http.StatusNoContent, rr.Code, rr.Body.String())
		assert.NotContains(t, env.imap.Mailboxes(t), "Archive 2024")
	})

	t.Run("missing folder is not found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.DeleteFolder(rr, createRequestWithOwner(t, "DELETE", "/api/v1/folders/nope", testOwner, nil, "name", "nope"))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("unknown owner is not found", func(t *testing.T) {
		rr := httptest.NewRecorder()
		handler.GetFolders(rr, createRequestWithOwner(t, "GET", "/api/v1/folders", "someone-else", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}
