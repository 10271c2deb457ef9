package api

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vdavid/vmail/mailcore/internal/auth"
	"github.com/vdavid/vmail/mailcore/internal/batch"
	"github.com/vdavid/vmail/mailcore/internal/cache"
	"github.com/vdavid/vmail/mailcore/internal/mail"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/outbox"
	"github.com/vdavid/vmail/mailcore/internal/session"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

const testOwner = "owner-1"

// testEnv is a full mail stack over in-memory IMAP and SMTP servers.
type testEnv struct {
	imap    *testutil.TestIMAPServer
	smtp    *testutil.TestSMTPServer
	pool    *session.Pool
	service *mail.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	imapServer := testutil.NewTestIMAPServer(t)
	smtpServer := testutil.NewTestSMTPServer(t)
	creds := imapServer.Credentials(testOwner, smtpServer.Address)

	pool := session.NewPool(testutil.StaticCredentials{testOwner: creds}, session.NewDialer(false), session.Options{})
	t.Cleanup(pool.Close)

	c := cache.New(time.Minute, nil)
	t.Cleanup(c.Close)

	synchronizer := mailbox.NewSynchronizer(c)
	out := outbox.New(synchronizer, nil, outbox.Options{BackoffBase: time.Millisecond})
	svc := mail.NewService(pool, synchronizer, c, out, batch.NewCoordinator(synchronizer))

	return &testEnv{imap: imapServer, smtp: smtpServer, pool: pool, service: svc}
}

// createRequestWithOwner creates a request carrying an authenticated owner.
// pathValues are name/value pairs set as mux path wildcards.
func createRequestWithOwner(t *testing.T, method, url, owner string, body any, pathValues ...string) *http.Request {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, url, reader)
	if owner != "" {
		req = req.WithContext(auth.WithOwner(req.Context(), owner))
	}
	require.Zero(t, len(pathValues)%2, "path values come in pairs")
	for i := 0; i < len(pathValues); i += 2 {
		req.SetPathValue(pathValues[i], pathValues[i+1])
	}
	return req
}

// decodeBody decodes a JSON response body into T.
func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), "body: %s", rr.Body.String())
	return v
}

// errorReason returns the "error" field of a JSON error reply.
func errorReason(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	return decodeBody[errorResponse](t, rr).Error
}

// VerifyAuthCheck verifies that the handler returns 401 when no owner is in context.
func VerifyAuthCheck(t *testing.T, handlerFunc http.HandlerFunc, method, url string) {
	t.Helper()
	req := httptest.NewRequest(method, url, nil)
	rr := httptest.NewRecorder()
	handlerFunc(rr, req)
	require.Equal(t, http.StatusUnauthorized, rr.Code, "Expected status 401 when no owner in context")
	require.Equal(t, "unauthorized", errorReason(t, rr))
}
