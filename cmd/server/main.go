package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/api"
	"github.com/vdavid/vmail/mailcore/internal/auth"
	"github.com/vdavid/vmail/mailcore/internal/batch"
	"github.com/vdavid/vmail/mailcore/internal/blob"
	"github.com/vdavid/vmail/mailcore/internal/cache"
	"github.com/vdavid/vmail/mailcore/internal/config"
	"github.com/vdavid/vmail/mailcore/internal/crypto"
	"github.com/vdavid/vmail/mailcore/internal/db"
	"github.com/vdavid/vmail/mailcore/internal/mail"
	"github.com/vdavid/vmail/mailcore/internal/mailbox"
	"github.com/vdavid/vmail/mailcore/internal/outbox"
	"github.com/vdavid/vmail/mailcore/internal/session"
	"github.com/vdavid/vmail/mailcore/internal/watch"
	ws "github.com/vdavid/vmail/mailcore/internal/websocket"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}
	cfg.ConfigureLogging()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewConnection(ctx, cfg)
	if err != nil {
		logrus.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.CloseConnection(pool)

	deps, cleanup, err := newDependencies(ctx, cfg, pool)
	if err != nil {
		logrus.Fatalf("Failed to set up services: %v", err)
	}
	defer cleanup()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           NewServer(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("Server: shutdown did not complete cleanly")
		}
	}()

	logrus.WithFields(logrus.Fields{"address": server.Addr, "environment": cfg.Environment}).Info("Server: starting")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.Fatalf("Server failed to start: %v", err)
	}
	logrus.Info("Server: stopped")
}

// settingsStore is what the handlers need from the credentials database.
type settingsStore interface {
	api.SettingsStore
	api.SetupChecker
	api.PageSizer
}

// dependencies are the long-lived services the routes are built on.
type dependencies struct {
	mail     api.MailService
	settings settingsStore
	verifier *auth.Verifier
	hub      *ws.Hub
	watcher  api.InboxWatcher
}

// newDependencies wires the mail core. The returned cleanup closes
// everything in reverse order of creation.
func newDependencies(ctx context.Context, cfg *config.Config, dbPool *pgxpool.Pool) (*dependencies, func(), error) {
	encryptor, err := crypto.NewEncryptor(cfg.EncryptionKeyBase64)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create encryptor: %w", err)
	}
	credentials := db.NewCredentialStore(dbPool, encryptor)

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var tier cache.Tier
	if cfg.RedisURL != "" {
		redisTier, err := cache.NewRedisTier(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		closers = append(closers, func() { _ = redisTier.Close() })
		tier = redisTier
		logrus.Info("Server: using Redis cache tier")
	}
	messageCache := cache.New(cfg.CacheTTL, tier)
	closers = append(closers, messageCache.Close)

	var blobs blob.Store = blob.NewMemoryStore()
	if cfg.S3Bucket != "" {
		s3Store, err := blob.NewS3Store(ctx, blob.S3Options{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		blobs = s3Store
		logrus.WithField("bucket", cfg.S3Bucket).Info("Server: using S3 attachment store")
	}

	dialer := session.NewDialer(cfg.MailUseTLS)
	sessions := session.NewPool(credentials, dialer, session.Options{
		IdleTimeout:   cfg.SessionIdleTimeout,
		SweepInterval: cfg.SweepInterval,
	})
	closers = append(closers, sessions.Close)

	synchronizer := mailbox.NewSynchronizer(messageCache)
	pipeline := outbox.New(synchronizer, blobs, outbox.Options{
		MaxAttempts:     cfg.SendMaxAttempts,
		BackoffBase:     cfg.SendBackoffBase,
		RatePerMinute:   cfg.SendRatePerMinute,
		MessageIDDomain: cfg.MessageIDDomain,
	})
	service := mail.NewService(sessions, synchronizer, messageCache, pipeline, batch.NewCoordinator(synchronizer))

	hub := ws.NewHub(cfg.WSMaxPerOwner)
	watcher := watch.New(credentials, dialer, messageCache, hub, watch.Options{Interval: cfg.WatchPollInterval})
	closers = append(closers, watcher.Close)

	return &dependencies{
		mail:     service,
		settings: credentials,
		verifier: auth.NewVerifier(cfg.JWTSecret),
		hub:      hub,
		watcher:  watcher,
	}, cleanup, nil
}

// NewServer creates and returns the HTTP handler for the mail API.
func NewServer(deps *dependencies) http.Handler {
	authHandler := api.NewAuthHandler(deps.settings, deps.mail)
	settingsHandler := api.NewSettingsHandler(deps.settings, deps.mail)
	foldersHandler := api.NewFoldersHandler(deps.mail)
	messagesHandler := api.NewMessagesHandler(deps.mail, deps.settings)
	composeHandler := api.NewComposeHandler(deps.mail)
	wsHandler := api.NewWebSocketHandler(deps.verifier, deps.hub, deps.watcher)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)

	protected := func(pattern string, h http.HandlerFunc) {
		mux.Handle(pattern, deps.verifier.RequireAuth(h))
	}

	protected("GET /api/v1/auth/status", authHandler.GetAuthStatus)
	protected("POST /api/v1/auth/logout", authHandler.Logout)

	protected("GET /api/v1/settings", settingsHandler.GetSettings)
	protected("POST /api/v1/settings", settingsHandler.PostSettings)

	protected("GET /api/v1/folders", foldersHandler.GetFolders)
	protected("POST /api/v1/folders", foldersHandler.CreateFolder)
	protected("PUT /api/v1/folders/{name}", foldersHandler.RenameFolder)
	protected("DELETE /api/v1/folders/{name}", foldersHandler.DeleteFolder)

	protected("GET /api/v1/folders/{folder}/messages", messagesHandler.ListMessages)
	protected("GET /api/v1/folders/{folder}/messages/{uid}", messagesHandler.GetMessage)
	protected("DELETE /api/v1/folders/{folder}/messages/{uid}", messagesHandler.DeleteMessage)
	protected("POST /api/v1/folders/{folder}/messages/{uid}/flags", messagesHandler.SetFlag)
	protected("POST /api/v1/folders/{folder}/messages/{uid}/move", messagesHandler.MoveMessage)
	protected("POST /api/v1/folders/{folder}/batch", messagesHandler.Batch)

	protected("POST /api/v1/drafts", composeHandler.SaveDraft)
	protected("POST /api/v1/drafts/{uid}/send", composeHandler.SendDraft)
	protected("POST /api/v1/send", composeHandler.Send)

	// The WebSocket handler authenticates itself since browsers can't set
	// headers on WebSocket connections.
	mux.HandleFunc("GET /api/v1/ws", wsHandler.Handle)

	return mux
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Mail API is running")
}
