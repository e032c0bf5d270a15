package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/mssola/useragent"

	"wwwallet/internal/notify"
	"wwwallet/internal/platform/metrics"
	"wwwallet/internal/platform/middleware"
	"wwwallet/internal/privatedata"
	dErrors "wwwallet/pkg/domain-errors"
	"wwwallet/pkg/platform/httputil"
	auth "wwwallet/pkg/platform/middleware/auth"
	"wwwallet/pkg/platform/sentinel"
)

// DefaultMaxBlobBytes bounds the size of an uploaded container.
const DefaultMaxBlobBytes = 16 << 20

// Publisher announces that a wallet's private data changed.
type Publisher interface {
	Publish(ctx context.Context, change notify.Change) error
}

// Handler serves the private data endpoints.
type Handler struct {
	store        privatedata.Store
	logger       *slog.Logger
	metrics      *metrics.Metrics
	validator    auth.JWTValidator
	publisher    Publisher
	maxBlobBytes int64
}

type Option func(*Handler)

// WithPublisher announces successful writes on p.
func WithPublisher(p Publisher) Option {
	return func(h *Handler) {
		h.publisher = p
	}
}

func WithMaxBlobBytes(n int64) Option {
	return func(h *Handler) {
		if n > 0 {
			h.maxBlobBytes = n
		}
	}
}

func New(store privatedata.Store, validator auth.JWTValidator, logger *slog.Logger, m *metrics.Metrics, opts ...Option) *Handler {
	h := &Handler{
		store:        store,
		logger:       logger,
		metrics:      m,
		validator:    validator,
		maxBlobBytes: DefaultMaxBlobBytes,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register mounts the routes on r. The middleware chain only applies to
// these routes.
func (h *Handler) Register(r chi.Router) {
	r.Group(func(router chi.Router) {
		router.Use(chimw.RequestID)
		router.Use(middleware.Recovery(h.logger))
		router.Use(middleware.Logger(h.logger))
		router.Use(middleware.Latency(h.metrics))
		router.Use(chimw.Timeout(30 * time.Second))
		router.Use(auth.RequireAuth(h.validator, h.logger))
		router.Get("/wallets/{walletID}/private-data", h.handleGet)
		router.Put("/wallets/{walletID}/private-data", h.handlePut)
	})
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, ok := h.authorizedWallet(w, r)
	if !ok {
		return
	}

	blob, err := h.store.Get(ctx, walletID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			h.metrics.IncrementRead("not_found")
			httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "no private data stored"))
			return
		}
		h.metrics.IncrementRead("error")
		h.logger.ErrorContext(ctx, "failed to read private data",
			"wallet_id", walletID,
			"request_id", chimw.GetReqID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "read private data"))
		return
	}

	h.metrics.IncrementRead("ok")
	writeBlob(w, http.StatusOK, blob)
}

func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	walletID, ok := h.authorizedWallet(w, r)
	if !ok {
		return
	}

	expected, err := expectedVersion(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBlobBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "private data too large"))
			return
		}
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "failed to read request body"))
		return
	}
	if len(data) == 0 {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "empty private data"))
		return
	}

	blob, err := h.store.Put(ctx, walletID, data, expected)
	if err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			h.metrics.IncrementWrite("conflict")
			h.logger.InfoContext(ctx, "private data write lost the race",
				"wallet_id", walletID,
				"expected_version", expected,
				"request_id", chimw.GetReqID(ctx),
			)
			httputil.WriteError(w, dErrors.New(dErrors.CodeConflict, "private data was changed by another device"))
			return
		}
		h.metrics.IncrementWrite("error")
		h.logger.ErrorContext(ctx, "failed to write private data",
			"wallet_id", walletID,
			"request_id", chimw.GetReqID(ctx),
			"error", err,
		)
		httputil.WriteError(w, dErrors.Wrap(err, dErrors.CodeInternal, "write private data"))
		return
	}
	h.metrics.IncrementWrite("ok")

	if h.publisher != nil {
		change := notify.Change{
			WalletID:  walletID,
			DeviceID:  auth.GetDeviceID(ctx),
			Agent:     agentLabel(r.UserAgent()),
			Version:   blob.Version,
			UpdatedAt: blob.UpdatedAt,
		}
		if err := h.publisher.Publish(ctx, change); err != nil {
			h.logger.WarnContext(ctx, "failed to publish private data change",
				"wallet_id", walletID,
				"version", blob.Version,
				"error", err,
			)
		}
	}

	w.Header().Set("ETag", privatedata.ETag(blob.Version))
	w.WriteHeader(http.StatusNoContent)
}

// authorizedWallet returns the path wallet id if the token was issued for it.
func (h *Handler) authorizedWallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	ctx := r.Context()
	walletID := chi.URLParam(r, "walletID")
	if walletID == "" {
		httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "wallet id is required"))
		return "", false
	}
	if auth.GetWalletID(ctx) != walletID {
		h.logger.WarnContext(ctx, "token does not grant access to wallet",
			"wallet_id", walletID,
			"request_id", chimw.GetReqID(ctx),
		)
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "token does not grant access to this wallet"))
		return "", false
	}
	return walletID, true
}

// expectedVersion reads If-Match ("<version>") or If-None-Match (*, meaning
// nothing is stored yet). One of them is required.
func expectedVersion(r *http.Request) (int64, error) {
	if r.Header.Get("If-None-Match") == "*" {
		return 0, nil
	}
	match := r.Header.Get("If-Match")
	if match == "" {
		return 0, dErrors.New(dErrors.CodeBadRequest, "If-Match or If-None-Match: * is required")
	}
	v, err := privatedata.ParseETag(match)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeBadRequest, "invalid If-Match header")
	}
	return v, nil
}

// agentLabel turns a User-Agent header into a short label such as
// "Firefox on Linux" for change notifications.
func agentLabel(header string) string {
	if header == "" {
		return ""
	}
	ua := useragent.New(header)
	if ua.Bot() {
		return "bot"
	}
	browser, _ := ua.Browser()
	label := browser
	if os := ua.OS(); os != "" {
		if label == "" {
			label = os
		} else {
			label += " on " + os
		}
	}
	if ua.Mobile() {
		label += " (mobile)"
	}
	return label
}

func writeBlob(w http.ResponseWriter, status int, blob *privatedata.Blob) {
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", privatedata.ETag(blob.Version))
	w.Header().Set("Last-Modified", blob.UpdatedAt.UTC().Format(http.TimeFormat))
	w.WriteHeader(status)
	_, _ = w.Write(blob.Data)
}
