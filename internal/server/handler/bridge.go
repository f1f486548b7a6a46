package handler

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/fantasymarket/internal/domain"
	"github.com/alanyoungcy/fantasymarket/internal/metrics"
	"github.com/alanyoungcy/fantasymarket/internal/server/middleware"
	"github.com/alanyoungcy/fantasymarket/internal/service"
)

// BridgeAPI is the transfer orchestration surface.
type BridgeAPI interface {
	Initiate(ctx context.Context, clientID string, req service.InitiateRequest) (domain.TransferRecord, error)
	Get(ctx context.Context, id string) (domain.TransferRecord, error)
	ListByUser(ctx context.Context, userID string, opts domain.ListOpts, withBalance bool) (service.TransferList, error)
	HandleWebhook(ctx context.Context, evt domain.WebhookEvent) (bool, error)
}

// ReadinessAPI checks whether a user can bridge.
type ReadinessAPI interface {
	Check(ctx context.Context, q service.ReadinessQuery) (domain.Readiness, error)
}

// WebhookVerifier authenticates provider callbacks.
type WebhookVerifier interface {
	Verify(secretHeader, signatureHeader string, body []byte) bool
}

// BridgeHandler serves the bridge endpoints.
type BridgeHandler struct {
	bridge    BridgeAPI
	readiness ReadinessAPI
	verifier  WebhookVerifier
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewBridgeHandler creates a BridgeHandler.
func NewBridgeHandler(bridge BridgeAPI, readiness ReadinessAPI, verifier WebhookVerifier, m *metrics.Metrics, logger *slog.Logger) *BridgeHandler {
	return &BridgeHandler{
		bridge:    bridge,
		readiness: readiness,
		verifier:  verifier,
		metrics:   m,
		logger:    logHandler(logger, "bridge"),
	}
}

// Initiate records a transfer and queues the provider call. The
// Idempotency-Key header is used when the body carries no key.
// POST /api/bridge/transfers
func (h *BridgeHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var req service.InitiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	}

	rec, err := h.bridge.Initiate(r.Context(), middleware.ClientIP(r), req)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// GetTransfer returns one transfer.
// GET /api/bridge/transfers/{id}
func (h *BridgeHandler) GetTransfer(w http.ResponseWriter, r *http.Request) {
	rec, err := h.bridge.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// ListTransfers returns a user's transfers.
// GET /api/bridge/transfers?user_id=&with_balance=&limit=&offset=
func (h *BridgeHandler) ListTransfers(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeError(w, http.StatusBadRequest, "user_id query parameter required")
		return
	}
	list, err := h.bridge.ListByUser(r.Context(), userID, parseListOpts(r), queryBool(r, "with_balance"))
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// Webhook applies a provider status notification. The route is exempt from
// API-key auth and is authenticated by the shared webhook secret instead.
// POST /api/bridge/webhook
func (h *BridgeHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if h.verifier == nil || !h.verifier.Verify(r.Header.Get("X-Webhook-Secret"), r.Header.Get("X-Webhook-Signature"), body) {
		h.metrics.Webhook("unauthorized")
		h.logger.WarnContext(r.Context(), "handler: webhook rejected",
			slog.String("remote_addr", middleware.ClientIP(r)),
		)
		writeError(w, http.StatusUnauthorized, "invalid webhook credentials")
		return
	}

	var evt domain.WebhookEvent
	if err := json.Unmarshal(body, &evt); err != nil {
		h.metrics.Webhook("invalid")
		writeError(w, http.StatusBadRequest, "invalid webhook payload")
		return
	}

	ack, err := h.bridge.HandleWebhook(r.Context(), evt)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"received": ack})
}

// Readiness reports whether the user's destination proxy exists and is
// funded.
// GET /api/bridge/readiness?user_id=|wallet_address=&required_amount=&league_id=
func (h *BridgeHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	res, err := h.readiness.Check(r.Context(), service.ReadinessQuery{
		UserID:         q.Get("user_id"),
		WalletAddress:  q.Get("wallet_address"),
		RequiredAmount: q.Get("required_amount"),
		LeagueID:       q.Get("league_id"),
	})
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
