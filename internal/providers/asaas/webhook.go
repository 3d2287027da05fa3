// Package asaas ingests payment webhooks from the Asaas payment provider.
package asaas

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"rentbilling/internal/audit"
	"rentbilling/internal/billing"
	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/api"
	"rentbilling/internal/common/metrics"
)

// Provider is the provider name written to the audit log.
const Provider = "asaas"

// OutcomeIgnored is the audit outcome of events that carry no payment.
const OutcomeIgnored = "ignored"

// Config holds webhook configuration.
type Config struct {
	Token        string        `envconfig:"ASAAS_WEBHOOK_TOKEN" required:"true"`
	TokenHeader  string        `envconfig:"ASAAS_WEBHOOK_TOKEN_HEADER" default:"asaas-access-token"`
	MaxBodyBytes int64         `envconfig:"ASAAS_WEBHOOK_MAX_BODY_BYTES" default:"1048576"`
	AuditTimeout time.Duration `envconfig:"DOWNSTREAM_TIMEOUT" default:"5s"`
}

// Reconciler applies confirmed payments.
type Reconciler interface {
	Reconcile(ctx context.Context, ev billing.PaymentEvent) (*billing.ReconciliationResult, error)
}

// WebhookHandler handles Asaas webhook callbacks.
type WebhookHandler struct {
	cfg        Config
	audit      audit.Log
	reconciler Reconciler
	logger     *slog.Logger
	now        func() time.Time
}

// NewWebhookHandler creates a new Asaas webhook handler.
func NewWebhookHandler(cfg Config, log audit.Log, reconciler Reconciler, logger *slog.Logger) *WebhookHandler {
	if cfg.TokenHeader == "" {
		cfg.TokenHeader = "asaas-access-token"
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.AuditTimeout <= 0 {
		cfg.AuditTimeout = 5 * time.Second
	}
	return &WebhookHandler{
		cfg:        cfg,
		audit:      log,
		reconciler: reconciler,
		logger:     logger,
		now:        time.Now,
	}
}

// Result is how a delivery was handled.
type Result struct {
	AuditID string `json:"audit_id"`
	Status  int    `json:"status"`
	Outcome string `json:"outcome"`
}

// ServeHTTP handles incoming Asaas webhook requests.
//
// Unauthenticated and malformed deliveries are rejected before anything is
// written. Every other delivery is recorded in the audit log first, then
// dispatched. The response is 200 when redelivering cannot help (success,
// duplicate, unknown or cancelled invoice, ignored event) and 500 when it can.
func (h *WebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.WriteError(w, http.StatusMethodNotAllowed, api.ErrCodeBadRequest, "method not allowed")
		return
	}

	if !h.authenticated(r) {
		h.logger.Warn("rejected webhook with invalid token", "remote_addr", r.RemoteAddr)
		metrics.IncWebhookEvent("", strconv.Itoa(http.StatusUnauthorized))
		api.Unauthorized(w, "invalid webhook token")
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		h.logger.Warn("failed to read webhook body", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.IncWebhookEvent("", strconv.Itoa(http.StatusRequestEntityTooLarge))
			api.WriteError(w, http.StatusRequestEntityTooLarge, api.ErrCodeBadRequest, "body too large")
			return
		}
		metrics.IncWebhookEvent("", strconv.Itoa(http.StatusBadRequest))
		api.BadRequest(w, "failed to read body")
		return
	}
	defer r.Body.Close()

	payload, err := ParsePayload(body)
	if err != nil {
		h.logger.Warn("invalid webhook payload", "error", err)
		metrics.IncWebhookEvent("", strconv.Itoa(http.StatusBadRequest))
		api.ValidationError(w, err)
		return
	}

	res, err := h.ingest(r.Context(), payload, body, "")
	if err != nil {
		metrics.IncWebhookEvent(payload.Event, strconv.Itoa(http.StatusInternalServerError))
		api.InternalError(w, "failed to record webhook")
		return
	}

	metrics.IncWebhookEvent(payload.Event, strconv.Itoa(res.Status))
	api.WriteJSON(w, res.Status, res)
}

// Replay runs the stored payload of an audit record through dispatch again
// under a new audit record that points at the original.
func (h *WebhookHandler) Replay(ctx context.Context, auditID string) (*Result, error) {
	original, err := h.audit.Get(ctx, auditID)
	if err != nil {
		return nil, err
	}
	if original.Provider != Provider {
		return nil, fmt.Errorf("audit record %s is from provider %q", auditID, original.Provider)
	}

	payload, err := ParsePayload(original.Payload)
	if err != nil {
		return nil, fmt.Errorf("stored payload of %s: %w", auditID, err)
	}

	h.logger.Info("replaying webhook", "audit_id", auditID, "event", payload.Event, "payment_id", payload.PaymentID())
	return h.ingest(ctx, payload, original.Payload, auditID)
}

// ingest records the delivery and dispatches it. It returns an error only
// when the audit record could not be written.
func (h *WebhookHandler) ingest(ctx context.Context, payload *WebhookPayload, raw []byte, replayOf string) (*Result, error) {
	auditCtx, cancel := context.WithTimeout(ctx, h.cfg.AuditTimeout)
	auditID, err := h.audit.Record(auditCtx, &audit.Record{
		Provider:  Provider,
		EventType: payload.Event,
		EventID:   payload.ID,
		PaymentID: payload.PaymentID(),
		Payload:   json.RawMessage(raw),
		ReplayOf:  replayOf,
	})
	cancel()
	if err != nil {
		metrics.IncAuditWriteFailure()
		h.logger.Error("failed to write audit record",
			"event", payload.Event,
			"payment_id", payload.PaymentID(),
			"error", err,
		)
		return nil, fmt.Errorf("recording webhook: %w", err)
	}

	h.logger.Info("received asaas webhook",
		"audit_id", auditID,
		"event", payload.Event,
		"payment_id", payload.PaymentID(),
	)

	status, auditStatus, outcome := h.dispatch(ctx, payload, raw)
	h.finish(ctx, auditID, auditStatus, outcome)

	return &Result{AuditID: auditID, Status: status, Outcome: outcome}, nil
}

func (h *WebhookHandler) dispatch(ctx context.Context, payload *WebhookPayload, raw []byte) (int, audit.Status, string) {
	if !payload.IsPaymentEvent() {
		h.logger.Info("ignoring webhook event", "event", payload.Event, "payment_id", payload.PaymentID())
		return http.StatusOK, audit.StatusProcessed, OutcomeIgnored
	}

	res, err := h.reconciler.Reconcile(ctx, billing.PaymentEvent{
		EventType: payload.Event,
		Payment:   payload.Payment.toDomain(raw, h.now()),
	})
	switch {
	case err == nil:
		return http.StatusOK, audit.StatusProcessed, res.Summary()
	case !domain.IsRetryable(err):
		h.logger.Warn("payment event not applied",
			"event", payload.Event,
			"payment_id", payload.Payment.ID,
			"error", err,
		)
		return http.StatusOK, audit.StatusError, err.Error()
	default:
		h.logger.Error("payment reconciliation failed",
			"event", payload.Event,
			"payment_id", payload.Payment.ID,
			"error", err,
		)
		return http.StatusInternalServerError, audit.StatusError, err.Error()
	}
}

// finish marks the audit record. A failure here is logged only: the business
// outcome is already committed or rolled back.
func (h *WebhookHandler) finish(ctx context.Context, auditID string, status audit.Status, outcome string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.cfg.AuditTimeout)
	defer cancel()

	if err := h.audit.MarkProcessed(ctx, auditID, status, outcome); err != nil {
		metrics.IncAuditWriteFailure()
		h.logger.Error("failed to update audit record",
			"audit_id", auditID,
			"status", status,
			"error", err,
		)
	}
}

func (h *WebhookHandler) authenticated(r *http.Request) bool {
	if h.cfg.Token == "" {
		return false
	}
	got := r.Header.Get(h.cfg.TokenHeader)
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.cfg.Token)) == 1
}
