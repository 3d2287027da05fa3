// Package api exposes the billing admin endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"rentbilling/internal/audit"
	"rentbilling/internal/billing"
	"rentbilling/internal/billing/domain"
	"rentbilling/internal/common/api"
	"rentbilling/internal/common/middleware"
	"rentbilling/internal/providers/asaas"
)

func init() {
	_ = api.Validate.RegisterValidation("period", func(fl validator.FieldLevel) bool {
		_, err := domain.ParsePeriod(fl.Field().String())
		return err == nil
	})
}

// Generator runs invoice generation.
type Generator interface {
	GenerateMissingInvoices(ctx context.Context, asOf time.Time) (*billing.GenerationSummary, error)
}

// Replayer re-runs a stored webhook delivery.
type Replayer interface {
	Replay(ctx context.Context, auditID string) (*asaas.Result, error)
}

// Handler handles billing admin HTTP requests
type Handler struct {
	generator Generator
	invoices  domain.InvoiceStore
	payouts   domain.PayoutStore
	audit     audit.Log
	replayer  Replayer
	logger    *slog.Logger
	now       func() time.Time
}

// NewHandler creates a new billing handler
func NewHandler(generator Generator, invoices domain.InvoiceStore, payouts domain.PayoutStore, log audit.Log, replayer Replayer, logger *slog.Logger) *Handler {
	return &Handler{
		generator: generator,
		invoices:  invoices,
		payouts:   payouts,
		audit:     log,
		replayer:  replayer,
		logger:    logger,
		now:       time.Now,
	}
}

// Routes returns the billing routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	// Invoice routes
	r.Post("/invoices/generate", h.GenerateInvoices)
	r.Get("/invoices", h.ListInvoices)
	r.Get("/invoices/{id}", h.GetInvoice)
	r.Put("/invoices/{id}/payment-reference", h.SetPaymentReference)

	// Payout routes
	r.Get("/payouts", h.ListPayouts)
	r.Get("/payouts/statement", h.PayoutStatement)

	// Audit routes
	r.Get("/audit", h.ListAudit)
	r.Get("/audit/{id}", h.GetAudit)
	r.Post("/audit/{id}/replay", h.ReplayAudit)

	return r
}

// GenerateRequest is the API request for invoice generation
type GenerateRequest struct {
	AsOf *time.Time `json:"as_of"`
}

// GenerateInvoices handles POST /invoices/generate
func (h *Handler) GenerateInvoices(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.BadRequest(w, "invalid request body")
		return
	}

	asOf := h.now()
	if req.AsOf != nil {
		asOf = *req.AsOf
	}

	summary, err := h.generator.GenerateMissingInvoices(r.Context(), asOf)
	if err != nil {
		h.writeError(w, r, err, "failed to generate invoices")
		return
	}

	h.logger.Info("invoice generation requested",
		"principal", middleware.GetPrincipal(r.Context()),
		"period", summary.Period,
		"created", summary.Created,
		"failed", summary.Failed,
	)
	api.WriteData(w, http.StatusOK, summary)
}

type periodQuery struct {
	Period string `validate:"required,period"`
	Format string `validate:"omitempty,oneof=xlsx pdf"`
}

func (h *Handler) parsePeriod(w http.ResponseWriter, r *http.Request) (domain.Period, string, bool) {
	q := periodQuery{
		Period: r.URL.Query().Get("period"),
		Format: r.URL.Query().Get("format"),
	}
	if err := api.Validate.Struct(&q); err != nil {
		api.ValidationError(w, err)
		return domain.Period{}, "", false
	}
	period, _ := domain.ParsePeriod(q.Period)
	return period, q.Format, true
}

// ListInvoices handles GET /invoices?period=MM/YYYY
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	period, _, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}

	invoices, err := h.invoices.ListByPeriod(r.Context(), period)
	if err != nil {
		h.writeError(w, r, err, "failed to list invoices")
		return
	}
	if invoices == nil {
		invoices = []*domain.Invoice{}
	}

	api.WriteData(w, http.StatusOK, invoices)
}

// GetInvoice handles GET /invoices/{id}
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	inv, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "failed to get invoice")
		return
	}

	api.WriteData(w, http.StatusOK, inv)
}

// PaymentReferenceRequest binds a provider charge to an invoice
type PaymentReferenceRequest struct {
	PaymentID string `json:"payment_id" validate:"required,max=100"`
}

// SetPaymentReference handles PUT /invoices/{id}/payment-reference
func (h *Handler) SetPaymentReference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req PaymentReferenceRequest
	if err := api.DecodeAndValidate(r, &req); err != nil {
		api.ValidationError(w, err)
		return
	}

	if err := h.invoices.SetPaymentReference(r.Context(), id, req.PaymentID); err != nil {
		h.writeError(w, r, err, "failed to set payment reference")
		return
	}

	inv, err := h.invoices.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "failed to get invoice")
		return
	}

	h.logger.Info("payment reference registered",
		"invoice_id", id,
		"payment_id", req.PaymentID,
		"principal", middleware.GetPrincipal(r.Context()),
	)
	api.WriteData(w, http.StatusOK, inv)
}

// ListPayouts handles GET /payouts?period=MM/YYYY
func (h *Handler) ListPayouts(w http.ResponseWriter, r *http.Request) {
	period, _, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}

	payouts, err := h.payouts.ListByPeriod(r.Context(), period)
	if err != nil {
		h.writeError(w, r, err, "failed to list payouts")
		return
	}
	if payouts == nil {
		payouts = []*domain.Payout{}
	}

	api.WriteData(w, http.StatusOK, payouts)
}

// PayoutStatement handles GET /payouts/statement?period=MM/YYYY&format=xlsx|pdf
func (h *Handler) PayoutStatement(w http.ResponseWriter, r *http.Request) {
	period, format, ok := h.parsePeriod(w, r)
	if !ok {
		return
	}
	if format == "" {
		format = "xlsx"
	}

	payouts, err := h.payouts.ListByPeriod(r.Context(), period)
	if err != nil {
		h.writeError(w, r, err, "failed to list payouts")
		return
	}

	st, err := NewStatement(period, payouts, h.now().UTC())
	if err != nil {
		h.writeError(w, r, err, "failed to build statement")
		return
	}

	var (
		body        []byte
		contentType string
	)
	switch format {
	case "pdf":
		body, err = BuildStatementPDF(st)
		contentType = "application/pdf"
	default:
		body, err = BuildStatementXLSX(st)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		h.writeError(w, r, err, "failed to render statement")
		return
	}

	filename := fmt.Sprintf("payouts-%04d-%02d.%s", period.Year, int(period.Month), format)
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}

type auditQuery struct {
	Status string `validate:"omitempty,oneof=RECEIVED PROCESSED ERROR"`
	Limit  int    `validate:"omitempty,min=1,max=500"`
}

// ListAudit handles GET /audit?status=&limit=
func (h *Handler) ListAudit(w http.ResponseWriter, r *http.Request) {
	q := auditQuery{Status: r.URL.Query().Get("status")}
	if s := r.URL.Query().Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil {
			api.BadRequest(w, "limit must be an integer")
			return
		}
		q.Limit = limit
	}
	if err := api.Validate.Struct(&q); err != nil {
		api.ValidationError(w, err)
		return
	}

	records, err := h.audit.List(r.Context(), audit.Filter{
		Status:    audit.Status(q.Status),
		PaymentID: r.URL.Query().Get("payment_id"),
		Limit:     q.Limit,
	})
	if err != nil {
		h.writeError(w, r, err, "failed to list audit records")
		return
	}
	if records == nil {
		records = []*audit.Record{}
	}

	api.WriteData(w, http.StatusOK, records)
}

// GetAudit handles GET /audit/{id}
func (h *Handler) GetAudit(w http.ResponseWriter, r *http.Request) {
	rec, err := h.audit.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, r, err, "failed to get audit record")
		return
	}

	api.WriteData(w, http.StatusOK, rec)
}

// ReplayAudit handles POST /audit/{id}/replay
func (h *Handler) ReplayAudit(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.replayer.Replay(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err, "failed to replay webhook")
		return
	}

	h.logger.Info("webhook replayed",
		"audit_id", id,
		"replay_audit_id", res.AuditID,
		"status", res.Status,
		"principal", middleware.GetPrincipal(r.Context()),
	)
	api.WriteData(w, http.StatusOK, res)
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error, message string) {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, audit.ErrNotFound):
		api.NotFound(w, err.Error())
	case errors.Is(err, domain.ErrPaymentReferenceTaken),
		errors.Is(err, domain.ErrInvoiceSettled),
		errors.Is(err, domain.ErrInvoiceCancelled),
		errors.Is(err, domain.ErrInconsistentState):
		api.Conflict(w, err.Error())
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.logger.Error(message, "path", r.URL.Path, "error", err)
		api.ServiceUnavailable(w, message)
	default:
		h.logger.Error(message, "path", r.URL.Path, "error", err)
		api.InternalError(w, message)
	}
}
