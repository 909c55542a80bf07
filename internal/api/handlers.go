package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/ingestion"
	"github.com/receiptmatch/reconciler/internal/logger"
	"github.com/receiptmatch/reconciler/internal/reconciliation"
	"github.com/receiptmatch/reconciler/internal/repository"
	"github.com/receiptmatch/reconciler/internal/stats"
)

// Handlers groups all HTTP handler methods and their dependencies.
type Handlers struct {
	recon  *reconciliation.Service
	stats  *stats.Engine
	poller *ingestion.Poller
}

const (
	statusSuccess = "SUCCESS"
	statusFailed  = "FAILED"

	defaultLimit = 20
	maxLimit     = 100
)

// --- helpers ---

type envelope struct {
	Status string     `json:"status"`
	Data   any        `json:"data,omitempty"`
	Meta   *pageMeta  `json:"meta,omitempty"`
	Error  *errorBody `json:"error,omitempty"`
}

type errorBody struct {
	Message    string `json:"message"`
	Identifier string `json:"identifier,omitempty"`
}

type pageMeta struct {
	Page            int  `json:"page"`
	Limit           int  `json:"limit"`
	ItemCount       int  `json:"itemCount"`
	PageCount       int  `json:"pageCount"`
	HasPreviousPage bool `json:"hasPreviousPage"`
	HasNextPage     bool `json:"hasNextPage"`
}

func newPageMeta(page, limit, total int) *pageMeta {
	pages := (total + limit - 1) / limit
	return &pageMeta{
		Page:            page,
		Limit:           limit,
		ItemCount:       total,
		PageCount:       pages,
		HasPreviousPage: page > 1,
		HasNextPage:     page < pages,
	}
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Msg("encode response")
	}
}

func writeData(w http.ResponseWriter, r *http.Request, status int, data any) {
	writeJSON(w, r, status, envelope{Status: statusSuccess, Data: data})
}

func writePage(w http.ResponseWriter, r *http.Request, data any, page, limit, total int) {
	writeJSON(w, r, http.StatusOK, envelope{
		Status: statusSuccess,
		Data:   data,
		Meta:   newPageMeta(page, limit, total),
	})
}

// writeError maps err onto a status code. Internal failures are logged and
// reported only by their store identifier.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	body := &errorBody{Message: err.Error()}

	var se *repository.StoreError
	if errors.As(err, &se) {
		body.Identifier = se.ID
	}
	if status >= http.StatusInternalServerError {
		log := logger.FromContext(r.Context())
		log.Error().Err(err).Str("identifier", body.Identifier).Msg("request failed")
		if status == http.StatusInternalServerError {
			body.Message = "internal error"
		}
	}
	writeJSON(w, r, status, envelope{Status: statusFailed, Error: body})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errUnidentified):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotAuthenticated), errors.Is(err, domain.ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return domain.NewValidationError("body", "is not valid JSON: "+err.Error())
	}
	return nil
}

func parseTime(s string) *time.Time {
	if s == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t, err = time.Parse(domain.DateLayout, s)
		if err != nil {
			return nil
		}
	}
	return &t
}

func parseIntDefault(s string, def int) int {
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 1 {
		return def
	}
	return v
}

func pagination(r *http.Request) (int, int) {
	q := r.URL.Query()
	return parseIntDefault(q.Get("page"), 1), min(parseIntDefault(q.Get("limit"), defaultLimit), maxLimit)
}

// --- Health ---

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Receipts ---

func (h *Handlers) ListReceipts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pagination(r)
	filter := repository.ReceiptFilter{
		SenderName: q.Get("sender"),
		Code:       q.Get("code"),
		From:       parseTime(q.Get("from")),
		To:         parseTime(q.Get("to")),
		Page:       page,
		Limit:      limit,
	}
	if v := q.Get("associated"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, r, domain.NewValidationError("associated", "must be true or false"))
			return
		}
		filter.Associated = &b
	}

	receipts, total, err := h.recon.ListReceipts(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, r, receipts, page, limit, total)
}

func (h *Handlers) GetReceipt(w http.ResponseWriter, r *http.Request) {
	v, err := h.recon.GetReceipt(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, v)
}

type receiptRequest struct {
	SenderName       string           `json:"sender_name"`
	Amount           *decimal.Decimal `json:"amount"`
	Date             string           `json:"date"`
	ConfirmationCode string           `json:"confirmation"`
	Commission       decimal.Decimal  `json:"commission"`
	Memo             string           `json:"memo"`
}

func (req receiptRequest) receipt() (*domain.Receipt, error) {
	rec := &domain.Receipt{
		SenderName:       strings.TrimSpace(req.SenderName),
		ConfirmationCode: req.ConfirmationCode,
		Commission:       req.Commission,
		Memo:             req.Memo,
	}
	if req.Amount != nil {
		rec.Amount = decimal.NewNullDecimal(*req.Amount)
	}
	if req.Date != "" {
		d, err := domain.ParseDate(req.Date)
		if err != nil {
			return nil, domain.NewValidationError("date", "must be formatted as YYYY-MM-DD")
		}
		rec.Date = d
	}
	return rec, nil
}

func (h *Handlers) CreateReceipt(w http.ResponseWriter, r *http.Request) {
	var req receiptRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	rec, err := req.receipt()
	if err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.recon.CreateReceipt(r.Context(), callerFrom(r.Context()), rec)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, v)
}

func (h *Handlers) UpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var patch domain.ReceiptPatch
	if err := decodeBody(r, &patch); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.recon.UpdateReceipt(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), patch)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, v)
}

func (h *Handlers) DeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := h.recon.DeleteReceipt(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Stats ---

func (h *Handlers) GetStats(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	cadence, err := stats.ParseCadence(q.Get("period"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	ref := parseTime(q.Get("date"))
	if ref == nil {
		writeError(w, r, domain.NewValidationError("date", "is required as YYYY-MM-DD"))
		return
	}

	buckets, err := h.stats.Series(r.Context(), cadence, *ref, callerFrom(r.Context()).Scope())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, buckets)
}

func (h *Handlers) GetStatsSummary(w http.ResponseWriter, r *http.Request) {
	ref := time.Now().UTC()
	if s := r.URL.Query().Get("date"); s != "" {
		t := parseTime(s)
		if t == nil {
			writeError(w, r, domain.NewValidationError("date", "must be formatted as YYYY-MM-DD"))
			return
		}
		ref = *t
	}

	summary, err := h.stats.Summary(r.Context(), ref, callerFrom(r.Context()).Scope())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, summary)
}

// --- Confirmations ---

func (h *Handlers) ListConfirmations(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, limit := pagination(r)
	filter := repository.ConfirmationFilter{
		Owner: q.Get("user_id"),
		Code:  q.Get("code"),
		Page:  page,
		Limit: limit,
	}

	confs, total, err := h.recon.ListConfirmations(r.Context(), callerFrom(r.Context()), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writePage(w, r, confs, page, limit, total)
}

func (h *Handlers) GetConfirmation(w http.ResponseWriter, r *http.Request) {
	v, err := h.recon.GetConfirmation(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, v)
}

type confirmationRequest struct {
	Code string `json:"code"`
}

func (h *Handlers) CreateConfirmation(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.recon.CreateConfirmation(r.Context(), callerFrom(r.Context()), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusCreated, v)
}

func (h *Handlers) UpdateConfirmation(w http.ResponseWriter, r *http.Request) {
	var req confirmationRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	v, err := h.recon.UpdateConfirmation(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id"), req.Code)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, v)
}

func (h *Handlers) DeleteConfirmation(w http.ResponseWriter, r *http.Request) {
	if err := h.recon.DeleteConfirmation(r.Context(), callerFrom(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Ingestion ---

func (h *Handlers) IngestionStatus(w http.ResponseWriter, r *http.Request) {
	if h.poller == nil {
		writeData(w, r, http.StatusOK, ingestion.Status{Source: "none"})
		return
	}
	writeData(w, r, http.StatusOK, h.poller.Status())
}

// RunIngestion triggers a run outside the schedule, or joins the one in
// progress. The run is not tied to the request, so a disconnecting client
// does not abort it.
func (h *Handlers) RunIngestion(w http.ResponseWriter, r *http.Request) {
	if !callerFrom(r.Context()).IsAdmin() {
		writeError(w, r, fmt.Errorf("run ingestion: %w", domain.ErrForbidden))
		return
	}
	if h.poller == nil {
		writeError(w, r, fmt.Errorf("%w: no mail source configured", domain.ErrUpstreamUnavailable))
		return
	}

	res, err := h.poller.Poll(context.WithoutCancel(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeData(w, r, http.StatusOK, res)
}
