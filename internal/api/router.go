package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/receiptmatch/reconciler/internal/ingestion"
	"github.com/receiptmatch/reconciler/internal/reconciliation"
	"github.com/receiptmatch/reconciler/internal/stats"
)

func init() {
	// Amounts go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Deps are the services the handlers call. Poller is nil when no mail
// source is configured.
type Deps struct {
	Users          UserLookup
	Reconciliation *reconciliation.Service
	Stats          *stats.Engine
	Poller         *ingestion.Poller
}

// NewRouter creates the Chi router with all API routes mounted.
func NewRouter(deps Deps, log zerolog.Logger) http.Handler {
	h := &Handlers{
		recon:  deps.Reconciliation,
		stats:  deps.Stats,
		poller: deps.Poller,
	}

	r := chi.NewRouter()

	// Middleware.
	r.Use(middleware.RequestID)
	r.Use(requestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	r.Get("/health", h.Health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.SetHeader("Content-Type", "application/json"))
		r.Use(identify(deps.Users))

		// Receipts.
		r.Get("/receipts", h.ListReceipts)
		r.Post("/receipts", h.CreateReceipt)
		r.Get("/receipts/stats", h.GetStats)
		r.Get("/receipts/stats/summary", h.GetStatsSummary)
		r.Get("/receipts/{id}", h.GetReceipt)
		r.Patch("/receipts/{id}", h.UpdateReceipt)
		r.Delete("/receipts/{id}", h.DeleteReceipt)

		// Confirmations.
		r.Get("/confirmations", h.ListConfirmations)
		r.Post("/confirmations", h.CreateConfirmation)
		r.Get("/confirmations/{id}", h.GetConfirmation)
		r.Patch("/confirmations/{id}", h.UpdateConfirmation)
		r.Delete("/confirmations/{id}", h.DeleteConfirmation)

		// Ingestion.
		r.Get("/ingestion/status", h.IngestionStatus)
		r.Post("/ingestion/run", h.RunIngestion)
	})

	return r
}
