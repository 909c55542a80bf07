// Package ingestion turns payment notifications from a mailbox into stored
// receipts on a fixed schedule.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/receiptmatch/reconciler/internal/config"
	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/mail"
	"github.com/receiptmatch/reconciler/internal/metrics"
	"github.com/receiptmatch/reconciler/internal/notification"
)

// ReceiptStore is the part of the receipt store the poller writes to.
type ReceiptStore interface {
	ExistingExternalIDs(ctx context.Context, ids []string) (map[string]bool, error)
	Insert(ctx context.Context, rec *domain.Receipt) error
}

// PollResult summarises one ingestion run.
type PollResult struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration_ns"`
	Candidates  int           `json:"candidates"`
	New         int           `json:"new"`
	Persisted   int           `json:"persisted"`
	Unparseable int           `json:"unparseable"`
	Failed      int           `json:"failed"`
}

// Status is the poller's externally visible state.
type Status struct {
	Source    string      `json:"source"`
	Connected bool        `json:"connected"`
	Running   bool        `json:"running"`
	Interval  string      `json:"interval"`
	LastRunAt *time.Time  `json:"last_run_at,omitempty"`
	LastRun   *PollResult `json:"last_run,omitempty"`
	LastError string      `json:"last_error,omitempty"`
}

// connector is implemented by sources that can tell whether they hold
// credentials without a network call.
type connector interface {
	Connected() bool
}

const pollKey = "poll"

// Poller fetches candidate messages, drops the ones already stored, parses
// the rest and persists them as receipts. At most one run is in flight at
// a time; callers arriving during a run share its result.
type Poller struct {
	source     mail.Source
	sourceName string
	receipts   ReceiptStore
	cfg        config.PollConfig
	log        zerolog.Logger

	group singleflight.Group

	mu        sync.Mutex
	running   bool
	lastRunAt *time.Time
	lastRun   *PollResult
	lastErr   error
}

func NewPoller(source mail.Source, sourceName string, receipts ReceiptStore, cfg config.PollConfig, log zerolog.Logger) *Poller {
	return &Poller{
		source:     source,
		sourceName: sourceName,
		receipts:   receipts,
		cfg:        cfg,
		log:        log,
	}
}

// Run polls immediately and then on every interval tick until ctx is done.
// Failed runs are logged and retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	p.log.Info().
		Str("source", p.sourceName).
		Dur("interval", p.cfg.Interval).
		Msg("poller started")

	p.runLogged(ctx)

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			p.log.Info().Msg("poller stopped")
			return
		case <-ticker.C:
			p.runLogged(ctx)
		}
	}
}

func (p *Poller) runLogged(ctx context.Context) {
	res, err := p.Poll(ctx)
	switch {
	case errors.Is(err, context.Canceled):
	case errors.Is(err, domain.ErrNotAuthenticated):
		p.log.Warn().Err(err).Msg("mailbox not authenticated, skipping run")
	case err != nil:
		p.log.Error().Err(err).Msg("ingestion run failed")
	default:
		p.log.Info().
			Int("candidates", res.Candidates).
			Int("new", res.New).
			Int("persisted", res.Persisted).
			Int("unparseable", res.Unparseable).
			Int("failed", res.Failed).
			Dur("duration", res.Duration).
			Msg("ingestion run complete")
	}
}

// CheckConnection lists candidates once without persisting anything. It is
// used at startup to fail fast on missing credentials.
func (p *Poller) CheckConnection(ctx context.Context) error {
	_, err := p.source.ListCandidateMessages(ctx, p.cfg.SubjectFilter)
	return err
}

// Poll performs one ingestion run, or joins the run already in progress.
func (p *Poller) Poll(ctx context.Context) (*PollResult, error) {
	v, err, shared := p.group.Do(pollKey, func() (any, error) {
		return p.poll(ctx)
	})
	if shared {
		p.log.Debug().Msg("joined in-flight ingestion run")
	}
	if err != nil {
		return nil, err
	}
	return v.(*PollResult), nil
}

func (p *Poller) poll(ctx context.Context) (*PollResult, error) {
	p.setRunning(true)
	res := &PollResult{StartedAt: time.Now().UTC()}

	err := p.ingest(ctx, res)
	res.Duration = time.Since(res.StartedAt)
	p.finish(res, err)

	if err != nil {
		return nil, err
	}
	return res, nil
}

func (p *Poller) ingest(ctx context.Context, res *PollResult) error {
	ids, err := p.source.ListCandidateMessages(ctx, p.cfg.SubjectFilter)
	if err != nil {
		return fmt.Errorf("list candidates: %w", err)
	}
	ids = dedupe(ids)
	res.Candidates = len(ids)
	if len(ids) == 0 {
		return nil
	}

	known, err := p.receipts.ExistingExternalIDs(ctx, ids)
	if err != nil {
		return fmt.Errorf("lookup known messages: %w", err)
	}

	for _, id := range ids {
		if known[id] {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		res.New++

		if err := p.ingestOne(ctx, id, res); err != nil {
			// Lost credentials end the run; anything else only costs
			// this message, which stays unknown and is retried next run.
			if errors.Is(err, domain.ErrNotAuthenticated) || errors.Is(err, context.Canceled) {
				return err
			}
			res.Failed++
			metrics.MessagesTotal.WithLabelValues(metrics.ResultFailed).Inc()
			p.log.Warn().Err(err).Str("message_id", id).Msg("failed to ingest message")
		}
	}
	return nil
}

func (p *Poller) ingestOne(ctx context.Context, id string, res *PollResult) error {
	msg, err := p.source.GetMessageContent(ctx, id)
	if err != nil {
		return fmt.Errorf("get message: %w", err)
	}

	n := notification.Parse(*msg)
	if n.Empty() {
		res.Unparseable++
		metrics.MessagesTotal.WithLabelValues(metrics.ResultUnparseable).Inc()
		if !p.cfg.PersistUnparseable {
			p.log.Debug().Str("message_id", id).Msg("unparseable message not persisted")
			return nil
		}
		p.log.Info().Str("message_id", id).Msg("persisting unparseable message as empty receipt")
	}

	rec := &domain.Receipt{
		ExternalID:       id,
		SenderName:       n.SenderName,
		Amount:           n.Amount,
		ConfirmationCode: n.ConfirmationCode,
		Memo:             n.Memo,
	}
	if n.Date != nil {
		rec.Date = domain.NewDate(*n.Date)
	}
	if err := p.receipts.Insert(ctx, rec); err != nil {
		if errors.Is(err, domain.ErrConflict) {
			metrics.MessagesTotal.WithLabelValues(metrics.ResultSkipped).Inc()
			return nil
		}
		return fmt.Errorf("store receipt: %w", err)
	}

	res.Persisted++
	metrics.MessagesTotal.WithLabelValues(metrics.ResultPersisted).Inc()
	p.log.Debug().
		Str("message_id", id).
		Str("receipt_id", rec.ID).
		Str("code", rec.ConfirmationCode).
		Bool("reconcilable", rec.Reconcilable()).
		Msg("receipt stored")
	return nil
}

func (p *Poller) setRunning(v bool) {
	p.mu.Lock()
	p.running = v
	p.mu.Unlock()
}

func (p *Poller) finish(res *PollResult, err error) {
	now := time.Now().UTC()

	outcome := metrics.OutcomeOK
	switch {
	case errors.Is(err, domain.ErrNotAuthenticated):
		outcome = metrics.OutcomeUnauthenticated
	case err != nil:
		outcome = metrics.OutcomeFailed
	}
	metrics.PollRunsTotal.WithLabelValues(outcome).Inc()
	metrics.PollDuration.Observe(res.Duration.Seconds())
	metrics.LastPollTimestamp.Set(float64(now.Unix()))

	p.mu.Lock()
	defer p.mu.Unlock()
	p.running = false
	p.lastRunAt = &now
	p.lastErr = err
	if err == nil {
		p.lastRun = res
	}
}

// Status reports the source connection and the outcome of the last run.
func (p *Poller) Status() Status {
	connected := true
	if c, ok := p.source.(connector); ok {
		connected = c.Connected()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Source:    p.sourceName,
		Connected: connected,
		Running:   p.running,
		Interval:  p.cfg.Interval.String(),
		LastRunAt: p.lastRunAt,
		LastRun:   p.lastRun,
	}
	if p.lastErr != nil {
		st.LastError = p.lastErr.Error()
		if errors.Is(p.lastErr, domain.ErrNotAuthenticated) {
			st.Connected = false
		}
	}
	return st
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
