package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/receiptmatch/reconciler/internal/config"
	"github.com/receiptmatch/reconciler/internal/domain"
	"github.com/receiptmatch/reconciler/internal/ingestion"
	"github.com/receiptmatch/reconciler/internal/logger"
	"github.com/receiptmatch/reconciler/internal/mail"
	"github.com/receiptmatch/reconciler/internal/reconciliation"
	"github.com/receiptmatch/reconciler/internal/repository"
	"github.com/receiptmatch/reconciler/internal/stats"
)

type testServer struct {
	handler  http.Handler
	receipts *repository.ReceiptRepo
	admin    *domain.User
	alice    *domain.User
	bob      *domain.User
}

func newTestServer(t *testing.T, poller func(*repository.ReceiptRepo) *ingestion.Poller) *testServer {
	t.Helper()
	db, err := repository.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	users := repository.NewUserRepo(db)
	receipts := repository.NewReceiptRepo(db)
	confs := repository.NewConfirmationRepo(db)

	s := &testServer{
		receipts: receipts,
		admin:    &domain.User{ID: "u-admin", Username: "admin", Name: "Admin", Email: "admin@example.com", Role: domain.RoleAdmin},
		alice:    &domain.User{ID: "u-alice", Username: "alice", Name: "Alice", Email: "alice@example.com"},
		bob:      &domain.User{ID: "u-bob", Username: "bob", Name: "Bob", Email: "bob@example.com"},
	}
	_, err = users.BulkInsert(context.Background(), []domain.User{*s.admin, *s.alice, *s.bob})
	require.NoError(t, err)

	deps := Deps{
		Users:          users,
		Reconciliation: reconciliation.NewService(receipts, confs, zerolog.Nop()),
		Stats:          stats.NewEngine(receipts, nil),
	}
	if poller != nil {
		deps.Poller = poller(receipts)
	}
	s.handler = NewRouter(deps, zerolog.Nop())
	return s
}

func (s *testServer) do(t *testing.T, method, path string, user *domain.User, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if user != nil {
		req.Header.Set(UserHeader, user.ID)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Meta   *pageMeta       `json:"meta"`
	Error  *errorBody      `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) response {
	t.Helper()
	var resp response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return resp
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/health", nil, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestIdentityRequired(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/receipts", nil, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, statusFailed, decode(t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/v1/receipts", &domain.User{ID: "ghost"}, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestConfirmationLifecycle(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/confirmations", s.alice, map[string]string{"code": "ABC123"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created domain.ConfirmationView
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.Equal(t, "ABC123", created.Code)
	assert.Equal(t, s.alice.ID, created.UserID)

	rec = s.do(t, http.MethodPost, "/api/v1/confirmations", s.bob, map[string]string{"code": "ABC123"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/confirmations", s.bob, map[string]string{"code": "bad code!"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/confirmations/"+created.ID, s.bob, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/confirmations/"+created.ID, s.alice, map[string]string{"code": "XYZ789"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/confirmations", s.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode(t, rec)
	require.NotNil(t, resp.Meta)
	assert.Equal(t, 1, resp.Meta.ItemCount)
	assert.Equal(t, defaultLimit, resp.Meta.Limit)

	rec = s.do(t, http.MethodDelete, "/api/v1/confirmations/"+created.ID, s.alice, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/confirmations/"+created.ID, s.alice, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestReceiptListScopesAssociation(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodPost, "/api/v1/confirmations", s.alice, map[string]string{"code": "ABC123"})
	require.Equal(t, http.StatusCreated, rec.Code)
	d := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.receipts.Insert(context.Background(), &domain.Receipt{
		ExternalID: "m1", ConfirmationCode: "ABC123", Date: domain.NewDate(d),
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(10)),
	}))

	associated := func(user *domain.User) *domain.ReceiptAssociation {
		rec := s.do(t, http.MethodGet, "/api/v1/receipts?code=ABC123", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var views []domain.ReceiptView
		require.NoError(t, json.Unmarshal(decode(t, rec).Data, &views))
		require.Len(t, views, 1)
		return views[0].Association
	}

	require.NotNil(t, associated(s.alice))
	assert.Equal(t, "alice", associated(s.admin).Owner.Username)
	assert.Nil(t, associated(s.bob))

	rec = s.do(t, http.MethodGet, "/api/v1/receipts?associated=maybe", s.bob, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReceiptAdminEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	body := map[string]any{"sender_name": "WALK IN", "amount": 25.5, "date": "2024-03-05", "commission": 10}

	rec := s.do(t, http.MethodPost, "/api/v1/receipts", s.alice, body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/receipts", s.admin, map[string]any{"date": "05/03/2024"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/receipts", s.admin, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID     string  `json:"id"`
		Amount float64 `json:"amount"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &created))
	assert.Equal(t, 25.5, created.Amount)

	rec = s.do(t, http.MethodPatch, "/api/v1/receipts/"+created.ID, s.admin, map[string]any{"commission": 150})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/v1/receipts/"+created.ID, s.admin, map[string]any{"memo": "fixed"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodDelete, "/api/v1/receipts/"+created.ID, s.admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/receipts/"+created.ID, s.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStatsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)
	today := time.Now().UTC()
	for i, amt := range []int64{100, 200} {
		d := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC).AddDate(0, 0, -i)
		require.NoError(t, s.receipts.Insert(context.Background(), &domain.Receipt{
			Amount:     decimal.NewNullDecimal(decimal.NewFromInt(amt)),
			Date:       domain.NewDate(d),
			Commission: decimal.NewFromInt(10),
		}))
	}

	rec := s.do(t, http.MethodGet, "/api/v1/receipts/stats/summary", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var summary struct {
		Daily  map[string]float64 `json:"daily"`
		Weekly map[string]float64 `json:"weekly"`
	}
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &summary))
	assert.Equal(t, 100.0, summary.Daily["total"])
	assert.Equal(t, 10.0, summary.Daily["profit"])
	assert.Equal(t, 300.0, summary.Weekly["total"])
	assert.Equal(t, 30.0, summary.Weekly["profit"])

	rec = s.do(t, http.MethodGet, "/api/v1/receipts/stats/summary", s.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary.Daily = nil
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &summary))
	_, hasProfit := summary.Daily["profit"]
	assert.False(t, hasProfit)

	rec = s.do(t, http.MethodGet, "/api/v1/receipts/stats?period=weekly&date="+today.Format(domain.DateLayout), s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var buckets []stats.Bucket
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &buckets))
	assert.Len(t, buckets, 2)

	rec = s.do(t, http.MethodGet, "/api/v1/receipts/stats?period=weekly", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/v1/receipts/stats?period=hourly&date=2024-01-01", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestIngestionWithoutSource(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/api/v1/ingestion/status", s.alice, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var st ingestion.Status
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &st))
	assert.Equal(t, "none", st.Source)

	rec = s.do(t, http.MethodPost, "/api/v1/ingestion/run", s.admin, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestIngestionRunFromMailbox(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.json")
	mailbox := `{"messages":[{"id":"m1","subject":"You received money with Zelle(R)",` +
		`"snippet":"&lt;https://www.wellsfargo.com&gt; JANE DOE sent you $12.00 Date: *03/05/2024* Confirmation: *RUN1*"}]}`
	require.NoError(t, os.WriteFile(path, []byte(mailbox), 0o600))

	s := newTestServer(t, func(receipts *repository.ReceiptRepo) *ingestion.Poller {
		cfg := config.PollConfig{Interval: time.Hour, SubjectFilter: config.DefaultSubjectFilter, PersistUnparseable: true}
		return ingestion.NewPoller(mail.NewFileSource(path), config.MailSourceFile, receipts, cfg, zerolog.Nop())
	})

	rec := s.do(t, http.MethodPost, "/api/v1/ingestion/run", s.alice, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/ingestion/run", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res ingestion.PollResult
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &res))
	assert.Equal(t, 1, res.Persisted)

	rec = s.do(t, http.MethodGet, "/api/v1/receipts?code=RUN1", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode(t, rec).Meta.ItemCount)

	rec = s.do(t, http.MethodGet, "/api/v1/ingestion/status", s.admin, nil)
	var st ingestion.Status
	require.NoError(t, json.Unmarshal(decode(t, rec).Data, &st))
	assert.True(t, st.Connected)
	require.NotNil(t, st.LastRun)
	assert.Equal(t, 1, st.LastRun.Persisted)
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.NewValidationError("x", "bad"), http.StatusBadRequest},
		{domain.ErrConflict, http.StatusConflict},
		{domain.ErrForbidden, http.StatusForbidden},
		{domain.ErrNotAuthenticated, http.StatusServiceUnavailable},
		{domain.ErrUpstreamUnavailable, http.StatusServiceUnavailable},
		{errUnidentified, http.StatusUnauthorized},
		{&repository.StoreError{ID: repository.ErrIDReceiptList, Op: "list", Err: io.ErrUnexpectedEOF}, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	writeError(rec, req, &repository.StoreError{ID: repository.ErrIDStatsWindows, Op: "sum", Err: io.ErrUnexpectedEOF})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decode(t, rec)
	assert.Equal(t, "internal error", resp.Error.Message)
	assert.Equal(t, repository.ErrIDStatsWindows, resp.Error.Identifier)
}

type userMap map[string]*domain.User

func (m userMap) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if u, ok := m[id]; ok {
		return u, nil
	}
	return nil, domain.ErrNotFound
}

func TestIdentifyTagsRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	users := userMap{"u1": {ID: "u1", Role: domain.RoleAdmin}}

	var caller domain.Caller
	h := identify(users)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		caller = callerFrom(r.Context())
		reqLog := logger.FromContext(r.Context())
		reqLog.Info().Msg("handled")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(UserHeader, "u1")
	req = req.WithContext(logger.WithContext(req.Context(), logger.NewWithWriter(&buf)))
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, caller.IsAdmin())
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "u1", entry["user_id"])
	assert.Equal(t, "ADMIN", entry["role"])
}
