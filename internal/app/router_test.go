package app

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"merchantops/internal/config"
	"merchantops/internal/middleware"
	"merchantops/internal/model"
	"merchantops/internal/service"
	"merchantops/internal/testutil"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app      *App
	router   *gin.Engine
	tenantID uuid.UUID
	staff    string
	manager  string
	finance  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{
		JWTSecret:           "router-test-secret",
		CORSOrigins:         []string{"http://localhost:5173"},
		Currency:            "NGN",
		OTPTTL:              10 * time.Minute,
		StuckExecutionAfter: 15 * time.Minute,
		PermissionCacheTTL:  time.Minute,
	}
	a := New(cfg, testutil.NewDB(t), zerolog.Nop())
	ctx := context.Background()
	require.NoError(t, a.Roles.SeedDefaultRolesAndPermissions(ctx))

	env := &testEnv{app: a, router: a.Router(), tenantID: uuid.New()}
	member := func(role, name string) string {
		userID := uuid.New()
		_, err := a.Roles.AssignMember(ctx, env.tenantID, service.AssignMemberRequest{
			UserID: userID.String(), Role: role, DisplayName: name,
		})
		require.NoError(t, err)
		token, err := middleware.IssueToken([]byte(cfg.JWTSecret), userID, env.tenantID, name, time.Hour)
		require.NoError(t, err)
		return token
	}
	env.staff = member(service.RoleStaff, "Sam Staff")
	env.manager = member(service.RoleManager, "Mia Manager")
	env.finance = member(service.RoleFinance, "Fin Finance")
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  string          `json:"error"`
	Total  int64           `json:"total"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder, into any) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	if into != nil {
		require.NoError(t, json.Unmarshal(env.Data, into))
	}
	return env
}

func TestRouter_Health(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"OK"}`, w.Body.String())

	w = e.do(t, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "merchantops_")
}

func TestRouter_RequiresToken(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodGet, "/api/approvals", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRouter_RefundApprovalFlow(t *testing.T) {
	e := newTestEnv(t)
	db := e.app.DB
	testutil.CreateWallet(t, db, e.tenantID, 20000)
	order := testutil.CreateOrder(t, db, e.tenantID, 15000)

	w := e.do(t, http.MethodPost, "/api/approvals", e.staff, service.CreateApprovalDTO{
		ActionType: model.ActionRefundIssue,
		EntityType: "order",
		EntityID:   order.ID.String(),
		Payload:    json.RawMessage(`{"amount":15000}`),
		Reason:     "damaged on arrival",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created service.ApprovalResponse
	decode(t, w, &created)
	assert.Equal(t, model.ApprovalPending, created.Status)
	assert.Equal(t, "Sam Staff", created.RequestedByLabel)

	// staff holds neither approvals.decide nor refunds.approve
	w = e.do(t, http.MethodPost, "/api/approvals/"+created.ID+"/decision", e.staff, service.DecideApprovalDTO{Outcome: service.OutcomeApprove})
	assert.Equal(t, http.StatusForbidden, w.Code)

	// manager may decide but not approve refunds
	w = e.do(t, http.MethodPost, "/api/approvals/"+created.ID+"/decision", e.manager, service.DecideApprovalDTO{Outcome: service.OutcomeApprove})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = e.do(t, http.MethodPost, "/api/approvals/"+created.ID+"/decision", e.finance, service.DecideApprovalDTO{Outcome: service.OutcomeApprove, Reason: "ok"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var decided service.ApprovalResponse
	decode(t, w, &decided)
	assert.Equal(t, model.ApprovalApproved, decided.Status)
	assert.Equal(t, model.ExecutionSucceeded, decided.ExecutionStatus)

	w = e.do(t, http.MethodPost, "/api/approvals/"+created.ID+"/decision", e.finance, service.DecideApprovalDTO{Outcome: service.OutcomeReject})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = e.do(t, http.MethodGet, "/api/approvals/"+created.ID, e.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var detail service.ApprovalDetailResponse
	decode(t, w, &detail)
	require.Len(t, detail.Executions, 2)

	w = e.do(t, http.MethodGet, "/api/wallet", e.finance, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var summary service.WalletSummaryResponse
	decode(t, w, &summary)
	assert.Equal(t, int64(5000), summary.Balance)

	w = e.do(t, http.MethodGet, "/api/audit-logs/trail/"+created.CorrelationID, e.finance, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "approvals.executed")
}

func TestRouter_ListApprovals(t *testing.T) {
	e := newTestEnv(t)

	for i := 0; i < 3; i++ {
		w := e.do(t, http.MethodPost, "/api/approvals", e.staff, service.CreateApprovalDTO{
			ActionType: model.ActionCampaignSend,
			EntityType: "campaign",
			EntityID:   uuid.NewString(),
		})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	}

	w := e.do(t, http.MethodGet, "/api/approvals?status=PENDING&limit=2", e.staff, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var page []service.ApprovalResponse
	env := decode(t, w, &page)
	assert.Len(t, page, 2)
	assert.Equal(t, int64(3), env.Total)
}

func TestRouter_UnknownActionRejectedAtCreate(t *testing.T) {
	e := newTestEnv(t)

	w := e.do(t, http.MethodPost, "/api/approvals", e.staff, service.CreateApprovalDTO{
		ActionType: "payroll.run",
		EntityType: "payroll",
		EntityID:   "2026-10",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestRouter_RolesRequireManage(t *testing.T) {
	e := newTestEnv(t)

	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/members", e.staff, nil).Code)
	assert.Equal(t, http.StatusForbidden, e.do(t, http.MethodGet, "/api/roles", e.finance, nil).Code)
}
