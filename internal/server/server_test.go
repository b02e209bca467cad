package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	apikeydomain "github.com/smallbiznis/orderguard/internal/apikey/domain"
	"github.com/smallbiznis/orderguard/internal/authorization"
	guarddomain "github.com/smallbiznis/orderguard/internal/guard/domain"
	idempotencydomain "github.com/smallbiznis/orderguard/internal/idempotency/domain"
	platformdomain "github.com/smallbiznis/orderguard/internal/platform/domain"
	queuedomain "github.com/smallbiznis/orderguard/internal/queue/domain"
	"github.com/smallbiznis/orderguard/internal/ratelimit"
	"github.com/smallbiznis/orderguard/internal/scheduler"
	settingsdomain "github.com/smallbiznis/orderguard/internal/settings/domain"
	statsdomain "github.com/smallbiznis/orderguard/internal/stats/domain"
	"github.com/smallbiznis/orderguard/internal/verification"
	"github.com/smallbiznis/orderguard/internal/webhook"
	"github.com/smallbiznis/orderguard/pkg/db/dbtest"
	"go.uber.org/zap"
)

const (
	schedulerKey = "sched-raw-key"
	dashboardKey = "dash-raw-key"
)

type fakeAPIKeys struct {
	keys    map[string]*apikeydomain.APIKey
	created []apikeydomain.CreateRequest
	revoked []string
}

func newFakeAPIKeys() *fakeAPIKeys {
	return &fakeAPIKeys{keys: map[string]*apikeydomain.APIKey{
		schedulerKey: {KeyID: "key_SCHED", Role: apikeydomain.RoleScheduler, IsActive: true},
		dashboardKey: {KeyID: "key_DASH", Role: apikeydomain.RoleDashboard, IsActive: true},
	}}
}

func (f *fakeAPIKeys) Seed(context.Context, []string) (int, error) { return 0, nil }

func (f *fakeAPIKeys) Authenticate(_ context.Context, raw string) (*apikeydomain.APIKey, error) {
	key, ok := f.keys[raw]
	if !ok {
		return nil, apikeydomain.ErrUnauthorized
	}
	return key, nil
}

func (f *fakeAPIKeys) List(context.Context) ([]apikeydomain.Response, error) {
	return []apikeydomain.Response{{KeyID: "key_DASH", Role: apikeydomain.RoleDashboard, IsActive: true}}, nil
}

func (f *fakeAPIKeys) Create(_ context.Context, req apikeydomain.CreateRequest) (*apikeydomain.SecretResponse, error) {
	if !apikeydomain.ValidRole(req.Role) {
		return nil, apikeydomain.ErrInvalidRole
	}
	f.created = append(f.created, req)
	return &apikeydomain.SecretResponse{KeyID: "key_NEW", APIKey: "og_live_key_secret"}, nil
}

func (f *fakeAPIKeys) Revoke(_ context.Context, keyID string) error {
	f.revoked = append(f.revoked, keyID)
	return nil
}

type fakeIngester struct {
	last   webhook.Request
	result *webhook.Result
	err    error
}

func (f *fakeIngester) Ingest(_ context.Context, req webhook.Request) (*webhook.Result, error) {
	f.last = req
	return f.result, f.err
}

type fakeDrainer struct {
	merchants []string
}

func (f *fakeDrainer) Process(_ context.Context, merchantID string) (queuedomain.BatchResult, error) {
	f.merchants = append(f.merchants, merchantID)
	return queuedomain.BatchResult{MerchantID: merchantID, Claimed: 2, Completed: 2}, nil
}

type fakeSweeper struct {
	calls int
}

func (f *fakeSweeper) Sweep(context.Context) (scheduler.SweepResult, error) {
	f.calls++
	return scheduler.SweepResult{Merchants: 3, Claimed: 5, Completed: 5}, nil
}

type fakeGuard struct {
	submitted []guarddomain.VerificationRequest
	policies  []settingsdomain.RiskSettings
	actions   []guarddomain.ActionRequest
	submitErr error
	actionErr error
}

func (f *fakeGuard) Flag(context.Context, guarddomain.FlagRequest) (*guarddomain.Order, bool, error) {
	return nil, false, nil
}

func (f *fakeGuard) Get(_ context.Context, merchantID string, orderID int64) (*guarddomain.Order, error) {
	if orderID == 404 {
		return nil, guarddomain.ErrOrderNotFound
	}
	return &guarddomain.Order{MerchantID: merchantID, OrderID: orderID, Status: guarddomain.StatusPending}, nil
}

func (f *fakeGuard) List(_ context.Context, filter guarddomain.ListFilter) (*guarddomain.ListResult, error) {
	return &guarddomain.ListResult{Orders: []guarddomain.Order{{MerchantID: filter.MerchantID, OrderID: 1, Status: filter.Status}}}, nil
}

func (f *fakeGuard) SubmitVerification(_ context.Context, req guarddomain.VerificationRequest, policy settingsdomain.RiskSettings) (*guarddomain.VerificationResult, error) {
	f.submitted = append(f.submitted, req)
	f.policies = append(f.policies, policy)
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &guarddomain.VerificationResult{Order: &guarddomain.Order{MerchantID: req.MerchantID, OrderID: req.OrderID, Status: guarddomain.StatusVerified}}, nil
}

func (f *fakeGuard) Capture(_ context.Context, req guarddomain.ActionRequest) (*guarddomain.ActionResult, error) {
	return f.action(req, guarddomain.StatusCaptured)
}

func (f *fakeGuard) Cancel(_ context.Context, req guarddomain.ActionRequest) (*guarddomain.ActionResult, error) {
	return f.action(req, guarddomain.StatusCancelled)
}

func (f *fakeGuard) action(req guarddomain.ActionRequest, status guarddomain.Status) (*guarddomain.ActionResult, error) {
	f.actions = append(f.actions, req)
	if f.actionErr != nil {
		return nil, f.actionErr
	}
	return &guarddomain.ActionResult{Order: &guarddomain.Order{MerchantID: req.MerchantID, OrderID: req.OrderID, Status: status}}, nil
}

func (f *fakeGuard) MarkPaid(context.Context, string, int64) (*guarddomain.Order, error) {
	return nil, nil
}

func (f *fakeGuard) MarkCancelledExternally(context.Context, string, platformdomain.Order) (*guarddomain.Order, error) {
	return nil, nil
}

type fakeEmailer struct {
	err error
}

func (f *fakeEmailer) SendVerificationEmail(_ context.Context, merchantID string, orderID int64) (*guarddomain.Order, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &guarddomain.Order{MerchantID: merchantID, OrderID: orderID, EmailCount: 2}, nil
}

type fakeCredentials struct {
	claims *verification.Claims
	err    error
}

func (f *fakeCredentials) Parse(raw string) (*verification.Claims, error) {
	if f.err != nil {
		return nil, f.err
	}
	if raw != "good-token" {
		return nil, verification.ErrInvalidToken
	}
	return f.claims, nil
}

type fakeLimiter struct {
	result   *ratelimit.Allowance
	subjects []string
}

func (f *fakeLimiter) Enabled() bool { return true }

func (f *fakeLimiter) Allow(_ context.Context, subject string) (*ratelimit.Allowance, error) {
	f.subjects = append(f.subjects, subject)
	return f.result, nil
}

type fakeSettings struct {
	updates []settingsdomain.UpdateRequest
}

func (f *fakeSettings) Get(_ context.Context, merchantID string) (settingsdomain.RiskSettings, error) {
	return settingsdomain.Defaults(merchantID), nil
}

func (f *fakeSettings) Update(_ context.Context, merchantID string, req settingsdomain.UpdateRequest) (settingsdomain.RiskSettings, error) {
	f.updates = append(f.updates, req)
	out := settingsdomain.Defaults(merchantID)
	if req.FlagHighRisk != nil {
		out.FlagHighRisk = *req.FlagHighRisk
	}
	return out, nil
}

type fakeStats struct{}

func (fakeStats) Get(_ context.Context, merchantID string) (statsdomain.RiskStats, error) {
	return statsdomain.RiskStats{MerchantID: merchantID, OrdersOnHoldCount: 4, RiskPreventedAmount: 120.5}, nil
}

type testServer struct {
	router   *gin.Engine
	apiKeys  *fakeAPIKeys
	webhooks *fakeIngester
	drainer  *fakeDrainer
	sweeper  *fakeSweeper
	guard    *fakeGuard
	emails   *fakeEmailer
	creds    *fakeCredentials
	settings *fakeSettings
}

func newTestServer(t *testing.T, limiter SubmissionLimiter) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	enforcer, err := authorization.NewEnforcer(dbtest.Open(t))
	if err != nil {
		t.Fatalf("enforcer: %v", err)
	}

	ts := &testServer{
		router:   gin.New(),
		apiKeys:  newFakeAPIKeys(),
		webhooks: &fakeIngester{result: &webhook.Result{Decision: idempotencydomain.DecisionAdmitted, QueueItemID: "1"}},
		drainer:  &fakeDrainer{},
		sweeper:  &fakeSweeper{},
		guard:    &fakeGuard{},
		emails:   &fakeEmailer{},
		creds: &fakeCredentials{claims: &verification.Claims{
			MerchantID: "shop-a.example.com",
			OrderID:    42,
			Contact:    "buyer@example.com",
		}},
		settings: &fakeSettings{},
	}
	ts.router.Use(ErrorHandlingMiddleware())

	NewServer(ServerParams{
		Gin:         ts.router,
		Log:         zap.NewNop(),
		APIKeySvc:   ts.apiKeys,
		AuthzSvc:    authorization.NewService(authorization.Params{Log: zap.NewNop(), Enforcer: enforcer}),
		Webhooks:    ts.webhooks,
		Drainer:     ts.drainer,
		Sweeper:     ts.sweeper,
		GuardSvc:    ts.guard,
		Emails:      ts.emails,
		Credentials: ts.creds,
		Limiter:     limiter,
		SettingsSvc: ts.settings,
		StatsSvc:    fakeStats{},
	})
	return ts
}

func (ts *testServer) do(method, path, apiKey string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp := httptest.NewRecorder()
	ts.router.ServeHTTP(resp, req)
	return resp
}

func decodeError(t *testing.T, resp *httptest.ResponseRecorder) errorPayload {
	t.Helper()
	var out errorResponse
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode error body %q: %v", resp.Body.String(), err)
	}
	return out.Error
}

func TestOperatorRoutesRequireAPIKey(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/v1/queue/sweep", "", nil, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", resp.Code)
	}

	resp = ts.do(http.MethodPost, "/v1/queue/sweep", "not-a-key", nil, nil)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401 for unknown key, got %d", resp.Code)
	}
	if ts.sweeper.calls != 0 {
		t.Fatal("expected sweep not to run")
	}
}

func TestSchedulerRoleIsLimitedToQueue(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/v1/queue/sweep", schedulerKey, nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", resp.Code, resp.Body.String())
	}
	if ts.sweeper.calls != 1 {
		t.Fatalf("expected one sweep, got %d", ts.sweeper.calls)
	}

	resp = ts.do(http.MethodPost, "/v1/merchants/shop-a/orders/7/capture", schedulerKey, nil, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
	if len(ts.guard.actions) != 0 {
		t.Fatal("expected capture not to reach the guard service")
	}
}

func TestDashboardRoleCannotDrainQueues(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/v1/queue/process/shop-a", dashboardKey, nil, nil)
	if resp.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", resp.Code)
	}
	if len(ts.drainer.merchants) != 0 {
		t.Fatal("expected no drain")
	}
}

func TestProcessMerchantQueue(t *testing.T) {
	ts := newTestServer(t, nil)

	resp := ts.do(http.MethodPost, "/v1/queue/process/Shop-A", schedulerKey, nil, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", resp.Code)
	}
	if len(ts.drainer.merchants) != 1 || ts.drainer.merchants[0] != "shop-a" {
		t.Fatalf("expected drain of shop-a, got %v", ts.drainer.merchants)
	}

	var body struct {
		Data processResponse `json:"data"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Data.Claimed != 2 || body.Data.Completed != 2 {
		t.Fatalf("unexpected batch result %+v", body.Data)
	}
}
