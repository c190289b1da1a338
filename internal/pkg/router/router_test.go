package router

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apiv1 "github.com/ManuelReschke/tiergate/internal/api/v1"
	"github.com/ManuelReschke/tiergate/internal/pkg/billing"
	"github.com/ManuelReschke/tiergate/internal/pkg/commission"
	"github.com/ManuelReschke/tiergate/internal/pkg/config"
	"github.com/ManuelReschke/tiergate/internal/pkg/database/dbtest"
	"github.com/ManuelReschke/tiergate/internal/pkg/entitlements"
	"github.com/ManuelReschke/tiergate/internal/pkg/ratelimit"
	"github.com/ManuelReschke/tiergate/internal/pkg/usercontext"
)

const (
	testIAPToken      = "iap-router-token"
	testAdminPassword = "s3cret"
)

func newTestApp(t *testing.T, cfg *config.Config) *fiber.App {
	t.Helper()
	db := dbtest.Open(t)
	repo := billing.NewRepository(db)
	engine := commission.NewEngine(repo.Commissions())
	reconciler := billing.NewReconciler(repo, engine)
	iapTiers := entitlements.NewTierTable(map[string]entitlements.Tier{"pro_access": entitlements.TierPro})

	app := fiber.New()
	InstallRouter(app, Deps{
		Config:     cfg,
		DB:         db,
		Repo:       repo,
		Reconciler: reconciler,
		Commission: engine,
		Processor: billing.NewProcessor(
			billing.NewVerifier("whsec_router", testIAPToken),
			billing.NewNormalizer(nil, iapTiers),
			reconciler,
			repo,
		),
		Resolver: entitlements.NewResolver(repo, nil, nil),
		Limiter:  ratelimit.NewLimiter(ratelimit.NewMemoryStore()),
		OpenAPI:  apiv1.Document(),
	})
	return app
}

func adminConfig() *config.Config {
	return &config.Config{AdminUser: "admin", AdminPassword: testAdminPassword}
}

func do(t *testing.T, app *fiber.App, req *http.Request) (int, string) {
	t.Helper()
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func adminRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	req.Header.Set(fiber.HeaderAuthorization, "Basic "+base64.StdEncoding.EncodeToString([]byte("admin:"+testAdminPassword)))
	return req
}

func iapDelivery(eventID string, token string) *http.Request {
	payload := fmt.Sprintf(`{"api_version":"1.0","event":{
		"id":%q,"type":"INITIAL_PURCHASE","environment":"PRODUCTION",
		"app_user_id":"42","original_app_user_id":"42",
		"entitlement_ids":["pro_access"],"product_id":"com.example.pro.monthly",
		"purchased_at_ms":1773482400000,"expiration_at_ms":4102444800000,
		"event_timestamp_ms":1773482401000,
		"transaction_id":"2000000001","original_transaction_id":"2000000001",
		"currency":"USD","price":12.99,"price_in_purchased_currency":12.99,"store":"APP_STORE"}}`, eventID)
	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/iap", strings.NewReader(payload))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(fiber.HeaderAuthorization, "Bearer "+token)
	}
	return req
}

func entitlementOf(t *testing.T, app *fiber.App, userID string) map[string]interface{} {
	t.Helper()
	req := httptest.NewRequest(fiber.MethodGet, "/api/v1/entitlement", nil)
	req.Header.Set(usercontext.HeaderUserID, userID)
	status, body := do(t, app, req)
	require.Equal(t, fiber.StatusOK, status, body)

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestHealthz(t *testing.T) {
	app := newTestApp(t, adminConfig())

	status, body := do(t, app, httptest.NewRequest(fiber.MethodGet, "/healthz", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"database":"ok"`)
	assert.Contains(t, body, `"cache":"disabled"`)
}

func TestIAPWebhookUnlocksPaidResource(t *testing.T) {
	app := newTestApp(t, adminConfig())

	export := func(userID string) int {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/access/export", nil)
		if userID != "" {
			req.Header.Set(usercontext.HeaderUserID, userID)
		}
		status, _ := do(t, app, req)
		return status
	}
	assert.Equal(t, fiber.StatusPaymentRequired, export("42"))

	status, body := do(t, app, iapDelivery("evt-router-1", testIAPToken))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.JSONEq(t, `{"received":true}`, body)

	assert.Equal(t, "pro", entitlementOf(t, app, "42")["tier"])
	assert.Equal(t, fiber.StatusOK, export("42"))
	assert.Equal(t, fiber.StatusPaymentRequired, export(""))

	status, body = do(t, app, iapDelivery("evt-router-1", testIAPToken))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, `"duplicate":true`)
}

func TestIAPWebhookRejectsWrongToken(t *testing.T) {
	app := newTestApp(t, adminConfig())

	status, body := do(t, app, iapDelivery("evt-router-2", "not-the-token"))
	assert.Equal(t, fiber.StatusUnauthorized, status)
	assert.Contains(t, body, "invalid_signature")

	assert.Equal(t, "free", entitlementOf(t, app, "42")["tier"])
}

func TestCardWebhookWithoutSignature(t *testing.T) {
	app := newTestApp(t, adminConfig())

	req := httptest.NewRequest(fiber.MethodPost, "/webhooks/card", strings.NewReader(`{"id":"evt_1"}`))
	status, _ := do(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)
}

func TestAdminRoutesRequireCredentials(t *testing.T) {
	app := newTestApp(t, adminConfig())

	req := httptest.NewRequest(fiber.MethodPost, "/admin/users/7/rebalance", nil)
	status, _ := do(t, app, req)
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := do(t, app, adminRequest(fiber.MethodPost, "/admin/users/7/rebalance", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.JSONEq(t, `{"user_id":7,"tier":"free"}`, body)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	app := newTestApp(t, &config.Config{AdminUser: "admin"})

	status, body := do(t, app, adminRequest(fiber.MethodPost, "/admin/users/7/rebalance", ""))
	assert.Equal(t, fiber.StatusForbidden, status)
	assert.Contains(t, body, "admin_disabled")
}

func TestManualGrantAndRevoke(t *testing.T) {
	app := newTestApp(t, adminConfig())

	status, body := do(t, app, adminRequest(fiber.MethodPost, "/admin/subscriptions/manual", `{"user_id":9,"tier":"elite"}`))
	require.Equal(t, fiber.StatusCreated, status, body)
	assert.Equal(t, "elite", entitlementOf(t, app, "9")["tier"])

	status, body = do(t, app, adminRequest(fiber.MethodPost, "/admin/subscriptions/manual", `{"user_id":9,"tier":"platinum"}`))
	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Contains(t, body, "validation_failed")

	status, body = do(t, app, adminRequest(fiber.MethodPost, "/admin/subscriptions/manual/9/revoke", ""))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.JSONEq(t, `{"revoked":1,"tier":"free"}`, body)
	assert.Equal(t, "free", entitlementOf(t, app, "9")["tier"])
}

func TestAffiliateEnrollmentAndReferral(t *testing.T) {
	app := newTestApp(t, adminConfig())

	status, body := do(t, app, adminRequest(fiber.MethodPost, "/admin/affiliates", `{"user_id":100}`))
	require.Equal(t, fiber.StatusCreated, status, body)

	var aff struct {
		ReferralCode string `json:"referral_code"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &aff))
	require.NotEmpty(t, aff.ReferralCode)

	claim := func(userID string) (int, string) {
		req := httptest.NewRequest(fiber.MethodPost, "/api/v1/referrals", strings.NewReader(`{"code":"`+aff.ReferralCode+`"}`))
		req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
		if userID != "" {
			req.Header.Set(usercontext.HeaderUserID, userID)
		}
		return do(t, app, req)
	}

	status, _ = claim("")
	assert.Equal(t, fiber.StatusUnauthorized, status)
	status, _ = claim("100")
	assert.Equal(t, fiber.StatusUnprocessableEntity, status)
	status, _ = claim("42")
	assert.Equal(t, fiber.StatusCreated, status)
	status, _ = claim("42")
	assert.Equal(t, fiber.StatusConflict, status)

	status, body = do(t, app, httptest.NewRequest(fiber.MethodGet, "/api/v1/affiliates/100/earnings", nil))
	require.Equal(t, fiber.StatusOK, status, body)
	assert.Contains(t, body, `"currency":"USD"`)

	status, _ = do(t, app, httptest.NewRequest(fiber.MethodGet, "/api/v1/affiliates/101/earnings", nil))
	assert.Equal(t, fiber.StatusNotFound, status)
}

func TestMetricsBehindAdminAuth(t *testing.T) {
	app := newTestApp(t, adminConfig())

	status, _ := do(t, app, httptest.NewRequest(fiber.MethodGet, "/metrics", nil))
	assert.Equal(t, fiber.StatusUnauthorized, status)

	status, body := do(t, app, adminRequest(fiber.MethodGet, "/metrics", ""))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "go_goroutines")
}

func TestOpenAPIDocumentServed(t *testing.T) {
	app := newTestApp(t, adminConfig())

	status, body := do(t, app, httptest.NewRequest(fiber.MethodGet, "/docs/api/openapi.yml", nil))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Contains(t, body, "title: tiergate API")
}
