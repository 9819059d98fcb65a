package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rail-gateway/config"
	"rail-gateway/core"
	"rail-gateway/railway"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// upstreamLog 记录上游收到的请求路径
type upstreamLog struct {
	mu    sync.Mutex
	paths []string
}

func (u *upstreamLog) add(p string) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.paths = append(u.paths, p)
}

func (u *upstreamLog) all() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return append([]string(nil), u.paths...)
}

// newTestGateway 上游按 Key 返回：good 成功，其余 Key 报额度用尽
func newTestGateway(t *testing.T, keys []string, limiter *IPRateLimiter, adminToken string) (*gateway, *upstreamLog) {
	t.Helper()
	log := &upstreamLog{}
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		log.add(r.URL.RequestURI())
		w.Header().Set("Content-Type", "application/json")
		if r.Header.Get(core.HeaderAPIKey) == "good" {
			w.Write([]byte(`{"status":true,"data":{"train_number":"12951"}}`))
			return
		}
		w.Write([]byte(`{"message":"You have exceeded the DAILY quota for Requests on your current plan"}`))
	}))
	t.Cleanup(upstream.Close)

	rotator := core.NewKeyRotator(keys)
	client := core.NewRotatingClient(rotator, core.WithHTTPClient(upstream.Client()))
	return &gateway{
		service:    railway.NewService(client, upstream.URL, upstream.URL),
		rotator:    rotator,
		logger:     quietLogger(),
		limiter:    limiter,
		adminToken: adminToken,
	}, log
}

func serve(engine *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func TestSearchTrainSuccess(t *testing.T) {
	g, paths := newTestGateway(t, []string{"spent", "good"}, nil, "")
	engine := newEngine(g)

	w := serve(engine, httptest.NewRequest("GET", "/api/v1/trains/search?query=12951", nil))
	require.Equal(t, 200, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["success"])
	assert.Equal(t, map[string]any{"status": true, "data": map[string]any{"train_number": "12951"}}, body["data"])

	assert.Equal(t, []string{"/api/v1/searchTrain?query=12951", "/api/v1/searchTrain?query=12951"}, paths.all())
	assert.Equal(t, 1, g.rotator.Cursor(), "cursor stays on the working key")
}

func TestAllKeysExhaustedReturns502(t *testing.T) {
	g, paths := newTestGateway(t, []string{"a", "b", "c"}, nil, "")
	engine := newEngine(g)

	w := serve(engine, httptest.NewRequest("GET", "/api/v1/pnr/8524877384", nil))
	assert.Equal(t, 502, w.Code)
	assert.JSONEq(t, `{"success":false,"data":null}`, w.Body.String())
	assert.Len(t, paths.all(), 3)
	assert.Equal(t, "/getPNRStatus/8524877384", paths.all()[0])
}

func TestEmptyPoolReturns502WithoutUpstreamCall(t *testing.T) {
	g, paths := newTestGateway(t, nil, nil, "")
	engine := newEngine(g)

	w := serve(engine, httptest.NewRequest("GET", "/api/v1/stations/ndls/trains", nil))
	assert.Equal(t, 502, w.Code)
	assert.Empty(t, paths.all())
}

func TestValidationErrorsReturn400(t *testing.T) {
	g, paths := newTestGateway(t, []string{"good"}, nil, "")
	engine := newEngine(g)

	for _, target := range []string{
		"/api/v1/pnr/123",
		"/api/v1/trains/search",
		"/api/v1/trains/12951/live?startDay=abc",
		"/api/v1/trains/12951/live?startDay=9",
		"/api/v1/stations/ndls/live?hours=5",
		"/api/v1/fare?trainNo=19038&from=ST",
		"/api/v1/seats?trainNo=19038&from=ST&to=BVI",
		"/api/v1/seats?trainNo=19038&from=ST&to=BVI&class=4A",
	} {
		t.Run(target, func(t *testing.T) {
			w := serve(engine, httptest.NewRequest("GET", target, nil))
			assert.Equal(t, 400, w.Code)
			assert.Contains(t, w.Body.String(), "invalid_request_error")
		})
	}
	assert.Empty(t, paths.all(), "invalid requests never reach the upstream")
}

func TestRoutesForwardQueryParameters(t *testing.T) {
	tests := []struct {
		target   string
		expected string
	}{
		{"/api/v1/trains/12951/live?startDay=2", "/api/v1/liveTrainStatus?startDay=2&trainNo=12951"},
		{"/api/v1/stations/bct/live", "/api/v3/getLiveStation?fromStationCode=BCT&hours=6"},
		{"/api/v1/stations/bct/live?to=ndls&hours=2", "/api/v3/getLiveStation?fromStationCode=BCT&hours=2&toStationCode=NDLS"},
		{"/api/v1/fare?trainNo=19038&from=st&to=bvi", "/api/v2/getFare?fromStationCode=ST&toStationCode=BVI&trainNo=19038"},
		{"/api/v1/seats?trainNo=19038&from=st&to=bvi&class=sl", "/api/v2/checkSeatAvailability?classType=SL&fromStationCode=ST&quota=GN&toStationCode=BVI&trainNo=19038"},
	}

	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			g, paths := newTestGateway(t, []string{"good"}, nil, "")
			w := serve(newEngine(g), httptest.NewRequest("GET", tt.target, nil))
			assert.Equal(t, 200, w.Code)
			require.Len(t, paths.all(), 1)
			assert.Equal(t, tt.expected, paths.all()[0])
		})
	}
}

func TestHealth(t *testing.T) {
	g, _ := newTestGateway(t, []string{"a", "b"}, nil, "")
	w := serve(newEngine(g), httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ok"`)
	assert.Contains(t, w.Body.String(), `"key_count":2`)
	assert.NotContains(t, w.Body.String(), `"a"`)

	g, _ = newTestGateway(t, nil, nil, "")
	w = serve(newEngine(g), httptest.NewRequest("GET", "/health", nil))
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}

func TestRequestIDHeader(t *testing.T) {
	g, _ := newTestGateway(t, []string{"good"}, nil, "")
	engine := newEngine(g)

	w := serve(engine, httptest.NewRequest("GET", "/health", nil))
	assert.NotEmpty(t, w.Header().Get(headerRequestID))

	req := httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(headerRequestID, "client-supplied")
	w = serve(engine, req)
	assert.Equal(t, "client-supplied", w.Header().Get(headerRequestID))

	req = httptest.NewRequest("GET", "/health", nil)
	req.Header.Set(headerRequestID, strings.Repeat("x", 65))
	w = serve(engine, req)
	assert.NotEqual(t, strings.Repeat("x", 65), w.Header().Get(headerRequestID))
}

func TestCORSPreflight(t *testing.T) {
	g, _ := newTestGateway(t, nil, nil, "")
	w := serve(newEngine(g), httptest.NewRequest("OPTIONS", "/api/v1/pnr/1234567890", nil))
	assert.Equal(t, 204, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestAdminRoutes(t *testing.T) {
	g, _ := newTestGateway(t, []string{"a", "b"}, nil, "s3cret")
	engine := newEngine(g)

	w := serve(engine, httptest.NewRequest("GET", "/admin/stats", nil))
	assert.Equal(t, 401, w.Code)
	assert.Contains(t, w.Body.String(), "authentication_error")

	req := httptest.NewRequest("GET", "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = serve(engine, req)
	assert.Equal(t, 401, w.Code)

	req = httptest.NewRequest("GET", "/admin/stats", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	w = serve(engine, req)
	require.Equal(t, 200, w.Code)
	assert.JSONEq(t, `2`, gjsonField(t, w.Body.Bytes(), "key_count"))
	assert.JSONEq(t, `[]`, gjsonField(t, w.Body.Bytes(), "keys"))

	w = serve(engine, httptest.NewRequest("GET", "/admin/attempts?token=s3cret", nil))
	assert.Equal(t, 200, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestAdminRoutesDisabledWithoutToken(t *testing.T) {
	g, _ := newTestGateway(t, []string{"a"}, nil, "")
	engine := newEngine(g)
	assert.Equal(t, 404, serve(engine, httptest.NewRequest("GET", "/admin/stats", nil)).Code)
	assert.Equal(t, 404, serve(engine, httptest.NewRequest("GET", "/admin/dashboard", nil)).Code)
}

func TestDashboardPage(t *testing.T) {
	g, _ := newTestGateway(t, []string{"a"}, nil, "s3cret")
	w := serve(newEngine(g), httptest.NewRequest("GET", "/admin/dashboard", nil))
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "/admin/stats")
}

func TestRateLimit(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(0.001), 1)
	defer limiter.Stop()
	g, _ := newTestGateway(t, []string{"good"}, limiter, "")
	engine := newEngine(g)

	w := serve(engine, httptest.NewRequest("GET", "/api/v1/trains/search?query=a", nil))
	assert.Equal(t, 200, w.Code)

	w = serve(engine, httptest.NewRequest("GET", "/api/v1/trains/search?query=a", nil))
	assert.Equal(t, 429, w.Code)
	assert.Contains(t, w.Body.String(), "rate_limit_error")

	// 限流只作用于 /api/v1
	w = serve(engine, httptest.NewRequest("GET", "/health", nil))
	assert.Equal(t, 200, w.Code)
}

func TestIPRateLimiterCleanup(t *testing.T) {
	limiter := NewIPRateLimiter(rate.Limit(1), 1)
	defer limiter.Stop()

	first := limiter.GetLimiter("10.0.0.1")
	limiter.GetLimiter("10.0.0.2")
	assert.Same(t, first, limiter.GetLimiter("10.0.0.1"))

	limiter.cleanup(time.Now().Add(limiter.idleTTL + time.Second))

	limiter.mu.Lock()
	assert.Empty(t, limiter.visitors)
	limiter.mu.Unlock()
	assert.NotSame(t, first, limiter.GetLimiter("10.0.0.1"))

	assert.NotPanics(t, func() {
		limiter.Stop()
		limiter.Stop()
	})
}

func TestSealKeyRoundTrip(t *testing.T) {
	const secret = "0123456789abcdef"
	var buf bytes.Buffer
	require.NoError(t, sealKey(&buf, secret, "plain-rapidapi-key"))

	sealed := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(sealed, core.EncryptedKeyPrefix))

	keys := loadKeys(quietLogger(), config.KeysConfig{List: "first, " + sealed, Secret: secret})
	assert.Equal(t, []string{"first", "plain-rapidapi-key"}, keys)

	// 没有 secret 时加密条目被丢弃
	keys = loadKeys(quietLogger(), config.KeysConfig{List: "first," + sealed})
	assert.Equal(t, []string{"first"}, keys)

	assert.Error(t, sealKey(&buf, "short", "x"))
}

func TestSetupLogger(t *testing.T) {
	log := quietLogger()
	closeLog, err := setupLogger(log, config.LogConfig{Level: "debug", Format: "text"})
	require.NoError(t, err)
	closeLog()
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())

	_, err = setupLogger(log, config.LogConfig{Level: "loud"})
	assert.Error(t, err)
}

func gjsonField(t *testing.T, body []byte, field string) string {
	t.Helper()
	var m map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(body, &m))
	return string(m[field])
}
