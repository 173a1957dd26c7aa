package server_test

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/vendio/wasession/discovery"
	"github.com/vendio/wasession/dispatch"
	"github.com/vendio/wasession/internal/config"
	"github.com/vendio/wasession/relay"
	"github.com/vendio/wasession/server"
	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa"
	"github.com/vendio/wasession/wa/wafakes"
)

const testTenantID = "tenant-1"

var errAlwaysDown = errors.New("media backend down")

type testFixture struct {
	server *server.Server
	dialer *wafakes.FakeDialer
	broker *relay.Broker
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	cfg := config.New()
	registry := sessions.NewRegistry()
	dialer := wafakes.NewFakeDialer()
	broker := relay.NewBroker()
	t.Cleanup(broker.Close)

	supervisor := sessions.NewSupervisor(registry, dialer, broker)
	supervisor.SetRecheckDelay(time.Millisecond)
	status := sessions.NewStatusService(registry)
	discoverySvc := discovery.NewService(registry, supervisor)
	discoverySvc.SetSettleDelay(0)
	dispatchSvc := dispatch.NewService(registry)

	srv, err := server.New(cfg, registry, supervisor, status, discoverySvc, dispatchSvc, broker)
	require.NoError(t, err)

	return &testFixture{server: srv, dialer: dialer, broker: broker}
}

func (f *testFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	f.server.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

type statusResponse struct {
	Connected   bool    `json:"connected"`
	PairingCode *string `json:"pairing_code"`
}

func TestInitRequiresTenantID(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/init", `{}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/session/init", `not json`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestInitThenStatusFlow(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/init", `{"tenant_id":"`+testTenantID+`"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var init map[string]string
	decodeBody(t, rec, &init)
	require.Equal(t, "initializing", init["status"])
	require.Equal(t, testTenantID, init["tenant_id"])

	cli, ok := f.dialer.Client(testTenantID)
	require.True(t, ok)

	cli.EmitPairingCode("ABC123")
	var status statusResponse
	decodeBody(t, f.do(t, http.MethodGet, "/session/status/"+testTenantID, ""), &status)
	require.False(t, status.Connected)
	require.NotNil(t, status.PairingCode)
	require.Equal(t, "ABC123", *status.PairingCode)

	cli.EmitConnected()
	decodeBody(t, f.do(t, http.MethodGet, "/session/status/"+testTenantID, ""), &status)
	require.True(t, status.Connected)
	require.Nil(t, status.PairingCode)
}

func TestStatusUnknownTenant(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/session/status/never-initialized", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	decodeBody(t, rec, &status)
	require.False(t, status.Connected)
	require.Nil(t, status.PairingCode)
}

func TestDisconnectThenStatus(t *testing.T) {
	f := setupTestFixture(t)

	f.do(t, http.MethodPost, "/session/init", `{"tenant_id":"`+testTenantID+`"}`)
	cli, _ := f.dialer.Client(testTenantID)
	cli.EmitConnected()

	rec := f.do(t, http.MethodPost, "/session/disconnect/"+testTenantID, "")
	require.Equal(t, http.StatusOK, rec.Code)

	var status statusResponse
	decodeBody(t, f.do(t, http.MethodGet, "/session/status/"+testTenantID, ""), &status)
	require.False(t, status.Connected)
	require.Nil(t, status.PairingCode)
}

func TestGroupsAndContactsHandlers(t *testing.T) {
	f := setupTestFixture(t)

	cli := wafakes.NewFakeClient("15550000000@s.whatsapp.net")
	cli.AddGroup(wa.GroupInfo{ID: "sales@g.us", Name: "Sales"},
		wa.Participant{ID: "15550001111@s.whatsapp.net", Phone: "15550001111", Name: "P1"},
		wa.Participant{ID: "15550002222@s.whatsapp.net", Phone: "15550002222", Name: "P2"},
	)
	f.dialer.Register(testTenantID, cli)

	rec := f.do(t, http.MethodGet, "/session/groups/"+testTenantID, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var groups struct {
		Groups []discovery.Group `json:"groups"`
	}
	decodeBody(t, rec, &groups)
	require.Len(t, groups.Groups, 1)
	require.Equal(t, "Sales", groups.Groups[0].Name)
	require.Equal(t, 2, groups.Groups[0].MemberCount)

	rec = f.do(t, http.MethodGet, "/session/contacts/"+testTenantID+"?refresh=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var contacts struct {
		Contacts []discovery.Contact `json:"contacts"`
		Total    int                 `json:"total"`
	}
	decodeBody(t, rec, &contacts)
	require.Equal(t, 2, contacts.Total)
	require.Len(t, contacts.Contacts, 2)
}

func TestSendValidation(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/send/"+testTenantID, `{"text":"hi"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "destination is required")

	rec = f.do(t, http.MethodPost, "/session/send/"+testTenantID, `{"destination":"x@c.us"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "text or image is required")
}

func TestSendWithoutSessionConflicts(t *testing.T) {
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodPost, "/session/send/"+testTenantID, `{"destination":"x@c.us","text":"hi"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestSendReportsIndependentResults(t *testing.T) {
	f := setupTestFixture(t)

	f.do(t, http.MethodPost, "/session/init", `{"tenant_id":"`+testTenantID+`"}`)
	cli, _ := f.dialer.Client(testTenantID)
	cli.EmitConnected()

	failAll := func(string, string, string) (wa.SendReceipt, error) {
		return wa.SendReceipt{}, errAlwaysDown
	}
	cli.SendImageFn = failAll
	cli.SendMediaFn = failAll
	cli.SendFileFn = func(string, string, wa.FileOptions) (wa.SendReceipt, error) {
		return wa.SendReceipt{}, errAlwaysDown
	}

	rec := f.do(t, http.MethodPost, "/session/send/"+testTenantID,
		`{"destination":"x@c.us","text":"hi","image":"https://cdn.example/pic.png"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success     bool             `json:"success"`
		TextResult  *dispatch.Result `json:"text_result"`
		ImageResult *dispatch.Result `json:"image_result"`
	}
	decodeBody(t, rec, &resp)
	require.True(t, resp.Success)
	require.NotNil(t, resp.TextResult)
	require.True(t, resp.TextResult.Sent)
	require.NotNil(t, resp.ImageResult)
	require.False(t, resp.ImageResult.Sent)
	require.Contains(t, resp.ImageResult.Error, "backend down")
}

func TestSendFileHandler(t *testing.T) {
	f := setupTestFixture(t)

	f.do(t, http.MethodPost, "/session/init", `{"tenant_id":"`+testTenantID+`"}`)

	rec := f.do(t, http.MethodPost, "/session/send-file/"+testTenantID,
		`{"destination":"x@c.us","file_url":"https://cdn.example/q3.pdf","options":{"caption":"report"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Success bool            `json:"success"`
		Result  dispatch.Result `json:"result"`
	}
	decodeBody(t, rec, &resp)
	require.True(t, resp.Success)
	require.True(t, resp.Result.Sent)

	rec = f.do(t, http.MethodPost, "/session/send-file/"+testTenantID, `{"destination":"x@c.us"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code, "file_url is required")
}

func TestHealthHandler(t *testing.T) {
	f := setupTestFixture(t)

	f.do(t, http.MethodPost, "/session/init", `{"tenant_id":"`+testTenantID+`"}`)

	rec := f.do(t, http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var health struct {
		Status   string `json:"status"`
		Sessions int    `json:"sessions"`
	}
	decodeBody(t, rec, &health)
	require.Equal(t, "ok", health.Status)
	require.Equal(t, 1, health.Sessions)
}

func TestBearerAuthGuardsSessionRoutes(t *testing.T) {
	const secret = "test-secret"
	t.Setenv("API_SECRET", secret)
	f := setupTestFixture(t)

	rec := f.do(t, http.MethodGet, "/session/status/"+testTenantID, "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"exp": time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(secret))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/session/status/"+testTenantID, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	authed := httptest.NewRecorder()
	f.server.ServeHTTP(authed, req)
	require.Equal(t, http.StatusOK, authed.Code)
}
