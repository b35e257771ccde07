package httpapi

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"fleetops.org/internal/auth"
	"fleetops.org/internal/blob"
	"fleetops.org/internal/documents"
	"fleetops.org/internal/fleet"
	"fleetops.org/internal/procurement"
)

type plainVerifier struct{}

func (plainVerifier) Hash(p string) (string, error) { return "plain:" + p, nil }
func (plainVerifier) Verify(p, c string) bool       { return c == "plain:"+p }

const testPassword = "correct-horse"

type testServer struct {
	handler http.Handler
	users   map[string]auth.User
}

type result struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func newTestServer(t *testing.T, limits Limits) *testServer {
	t.Helper()
	ctx := context.Background()

	store := auth.NewInMemory()
	users, err := auth.NewUsers(store, plainVerifier{})
	if err != nil {
		t.Fatalf("NewUsers: %v", err)
	}
	sessions, err := auth.NewSessions(store)
	if err != nil {
		t.Fatalf("NewSessions: %v", err)
	}
	authn, err := auth.NewAuthenticator(store, sessions, auth.WithVerifier(plainVerifier{}))
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}
	registry, err := auth.NewRegistry(store)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	if err := registry.EnsureBuiltins(ctx); err != nil {
		t.Fatalf("EnsureBuiltins: %v", err)
	}
	vessels, err := fleet.NewService(fleet.NewInMemory())
	if err != nil {
		t.Fatalf("fleet.NewService: %v", err)
	}
	engine, err := procurement.NewEngine(procurement.NewInMemory())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	signer, err := blob.NewSigner([]byte("0123456789abcdef0123456789abcdef"))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	disk, err := blob.NewDisk(t.TempDir(), "/v1/blobs", signer)
	if err != nil {
		t.Fatalf("NewDisk: %v", err)
	}
	docs, err := documents.NewService(documents.NewInMemory(), disk)
	if err != nil {
		t.Fatalf("documents.NewService: %v", err)
	}

	ts := &testServer{users: map[string]auth.User{}}
	for name, in := range map[string]auth.NewUser{
		"admin":   {Email: "admin@fleet.test", Password: testPassword, Role: "ADMIN"},
		"ops":     {Email: "ops@fleet.test", Password: testPassword, Role: "OPS"},
		"captain": {Email: "captain@fleet.test", Password: testPassword, Role: "CAPITAINE", VesselID: "v1"},
		"other":   {Email: "other@fleet.test", Password: testPassword, Role: "CHIEF_MATE", VesselID: "v2"},
	} {
		u, err := users.CreateUser(ctx, in)
		if err != nil {
			t.Fatalf("CreateUser %s: %v", name, err)
		}
		ts.users[name] = u
	}

	api, err := New(Deps{
		Auth:      authn,
		Users:     users,
		Registry:  registry,
		Fleet:     vessels,
		Engine:    engine,
		Documents: docs,
		Blobs:     disk,
		Version:   "test",
		Limits:    limits,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ts.handler = api.Handler()
	return ts
}

func (ts *testServer) do(t *testing.T, method, path string, body any, cookie *http.Cookie) (*httptest.ResponseRecorder, result) {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return ts.serve(t, req)
}

func (ts *testServer) serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, result) {
	t.Helper()
	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	var res result
	if strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rr.Body.Bytes(), &res); err != nil {
			t.Fatalf("decode envelope: %v (body %q)", err, rr.Body.String())
		}
	}
	return rr, res
}

func (ts *testServer) login(t *testing.T, who string) *http.Cookie {
	t.Helper()
	rr, res := ts.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    ts.users[who].Email,
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusOK || !res.Success {
		t.Fatalf("login %s: status %d body %s", who, rr.Code, rr.Body.String())
	}
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			return c
		}
	}
	t.Fatalf("login %s: no session cookie", who)
	return nil
}

func decodeData(t *testing.T, res result, dst any) {
	t.Helper()
	if err := json.Unmarshal(res.Data, dst); err != nil {
		t.Fatalf("decode data: %v (%s)", err, res.Data)
	}
}

func TestLoginSetsSessionCookie(t *testing.T) {
	ts := newTestServer(t, Limits{})
	rr, res := ts.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "CAPTAIN@fleet.test",
		"password": testPassword,
	}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	var cookie *http.Cookie
	for _, c := range rr.Result().Cookies() {
		if c.Name == auth.SessionCookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly || cookie.MaxAge != 7*86400 || cookie.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie: %+v", cookie)
	}
	var body struct {
		User     auth.Principal `json:"user"`
		Redirect string         `json:"redirect"`
	}
	decodeData(t, res, &body)
	if body.Redirect != "/purchase-requests" || body.User.VesselID != "v1" {
		t.Fatalf("unexpected login body: %+v", body)
	}
	if res.RequestID == "" || rr.Header().Get(requestIDHeader) != res.RequestID {
		t.Fatalf("expected request id in body and header")
	}

	rr, res = ts.do(t, http.MethodGet, "/v1/auth/me", nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("me: expected 200, got %d", rr.Code)
	}
	var me struct {
		User  auth.Principal `json:"user"`
		Class string         `json:"class"`
	}
	decodeData(t, res, &me)
	if me.User.Role != auth.RoleCapitaine || me.Class != "vessel" {
		t.Fatalf("unexpected me: %+v", me)
	}
}

func TestRememberMeExtendsCookie(t *testing.T) {
	ts := newTestServer(t, Limits{})
	rr, _ := ts.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":       ts.users["ops"].Email,
		"password":    testPassword,
		"remember_me": true,
	}, nil)
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].MaxAge != 30*86400 {
		t.Fatalf("expected 30 day cookie, got %+v", cookies)
	}
}

func TestLoginFailures(t *testing.T) {
	ts := newTestServer(t, Limits{})
	cases := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"missing password", map[string]any{"email": "admin@fleet.test", "password": ""}, http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unknown email", map[string]any{"email": "nobody@fleet.test", "password": testPassword}, http.StatusUnauthorized, "UNAUTHENTICATED"},
		{"bad password", map[string]any{"email": "admin@fleet.test", "password": "wrong-one"}, http.StatusUnauthorized, "UNAUTHENTICATED"},
	}
	for _, tc := range cases {
		rr, res := ts.do(t, http.MethodPost, "/v1/auth/login", tc.body, nil)
		if rr.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, rr.Code)
		}
		if res.Success || res.Error == nil || res.Error.Code != tc.code {
			t.Fatalf("%s: unexpected envelope %+v", tc.name, res)
		}
		if len(rr.Result().Cookies()) != 0 {
			t.Fatalf("%s: failed login must not set a cookie", tc.name)
		}
	}
}

func TestLoginThrottle(t *testing.T) {
	ts := newTestServer(t, Limits{LoginPerMinute: 2})
	body := map[string]any{"email": "admin@fleet.test", "password": "wrong-one"}
	for i := 0; i < 2; i++ {
		if rr, _ := ts.do(t, http.MethodPost, "/v1/auth/login", body, nil); rr.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, rr.Code)
		}
	}
	rr, res := ts.do(t, http.MethodPost, "/v1/auth/login", body, nil)
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr.Code)
	}
	if res.Error == nil || res.Error.Code != "RATE_LIMITED" || rr.Header().Get("Retry-After") == "" {
		t.Fatalf("unexpected throttle response: %+v", res)
	}
}

func TestLoginThrottleIgnoresForwardedFor(t *testing.T) {
	ts := newTestServer(t, Limits{LoginPerMinute: 2})
	attempt := func(hop string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
			strings.NewReader(`{"email":"admin@fleet.test","password":"wrong-one"}`))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Forwarded-For", hop)
		rr, _ := ts.serve(t, req)
		return rr.Code
	}
	for i, hop := range []string{"198.51.100.1", "198.51.100.2"} {
		if code := attempt(hop); code != http.StatusUnauthorized {
			t.Fatalf("attempt %d: expected 401, got %d", i+1, code)
		}
	}
	if code := attempt("198.51.100.3"); code != http.StatusTooManyRequests {
		t.Fatalf("rotating X-Forwarded-For must not reset the throttle, got %d", code)
	}
}

func TestLoginOverTLSSetsSecureCookie(t *testing.T) {
	ts := newTestServer(t, Limits{})
	req := httptest.NewRequest(http.MethodPost, "/v1/auth/login",
		strings.NewReader(`{"email":"ops@fleet.test","password":"`+testPassword+`"}`))
	req.Header.Set("Content-Type", "application/json")
	req.TLS = &tls.ConnectionState{}
	rr, _ := ts.serve(t, req)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || !cookies[0].Secure {
		t.Fatalf("expected secure cookie over TLS, got %+v", cookies)
	}

	rr, _ = ts.do(t, http.MethodPost, "/v1/auth/login", map[string]any{
		"email":    "ops@fleet.test",
		"password": testPassword,
	}, nil)
	if cookies := rr.Result().Cookies(); len(cookies) != 1 || cookies[0].Secure {
		t.Fatalf("plain HTTP outside production should not set Secure, got %+v", cookies)
	}
}

func TestLogoutWithoutCookieSucceeds(t *testing.T) {
	ts := newTestServer(t, Limits{})
	rr, res := ts.do(t, http.MethodPost, "/v1/auth/logout", nil, nil)
	if rr.Code != http.StatusOK || !res.Success {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].Name != auth.SessionCookieName || cleared[0].MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}
}

func TestLogoutRevokesSession(t *testing.T) {
	ts := newTestServer(t, Limits{})
	cookie := ts.login(t, "admin")

	rr, _ := ts.do(t, http.MethodPost, "/v1/auth/logout", nil, cookie)
	if rr.Code != http.StatusOK {
		t.Fatalf("logout: expected 200, got %d", rr.Code)
	}
	cleared := rr.Result().Cookies()
	if len(cleared) != 1 || cleared[0].MaxAge >= 0 {
		t.Fatalf("expected cleared cookie, got %+v", cleared)
	}
	rr, res := ts.do(t, http.MethodGet, "/v1/auth/me", nil, cookie)
	if rr.Code != http.StatusUnauthorized || res.Error.Code != "UNAUTHENTICATED" {
		t.Fatalf("expected 401 after logout, got %d", rr.Code)
	}
}

func TestProtectedRoutesRequireSession(t *testing.T) {
	ts := newTestServer(t, Limits{})
	for _, path := range []string{"/v1/auth/me", "/v1/purchase-requests", "/v1/roles", "/v1/folders"} {
		rr, _ := ts.do(t, http.MethodGet, path, nil, nil)
		if rr.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", path, rr.Code)
		}
	}
	bogus := &http.Cookie{Name: auth.SessionCookieName, Value: "not-a-session"}
	if rr, _ := ts.do(t, http.MethodGet, "/v1/auth/me", nil, bogus); rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for unknown token, got %d", rr.Code)
	}
}

func TestAccessEndpoint(t *testing.T) {
	ts := newTestServer(t, Limits{})
	captain := ts.login(t, "captain")

	_, res := ts.do(t, http.MethodGet, "/v1/access?route=/users/42", nil, captain)
	var d auth.Decision
	decodeData(t, res, &d)
	if d.Allowed || d.Redirect != "/purchase-requests" {
		t.Fatalf("unexpected decision: %+v", d)
	}
	_, res = ts.do(t, http.MethodGet, "/v1/access?route=/purchase-requests/new", nil, captain)
	decodeData(t, res, &d)
	if !d.Allowed {
		t.Fatalf("captain should open purchase requests: %+v", d)
	}
	if rr, _ := ts.do(t, http.MethodGet, "/v1/access", nil, captain); rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without route, got %d", rr.Code)
	}
}

func TestRolesAreAdminOnly(t *testing.T) {
	ts := newTestServer(t, Limits{})
	if rr, _ := ts.do(t, http.MethodGet, "/v1/roles", nil, ts.login(t, "ops")); rr.Code != http.StatusForbidden {
		t.Fatalf("ops: expected 403, got %d", rr.Code)
	}
	admin := ts.login(t, "admin")
	_, res := ts.do(t, http.MethodGet, "/v1/permissions", nil, admin)
	var groups []auth.PermissionGroup
	decodeData(t, res, &groups)
	if len(groups) == 0 {
		t.Fatalf("expected permission groups")
	}
	ids := []string{groups[0].Permissions[0].ID, "does-not-exist"}
	rr, res := ts.do(t, http.MethodPost, "/v1/roles", map[string]any{"name": "Auditor", "permission_ids": ids}, admin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create role: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var role auth.RoleDefinition
	decodeData(t, res, &role)
	if len(role.Permissions) != 1 {
		t.Fatalf("unknown permission ids should be ignored: %+v", role.Permissions)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/roles", map[string]any{"name": "auditor"}, admin); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate role: expected 409, got %d", rr.Code)
	}
}

func TestDefinedRoleNarrowsVesselManagement(t *testing.T) {
	ts := newTestServer(t, Limits{})
	ops := ts.login(t, "ops")
	vessel := map[string]any{"imo": "9074729", "name": "Aurora"}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/vessels", vessel, ops); rr.Code != http.StatusCreated {
		t.Fatalf("ops without a role definition: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}

	admin := ts.login(t, "admin")
	_, res := ts.do(t, http.MethodGet, "/v1/permissions", nil, admin)
	var groups []auth.PermissionGroup
	decodeData(t, res, &groups)
	var viewID string
	for _, g := range groups {
		for _, p := range g.Permissions {
			if p.Name == auth.PermProcurementView {
				viewID = p.ID
			}
		}
	}
	if viewID == "" {
		t.Fatalf("procurement.view missing from catalog")
	}
	rr, res := ts.do(t, http.MethodPost, "/v1/roles", map[string]any{"name": "OPS", "permission_ids": []string{viewID}}, admin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("define OPS: expected 201, got %d", rr.Code)
	}
	var role auth.RoleDefinition
	decodeData(t, res, &role)

	vessel = map[string]any{"imo": "9176187", "name": "Borealis"}
	if rr, res := ts.do(t, http.MethodPost, "/v1/vessels", vessel, ops); rr.Code != http.StatusForbidden || res.Error == nil || res.Error.Code != "FORBIDDEN" {
		t.Fatalf("ops without vessels.manage: expected 403, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/vessels", vessel, admin); rr.Code != http.StatusCreated {
		t.Fatalf("admin has no definition and keeps access, got %d", rr.Code)
	}

	var manageID string
	for _, g := range groups {
		for _, p := range g.Permissions {
			if p.Name == auth.PermVesselsManage {
				manageID = p.ID
			}
		}
	}
	path := "/v1/roles/" + role.ID + "/permissions"
	if rr, _ := ts.do(t, http.MethodPut, path, map[string]any{"permission_ids": []string{viewID, manageID}}, admin); rr.Code != http.StatusOK {
		t.Fatalf("grant vessels.manage: expected 200, got %d", rr.Code)
	}
	vessel = map[string]any{"imo": "9321483", "name": "Caledonia"}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/vessels", vessel, ops); rr.Code != http.StatusCreated {
		t.Fatalf("ops with vessels.manage: expected 201, got %d", rr.Code)
	}
}

func TestUserAdministration(t *testing.T) {
	ts := newTestServer(t, Limits{})
	admin := ts.login(t, "admin")

	rr, res := ts.do(t, http.MethodPost, "/v1/users", map[string]any{
		"email": "second@fleet.test", "password": "long-enough", "role": "SECOND", "vessel_id": "v1",
	}, admin)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create user: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var u auth.User
	decodeData(t, res, &u)
	if strings.Contains(rr.Body.String(), "plain:") {
		t.Fatalf("password hash leaked in response")
	}

	if rr, _ := ts.do(t, http.MethodPost, "/v1/users", map[string]any{
		"email": "SECOND@fleet.test", "password": "long-enough", "role": "SECOND", "vessel_id": "v1",
	}, admin); rr.Code != http.StatusConflict {
		t.Fatalf("duplicate email: expected 409, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/users", map[string]any{
		"email": "short@fleet.test", "password": "short", "role": "OPS",
	}, admin); rr.Code != http.StatusBadRequest {
		t.Fatalf("short password: expected 400, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/users", map[string]any{
		"email": "x@fleet.test", "password": "long-enough", "role": "OPS",
	}, ts.login(t, "ops")); rr.Code != http.StatusForbidden {
		t.Fatalf("ops create user: expected 403, got %d", rr.Code)
	}

	second := ts.loginAs(t, "second@fleet.test")
	if rr, _ := ts.do(t, http.MethodDelete, "/v1/users/"+u.ID, nil, admin); rr.Code != http.StatusOK {
		t.Fatalf("delete user: expected 200, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodGet, "/v1/auth/me", nil, second); rr.Code != http.StatusUnauthorized {
		t.Fatalf("sessions of a deleted user must die, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodDelete, "/v1/users/"+ts.users["admin"].ID, nil, admin); rr.Code != http.StatusConflict {
		t.Fatalf("self delete: expected 409, got %d", rr.Code)
	}
}

func (ts *testServer) loginAs(t *testing.T, email string) *http.Cookie {
	t.Helper()
	rr, _ := ts.do(t, http.MethodPost, "/v1/auth/login", map[string]any{"email": email, "password": "long-enough"}, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("login %s: %d", email, rr.Code)
	}
	return rr.Result().Cookies()[0]
}

func TestPurchaseRequestFlow(t *testing.T) {
	ts := newTestServer(t, Limits{})
	captain := ts.login(t, "captain")
	ops := ts.login(t, "ops")
	other := ts.login(t, "other")

	rr, res := ts.do(t, http.MethodPost, "/v1/purchase-requests", map[string]any{
		"title":    "Engine filters",
		"category": "ENGINE",
		"lines": []map[string]any{
			{"description": "Oil filter", "quantity": 10, "suggested_price": "12.50"},
		},
	}, captain)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create PR: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var pr procurement.PurchaseRequest
	decodeData(t, res, &pr)
	if pr.Status != procurement.RequestSubmitted || pr.VesselID != "v1" || len(pr.Lines) != 1 {
		t.Fatalf("unexpected PR: %+v", pr)
	}

	if rr, _ := ts.do(t, http.MethodPost, "/v1/purchase-requests", map[string]any{
		"category": "ENGINE", "lines": []map[string]any{},
	}, captain); rr.Code != http.StatusBadRequest {
		t.Fatalf("empty lines: expected 400, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/purchase-requests", map[string]any{
		"category": "ENGINE", "lines": []map[string]any{{"description": "x", "quantity": 1}},
	}, ops); rr.Code != http.StatusForbidden {
		t.Fatalf("shore create: expected 403, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodGet, "/v1/purchase-requests/"+pr.ID, nil, other); rr.Code != http.StatusForbidden {
		t.Fatalf("other vessel: expected 403, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/purchase-requests/"+pr.ID+"/approve", nil, captain); rr.Code != http.StatusForbidden {
		t.Fatalf("crew approve: expected 403, got %d", rr.Code)
	}

	rr, res = ts.do(t, http.MethodPost, "/v1/purchase-requests/"+pr.ID+"/approve", map[string]any{
		"lines": []map[string]any{{"line_id": pr.Lines[0].ID, "quantity": 8, "price": "11.90"}},
	}, ops)
	if rr.Code != http.StatusOK {
		t.Fatalf("approve: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeData(t, res, &pr)
	if pr.Status != procurement.RequestApproved || *pr.Lines[0].ApprovedQuantity != 8 {
		t.Fatalf("unexpected approved PR: %+v", pr)
	}

	rr, res = ts.do(t, http.MethodPost, "/v1/purchase-requests/"+pr.ID+"/order", map[string]any{"supplier": "Marine Supply"}, ops)
	if rr.Code != http.StatusCreated {
		t.Fatalf("order: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var po procurement.PurchaseOrder
	decodeData(t, res, &po)
	if po.Status != procurement.OrderPending || len(po.Lines) != 1 || po.Lines[0].ValidatedQuantity != 8 {
		t.Fatalf("unexpected PO: %+v", po)
	}
	if got := po.Lines[0].QuotedPrice.Decimal.String(); got != "11.9" {
		t.Fatalf("expected approved price carried over, got %s", got)
	}

	if rr, _ := ts.do(t, http.MethodPost, "/v1/purchase-requests/"+pr.ID+"/order", nil, ops); rr.Code != http.StatusConflict {
		t.Fatalf("second order: expected 409, got %d", rr.Code)
	}

	if rr, _ := ts.do(t, http.MethodPost, "/v1/purchase-orders/"+po.ID+"/receive", nil, captain); rr.Code != http.StatusConflict {
		t.Fatalf("receive before confirm: expected 409, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPost, "/v1/purchase-orders/"+po.ID+"/confirm", nil, ops); rr.Code != http.StatusOK {
		t.Fatalf("confirm: expected 200, got %d", rr.Code)
	}
	rr, res = ts.do(t, http.MethodPost, "/v1/purchase-orders/"+po.ID+"/receive", nil, captain)
	if rr.Code != http.StatusOK {
		t.Fatalf("receive: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	decodeData(t, res, &po)
	if po.Status != procurement.OrderReceived {
		t.Fatalf("expected RECEIVED, got %s", po.Status)
	}

	_, res = ts.do(t, http.MethodGet, "/v1/purchase-requests", nil, other)
	var list []procurement.PurchaseRequest
	decodeData(t, res, &list)
	if len(list) != 0 {
		t.Fatalf("other vessel must not list v1 requests: %+v", list)
	}
}

func TestDocumentUploadAndSignedDownload(t *testing.T) {
	ts := newTestServer(t, Limits{MaxBodyBytes: 1 << 20, UploadMaxBytes: 1 << 20})
	captain := ts.login(t, "captain")

	rr, res := ts.do(t, http.MethodPost, "/v1/folders", map[string]any{"name": "Certificates"}, captain)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create folder: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var folder documents.Folder
	decodeData(t, res, &folder)
	if folder.VesselID != "v1" {
		t.Fatalf("crew folders belong to their vessel: %+v", folder)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "Safety Plan.pdf")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	_, _ = part.Write([]byte("%PDF-1.4 plan"))
	_ = mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/v1/folders/"+folder.ID+"/documents", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.AddCookie(captain)
	rr, res = ts.serve(t, req)
	if rr.Code != http.StatusCreated {
		t.Fatalf("upload: expected 201, got %d: %s", rr.Code, rr.Body.String())
	}
	var doc documents.Document
	decodeData(t, res, &doc)
	if doc.Size != int64(len("%PDF-1.4 plan")) || !strings.HasPrefix(doc.BlobKey, "safety-plan_") {
		t.Fatalf("unexpected document: %+v", doc)
	}

	if rr, _ := ts.do(t, http.MethodGet, "/v1/documents/"+doc.ID+"/url", nil, ts.login(t, "other")); rr.Code != http.StatusForbidden {
		t.Fatalf("other vessel url: expected 403, got %d", rr.Code)
	}
	_, res = ts.do(t, http.MethodGet, "/v1/documents/"+doc.ID+"/url", nil, captain)
	var signed struct {
		URL string `json:"url"`
	}
	decodeData(t, res, &signed)
	if !strings.HasPrefix(signed.URL, "/v1/blobs/documents/") {
		t.Fatalf("unexpected url: %s", signed.URL)
	}

	dl := httptest.NewRecorder()
	ts.handler.ServeHTTP(dl, httptest.NewRequest(http.MethodGet, signed.URL, nil))
	if dl.Code != http.StatusOK || dl.Body.String() != "%PDF-1.4 plan" {
		t.Fatalf("download: status %d body %q", dl.Code, dl.Body.String())
	}

	tampered := strings.Replace(signed.URL, "token=", "token=x", 1)
	bad := httptest.NewRecorder()
	ts.handler.ServeHTTP(bad, httptest.NewRequest(http.MethodGet, tampered, nil))
	if bad.Code != http.StatusForbidden {
		t.Fatalf("tampered token: expected 403, got %d", bad.Code)
	}
}

func TestUnknownRouteAndMethod(t *testing.T) {
	ts := newTestServer(t, Limits{})
	rr, res := ts.do(t, http.MethodGet, "/nope", nil, nil)
	if rr.Code != http.StatusNotFound || res.Error == nil || res.Error.Code != "NOT_FOUND" {
		t.Fatalf("expected enveloped 404, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodPut, "/healthz", nil, nil); rr.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rr.Code)
	}
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, Limits{})
	if rr, _ := ts.do(t, http.MethodGet, "/healthz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("healthz: expected 200, got %d", rr.Code)
	}
	if rr, _ := ts.do(t, http.MethodGet, "/readyz", nil, nil); rr.Code != http.StatusOK {
		t.Fatalf("readyz: expected 200, got %d", rr.Code)
	}
}
