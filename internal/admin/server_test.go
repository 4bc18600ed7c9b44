package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LinuxSuRen/wechaty/internal/puppet"
	"github.com/LinuxSuRen/wechaty/internal/types"
)

type mockSession struct {
	status    puppet.Status
	logoutErr error
	sendErr   error
	dings     []string
	sent      []puppet.Receiver
	texts     []string
}

func (m *mockSession) Status() puppet.Status { return m.status }

func (m *mockSession) Logout(context.Context) error { return m.logoutErr }

func (m *mockSession) Ding(_ context.Context, data string) error {
	m.dings = append(m.dings, data)
	return nil
}

func (m *mockSession) SendText(_ context.Context, to puppet.Receiver, text string) error {
	if m.sendErr != nil {
		return m.sendErr
	}
	m.sent = append(m.sent, to)
	m.texts = append(m.texts, text)
	return nil
}

func do(t *testing.T, srv http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	srv := NewServer(&mockSession{}, nil)
	w := do(t, srv, http.MethodGet, "/health", "")

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestStatusEndpoint(t *testing.T) {
	since := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	srv := NewServer(&mockSession{status: puppet.Status{
		State:           puppet.StateLive,
		UserID:          "@me",
		Since:           since,
		ConnectivityDue: 42*time.Second + 300*time.Millisecond,
		ScanSleeping:    true,
	}}, nil)

	w := do(t, srv, http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	var resp StatusResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "live", resp.State)
	assert.Equal(t, "@me", resp.UserID)
	assert.True(t, resp.Since.Equal(since))
	assert.Equal(t, "42s", resp.ConnectivityDue)
	assert.Equal(t, "0s", resp.ScanDue)
	assert.True(t, resp.ScanSleeping)
	assert.Nil(t, resp.Scan)
}

func TestScanEndpoint(t *testing.T) {
	session := &mockSession{}
	srv := NewServer(session, nil)

	w := do(t, srv, http.MethodGet, "/scan", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	session.status.Scan = &puppet.ScanState{Code: 0, URL: "https://login.weixin.qq.com/l/abc"}
	w = do(t, srv, http.MethodGet, "/scan", "")
	require.Equal(t, http.StatusOK, w.Code)
	var scan puppet.ScanState
	require.NoError(t, json.NewDecoder(w.Body).Decode(&scan))
	assert.Equal(t, "https://login.weixin.qq.com/l/abc", scan.URL)
}

func TestLogoutMapsErrorKinds(t *testing.T) {
	session := &mockSession{}
	srv := NewServer(session, nil)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/logout", "").Code)

	session.logoutErr = types.NewError(types.KindInvalidState, "logout", "no user is logged in")
	w := do(t, srv, http.MethodPost, "/logout", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Contains(t, w.Body.String(), "INVALID_STATE")

	session.logoutErr = types.WrapError(types.KindTransport, "logout", errors.New("socket closed"))
	assert.Equal(t, http.StatusBadGateway, do(t, srv, http.MethodPost, "/logout", "").Code)
}

func TestDingEndpoint(t *testing.T) {
	session := &mockSession{}
	srv := NewServer(session, nil)

	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/ding", "").Code)
	assert.Equal(t, http.StatusOK, do(t, srv, http.MethodPost, "/ding", `{"data":"probe"}`).Code)
	assert.Equal(t, []string{"admin", "probe"}, session.dings)
}

func TestSendEndpoint(t *testing.T) {
	session := &mockSession{}
	srv := NewServer(session, nil)

	w := do(t, srv, http.MethodPost, "/send", `{"room_id":"@@team","text":"deploy done"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []puppet.Receiver{{RoomID: "@@team"}}, session.sent)
	assert.Equal(t, []string{"deploy done"}, session.texts)

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/send", `{"room_id":"@@team"}`).Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodPost, "/send", `not json`).Code)

	session.sendErr = types.NewError(types.KindInvalidState, "send text", "receiver has neither room nor contact")
	assert.Equal(t, http.StatusConflict, do(t, srv, http.MethodPost, "/send", `{"text":"x"}`).Code)
}

func TestMetricsEndpoint(t *testing.T) {
	srv := NewServer(&mockSession{}, nil)
	do(t, srv, http.MethodGet, "/health", "")

	w := do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "wechaty_http_requests_total")
}

func TestCORSPreflight(t *testing.T) {
	srv := NewServer(&mockSession{}, []string{"http://localhost:3000"})

	req := httptest.NewRequest(http.MethodOptions, "/status", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)

	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestRunStopsOnCancel(t *testing.T) {
	srv := NewServer(&mockSession{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Run(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
