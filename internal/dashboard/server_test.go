package dashboard

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/janus-scope/backend/internal/event"
	"github.com/janus-scope/backend/internal/health"
	"github.com/janus-scope/backend/internal/plugin"
	"github.com/janus-scope/backend/internal/store"
)

func newTestServer(t *testing.T, token, password string, origins []string) (*httptest.Server, *store.Store, *Broadcaster) {
	t.Helper()
	st := testStore(t)
	b := NewBroadcaster(st, 10*time.Millisecond)

	reporter, err := health.New()
	if err != nil {
		t.Fatalf("health reporter: %v", err)
	}
	reporter.AddProbe("gateway", func() string { return "open" })

	s := NewServer(st, b, reporter, origins, token, password)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, st, b
}

func TestEventsRequiresAuth(t *testing.T) {
	srv, _, _ := newTestServer(t, "secret", "", nil)

	resp, err := http.Get(srv.URL + "/api/events")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("no token: status = %d, want 401", resp.StatusCode)
	}

	for _, build := range []func(*http.Request){
		func(r *http.Request) { r.URL.RawQuery = "token=secret" },
		func(r *http.Request) { r.Header.Set("X-Janus-Scope-Token", "secret") },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") },
	} {
		req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
		build(req)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("authorized request: status = %d, want 200", resp.StatusCode)
		}
	}
}

func TestEventsReturnsRecent(t *testing.T) {
	srv, st, _ := newTestServer(t, "", "", nil)

	if err := st.BatchInsert([]*event.Envelope{
		{Type: event.TypeSession, SessionID: 1},
		{Type: event.TypeSession, SessionID: 2},
		{Type: event.TypeSession, SessionID: 3},
	}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/events?limit=2")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var events []store.StoredEvent
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		t.Fatal(err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].SessionID != 3 || events[1].SessionID != 2 {
		t.Errorf("wrong order: %d, %d", events[0].SessionID, events[1].SessionID)
	}

	resp, err = http.Get(srv.URL + "/api/events?limit=bogus")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bogus limit: status = %d, want 400", resp.StatusCode)
	}
}

func TestClearEvents(t *testing.T) {
	srv, st, _ := newTestServer(t, "", "", nil)

	if err := st.BatchInsert([]*event.Envelope{{Type: event.TypeSession, SessionID: 1}}); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(srv.URL + "/api/events/clear")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("GET clear: status = %d, want 405", resp.StatusCode)
	}

	resp, err = http.Post(srv.URL+"/api/events/clear", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("POST clear: status = %d, want 204", resp.StatusCode)
	}

	n, err := st.Count()
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("count after clear = %d", n)
	}
}

func TestLoginLogout(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "hunter2", nil)

	post := func(password string) *http.Response {
		body, _ := json.Marshal(map[string]string{"password": password})
		resp, err := http.Post(srv.URL+"/api/login", "application/json", bytes.NewReader(body))
		if err != nil {
			t.Fatal(err)
		}
		return resp
	}

	resp := post("wrong")
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password: status = %d, want 401", resp.StatusCode)
	}

	resp = post("hunter2")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("login: status = %d, want 204", resp.StatusCode)
	}
	var session *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			session = c
		}
	}
	if session == nil {
		t.Fatal("no session cookie set")
	}

	// Cookie authorizes API access.
	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	req.AddCookie(session)
	authed, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	authed.Body.Close()
	if authed.StatusCode != http.StatusOK {
		t.Errorf("cookie request: status = %d, want 200", authed.StatusCode)
	}

	// Logout revokes it.
	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/logout", nil)
	req.AddCookie(session)
	out, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	out.Body.Close()

	req, _ = http.NewRequest(http.MethodGet, srv.URL+"/api/events", nil)
	req.AddCookie(session)
	revoked, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	revoked.Body.Close()
	if revoked.StatusCode != http.StatusUnauthorized {
		t.Errorf("revoked cookie: status = %d, want 401", revoked.StatusCode)
	}
}

type fakeRoomLister struct {
	rooms []plugin.RoomInfo
	err   error
}

func (f *fakeRoomLister) List(ctx context.Context) ([]plugin.RoomInfo, error) {
	return f.rooms, f.err
}

func TestRoomsEndpoint(t *testing.T) {
	st := testStore(t)
	s := NewServer(st, NewBroadcaster(st, 10*time.Millisecond), nil, nil, "", "")
	s.SetRoomLister(&fakeRoomLister{rooms: []plugin.RoomInfo{
		{Room: event.RoomID("1234"), Description: "demo", NumParticipants: 2},
	}})
	mux := http.NewServeMux()
	s.SetupRoutes(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var rooms []plugin.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&rooms); err != nil {
		t.Fatal(err)
	}
	if len(rooms) != 1 || rooms[0].Description != "demo" {
		t.Errorf("rooms = %+v", rooms)
	}
}

func TestRoomsEndpointWithoutLister(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "", nil)

	resp, err := http.Get(srv.URL + "/api/rooms")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", resp.StatusCode)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "", nil)

	resp, err := http.Get(srv.URL + "/api/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var st health.Status
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		t.Fatal(err)
	}
	if st.Status != "ok" {
		t.Errorf("status = %q, want ok", st.Status)
	}
	if st.Components["gateway"] != "open" {
		t.Errorf("gateway component = %q", st.Components["gateway"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "", nil)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics: status = %d, want 200", resp.StatusCode)
	}
}

func TestWSStreamWithToken(t *testing.T) {
	srv, _, b := newTestServer(t, "secret", "", nil)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws", nil); err == nil {
		t.Error("unauthenticated ws dial succeeded")
	} else if resp != nil {
		resp.Body.Close()
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws?token=secret", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	msg := readMessage(t, conn)
	if msg.Type != MsgSnapshot {
		t.Fatalf("first message = %q, want snapshot", msg.Type)
	}

	b.OnEnvelope(&event.Envelope{Type: event.TypeMedia, SessionID: 7})
	msg = readMessage(t, conn)
	if msg.Type != MsgEvents {
		t.Fatalf("second message = %q, want events", msg.Type)
	}
}

func TestWSOriginChecking(t *testing.T) {
	srv, _, _ := newTestServer(t, "", "", []string{"http://dash.example"})
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	if _, resp, err := websocket.DefaultDialer.Dial(wsURL+"/ws", header); err == nil {
		t.Error("disallowed origin accepted")
	} else if resp != nil {
		resp.Body.Close()
	}

	header = http.Header{"Origin": []string{"http://dash.example"}}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"/ws", header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}
