package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/a-essam23/go-signal/pkg/config"
	"github.com/a-essam23/go-signal/pkg/state"
	"github.com/a-essam23/go-signal/pkg/state/statemanager"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:            8080,
			StaticDir:       filepath.Join(os.TempDir(), "gosignal-no-such-dir"),
			AllowedOrigins:  []string{"*"},
			ShutdownTimeout: 5 * time.Second,
			ConnectionLimit: config.ConnectionLimitConfig{Mode: config.LimitModeReject},
		},
		Transport: config.TransportConfig{
			HeartbeatInterval: 30 * time.Second,
			PongTimeout:       10 * time.Second,
			WriteTimeout:      10 * time.Second,
			SendQueueSize:     64,
			ReadLimit:         64 * 1024,
		},
		Rooms: config.RoomsConfig{MaxIDAttempts: 16},
		ICE: config.ICEConfig{Servers: []config.ICEServerConfig{
			{URLs: config.DefaultICEServers},
		}},
		Log: config.LogConfig{Level: "info", Format: "text"},
	}
}

type testServer struct {
	app *App
	srv *httptest.Server
}

func startServer(t *testing.T, cfg *config.Config) *testServer {
	t.Helper()
	app, err := NewApp(newTestLogger(), context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return &testServer{app: app, srv: srv}
}

func (s *testServer) wsURL() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

type client struct {
	t    *testing.T
	conn *websocket.Conn
}

func (s *testServer) dial(t *testing.T) *client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, s.wsURL(), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return &client{t: t, conn: conn}
}

func (c *client) send(msg string) {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, []byte(msg)); err != nil {
		c.t.Fatalf("write: %v", err)
	}
}

func (c *client) readRaw() string {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Fatalf("read: %v", err)
	}
	return string(data)
}

type frame struct {
	Type    string          `json:"type"`
	PeerID  string          `json:"peer_id"`
	RoomID  string          `json:"room_id"`
	Peers   []string        `json:"peers"`
	Sender  string          `json:"sender"`
	Payload json.RawMessage `json:"payload"`
}

func (c *client) read(wantType string) frame {
	c.t.Helper()
	raw := c.readRaw()
	var f frame
	if err := json.Unmarshal([]byte(raw), &f); err != nil {
		c.t.Fatalf("decode %s: %v", raw, err)
	}
	if f.Type != wantType {
		c.t.Fatalf("expected %q frame, got %s", wantType, raw)
	}
	return f
}

// join sends a join and returns the joined reply.
func (c *client) join(room string) frame {
	c.t.Helper()
	if room == "" {
		c.send(`{"action":"join"}`)
	} else {
		c.send(`{"action":"join","room":"` + room + `"}`)
	}
	return c.read("joined")
}

// expectNothing asserts no frame arrives within a short window.
func (c *client) expectNothing() {
	c.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()
	if _, data, err := c.conn.Read(ctx); err == nil {
		c.t.Fatalf("unexpected frame %s", data)
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestJoinAnnouncesPeers(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)

	joinedA := a.join("alpha")
	if joinedA.RoomID != "alpha" || len(joinedA.Peers) != 0 || joinedA.PeerID == "" {
		t.Fatalf("unexpected first joined reply %+v", joinedA)
	}

	joinedB := b.join("alpha")
	if len(joinedB.Peers) != 1 || joinedB.Peers[0] != joinedA.PeerID {
		t.Fatalf("B should see A, got %v", joinedB.Peers)
	}
	if announced := a.read("peer-joined"); announced.PeerID != joinedB.PeerID {
		t.Fatalf("A was told about %q, want %q", announced.PeerID, joinedB.PeerID)
	}
}

func TestSignalIsRelayedVerbatim(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)
	idA := a.join("alpha").PeerID
	idB := b.join("alpha").PeerID
	a.read("peer-joined")

	payload := `{"sdp":"v=0\r\no=- 46117 2 IN IP4 127.0.0.1\r\n",  "type" : "offer"}`
	a.send(`{"action":"signal","target":"` + idB + `","payload":` + payload + `}`)

	raw := b.readRaw()
	want := `{"type":"signal","sender":"` + idA + `","payload":` + payload + `}`
	if raw != want {
		t.Fatalf("signal mismatch\n got: %s\nwant: %s", raw, want)
	}
	a.expectNothing()
}

func TestSignalToUnknownTargetKeepsConnection(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)
	a.join("alpha")
	idB := b.join("alpha").PeerID
	a.read("peer-joined")

	a.send(`{"action":"signal","target":"nonexistent","payload":{}}`)
	a.expectNothing()
	b.expectNothing()

	a.send(`{"action":"signal","target":"` + idB + `","payload":"still here"}`)
	if got := b.read("signal"); string(got.Payload) != `"still here"` {
		t.Fatalf("unexpected payload %s", got.Payload)
	}
}

func TestDisconnectNotifiesAndCleansRoom(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)
	idA := a.join("alpha").PeerID
	b.join("alpha")
	a.read("peer-joined")

	a.conn.Close(websocket.StatusNormalClosure, "")

	if left := b.read("peer-left"); left.PeerID != idA {
		t.Fatalf("peer-left for %q, want %q", left.PeerID, idA)
	}
	if _, ok := s.app.registry.FindRoom("alpha"); !ok {
		t.Fatal("alpha must survive while B is in it")
	}

	b.conn.Close(websocket.StatusNormalClosure, "")
	eventually(t, "room alpha to be deleted", func() bool {
		_, ok := s.app.registry.FindRoom("alpha")
		return !ok
	})
	eventually(t, "sessions to be deregistered", func() bool {
		return s.app.registry.SessionCount() == 0
	})
}

func TestJoinWithoutRoomGeneratesID(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)

	first := a.join("").RoomID
	second := b.join("").RoomID
	if first == "" || second == "" || first == second {
		t.Fatalf("generated room ids must be non-empty and distinct: %q %q", first, second)
	}
}

func TestLeaveAction(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)
	idA := a.join("alpha").PeerID
	b.join("alpha")
	a.read("peer-joined")

	a.send(`{"action":"leave"}`)
	if left := b.read("peer-left"); left.PeerID != idA {
		t.Fatalf("peer-left for %q, want %q", left.PeerID, idA)
	}

	// A can join again and is announced afresh.
	if again := a.join("alpha"); len(again.Peers) != 1 {
		t.Fatalf("rejoin should see B, got %v", again.Peers)
	}
	b.read("peer-joined")
}

func TestMalformedInputNeverClosesOrReplies(t *testing.T) {
	s := startServer(t, testConfig())
	a := s.dial(t)

	for _, msg := range []string{
		"not json at all",
		`{"room":"alpha"}`,
		`{"action":"fly"}`,
		`[1,2,3]`,
		`{"action":"signal","target":"x"}`,
	} {
		a.send(msg)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.conn.Write(ctx, websocket.MessageBinary, []byte{0xff, 0x00}); err != nil {
		t.Fatalf("binary write: %v", err)
	}
	a.expectNothing()

	// The first frame after all of that is the joined reply.
	if joined := a.join("alpha"); joined.RoomID != "alpha" {
		t.Fatalf("unexpected reply %+v", joined)
	}
}

func TestInvalidUTF8NeverReachesOtherPeers(t *testing.T) {
	s := startServer(t, testConfig())
	a, b := s.dial(t), s.dial(t)
	a.join("alpha")
	idB := b.join("alpha").PeerID
	a.read("peer-joined")

	a.send(`{"action":"signal","target":"` + idB + `","payload":{"sdp":"x` + "\xff\xfe" + `"}}`)
	b.expectNothing()

	// Both connections survive and the next valid signal gets through.
	a.send(`{"action":"signal","target":"` + idB + `","payload":{"sdp":"ok"}}`)
	if f := b.read("signal"); string(f.Payload) != `{"sdp":"ok"}` {
		t.Fatalf("unexpected payload %s", f.Payload)
	}
}

func TestConfigEndpoint(t *testing.T) {
	s := startServer(t, testConfig())

	res, err := http.Get(s.srv.URL + "/config")
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		t.Fatalf("status %d", res.StatusCode)
	}
	var body struct {
		ICEServers []struct {
			URLs []string `json:"urls"`
		} `json:"iceServers"`
	}
	if err := json.NewDecoder(res.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if len(body.ICEServers) != 1 || len(body.ICEServers[0].URLs) != 3 {
		t.Fatalf("unexpected ice servers %+v", body)
	}
	if body.ICEServers[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Errorf("unexpected first url %q", body.ICEServers[0].URLs[0])
	}

	res, err = http.Post(s.srv.URL+"/config", "application/json", nil)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("POST /config status %d", res.StatusCode)
	}
}

func TestHealthMetricsAndStatic(t *testing.T) {
	cfg := testConfig()
	cfg.Server.StaticDir = t.TempDir()
	if err := os.WriteFile(filepath.Join(cfg.Server.StaticDir, "index.html"), []byte("<h1>relay</h1>"), 0o600); err != nil {
		t.Fatal(err)
	}
	s := startServer(t, cfg)
	a := s.dial(t)
	a.join("alpha")

	get := func(path string) (int, string) {
		res, err := http.Get(s.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		defer res.Body.Close()
		body, _ := io.ReadAll(res.Body)
		return res.StatusCode, string(body)
	}

	if code, body := get("/healthz"); code != http.StatusOK || body != "ok\n" {
		t.Errorf("healthz = %d %q", code, body)
	}
	if code, body := get("/"); code != http.StatusOK || !strings.Contains(body, "relay") {
		t.Errorf("index = %d %q", code, body)
	}
	code, body := get("/metrics")
	if code != http.StatusOK {
		t.Fatalf("metrics status %d", code)
	}
	for _, want := range []string{
		"gosignal_connections_total 1",
		"gosignal_rooms_active 1",
		"gosignal_sessions_active 1",
		`gosignal_messages_received_total{action="join"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}
}

func TestConnectionLimitRejects(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerIP: 1, Mode: config.LimitModeReject}
	s := startServer(t, cfg)
	s.dial(t)
	eventually(t, "first session to register", func() bool { return s.app.registry.SessionCount() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, res, err := websocket.Dial(ctx, s.wsURL(), nil)
	if err == nil {
		t.Fatal("expected the second connection to be rejected")
	}
	if res == nil || res.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %+v", res)
	}
}

func TestConnectionLimitCycles(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerIP: 1, Mode: config.LimitModeCycle}
	s := startServer(t, cfg)
	old := s.dial(t)
	eventually(t, "first session to register", func() bool { return s.app.registry.SessionCount() == 1 })

	// The old client must keep reading so the close handshake completes.
	closed := make(chan error, 1)
	go func() {
		_, _, err := old.conn.Read(context.Background())
		closed <- err
	}()

	fresh := s.dial(t)
	select {
	case <-closed:
	case <-time.After(3 * time.Second):
		t.Fatal("oldest connection was not cycled")
	}
	if joined := fresh.join("alpha"); joined.RoomID != "alpha" {
		t.Fatalf("new connection unusable: %+v", joined)
	}
}

// stuckSink never finishes a close handshake.
type stuckSink struct {
	closing chan struct{}
	release chan struct{}
}

func (s *stuckSink) Send([]byte) error { return nil }

func (s *stuckSink) Close(error) {
	close(s.closing)
	<-s.release
}

func TestCyclingDoesNotWaitForTheEvictedPeer(t *testing.T) {
	s := startServer(t, testConfig())
	sink := &stuckSink{closing: make(chan struct{}), release: make(chan struct{})}
	t.Cleanup(func() { close(sink.release) })
	if err := s.app.registry.RegisterSession(state.NewSession(uuid.New(), "192.0.2.7", sink)); err != nil {
		t.Fatal(err)
	}

	returned := make(chan struct{})
	go func() {
		s.app.cycleOldest("192.0.2.7")
		close(returned)
	}()
	select {
	case <-returned:
	case <-time.After(time.Second):
		t.Fatal("cycleOldest blocked on the evicted peer's close")
	}
	select {
	case <-sink.closing:
	case <-time.After(time.Second):
		t.Fatal("evicted peer was never closed")
	}
}

func TestRejectModeCapsRegistration(t *testing.T) {
	cfg := testConfig()
	cfg.Server.ConnectionLimit = config.ConnectionLimitConfig{MaxPerIP: 1, Mode: config.LimitModeReject}
	s := startServer(t, cfg)

	// Two upgrades that both passed the middleware's count race to register.
	first := state.NewSession(uuid.New(), "192.0.2.8", &stuckSink{})
	second := state.NewSession(uuid.New(), "192.0.2.8", &stuckSink{})
	if err := s.app.registerSession(first); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	if err := s.app.registerSession(second); !errors.Is(err, statemanager.ErrIPLimitReached) {
		t.Fatalf("expected ErrIPLimitReached, got %v", err)
	}

	cfg.Server.ConnectionLimit.Mode = config.LimitModeCycle
	if err := s.app.registerSession(second); err != nil {
		t.Fatalf("cycle mode must not cap registration: %v", err)
	}
}

func TestShutdownClosesPeers(t *testing.T) {
	s := startServer(t, testConfig())
	a := s.dial(t)
	a.join("alpha")

	errCh := make(chan error, 1)
	go func() { errCh <- s.app.Shutdown() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, _, err := a.conn.Read(ctx); websocket.CloseStatus(err) != websocket.StatusNormalClosure {
		t.Fatalf("expected a normal close, got %v", err)
	}
	if err := <-errCh; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if s.app.registry.RoomCount() != 0 || s.app.registry.SessionCount() != 0 {
		t.Error("shutdown must leave no rooms or sessions behind")
	}
}

func TestAcceptOptions(t *testing.T) {
	if opts := acceptOptions([]string{"*"}); !opts.InsecureSkipVerify {
		t.Error("wildcard origin should skip origin checks")
	}
	opts := acceptOptions([]string{"https://app.example.com", "localhost:3000"})
	if opts.InsecureSkipVerify {
		t.Fatal("explicit origins must be verified")
	}
	if strings.Join(opts.OriginPatterns, ",") != "app.example.com,localhost:3000" {
		t.Errorf("unexpected patterns %v", opts.OriginPatterns)
	}
}
