package server

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/danmuck/blimpws/internal/client"
	"github.com/danmuck/blimpws/internal/protocol/schema"
	"github.com/danmuck/blimpws/internal/protocol/session"
	"github.com/danmuck/blimpws/internal/protocol/subprotocol"
	"github.com/danmuck/blimpws/internal/testutil/testlog"
	"github.com/danmuck/blimpws/internal/testutil/tlstest"
	"github.com/gorilla/websocket"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Name = "ground-test"
	cfg.ListenAddr = "127.0.0.1:0"
	return cfg
}

// start binds and runs srv; the returned stop cancels Run and waits for it.
func start(t *testing.T, cfg Config, handler Handler) (*Server, func()) {
	t.Helper()
	srv := New(cfg)
	if err := srv.Bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- srv.Run(ctx, handler)
	}()
	var once atomic.Bool
	stop := func() {
		if !once.CompareAndSwap(false, true) {
			return
		}
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("run: %v", err)
			}
		case <-time.After(3 * time.Second):
			t.Errorf("run did not stop")
		}
	}
	t.Cleanup(stop)
	return srv, stop
}

func wsURL(srv *Server) string {
	return "ws://" + srv.Addr() + srv.Config().Path
}

func connect(t *testing.T, url string, mutate func(*client.Config)) (*client.Client, *session.Session, error) {
	t.Helper()
	cfg := client.DefaultConfig()
	cfg.URL = url
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := client.New(cfg)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	sess, err := c.Connect(ctx)
	return c, sess, err
}

type exchangeResult struct {
	got       schema.VehicleMessage
	closedErr error
	err       error
}

// groundHandler receives one vehicle message, answers it and waits for close.
func groundHandler(results chan<- exchangeResult) Handler {
	return func(ctx context.Context, sess *session.Session) {
		var res exchangeResult
		res.got, res.err = session.Receive[schema.VehicleMessage](sess)
		if res.err == nil {
			res.err = sess.Send(schema.ReportMotorSpeed(2, 1500))
		}
		if res.err == nil {
			var next schema.VehicleMessage
			res.closedErr = sess.Recv(&next)
		}
		results <- res
	}
}

func TestEndToEndExchangeBothFlavours(t *testing.T) {
	testlog.Start(t)
	for _, sp := range subprotocol.All() {
		t.Run(sp.Flavour.String(), func(t *testing.T) {
			results := make(chan exchangeResult, 1)
			srv, _ := start(t, testConfig(), groundHandler(results))

			c, sess, err := connect(t, wsURL(srv), func(cfg *client.Config) {
				cfg.Offers = []subprotocol.Subprotocol{sp}
			})
			if err != nil {
				t.Fatalf("connect: %v", err)
			}
			if sess.Subprotocol() != sp {
				t.Fatalf("negotiated got=%s want=%s", sess.Subprotocol(), sp)
			}

			want := schema.DeclareInterest(schema.VizInterest{Motors: true})
			if err := c.Send(want); err != nil {
				t.Fatalf("send: %v", err)
			}
			var reply schema.GroundMessage
			if err := c.Recv(&reply); err != nil {
				t.Fatalf("recv: %v", err)
			}
			if reply.MotorSpeed == nil || reply.MotorSpeed.ID != 2 || reply.MotorSpeed.Speed != 1500 {
				t.Fatalf("reply got=%+v", reply)
			}
			if err := c.Disconnect(); err != nil {
				t.Fatalf("disconnect: %v", err)
			}

			select {
			case res := <-results:
				if res.err != nil {
					t.Fatalf("handler: %v", res.err)
				}
				if res.got.DeclareInterest == nil || *res.got.DeclareInterest != *want.DeclareInterest {
					t.Fatalf("handler got=%+v", res.got)
				}
				if !errors.Is(res.closedErr, session.ErrConnectionClosed) {
					t.Fatalf("handler expected ErrConnectionClosed after disconnect, got %v", res.closedErr)
				}
			case <-time.After(3 * time.Second):
				t.Fatalf("handler did not finish")
			}
		})
	}
}

func TestNegotiationFirstParseableWins(t *testing.T) {
	testlog.Start(t)
	chosen := make(chan subprotocol.Subprotocol, 1)
	srv, _ := start(t, testConfig(), func(ctx context.Context, sess *session.Session) {
		chosen <- sess.Subprotocol()
	})

	offers := []string{
		"spacecoffee.blimp.v99.json",
		"spacecoffee.blimp.v1.binary",
		"spacecoffee.blimp.v1.json",
	}
	dialer := websocket.Dialer{Subprotocols: offers, HandshakeTimeout: 2 * time.Second}
	conn, resp, err := dialer.Dial(wsURL(srv), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != offers[1] {
		t.Fatalf("echoed token got=%q want=%q", got, offers[1])
	}
	select {
	case sp := <-chosen:
		if sp != subprotocol.Default() {
			t.Fatalf("session bound to %s", sp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not dispatched")
	}
}

func TestNegotiationReadsEveryOfferLine(t *testing.T) {
	testlog.Start(t)
	chosen := make(chan subprotocol.Subprotocol, 1)
	srv, _ := start(t, testConfig(), func(ctx context.Context, sess *session.Session) {
		chosen <- sess.Subprotocol()
	})

	// gorilla's Dialer folds offers into one line, so the request is written by hand
	conn, err := net.DialTimeout("tcp", srv.Addr(), 2*time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	req := fmt.Sprintf("GET %s HTTP/1.1\r\n"+
		"Host: %s\r\n"+
		"Upgrade: websocket\r\n"+
		"Connection: Upgrade\r\n"+
		"Sec-WebSocket-Version: 13\r\n"+
		"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n"+
		"Sec-WebSocket-Protocol: spacecoffee.blimp.v99.json\r\n"+
		"Sec-WebSocket-Protocol: spacecoffee.blimp.v1.binary, spacecoffee.blimp.v1.json\r\n"+
		"\r\n", srv.Config().Path, srv.Addr())
	if _, err := io.WriteString(conn, req); err != nil {
		t.Fatalf("write handshake: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("read handshake response: %v", err)
	}
	if resp.StatusCode != http.StatusSwitchingProtocols {
		t.Fatalf("offer split over two lines: status=%d", resp.StatusCode)
	}
	if got := resp.Header.Get("Sec-Websocket-Protocol"); got != "spacecoffee.blimp.v1.binary" {
		t.Fatalf("echoed token got=%q", got)
	}
	select {
	case sp := <-chosen:
		if sp != subprotocol.Default() {
			t.Fatalf("session bound to %s", sp)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not dispatched")
	}
}

func TestNegotiationTotalFailure(t *testing.T) {
	testlog.Start(t)
	var called atomic.Int32
	srv, _ := start(t, testConfig(), func(ctx context.Context, sess *session.Session) {
		called.Add(1)
	})

	for _, offers := range [][]string{
		{"foo", "spacecoffee.blimp.v2.json"},
		{"spacecoffee.blimp.v1.xml"},
		nil,
	} {
		dialer := websocket.Dialer{Subprotocols: offers, HandshakeTimeout: 2 * time.Second}
		_, resp, err := dialer.Dial(wsURL(srv), nil)
		if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil {
			t.Fatalf("offers=%v expected bad handshake, got %v", offers, err)
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusBadRequest || string(body) != NoValidSubprotocolsBody {
			t.Fatalf("offers=%v status=%d body=%q", offers, resp.StatusCode, body)
		}
	}

	_, _, err := connect(t, wsURL(srv), func(cfg *client.Config) {
		cfg.Offers = nil
	})
	if err != nil {
		t.Fatalf("valid default offer should still connect: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := called.Load(); n != 1 {
		t.Fatalf("handler calls got=%d want=1", n)
	}
}

func TestClientSeesRejectedHandshake(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.AuthToken = "s3cret"
	var called atomic.Int32
	srv, _ := start(t, cfg, func(ctx context.Context, sess *session.Session) {
		called.Add(1)
	})

	_, _, err := connect(t, wsURL(srv), nil)
	if !errors.Is(err, client.ErrHandshakeRejected) || !strings.Contains(err.Error(), "status=401") {
		t.Fatalf("expected 401 rejection, got %v", err)
	}
	_, _, err = connect(t, wsURL(srv), func(c *client.Config) { c.AuthToken = "wrong" })
	if !errors.Is(err, client.ErrHandshakeRejected) {
		t.Fatalf("expected rejection for wrong token, got %v", err)
	}
	c, _, err := connect(t, wsURL(srv), func(c *client.Config) { c.AuthToken = "s3cret" })
	if err != nil {
		t.Fatalf("connect with token: %v", err)
	}
	defer c.Disconnect()
	time.Sleep(50 * time.Millisecond)
	if n := called.Load(); n != 1 {
		t.Fatalf("handler calls got=%d want=1", n)
	}
}

func TestShutdownClosesLiveSessions(t *testing.T) {
	testlog.Start(t)
	handlerErr := make(chan error, 1)
	srv, stop := start(t, testConfig(), func(ctx context.Context, sess *session.Session) {
		var msg schema.VehicleMessage
		handlerErr <- sess.Recv(&msg)
	})

	c, _, err := connect(t, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for srv.ActiveSessions() != 1 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}

	stop()
	select {
	case err := <-handlerErr:
		if !errors.Is(err, session.ErrConnectionClosed) {
			t.Fatalf("handler expected ErrConnectionClosed, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not released by shutdown")
	}
	var out schema.GroundMessage
	if err := c.Recv(&out); !errors.Is(err, session.ErrConnectionClosed) {
		t.Fatalf("client expected ErrConnectionClosed, got %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("listener should be released after shutdown")
	}
}

func TestBlockedHandlerDoesNotStallAccept(t *testing.T) {
	testlog.Start(t)
	release := make(chan struct{})
	defer close(release)
	entered := make(chan uint64, 2)
	var calls atomic.Int32
	srv, _ := start(t, testConfig(), func(ctx context.Context, sess *session.Session) {
		entered <- sess.ID()
		if calls.Add(1) == 1 {
			select {
			case <-release:
			case <-ctx.Done():
			}
		}
	})

	first, _, err := connect(t, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("first connect: %v", err)
	}
	defer first.Disconnect()
	var firstID uint64
	select {
	case firstID = <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("first handler not dispatched")
	}

	second, _, err := connect(t, wsURL(srv), nil)
	if err != nil {
		t.Fatalf("second connect while first handler blocked: %v", err)
	}
	defer second.Disconnect()
	select {
	case id := <-entered:
		if id == firstID {
			t.Fatalf("second handler reused session %d", id)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("second handler not dispatched while first is blocked")
	}
	if n := srv.ActiveSessions(); n < 1 {
		t.Fatalf("blocked session should still be tracked, active=%d", n)
	}
}

func TestUpgradeAfterShutdownIsRefused(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig())
	var called atomic.Int32
	engine := srv.Engine(context.Background(), func(context.Context, *session.Session) {
		called.Add(1)
	})
	hs := httptest.NewServer(engine)
	defer hs.Close()

	// shutdown has already drained the tracked sessions
	srv.closeAllSessions()

	c, _, err := connect(t, "ws"+strings.TrimPrefix(hs.URL, "http")+srv.Config().Path, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	var out schema.GroundMessage
	err = c.Recv(&out)
	if !errors.Is(err, session.ErrConnectionClosed) || !strings.Contains(err.Error(), fmt.Sprintf("code=%d", websocket.CloseGoingAway)) {
		t.Fatalf("late session expected going-away close, got %v", err)
	}
	if n := called.Load(); n != 0 {
		t.Fatalf("handler ran %d times after shutdown", n)
	}
	if n := srv.ActiveSessions(); n != 0 {
		t.Fatalf("late session tracked, active=%d", n)
	}
}

func TestBindLifecycle(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig())
	if err := srv.Run(context.Background(), func(context.Context, *session.Session) {}); !errors.Is(err, ErrNotBound) {
		t.Fatalf("run unbound: expected ErrNotBound, got %v", err)
	}
	if err := srv.Bind(); err != nil {
		t.Fatalf("bind: %v", err)
	}
	defer srv.Unbind()
	if err := srv.Bind(); !errors.Is(err, ErrAlreadyBound) {
		t.Fatalf("double bind: expected ErrAlreadyBound, got %v", err)
	}

	taken := testConfig()
	taken.ListenAddr = srv.Addr()
	if err := New(taken).Bind(); !errors.Is(err, ErrAddressInUse) {
		t.Fatalf("expected ErrAddressInUse, got %v", err)
	}

	if err := srv.Unbind(); err != nil {
		t.Fatalf("unbind: %v", err)
	}
	if err := srv.Unbind(); err != nil {
		t.Fatalf("second unbind: %v", err)
	}
	if srv.Addr() != "" {
		t.Fatalf("addr after unbind=%q", srv.Addr())
	}
}

func TestConfigValidate(t *testing.T) {
	testlog.Start(t)
	cfg := Config{Path: "ws", CorsOrigins: []string{"ops.local"}}.WithDefaults()
	if cfg.Path != "/ws" || cfg.Name != "groundctl" {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if err := cfg.Validate(); !errors.Is(err, ErrInvalidOrigin) {
		t.Fatalf("expected ErrInvalidOrigin, got %v", err)
	}
	cfg.CorsOrigins = []string{"*"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("wildcard origin: %v", err)
	}
}

func TestHealthAndMetricsRoutes(t *testing.T) {
	testlog.Start(t)
	srv := New(testConfig())
	engine := srv.Engine(context.Background(), func(context.Context, *session.Session) {})

	rr := httptest.NewRecorder()
	engine.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("health status=%d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body["status"] != "ok" || body["component"] != "ground-test" {
		t.Fatalf("health body=%v", body)
	}

	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "blimpws_session_active") {
		t.Fatalf("metrics status=%d", rr.Code)
	}

	rr = httptest.NewRecorder()
	engine.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rr.Code != http.StatusBadRequest || rr.Body.String() != NoValidSubprotocolsBody {
		t.Fatalf("plain GET on upgrade path status=%d body=%q", rr.Code, rr.Body.String())
	}
}

func TestCorsOriginGatesUpgrade(t *testing.T) {
	testlog.Start(t)
	cfg := testConfig()
	cfg.CorsOrigins = []string{"http://ops.local"}
	srv, _ := start(t, cfg, func(ctx context.Context, sess *session.Session) {})

	dial := func(origin string) (*http.Response, error) {
		dialer := websocket.Dialer{Subprotocols: []string{subprotocol.Default().String()}, HandshakeTimeout: 2 * time.Second}
		conn, resp, err := dialer.Dial(wsURL(srv), http.Header{"Origin": []string{origin}})
		if conn != nil {
			_ = conn.Close()
		}
		return resp, err
	}
	if _, err := dial("http://ops.local"); err != nil {
		t.Fatalf("allowed origin: %v", err)
	}
	resp, err := dial("http://evil.local")
	if !errors.Is(err, websocket.ErrBadHandshake) || resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Fatalf("disallowed origin expected 403, got resp=%v err=%v", resp, err)
	}
}

func TestTLSRoundTrip(t *testing.T) {
	testlog.Start(t)
	ca := tlstest.New(t, "blimpws-ca")
	ground := ca.Ground(t)

	cfg := testConfig()
	cfg.Session.TLS = session.TLSConfig{Enabled: true, CertFile: ground.CertFile, KeyFile: ground.KeyFile}
	results := make(chan exchangeResult, 1)
	srv, _ := start(t, cfg, groundHandler(results))

	c, _, err := connect(t, "wss://"+srv.Addr()+cfg.Path, func(c *client.Config) {
		c.Session.TLS = session.TLSConfig{Enabled: true, CAFile: ca.CAFile()}
	})
	if err != nil {
		t.Fatalf("wss connect: %v", err)
	}
	if err := c.Send(schema.SendControls(schema.Controls{Elevation: 12})); err != nil {
		t.Fatalf("send: %v", err)
	}
	reply, err := session.Receive[schema.GroundMessage](c.Session())
	if err != nil || reply.MotorSpeed == nil {
		t.Fatalf("recv got=%+v err=%v", reply, err)
	}
	if err := c.Disconnect(); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	res := <-results
	if res.err != nil || res.got.Controls == nil || res.got.Controls.Elevation != 12 {
		t.Fatalf("handler result=%+v", res)
	}
}
