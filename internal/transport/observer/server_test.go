package observer

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

	"monsterarena.ai/internal/observerproto"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/ledger"
)

func newTestServer(t *testing.T, snap Snapshotter) (*arena.Engine, *Hub, *httptest.Server) {
	t.Helper()
	hub := NewHub()
	e, err := arena.New(arena.Config{ID: "ARENA_TEST", Pool: "POOL", Rules: spatial.DefaultRules()}, ledger.NewMemoryLedger(), arena.WithCommitHook(hub.Publish))
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	mux := http.NewServeMux()
	obs := NewServer(e, hub, snap, nil)
	obs.Register(mux)
	obs.RegisterAdmin(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return e, hub, srv
}

func getJSON(t *testing.T, url string, wantStatus int, out any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("get %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		t.Fatalf("get %s: status=%d want %d", url, resp.StatusCode, wantStatus)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", url, err)
		}
	}
}

func TestAdminSpawnAndReadViews(t *testing.T) {
	e, _, srv := newTestServer(t, nil)

	body, _ := json.Marshal(observerproto.SpawnRequest{X: 2, Y: 2})
	resp, err := http.Post(srv.URL+"/admin/v1/monsters", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	var spawned observerproto.SpawnResponse
	_ = json.NewDecoder(resp.Body).Decode(&spawned)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || spawned.AssetID == 0 || spawned.Seq != 1 {
		t.Fatalf("spawn status=%d resp=%+v", resp.StatusCode, spawned)
	}

	var boot observerproto.BootstrapResponse
	getJSON(t, srv.URL+"/v1/bootstrap", http.StatusOK, &boot)
	if boot.Digest != e.Digest() || len(boot.Monsters) != 1 || boot.Monsters[0].Pos != [2]int64{2, 2} {
		t.Fatalf("bootstrap=%+v", boot)
	}
	if boot.ArenaParams.Pool != "POOL" {
		t.Fatalf("arena params=%+v", boot.ArenaParams)
	}

	resp, err = http.Get(srv.URL + "/v1/boxes/MONSTERS")
	if err != nil {
		t.Fatalf("box: %v", err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	resp.Body.Close()
	if buf.Len() != 8+monsters.RecordSize || !bytes.Equal(buf.Bytes(), e.MonstersBox()) {
		t.Fatalf("monsters box: % x", buf.Bytes())
	}

	var asset observerproto.AssetResponse
	getJSON(t, srv.URL+"/v1/assets/"+ledger.AssetID(spawned.AssetID).String(), http.StatusOK, &asset)
	if asset.Holder != "POOL" || asset.Clawback != "POOL" || asset.Total != 1 {
		t.Fatalf("asset=%+v", asset)
	}
	getJSON(t, srv.URL+"/v1/assets/999", http.StatusNotFound, nil)
	getJSON(t, srv.URL+"/v1/assets/zero", http.StatusBadRequest, nil)
}

func TestPlayerViews(t *testing.T) {
	e, _, srv := newTestServer(t, nil)
	ctx := context.Background()
	if _, err := e.Apply(ctx, arena.EnterPlayer{Addr: "P1"}); err != nil {
		t.Fatalf("enter: %v", err)
	}
	if _, err := e.Apply(ctx, arena.Move{Addr: "P1", Dir: spatial.Up}); err != nil {
		t.Fatalf("move: %v", err)
	}

	var errResp observerproto.ErrorResponse
	getJSON(t, srv.URL+"/v1/boxes/players/P1", http.StatusNotFound, &errResp)
	if errResp.Reason != "NO_SNAPSHOT" {
		t.Fatalf("online player has no saved box: %+v", errResp)
	}

	if _, err := e.Apply(ctx, arena.ExitAndSave{Addr: "P1"}); err != nil {
		t.Fatalf("exit: %v", err)
	}
	var saved observerproto.PlayersResponse
	getJSON(t, srv.URL+"/v1/players?saved=1", http.StatusOK, &saved)
	if len(saved.Players) != 1 || saved.Players[0].State != "OFFLINE" || saved.Players[0].Pos != [2]int64{0, 1} {
		t.Fatalf("saved=%+v", saved)
	}
	getJSON(t, srv.URL+"/v1/players", http.StatusBadRequest, nil)
	getJSON(t, srv.URL+"/v1/players/NOBODY", http.StatusNotFound, nil)
}

func TestAdminRequiresLoopback(t *testing.T) {
	e, err := arena.New(arena.Config{ID: "A", Pool: "POOL"}, ledger.NewMemoryLedger())
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	mux := http.NewServeMux()
	NewServer(e, nil, nil, nil).RegisterAdmin(mux)

	req := httptest.NewRequest(http.MethodPost, "/admin/v1/monsters", strings.NewReader(`{"x":0,"y":0}`))
	req.RemoteAddr = "203.0.113.5:4444"
	rw := httptest.NewRecorder()
	mux.ServeHTTP(rw, req)
	if rw.Code != http.StatusForbidden {
		t.Fatalf("status=%d", rw.Code)
	}
	if e.Seq() != 0 {
		t.Fatalf("forbidden spawn reached the engine")
	}

	for addr, want := range map[string]bool{"127.0.0.1:1": true, "[::1]:80": true, "10.0.0.1:5": false, "bogus": false} {
		if got := isLoopbackRemote(addr); got != want {
			t.Fatalf("isLoopbackRemote(%q)=%v", addr, got)
		}
	}
}

func TestAdminSnapshot(t *testing.T) {
	called := false
	_, _, srv := newTestServer(t, func(ctx context.Context) (string, uint64, error) {
		called = true
		return "/tmp/x.snap.zst", 7, nil
	})
	resp, err := http.Post(srv.URL+"/admin/v1/snapshot", "application/json", nil)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	var out observerproto.SnapshotResponse
	_ = json.NewDecoder(resp.Body).Decode(&out)
	if !called || out.Seq != 7 || out.Path != "/tmp/x.snap.zst" {
		t.Fatalf("snapshot resp=%+v called=%v", out, called)
	}
}

func waitSubscribers(t *testing.T, h *Hub, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		h.mu.Lock()
		got := len(h.subs)
		h.mu.Unlock()
		if got == n {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("subscribers never reached %d", n)
}

func TestObserveStreamsFilteredEvents(t *testing.T) {
	e, hub, srv := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	if err := conn.WriteJSON(observerproto.SubscribeMsg{Type: "SUBSCRIBE", ProtocolVersion: observerproto.Version, Address: "P2"}); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	waitSubscribers(t, hub, 1)

	ctx := context.Background()
	_, _ = e.Apply(ctx, arena.EnterPlayer{Addr: "P1"})
	_, _ = e.Apply(ctx, arena.EnterPlayer{Addr: "P2"})

	var ev observerproto.EventMsg
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != "EVENT" || ev.Actor != "P2" || ev.Seq != 2 || ev.Action != "ENTER" || ev.Digest != e.Digest() {
		t.Fatalf("event=%+v", ev)
	}
}

func TestObserveRejectsMissingSubscribe(t *testing.T) {
	_, hub, srv := newTestServer(t, nil)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/v1/observe"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.WriteJSON(map[string]string{"type": "HELLO"})
	_ = conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
		t.Fatalf("expected policy close, got %v", err)
	}
	if hub.Dropped() != 0 {
		t.Fatalf("unexpected drops")
	}
}
