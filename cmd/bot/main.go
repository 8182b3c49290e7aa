package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"monsterarena.ai/internal/observerproto"
	"monsterarena.ai/internal/protocol"
)

// The bot plays the deploy-and-test session against a running server and
// exits non-zero on the first unexpected outcome.
func main() {
	var (
		url     = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		httpURL = flag.String("http", "http://localhost:8080", "observer/admin base url")
		prefix  = flag.String("prefix", "ACCT", "account name prefix")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)
	r := &runner{ws: *url, http: strings.TrimRight(*httpURL, "/"), log: logger}
	if err := r.run(*prefix); err != nil {
		logger.Fatalf("scenario failed: %v", err)
	}
	logger.Printf("scenario ok")
}

type runner struct {
	ws   string
	http string
	log  *log.Logger
}

type client struct {
	addr string
	conn *websocket.Conn
	n    int
}

func (r *runner) dial(addr string) (*client, protocol.WelcomeMsg, error) {
	var w protocol.WelcomeMsg
	conn, _, err := websocket.DefaultDialer.Dial(r.ws, nil)
	if err != nil {
		return nil, w, fmt.Errorf("dial: %w", err)
	}
	hello := protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Address: addr}
	if err := conn.WriteJSON(hello); err != nil {
		conn.Close()
		return nil, w, fmt.Errorf("send HELLO: %w", err)
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&w); err != nil {
		conn.Close()
		return nil, w, fmt.Errorf("read WELCOME: %w", err)
	}
	r.log.Printf("WELCOME %s session=%s arena=%s metric=%s", addr, w.SessionID, w.ArenaParams.ArenaID, w.ArenaParams.Metric)
	return &client{addr: addr, conn: conn}, w, nil
}

func (c *client) act(msg protocol.ActMsg) (protocol.ResultMsg, error) {
	c.n++
	msg.Type = protocol.TypeAct
	msg.ProtocolVersion = protocol.Version
	msg.ID = fmt.Sprintf("%s_%d", c.addr, c.n)
	var res protocol.ResultMsg
	if err := c.conn.WriteJSON(msg); err != nil {
		return res, err
	}
	_ = c.conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := c.conn.ReadJSON(&res); err != nil {
		return res, err
	}
	if res.ID != msg.ID {
		return res, fmt.Errorf("result id=%s want %s", res.ID, msg.ID)
	}
	return res, nil
}

// expect applies msg and checks the outcome; want is the engine reason code,
// empty for success.
func (c *client) expect(msg protocol.ActMsg, want string) (protocol.ResultMsg, error) {
	res, err := c.act(msg)
	if err != nil {
		return res, fmt.Errorf("%s %s: %w", c.addr, msg.Action, err)
	}
	if want == "" && !res.OK {
		return res, fmt.Errorf("%s %s: rejected %s/%s: %s", c.addr, msg.Action, res.Code, res.Reason, res.Message)
	}
	if want != "" && (res.OK || res.Reason != want) {
		return res, fmt.Errorf("%s %s: want %s, got ok=%v reason=%s", c.addr, msg.Action, want, res.OK, res.Reason)
	}
	return res, nil
}

func (c *client) moveN(dir string, n int) error {
	for i := 0; i < n; i++ {
		if _, err := c.expect(protocol.ActMsg{Action: protocol.ActMove, Direction: dir}, ""); err != nil {
			return err
		}
	}
	return nil
}

func (r *runner) spawn(x, y int64) (observerproto.SpawnResponse, error) {
	var out observerproto.SpawnResponse
	body, _ := json.Marshal(observerproto.SpawnRequest{X: x, Y: y})
	resp, err := http.Post(r.http+"/admin/v1/monsters", "application/json", bytes.NewReader(body))
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("spawn (%d,%d): status %d", x, y, resp.StatusCode)
	}
	return out, json.NewDecoder(resp.Body).Decode(&out)
}

func (r *runner) getJSON(path string, out any) error {
	resp, err := http.Get(r.http + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (r *runner) monsters() ([]observerproto.MonsterView, error) {
	var m observerproto.MonstersResponse
	err := r.getJSON("/v1/monsters", &m)
	return m.Monsters, err
}

func (r *runner) run(prefix string) error {
	before, err := r.monsters()
	if err != nil {
		return err
	}
	seen := map[uint64]bool{}
	for i := int64(0); i < 6; i++ {
		s, err := r.spawn(i, i)
		if err != nil {
			return err
		}
		if s.AssetID == 0 || seen[s.AssetID] {
			return fmt.Errorf("spawn %d: asset id %d not unique", i, s.AssetID)
		}
		seen[s.AssetID] = true
	}
	live, err := r.monsters()
	if err != nil {
		return err
	}
	if len(live) != len(before)+6 {
		return fmt.Errorf("live monsters=%d want %d", len(live), len(before)+6)
	}
	r.log.Printf("spawned 6 monsters, live=%d", len(live))

	var accts []*client
	for i := 0; i < 4; i++ {
		c, w, err := r.dial(fmt.Sprintf("%s%d", prefix, i))
		if err != nil {
			return err
		}
		defer c.conn.Close()
		if w.Player != nil && w.Player.State == "ONLINE" {
			return fmt.Errorf("%s already online; use a fresh -prefix", c.addr)
		}
		accts = append(accts, c)
	}
	a0, a1, a2, a3 := accts[0], accts[1], accts[2], accts[3]

	for _, c := range accts[:3] {
		if _, err := c.expect(protocol.ActMsg{Action: protocol.ActEnter}, ""); err != nil {
			return err
		}
	}
	if _, err := a0.expect(protocol.ActMsg{Action: protocol.ActEnter}, "ALREADY_ONLINE"); err != nil {
		return err
	}

	// Each account kills whatever currently sits at index 0.
	for _, c := range accts[:3] {
		live, err := r.monsters()
		if err != nil {
			return err
		}
		target := live[0].AssetID
		res, err := c.expect(protocol.ActMsg{Action: protocol.ActKill, AssetID: target}, "")
		if err != nil {
			return err
		}
		if res.Player == nil || res.Player.UnsecuredAsset != target {
			return fmt.Errorf("%s kill: player=%+v want unsecured %d", c.addr, res.Player, target)
		}
		if _, err := c.expect(protocol.ActMsg{Action: protocol.ActKill, AssetID: target}, "MONSTER_NOT_FOUND"); err != nil {
			return err
		}
		var asset observerproto.AssetResponse
		if err := r.getJSON(fmt.Sprintf("/v1/assets/%d", target), &asset); err != nil {
			return err
		}
		if asset.Holder != c.addr {
			return fmt.Errorf("asset %d holder=%s want %s", target, asset.Holder, c.addr)
		}
	}

	// Exit saves, enter restores.
	var cached protocol.PlayerView
	if err := r.getJSON("/v1/players/"+a0.addr, &cached); err != nil {
		return err
	}
	if _, err := a0.expect(protocol.ActMsg{Action: protocol.ActExit}, ""); err != nil {
		return err
	}
	res, err := a0.expect(protocol.ActMsg{Action: protocol.ActEnter}, "")
	if err != nil {
		return err
	}
	if res.Player == nil || res.Player.Score != cached.Score || res.Player.UnsecuredAsset != cached.UnsecuredAsset || res.Player.Pos != cached.Pos {
		return fmt.Errorf("restore: got %+v want %+v", res.Player, cached)
	}

	if _, err := a3.expect(protocol.ActMsg{Action: protocol.ActEnter}, ""); err != nil {
		return err
	}
	if _, err := a3.expect(protocol.ActMsg{Action: protocol.ActSecure}, "NO_UNSECURED_ASSET"); err != nil {
		return err
	}

	if err := a1.moveN("UP", 12); err != nil {
		return err
	}
	if _, err := a1.expect(protocol.ActMsg{Action: protocol.ActSecure}, "OUTSIDE_SAFE_ZONE"); err != nil {
		return err
	}
	for _, d := range []string{"UP", "UP", "UP", "RIGHT", "RIGHT", "LEFT"} {
		if err := a1.moveN(d, 1); err != nil {
			return err
		}
	}
	var p1 protocol.PlayerView
	if err := r.getJSON("/v1/players/"+a1.addr, &p1); err != nil {
		return err
	}
	if p1.Pos != [2]int64{1, 15} {
		return fmt.Errorf("%s pos=%v want [1 15]", a1.addr, p1.Pos)
	}

	if _, err := a2.expect(protocol.ActMsg{Action: protocol.ActSecure}, ""); err != nil {
		return err
	}
	if _, err := a2.expect(protocol.ActMsg{Action: protocol.ActSecure}, "NO_UNSECURED_ASSET"); err != nil {
		return err
	}

	if _, err := a2.expect(protocol.ActMsg{Action: protocol.ActSteal, Victim: a0.addr}, ""); err != nil {
		return err
	}
	if _, err := a2.expect(protocol.ActMsg{Action: protocol.ActSteal, Victim: a2.addr}, "SELF_STEAL"); err != nil {
		return err
	}
	if err := a1.moveN("RIGHT", 12); err != nil {
		return err
	}
	if _, err := a0.expect(protocol.ActMsg{Action: protocol.ActSteal, Victim: a1.addr}, "OUT_OF_RANGE"); err != nil {
		return err
	}

	// An offline player's saved loot can still be stolen.
	if _, err := a2.expect(protocol.ActMsg{Action: protocol.ActExit}, ""); err != nil {
		return err
	}
	if _, err := a3.expect(protocol.ActMsg{Action: protocol.ActSteal, Victim: a2.addr}, ""); err != nil {
		return err
	}

	final, err := r.monsters()
	if err != nil {
		return err
	}
	if len(final) != len(before)+3 {
		return fmt.Errorf("final live monsters=%d want %d", len(final), len(before)+3)
	}
	return nil
}
