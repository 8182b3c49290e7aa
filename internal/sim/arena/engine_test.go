package arena

import (
	"context"
	"errors"
	"testing"

	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

const testPool ledger.AccountID = "POOL"

type memLogs struct {
	actions []ActionLogEntry
	custody []CustodyEntry
}

func (m *memLogs) WriteAction(e ActionLogEntry) error { m.actions = append(m.actions, e); return nil }
func (m *memLogs) WriteCustody(e CustodyEntry) error  { m.custody = append(m.custody, e); return nil }

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *ledger.MemoryLedger) {
	t.Helper()
	l := ledger.NewMemoryLedger()
	e, err := New(Config{ID: "ARENA_TEST", Pool: testPool, Rules: spatial.DefaultRules()}, l, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return e, l
}

func mustApply(t *testing.T, e *Engine, a Action) Result {
	t.Helper()
	res, err := e.Apply(context.Background(), a)
	if err != nil {
		t.Fatalf("%s: %v", a.Name(), err)
	}
	return res
}

func mustReject(t *testing.T, e *Engine, a Action, code arenaerr.Code) {
	t.Helper()
	before := e.Digest()
	_, err := e.Apply(context.Background(), a)
	if arenaerr.CodeOf(err) != code {
		t.Fatalf("%s: expected %s, got %v", a.Name(), code, err)
	}
	if after := e.Digest(); after != before {
		t.Fatalf("%s: rejected action changed state", a.Name())
	}
}

func spawn(t *testing.T, e *Engine, x, y int64) ledger.AssetID {
	t.Helper()
	return mustApply(t, e, SpawnMonster{Pos: spatial.Position{X: x, Y: y}}).Asset
}

func player(t *testing.T, e *Engine, addr ledger.AccountID) PlayerState {
	t.Helper()
	ps, err := e.Player(addr)
	if err != nil {
		t.Fatalf("player %s: %v", addr, err)
	}
	return ps
}

func moveN(t *testing.T, e *Engine, addr ledger.AccountID, d spatial.Direction, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		mustApply(t, e, Move{Addr: addr, Dir: d})
	}
}

func TestEngine_SpawnDiagonalMintsUniqueAssets(t *testing.T) {
	e, l := newTestEngine(t)
	seen := map[ledger.AssetID]bool{}
	var want []monsters.Monster
	for i := int64(0); i < 6; i++ {
		id := spawn(t, e, i, i)
		if id == ledger.NoAsset || seen[id] {
			t.Fatalf("spawn %d: asset %d not fresh", i, id)
		}
		seen[id] = true
		want = append(want, monsters.Monster{Pos: spatial.Position{X: i, Y: i}, Asset: id})

		a, ok := l.Asset(id)
		if !ok {
			t.Fatalf("asset %d not on ledger", id)
		}
		if a.Holder != testPool || a.Params.Manager != testPool || a.Params.Freeze != testPool || a.Params.Clawback != testPool {
			t.Fatalf("asset %d authority not held by pool: %+v", id, a)
		}
		if a.Params.Total != 1 {
			t.Fatalf("asset %d total=%d", id, a.Params.Total)
		}
	}
	got := e.Monsters()
	if len(got) != len(want) {
		t.Fatalf("monsters=%d want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("monster %d = %+v want %+v", i, got[i], want[i])
		}
	}
	list, err := monsters.DecodeBox(e.MonstersBox())
	if err != nil || len(list) != 6 {
		t.Fatalf("box decode: %d %v", len(list), err)
	}
}

func TestEngine_KillIsExactlyOnce(t *testing.T) {
	e, l := newTestEngine(t)
	a := spawn(t, e, 3, 3)
	_ = spawn(t, e, 4, 4)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	mustApply(t, e, EnterPlayer{Addr: "P2"})

	res := mustApply(t, e, KillMonster{Addr: "P1", Asset: a})
	if res.Asset != a || res.Digest == "" {
		t.Fatalf("result=%+v", res)
	}
	p := player(t, e, "P1")
	if p.Record.Score != 1 || p.Record.Unsecured != a {
		t.Fatalf("killer record=%+v", p.Record)
	}
	if l.Balance(a, "P1") != 1 || l.Balance(a, testPool) != 0 {
		t.Fatalf("custody not moved to killer")
	}
	if e.Monsters()[0].Pos != (spatial.Position{X: 4, Y: 4}) {
		t.Fatalf("last monster not swapped into the freed index")
	}

	mustReject(t, e, KillMonster{Addr: "P1", Asset: a}, arenaerr.CodeMonsterNotFound)
	mustReject(t, e, KillMonster{Addr: "P2", Asset: a}, arenaerr.CodeMonsterNotFound)
	mustReject(t, e, KillMonster{Addr: "P9", Asset: a}, arenaerr.CodeNotOnline)
}

func TestEngine_LiveCountTracksSpawnsAndKills(t *testing.T) {
	e, _ := newTestEngine(t)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	spawns, kills := 0, 0
	var live []ledger.AssetID
	for round := 0; round < 20; round++ {
		live = append(live, spawn(t, e, int64(round), int64(-round)))
		spawns++
		if round%3 == 0 {
			id := live[0]
			live = live[1:]
			mustApply(t, e, KillMonster{Addr: "P1", Asset: id})
			kills++
			mustReject(t, e, KillMonster{Addr: "P1", Asset: id}, arenaerr.CodeMonsterNotFound)
		}
		if n := len(e.Monsters()); n != spawns-kills {
			t.Fatalf("round %d: live=%d want %d", round, n, spawns-kills)
		}
	}
}

func TestEngine_SecureNeedsAssetAndSafeZone(t *testing.T) {
	e, l := newTestEngine(t)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	mustReject(t, e, SecureAsset{Addr: "P1"}, arenaerr.CodeNoUnsecuredAsset)

	a := spawn(t, e, 0, 0)
	mustApply(t, e, KillMonster{Addr: "P1", Asset: a})
	moveN(t, e, "P1", spatial.Up, 12)
	mustReject(t, e, SecureAsset{Addr: "P1"}, arenaerr.CodeOutsideSafeZone)

	moveN(t, e, "P1", spatial.Down, 1)
	res := mustApply(t, e, SecureAsset{Addr: "P1"})
	if res.Asset != a {
		t.Fatalf("secured asset=%d", res.Asset)
	}
	p := player(t, e, "P1")
	if p.Record.Score != 2 || p.Record.Unsecured != ledger.NoAsset {
		t.Fatalf("after secure=%+v", p.Record)
	}
	if l.Balance(a, "P1") != 1 {
		t.Fatalf("secured asset must stay with the player")
	}
	mustReject(t, e, SecureAsset{Addr: "P1"}, arenaerr.CodeNoUnsecuredAsset)
	if player(t, e, "P1").Record.Score != 2 {
		t.Fatalf("failed secure changed score")
	}
	mustReject(t, e, SecureAsset{Addr: "P2"}, arenaerr.CodeNotOnline)
}

func TestEngine_ExitEnterRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	a := spawn(t, e, 1, 1)
	mustApply(t, e, KillMonster{Addr: "P1", Asset: a})
	moveN(t, e, "P1", spatial.Left, 3)
	before := player(t, e, "P1").Record

	mustApply(t, e, ExitAndSave{Addr: "P1"})
	ps := player(t, e, "P1")
	if ps.State != players.Offline || ps.Record != before {
		t.Fatalf("saved form=%+v", ps)
	}
	box, err := e.PlayerBox("P1")
	if err != nil {
		t.Fatalf("player box: %v", err)
	}
	if rec, _ := players.DecodeBox(box); rec != before {
		t.Fatalf("box=%+v want %+v", rec, before)
	}
	mustReject(t, e, ExitAndSave{Addr: "P1"}, arenaerr.CodeNotOnline)
	mustReject(t, e, Move{Addr: "P1", Dir: spatial.Up}, arenaerr.CodeNotOnline)

	mustApply(t, e, EnterPlayer{Addr: "P1"})
	ps = player(t, e, "P1")
	if ps.State != players.Online || ps.Record != before {
		t.Fatalf("restored=%+v want %+v", ps, before)
	}
	if _, err := e.PlayerBox("P1"); !errors.Is(err, arenaerr.ErrNoSnapshot) {
		t.Fatalf("saved form should be cleared: %v", err)
	}
	if len(e.SavedPlayers()) != 0 {
		t.Fatalf("no saved players expected")
	}
	mustReject(t, e, EnterPlayer{Addr: "P1"}, arenaerr.CodeAlreadyOnline)
}

func TestEngine_MoveComposition(t *testing.T) {
	e, _ := newTestEngine(t)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	for _, d := range []spatial.Direction{spatial.Up, spatial.Up, spatial.Up, spatial.Right, spatial.Right, spatial.Left} {
		mustApply(t, e, Move{Addr: "P1", Dir: d})
	}
	if got := player(t, e, "P1").Record.Pos; got != (spatial.Position{X: 1, Y: 3}) {
		t.Fatalf("pos=%s want (1,3)", got)
	}
	mustReject(t, e, Move{Addr: "P1", Dir: 0}, arenaerr.CodeBadAction)
}

func TestEngine_StealRules(t *testing.T) {
	e, l := newTestEngine(t)
	for _, p := range []ledger.AccountID{"THIEF", "VICTIM"} {
		mustApply(t, e, EnterPlayer{Addr: p})
	}
	mustReject(t, e, Steal{Thief: "THIEF", Victim: "VICTIM"}, arenaerr.CodeNoUnsecuredAsset)
	mustReject(t, e, Steal{Thief: "THIEF", Victim: "NOBODY"}, arenaerr.CodePlayerNotFound)
	mustReject(t, e, Steal{Thief: "THIEF", Victim: "THIEF"}, arenaerr.CodeSelfSteal)
	mustReject(t, e, Steal{Thief: "GHOST", Victim: "VICTIM"}, arenaerr.CodeNotOnline)

	a := spawn(t, e, 0, 0)
	mustApply(t, e, KillMonster{Addr: "VICTIM", Asset: a})

	moveN(t, e, "VICTIM", spatial.Right, 12)
	mustReject(t, e, Steal{Thief: "THIEF", Victim: "VICTIM"}, arenaerr.CodeOutOfRange)
	if l.Balance(a, "VICTIM") != 1 {
		t.Fatalf("out of range steal moved custody")
	}

	moveN(t, e, "THIEF", spatial.Right, 1)
	res := mustApply(t, e, Steal{Thief: "THIEF", Victim: "VICTIM"})
	if res.Asset != a || len(res.Players) != 2 {
		t.Fatalf("result=%+v", res)
	}
	thief, victim := player(t, e, "THIEF"), player(t, e, "VICTIM")
	if thief.Record.Unsecured != a || thief.Record.Score != 0 {
		t.Fatalf("thief=%+v", thief.Record)
	}
	if victim.Record.Unsecured != ledger.NoAsset || victim.Record.Score != 1 {
		t.Fatalf("victim=%+v", victim.Record)
	}
	if l.Balance(a, "THIEF") != 1 || l.Balance(a, "VICTIM") != 0 {
		t.Fatalf("custody not moved to thief")
	}
}

func TestEngine_StealFromOfflinePlayer(t *testing.T) {
	e, l := newTestEngine(t)
	mustApply(t, e, EnterPlayer{Addr: "THIEF"})
	mustApply(t, e, EnterPlayer{Addr: "VICTIM"})
	a := spawn(t, e, 0, 0)
	mustApply(t, e, KillMonster{Addr: "VICTIM", Asset: a})
	mustApply(t, e, ExitAndSave{Addr: "VICTIM"})

	mustApply(t, e, Steal{Thief: "THIEF", Victim: "VICTIM"})
	victim := player(t, e, "VICTIM")
	if victim.State != players.Offline || victim.Record.Unsecured != ledger.NoAsset || victim.Record.Score != 1 {
		t.Fatalf("offline victim=%+v", victim)
	}
	if l.Balance(a, "THIEF") != 1 {
		t.Fatalf("custody not moved")
	}
	mustApply(t, e, EnterPlayer{Addr: "VICTIM"})
	if player(t, e, "VICTIM").Record.Unsecured != ledger.NoAsset {
		t.Fatalf("stolen asset came back on re-enter")
	}
}

func TestEngine_LedgerFailureLeavesNoTrace(t *testing.T) {
	boom := errors.New("boom")

	t.Run("kill", func(t *testing.T) {
		e, l := newTestEngine(t)
		a := spawn(t, e, 0, 0)
		mustApply(t, e, EnterPlayer{Addr: "P1"})
		l.FailOn(ledger.OpTransfer, boom)
		mustReject(t, e, KillMonster{Addr: "P1", Asset: a}, arenaerr.CodeLedgerFailure)
		if len(e.Monsters()) != 1 {
			t.Fatalf("registry entry removed despite ledger failure")
		}
		if l.OptedIn(a, "P1") {
			t.Fatalf("opt-in survived a failed group")
		}
		if p := player(t, e, "P1"); !p.Record.IsZero() {
			t.Fatalf("player changed: %+v", p.Record)
		}
		mustApply(t, e, KillMonster{Addr: "P1", Asset: a})
	})

	t.Run("steal", func(t *testing.T) {
		e, l := newTestEngine(t)
		a := spawn(t, e, 0, 0)
		mustApply(t, e, EnterPlayer{Addr: "T"})
		mustApply(t, e, EnterPlayer{Addr: "V"})
		mustApply(t, e, KillMonster{Addr: "V", Asset: a})
		l.FailOn(ledger.OpOptIn, boom)
		mustReject(t, e, Steal{Thief: "T", Victim: "V"}, arenaerr.CodeLedgerFailure)
		if player(t, e, "V").Record.Unsecured != a || player(t, e, "T").Record.Unsecured != ledger.NoAsset {
			t.Fatalf("records changed despite ledger failure")
		}
	})

	t.Run("spawn", func(t *testing.T) {
		e, l := newTestEngine(t)
		l.FailOn(ledger.OpMint, boom)
		_, err := e.Apply(context.Background(), SpawnMonster{})
		if !errors.Is(err, arenaerr.ErrLedgerFailure) || !errors.Is(err, boom) {
			t.Fatalf("spawn err=%v", err)
		}
		if len(e.Monsters()) != 0 {
			t.Fatalf("monster added despite mint failure")
		}
	})
}

func TestEngine_LogsEveryAction(t *testing.T) {
	logs := &memLogs{}
	e, _ := newTestEngine(t, WithActionLogger(logs), WithCustodyLogger(logs))
	a := spawn(t, e, 0, 0)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	mustReject(t, e, EnterPlayer{Addr: "P1"}, arenaerr.CodeAlreadyOnline)
	mustApply(t, e, KillMonster{Addr: "P1", Asset: a})

	if len(logs.actions) != 4 {
		t.Fatalf("actions logged=%d", len(logs.actions))
	}
	for i, entry := range logs.actions {
		if entry.Seq != uint64(i+1) {
			t.Fatalf("entry %d seq=%d", i, entry.Seq)
		}
	}
	if rej := logs.actions[2]; rej.OK || rej.Code != arenaerr.CodeAlreadyOnline || rej.Digest != "" {
		t.Fatalf("rejected entry=%+v", rej)
	}
	if logs.actions[3].Digest != e.Digest() {
		t.Fatalf("last digest does not match engine state")
	}
	if len(logs.custody) != 2 || logs.custody[0].Reason != CustodyMint || logs.custody[1].To != "P1" {
		t.Fatalf("custody=%+v", logs.custody)
	}
}

func TestEngine_ExportImportRoundTrip(t *testing.T) {
	e, _ := newTestEngine(t)
	a := spawn(t, e, 2, 2)
	_ = spawn(t, e, -2, 5)
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	mustApply(t, e, EnterPlayer{Addr: "P2"})
	mustApply(t, e, KillMonster{Addr: "P1", Asset: a})
	mustApply(t, e, ExitAndSave{Addr: "P1"})
	moveN(t, e, "P2", spatial.Down, 4)

	snap := e.Export()
	e2, _ := newTestEngine(t)
	if err := e2.Import(snap); err != nil {
		t.Fatalf("import: %v", err)
	}
	if e2.Digest() != e.Digest() || e2.Seq() != e.Seq() {
		t.Fatalf("imported engine differs: seq %d/%d", e2.Seq(), e.Seq())
	}

	// Both copies keep evolving identically.
	mustApply(t, e, EnterPlayer{Addr: "P1"})
	mustApply(t, e2, EnterPlayer{Addr: "P1"})
	r1 := spawn(t, e, 9, 9)
	r2 := spawn(t, e2, 9, 9)
	if r1 != r2 || e.Digest() != e2.Digest() {
		t.Fatalf("diverged after import")
	}

	snap.Header.Version = 99
	if err := e2.Import(snap); err == nil {
		t.Fatalf("expected version error")
	}
}

func TestActionFromMsgRoundTrip(t *testing.T) {
	acts := []Action{
		EnterPlayer{Addr: "P1"},
		ExitAndSave{Addr: "P1"},
		Move{Addr: "P1", Dir: spatial.Left},
		SpawnMonster{Pos: spatial.Position{X: -1, Y: 7}},
		KillMonster{Addr: "P1", Asset: 5},
		SecureAsset{Addr: "P1"},
		Steal{Thief: "P1", Victim: "P2"},
	}
	for _, a := range acts {
		got, err := ActionFromMsg(MsgFromAction("x", a))
		if err != nil {
			t.Fatalf("%s: %v", a.Name(), err)
		}
		if got != a {
			t.Fatalf("round trip %+v -> %+v", a, got)
		}
	}
	bad := MsgFromAction("x", Move{Addr: "P1", Dir: spatial.Up})
	bad.Direction = "NORTH"
	if _, err := ActionFromMsg(bad); arenaerr.CodeOf(err) != arenaerr.CodeBadAction {
		t.Fatalf("bad direction: %v", err)
	}
	noActor := MsgFromAction("x", SecureAsset{Addr: "P1"})
	noActor.Actor = ""
	if _, err := ActionFromMsg(noActor); arenaerr.CodeOf(err) != arenaerr.CodeBadAction {
		t.Fatalf("missing actor: %v", err)
	}
}

func TestResultMsg_MapsKindsToWireCodes(t *testing.T) {
	e, _ := newTestEngine(t)
	res, err := e.Apply(context.Background(), SecureAsset{Addr: "P1"})
	msg := ResultMsg("a1", res, err)
	if msg.OK || msg.Code != "E_INVALID_STATE" || msg.Reason != string(arenaerr.CodeNotOnline) || msg.Seq != 1 {
		t.Fatalf("rejected msg=%+v", msg)
	}

	res, err = e.Apply(context.Background(), EnterPlayer{Addr: "P1"})
	msg = ResultMsg("a2", res, err)
	if !msg.OK || msg.Code != "" || msg.Player == nil || msg.Player.State != "ONLINE" || len(msg.Digest) != 64 {
		t.Fatalf("accepted msg=%+v", msg)
	}
	if WireCode(errors.New("plain")) != "E_INTERNAL" {
		t.Fatalf("unknown errors should map to E_INTERNAL")
	}
}
