package indexdb

import (
	"context"
	"path/filepath"
	"testing"

	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/tuning"
)

func openTest(t *testing.T) *SQLiteIndex {
	t.Helper()
	idx, err := OpenSQLite(filepath.Join(t.TempDir(), "index.sqlite"))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func TestSQLiteIndex_ActionsAndCustody(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	act := func(seq uint64, actor, action string, ok bool) arena.ActionLogEntry {
		e := arena.ActionLogEntry{
			Seq: seq,
			Act: protocol.ActMsg{Type: protocol.TypeAct, ID: "x", Action: action, Actor: actor},
			OK:  ok,
		}
		if !ok {
			e.Code = arenaerr.CodeNotOnline
		}
		return e
	}
	_ = idx.WriteAction(act(1, "P1", protocol.ActEnter, true))
	_ = idx.WriteAction(act(2, "P2", protocol.ActMove, false))
	_ = idx.WriteAction(act(3, "P1", protocol.ActKill, true))
	_ = idx.WriteCustody(arena.CustodyEntry{Seq: 0, Asset: 9, To: "POOL", Reason: arena.CustodyMint})
	_ = idx.WriteCustody(arena.CustodyEntry{Seq: 3, Asset: 9, From: "POOL", To: "P1", Reason: arena.CustodyKill})
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	got, err := idx.ActionsByActor(ctx, "P1", 10)
	if err != nil {
		t.Fatalf("actions: %v", err)
	}
	if len(got) != 2 || got[0].Seq != 3 || got[1].Act.Action != protocol.ActEnter {
		t.Fatalf("actions=%+v", got)
	}
	rej, _ := idx.ActionsByActor(ctx, "P2", 0)
	if len(rej) != 1 || rej[0].OK || rej[0].Code != arenaerr.CodeNotOnline {
		t.Fatalf("rejected=%+v", rej)
	}

	hist, err := idx.CustodyByAsset(ctx, 9)
	if err != nil {
		t.Fatalf("custody: %v", err)
	}
	if len(hist) != 2 || hist[0].From != "" || hist[1].To != "P1" {
		t.Fatalf("custody=%+v", hist)
	}
}

func TestSQLiteIndex_SavedPlayersFollowResults(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	rec := players.Record{Pos: spatial.Position{X: -3, Y: 4}, Score: 2, Unsecured: 11}
	idx.RecordResult(arena.Result{Seq: 1, Players: []arena.PlayerState{{Address: "P1", State: players.Offline, Record: rec}}})
	idx.RecordResult(arena.Result{Seq: 2, Players: []arena.PlayerState{{Address: "P2", State: players.Offline}}})
	idx.RecordResult(arena.Result{Seq: 3, Players: []arena.PlayerState{{Address: "P2", State: players.Online}}})
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	saved, err := idx.SavedPlayers(ctx)
	if err != nil {
		t.Fatalf("saved: %v", err)
	}
	if len(saved) != 1 || saved[0].Address != "P1" || saved[0].Record != rec {
		t.Fatalf("saved=%+v", saved)
	}

	if err := idx.ResetSavedPlayers(ctx, []players.SavedPlayer{{Address: "Z"}}, 10); err != nil {
		t.Fatalf("reset: %v", err)
	}
	saved, _ = idx.SavedPlayers(ctx)
	if len(saved) != 1 || saved[0].Address != "Z" {
		t.Fatalf("after reset=%+v", saved)
	}
}

func TestSQLiteIndex_SnapshotAndTuningRows(t *testing.T) {
	idx := openTest(t)
	ctx := context.Background()

	idx.RecordSnapshot("/tmp/5.snap.zst", snapshot.SnapshotV1{
		Header:      snapshot.Header{Version: 1, Seq: 5, Digest: "d"},
		MonstersBox: make([]byte, 8),
		Players:     []snapshot.PlayerV1{{Address: "P1"}},
	})
	if err := idx.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}
	if err := idx.UpsertTuning(ctx, tuning.Defaults()); err != nil {
		t.Fatalf("tuning: %v", err)
	}

	var path string
	var nPlayers int
	if err := idx.DB().QueryRowContext(ctx, `SELECT path,players FROM snapshots WHERE seq=5`).Scan(&path, &nPlayers); err != nil {
		t.Fatalf("snapshot row: %v", err)
	}
	if path != "/tmp/5.snap.zst" || nPlayers != 1 {
		t.Fatalf("snapshot row=%s %d", path, nPlayers)
	}
	var arenaID string
	if err := idx.DB().QueryRowContext(ctx, `SELECT value FROM meta WHERE key='arena_id'`).Scan(&arenaID); err != nil || arenaID != tuning.Defaults().ArenaID {
		t.Fatalf("meta arena_id=%q err=%v", arenaID, err)
	}
}

func TestSQLiteIndex_QueueDropStats(t *testing.T) {
	s := &SQLiteIndex{ch: make(chan req, 1)}
	s.ch <- req{kind: reqAction}

	_ = s.WriteAction(arena.ActionLogEntry{Seq: 2})
	_ = s.WriteCustody(arena.CustodyEntry{Seq: 2})
	s.RecordResult(arena.Result{Seq: 2, Players: []arena.PlayerState{{Address: "P1"}}})
	s.RecordSnapshot("/tmp/2.snap.zst", snapshot.SnapshotV1{})

	st := s.Stats()
	if st.DropActionTotal != 1 || st.DropCustodyTotal != 1 || st.DropPlayersTotal != 1 || st.DropSnapshotTotal != 1 {
		t.Fatalf("drops=%+v", st)
	}
	if st.QueueDepth != 1 || st.QueueCapacity != 1 {
		t.Fatalf("queue stats mismatch: depth=%d cap=%d", st.QueueDepth, st.QueueCapacity)
	}
}
