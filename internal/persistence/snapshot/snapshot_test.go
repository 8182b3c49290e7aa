package snapshot

import (
	"bytes"
	"errors"
	"path/filepath"
	"testing"
)

func sample(seq uint64) SnapshotV1 {
	return SnapshotV1{
		Header:           Header{ArenaID: "ARENA_1", Seq: seq, Digest: "abc"},
		Pool:             "POOL",
		Metric:           "chebyshev",
		SafeZoneRadius:   11,
		InteractionRange: 11,
		MonstersBox:      []byte{0, 0, 0, 0, 0, 0, 0, 0},
		Players:          []PlayerV1{{Address: "P1", Online: true, Box: make([]byte, 32)}},
		Saved:            []SavedV1{{Address: "P2", Box: make([]byte, 32)}},
		Ledger: &LedgerV1{
			NextID: 2,
			Assets: []AssetV1{{ID: 1, UnitName: "MONSTER", Total: 1, Manager: "POOL", Reserve: "POOL", Holder: "P2"}},
			OptIns: []OptInV1{{Asset: 1, Account: "P2"}},
		},
	}
}

func TestSnapshot_WriteReadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := PathFor(dir, 42)
	if err := WriteSnapshot(path, sample(42)); err != nil {
		t.Fatalf("write: %v", err)
	}
	got, err := ReadSnapshot(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.Header.Version != Version || got.Header.Seq != 42 || got.Pool != "POOL" {
		t.Fatalf("header/config mismatch: %+v", got.Header)
	}
	if !bytes.Equal(got.MonstersBox, sample(42).MonstersBox) {
		t.Fatalf("monsters box mismatch")
	}
	if len(got.Players) != 1 || !got.Players[0].Online || len(got.Saved) != 1 {
		t.Fatalf("players mismatch: %+v %+v", got.Players, got.Saved)
	}
	if got.Ledger == nil || got.Ledger.Assets[0].Holder != "P2" {
		t.Fatalf("ledger mismatch: %+v", got.Ledger)
	}

	h, err := ReadHeader(path)
	if err != nil || h.Seq != 42 || h.ArenaID != "ARENA_1" {
		t.Fatalf("header=%+v err=%v", h, err)
	}
}

func TestSnapshot_LatestBySequence(t *testing.T) {
	dir := t.TempDir()
	if _, err := Latest(dir); !errors.Is(err, ErrNoSnapshots) {
		t.Fatalf("empty dir: %v", err)
	}
	for _, seq := range []uint64{9, 100, 20} {
		if err := WriteSnapshot(PathFor(dir, seq), sample(seq)); err != nil {
			t.Fatalf("write %d: %v", seq, err)
		}
	}
	p, err := Latest(dir)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if filepath.Base(p) != "100.snap.zst" {
		t.Fatalf("latest=%s", p)
	}
	files, _ := List(dir)
	if len(files) != 3 || filepath.Base(files[0]) != "9.snap.zst" {
		t.Fatalf("list=%v", files)
	}
}
