package log

import (
	"path/filepath"
	"testing"
	"time"

	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
)

func TestActionLogger_RotatesHourlyAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	l := NewActionLogger(dir)
	clock := time.Date(2026, 1, 2, 10, 59, 0, 0, time.UTC)
	l.w.now = func() time.Time { return clock }

	for seq := uint64(1); seq <= 3; seq++ {
		if seq == 3 {
			clock = clock.Add(2 * time.Minute)
		}
		err := l.WriteAction(arena.ActionLogEntry{
			Seq: seq,
			Act: protocol.ActMsg{Type: protocol.TypeAct, Action: protocol.ActEnter, Actor: "P1"},
			OK:  seq != 2,
		})
		if err != nil {
			t.Fatalf("write %d: %v", seq, err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	files, err := ListFiles(ActionsDir(dir))
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files=%v", files)
	}
	if filepath.Base(files[0]) != "actions-2026-01-02-10.jsonl.zst" {
		t.Fatalf("first file=%s", files[0])
	}

	entries, err := ReadActions(dir)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("entries=%d", len(entries))
	}
	for i, e := range entries {
		if e.Seq != uint64(i+1) || e.Act.Actor != "P1" {
			t.Fatalf("entry %d=%+v", i, e)
		}
	}
	if entries[1].OK {
		t.Fatalf("rejected flag lost")
	}
}

func TestCustodyLogger_ReopenAppends(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 2; i++ {
		l := NewCustodyLogger(dir)
		if err := l.WriteCustody(arena.CustodyEntry{Seq: uint64(i + 1), Asset: 7, To: "P1", Reason: arena.CustodyKill}); err != nil {
			t.Fatalf("write: %v", err)
		}
		if err := l.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	files, _ := ListFiles(CustodyDir(dir))
	n := 0
	for _, p := range files {
		if err := ScanFile(p, func([]byte) error { n++; return nil }); err != nil {
			t.Fatalf("scan: %v", err)
		}
	}
	if n != 2 {
		t.Fatalf("lines=%d want 2", n)
	}
}
