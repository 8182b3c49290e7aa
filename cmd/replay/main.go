package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	persistlog "monsterarena.ai/internal/persistence/log"
	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
	"monsterarena.ai/internal/sim/tuning"
)

func main() {
	var (
		snapPath   = flag.String("snapshot", "", "path to .snap.zst to start from (optional)")
		arenaDir   = flag.String("arena_dir", "", "arena data dir containing actions/ (e.g. ./data/arenas/ARENA_1)")
		tuningPath = flag.String("tuning", "./configs/arena.yaml", "tuning used when starting without a snapshot")
		fromSeq    = flag.Uint64("from_seq", 0, "start verifying from seq (inclusive, optional)")
		toSeq      = flag.Uint64("to_seq", 0, "stop at seq (inclusive, optional)")
	)
	flag.Parse()

	if *snapPath == "" && *arenaDir == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot or -arena_dir")
		os.Exit(2)
	}

	mem := ledger.NewMemoryLedger()
	var e *arena.Engine
	if *snapPath != "" {
		snap, err := snapshot.ReadSnapshot(*snapPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "read snapshot:", err)
			os.Exit(1)
		}
		fmt.Printf("snapshot v%d arena=%s seq=%d pool=%s metric=%s players=%d saved=%d\n",
			snap.Header.Version, snap.Header.ArenaID, snap.Header.Seq, snap.Pool, snap.Metric, len(snap.Players), len(snap.Saved))

		e, err = arena.New(arena.Config{ID: snap.Header.ArenaID, Pool: ledger.AccountID(snap.Pool)}, mem)
		if err != nil {
			fmt.Fprintln(os.Stderr, "arena:", err)
			os.Exit(1)
		}
		if err := e.Import(snap); err != nil {
			fmt.Fprintln(os.Stderr, "import snapshot:", err)
			os.Exit(1)
		}
		if got := e.Digest(); snap.Header.Digest != "" && got != snap.Header.Digest {
			fmt.Fprintf(os.Stderr, "snapshot digest mismatch: got=%s want=%s\n", got, snap.Header.Digest)
			os.Exit(1)
		}
	} else {
		tune, err := tuning.Load(*tuningPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "load tuning:", err)
			os.Exit(1)
		}
		e, err = arena.New(arena.Config{ID: tune.ArenaID, Pool: ledger.AccountID(tune.PoolAccount), Rules: tune.Rules()}, mem)
		if err != nil {
			fmt.Fprintln(os.Stderr, "arena:", err)
			os.Exit(1)
		}
	}

	if *arenaDir == "" {
		return
	}
	entries, err := persistlog.ReadActions(*arenaDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read actions:", err)
		os.Exit(1)
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stderr, "no action files found in", persistlog.ActionsDir(*arenaDir))
		os.Exit(1)
	}

	startSeq := e.Seq()
	checked, err := replay(context.Background(), e, mem, entries, *fromSeq, *toSeq)
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: checked=%d actions (from seq=%d) final seq=%d digest=%s dir=%s\n",
		checked, startSeq, e.Seq(), e.Digest(), filepath.Base(*arenaDir))
}

// replay re-applies every logged action after the engine's current seq and
// compares outcome, asset and digest against the log.
func replay(ctx context.Context, e *arena.Engine, mem *ledger.MemoryLedger, entries []arena.ActionLogEntry, verifyFrom, toSeq uint64) (uint64, error) {
	var checked uint64
	for _, entry := range entries {
		if entry.Seq <= e.Seq() {
			continue
		}
		if toSeq != 0 && entry.Seq > toSeq {
			break
		}
		if want := e.Seq() + 1; entry.Seq != want {
			return checked, fmt.Errorf("seq gap: want=%d got=%d", want, entry.Seq)
		}

		a, err := arena.ActionFromMsg(entry.Act)
		if err != nil {
			return checked, fmt.Errorf("seq %d: decode: %w", entry.Seq, err)
		}
		if entry.Code == arenaerr.CodeLedgerFailure {
			armLedgerFault(mem, a)
		}

		res, err := e.Apply(ctx, a)
		if res.Seq != entry.Seq {
			return checked, fmt.Errorf("internal seq mismatch: applied=%d entry=%d", res.Seq, entry.Seq)
		}
		if entry.Seq < verifyFrom {
			continue
		}
		checked++
		if got := arenaerr.CodeOf(err); got != entry.Code {
			return checked, fmt.Errorf("code mismatch at seq %d (%s): got=%q want=%q", entry.Seq, a.Name(), got, entry.Code)
		}
		if (err == nil) != entry.OK {
			return checked, fmt.Errorf("outcome mismatch at seq %d: ok=%v want %v", entry.Seq, err == nil, entry.OK)
		}
		if !entry.OK {
			continue
		}
		if res.Asset != entry.Asset {
			return checked, fmt.Errorf("asset mismatch at seq %d: got=%d want=%d", entry.Seq, res.Asset, entry.Asset)
		}
		if res.Digest != entry.Digest {
			return checked, fmt.Errorf("digest mismatch at seq %d: got=%s want=%s", entry.Seq, res.Digest, entry.Digest)
		}
	}
	return checked, nil
}

var errReplayedFault = errors.New("replayed ledger failure")

// armLedgerFault fails the first ledger step a would take, reproducing a
// logged custody failure.
func armLedgerFault(mem *ledger.MemoryLedger, a arena.Action) {
	switch a.(type) {
	case arena.SpawnMonster:
		mem.FailOn(ledger.OpMint, errReplayedFault)
	case arena.KillMonster, arena.Steal:
		mem.FailOn(ledger.OpOptIn, errReplayedFault)
	}
}
