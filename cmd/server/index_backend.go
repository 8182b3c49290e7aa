package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"monsterarena.ai/internal/persistence/indexdb"
	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/tuning"
)

type runtimeIndex interface {
	arena.ActionLogger
	arena.CustodyLogger
	Close() error
	Flush(ctx context.Context) error
	RecordResult(res arena.Result)
	RecordSnapshot(path string, snap snapshot.SnapshotV1)
	ResetSavedPlayers(ctx context.Context, saved []players.SavedPlayer, seq uint64) error
	UpsertTuning(ctx context.Context, tune tuning.Tuning) error
	Stats() indexdb.Stats
}

func openRuntimeIndex(arenaDir, backend string, disableDB bool) (runtimeIndex, error) {
	if disableDB {
		return nil, nil
	}
	backend = strings.ToLower(strings.TrimSpace(backend))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		idx, err := indexdb.OpenSQLite(filepath.Join(arenaDir, "index", "arena.sqlite"))
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported ARENA_INDEX_BACKEND: %s", backend)
	}
}

type multiActionLogger struct {
	a arena.ActionLogger
	b arena.ActionLogger
}

func (m multiActionLogger) WriteAction(entry arena.ActionLogEntry) error {
	var errA, errB error
	if m.a != nil {
		errA = m.a.WriteAction(entry)
	}
	if m.b != nil {
		errB = m.b.WriteAction(entry)
	}
	return errors.Join(errA, errB)
}

type multiCustodyLogger struct {
	a arena.CustodyLogger
	b arena.CustodyLogger
}

func (m multiCustodyLogger) WriteCustody(entry arena.CustodyEntry) error {
	var errA, errB error
	if m.a != nil {
		errA = m.a.WriteCustody(entry)
	}
	if m.b != nil {
		errB = m.b.WriteCustody(entry)
	}
	return errors.Join(errA, errB)
}
