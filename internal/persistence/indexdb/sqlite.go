// Package indexdb maintains a queryable sqlite read model of an arena. The
// JSONL logs stay the source of truth; the index may drop writes when the
// writer falls behind.
package indexdb

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/ledger"
	"monsterarena.ai/internal/sim/tuning"
)

const defaultQueueSize = 65536

type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropAction   atomic.Uint64
	dropCustody  atomic.Uint64
	dropPlayers  atomic.Uint64
	dropSnapshot atomic.Uint64
}

type reqKind int

const (
	reqAction reqKind = iota + 1
	reqCustody
	reqPlayers
	reqSnapshot
	reqFlush
)

type req struct {
	kind reqKind

	action   arena.ActionLogEntry
	custody  arena.CustodyEntry
	players  playersReq
	snapshot snapshotRow
	done     chan struct{}
}

type playersReq struct {
	Seq     uint64
	Players []arena.PlayerState
}

type snapshotRow struct {
	Seq      uint64
	Path     string
	Digest   string
	Monsters int
	Players  int
	Saved    int
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, defaultQueueSize),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS actions (
			seq INTEGER PRIMARY KEY,
			actor TEXT NOT NULL,
			action TEXT NOT NULL,
			ok INTEGER NOT NULL,
			code TEXT,
			asset INTEGER NOT NULL,
			digest TEXT,
			act_json TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_actions_actor_seq ON actions(actor, seq);`,
		`CREATE TABLE IF NOT EXISTS custody (
			seq INTEGER NOT NULL,
			asset INTEGER NOT NULL,
			from_account TEXT,
			to_account TEXT NOT NULL,
			reason TEXT NOT NULL,
			PRIMARY KEY (seq, asset)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_custody_asset_seq ON custody(asset, seq);`,
		`CREATE TABLE IF NOT EXISTS saved_players (
			address TEXT PRIMARY KEY,
			pos_x INTEGER NOT NULL,
			pos_y INTEGER NOT NULL,
			score INTEGER NOT NULL,
			unsecured_asset INTEGER NOT NULL,
			box BLOB NOT NULL,
			seq INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			seq INTEGER PRIMARY KEY,
			path TEXT NOT NULL,
			digest TEXT NOT NULL,
			monsters INTEGER NOT NULL,
			players INTEGER NOT NULL,
			saved INTEGER NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS tuning (
			name TEXT PRIMARY KEY,
			digest TEXT NOT NULL,
			json TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// WriteAction implements arena.ActionLogger.
func (s *SQLiteIndex) WriteAction(entry arena.ActionLogEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqAction, action: entry}:
	default:
		s.dropAction.Add(1)
	}
	return nil
}

// WriteCustody implements arena.CustodyLogger.
func (s *SQLiteIndex) WriteCustody(entry arena.CustodyEntry) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	select {
	case s.ch <- req{kind: reqCustody, custody: entry}:
	default:
		s.dropCustody.Add(1)
	}
	return nil
}

// RecordResult mirrors the players touched by an accepted action into
// saved_players: offline records are upserted, online ones removed.
func (s *SQLiteIndex) RecordResult(res arena.Result) {
	if s == nil || s.closed.Load() || len(res.Players) == 0 {
		return
	}
	ps := make([]arena.PlayerState, len(res.Players))
	copy(ps, res.Players)
	select {
	case s.ch <- req{kind: reqPlayers, players: playersReq{Seq: res.Seq, Players: ps}}:
	default:
		s.dropPlayers.Add(1)
	}
}

func (s *SQLiteIndex) RecordSnapshot(path string, snap snapshot.SnapshotV1) {
	if s == nil || s.closed.Load() {
		return
	}
	n := 0
	if list, err := monsters.DecodeBox(snap.MonstersBox); err == nil {
		n = len(list)
	}
	r := snapshotRow{
		Seq:      snap.Header.Seq,
		Path:     path,
		Digest:   snap.Header.Digest,
		Monsters: n,
		Players:  len(snap.Players),
		Saved:    len(snap.Saved),
	}
	select {
	case s.ch <- req{kind: reqSnapshot, snapshot: r}:
	default:
		s.dropSnapshot.Add(1)
	}
}

// ResetSavedPlayers replaces saved_players with the offline set of snap.
// Used at startup so the table matches the resumed state.
func (s *SQLiteIndex) ResetSavedPlayers(ctx context.Context, saved []players.SavedPlayer, seq uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `DELETE FROM saved_players`); err != nil {
		return err
	}
	for _, p := range saved {
		if err := upsertSaved(ctx, tx, p.Address, p.Record, seq); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// UpsertTuning stores the tuning actually applied by the server.
func (s *SQLiteIndex) UpsertTuning(ctx context.Context, tune tuning.Tuning) error {
	if s == nil {
		return nil
	}
	b, _ := json.Marshal(tune)
	sum := sha256.Sum256(b)
	now := time.Now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1')`); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO meta(key,value) VALUES('arena_id',?)`, tune.ArenaID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR REPLACE INTO tuning(name,digest,json,updated_at) VALUES('arena',?,?,?)`,
		hex.EncodeToString(sum[:]), string(b), now,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// Flush blocks until every request queued before it is committed.
func (s *SQLiteIndex) Flush(ctx context.Context) error {
	if s == nil || s.closed.Load() {
		return nil
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{kind: reqFlush, done: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type Stats struct {
	QueueDepth        int    `json:"queue_depth"`
	QueueCapacity     int    `json:"queue_capacity"`
	DropActionTotal   uint64 `json:"drop_action_total"`
	DropCustodyTotal  uint64 `json:"drop_custody_total"`
	DropPlayersTotal  uint64 `json:"drop_players_total"`
	DropSnapshotTotal uint64 `json:"drop_snapshot_total"`
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{
		QueueDepth:        len(s.ch),
		QueueCapacity:     cap(s.ch),
		DropActionTotal:   s.dropAction.Load(),
		DropCustodyTotal:  s.dropCustody.Load(),
		DropPlayersTotal:  s.dropPlayers.Load(),
		DropSnapshotTotal: s.dropSnapshot.Load(),
	}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertSaved(ctx context.Context, ex execer, addr ledger.AccountID, rec players.Record, seq uint64) error {
	_, err := ex.ExecContext(ctx,
		`INSERT OR REPLACE INTO saved_players(address,pos_x,pos_y,score,unsecured_asset,box,seq) VALUES(?,?,?,?,?,?,?)`,
		string(addr), rec.Pos.X, rec.Pos.Y, int64(rec.Score), int64(rec.Unsecured), players.EncodeBox(rec), int64(seq),
	)
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 2000
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		_ = tx.Commit()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	// The single connection is held by the open tx, so idle batches are
	// committed on a timer to let queries through.
	idle := time.NewTicker(commitMaxWait)
	defer idle.Stop()

	for {
		var r req
		select {
		case rr, ok := <-s.ch:
			if !ok {
				commit()
				return
			}
			r = rr
		case <-idle.C:
			if tx != nil && time.Since(lastCommit) >= commitMaxWait {
				commit()
			}
			continue
		}

		if r.kind == reqFlush {
			commit()
			close(r.done)
			continue
		}
		begin()
		if tx == nil {
			continue
		}
		if err := s.apply(ctx, tx, r); err != nil {
			rollback()
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
}

func (s *SQLiteIndex) apply(ctx context.Context, tx *sql.Tx, r req) error {
	switch r.kind {
	case reqAction:
		a := r.action
		actJSON, _ := json.Marshal(a.Act)
		ok := 0
		if a.OK {
			ok = 1
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO actions(seq,actor,action,ok,code,asset,digest,act_json) VALUES(?,?,?,?,?,?,?,?)`,
			int64(a.Seq), a.Act.Actor, a.Act.Action, ok, string(a.Code), int64(a.Asset), a.Digest, string(actJSON),
		)
		return err

	case reqCustody:
		c := r.custody
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO custody(seq,asset,from_account,to_account,reason) VALUES(?,?,?,?,?)`,
			int64(c.Seq), int64(c.Asset), string(c.From), string(c.To), c.Reason,
		)
		return err

	case reqPlayers:
		for _, p := range r.players.Players {
			var err error
			if p.State == players.Online {
				_, err = tx.ExecContext(ctx, `DELETE FROM saved_players WHERE address=?`, string(p.Address))
			} else {
				err = upsertSaved(ctx, tx, p.Address, p.Record, r.players.Seq)
			}
			if err != nil {
				return err
			}
		}
		return nil

	case reqSnapshot:
		sn := r.snapshot
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO snapshots(seq,path,digest,monsters,players,saved) VALUES(?,?,?,?,?,?)`,
			int64(sn.Seq), sn.Path, sn.Digest, sn.Monsters, sn.Players, sn.Saved,
		)
		return err
	}
	return nil
}
