// Package arena is the action processor of the monster arena. It validates
// each Action against one consistent view of the monster registry and the
// player store, performs the ledger custody step, and commits only when
// every step has succeeded.
package arena

import (
	"context"
	"fmt"
	"log"
	"sync"

	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

type Config struct {
	ID    string
	Pool  ledger.AccountID
	Rules spatial.Rules
}

func (c Config) Validate() error {
	if c.Pool == "" {
		return fmt.Errorf("arena: pool account is required")
	}
	return c.Rules.Validate()
}

type Engine struct {
	cfg Config

	mu      sync.Mutex
	ledger  ledger.Ledger
	reg     *monsters.Registry
	players *players.Store
	seq     uint64

	logger     *log.Logger
	actionLog  ActionLogger
	custodyLog CustodyLogger
	onCommit   func(Result)
}

type Option func(*Engine)

func WithLogger(l *log.Logger) Option { return func(e *Engine) { e.logger = l } }

func WithActionLogger(l ActionLogger) Option { return func(e *Engine) { e.actionLog = l } }

func WithCustodyLogger(l CustodyLogger) Option { return func(e *Engine) { e.custodyLog = l } }

// WithCommitHook registers fn to run after each accepted action, still under
// the engine lock. fn must not call back into the engine.
func WithCommitHook(fn func(Result)) Option { return func(e *Engine) { e.onCommit = fn } }

func New(cfg Config, l ledger.Ledger, opts ...Option) (*Engine, error) {
	if l == nil {
		return nil, fmt.Errorf("arena: nil ledger")
	}
	if cfg.Rules == (spatial.Rules{}) {
		cfg.Rules = spatial.DefaultRules()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		ledger:  l,
		reg:     monsters.NewRegistry(),
		players: players.NewStore(),
	}
	for _, o := range opts {
		o(e)
	}
	return e, nil
}

func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// Apply validates and applies a. A non-nil error is always an *arenaerr.Error
// and means the arena is unchanged.
func (e *Engine) Apply(ctx context.Context, a Action) (Result, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.seq++
	res := Result{Seq: e.seq, Action: a}
	var custody []CustodyEntry
	var err error
	switch v := a.(type) {
	case EnterPlayer:
		err = e.applyEnter(v, &res)
	case ExitAndSave:
		err = e.applyExit(v, &res)
	case Move:
		err = e.applyMove(v, &res)
	case SpawnMonster:
		custody, err = e.applySpawn(ctx, v, &res)
	case KillMonster:
		custody, err = e.applyKill(ctx, v, &res)
	case SecureAsset:
		err = e.applySecure(v, &res)
	case Steal:
		custody, err = e.applySteal(ctx, v, &res)
	case nil:
		err = arenaerr.New(arenaerr.CodeBadAction, "nil action")
	default:
		err = arenaerr.New(arenaerr.CodeBadAction, "unsupported action %T", a)
	}

	if err != nil {
		e.logf("seq=%d %s rejected: %v", res.Seq, actionName(a), err)
		e.recordAction(ActionLogEntry{Seq: res.Seq, Act: e.msgFor(res.Seq, a), Code: arenaerr.CodeOf(err)})
		return Result{Seq: res.Seq, Action: a}, err
	}

	res.Digest = e.digestLocked()
	e.recordAction(ActionLogEntry{Seq: res.Seq, Act: e.msgFor(res.Seq, a), OK: true, Asset: res.Asset, Digest: res.Digest})
	for _, c := range custody {
		c.Seq = res.Seq
		e.recordCustody(c)
	}
	if e.onCommit != nil {
		e.onCommit(res)
	}
	return res, nil
}

func (e *Engine) applyEnter(a EnterPlayer, res *Result) error {
	rec, err := e.players.Enter(a.Addr)
	if err != nil {
		return err
	}
	res.Players = []PlayerState{{Address: a.Addr, State: players.Online, Record: rec}}
	return nil
}

func (e *Engine) applyExit(a ExitAndSave, res *Result) error {
	rec, err := e.players.Exit(a.Addr)
	if err != nil {
		return err
	}
	res.Players = []PlayerState{{Address: a.Addr, State: players.Offline, Record: rec}}
	return nil
}

func (e *Engine) applyMove(a Move, res *Result) error {
	rec, err := e.players.Active(a.Addr)
	if err != nil {
		return err
	}
	next, ok := spatial.ApplyMove(rec.Pos, a.Dir)
	if !ok {
		if !a.Dir.Valid() {
			return arenaerr.New(arenaerr.CodeBadAction, "invalid direction %d", a.Dir)
		}
		return arenaerr.New(arenaerr.CodeOutOfBounds, "move %s from %s leaves the plane", a.Dir, rec.Pos)
	}
	rec.Pos = next
	if err := e.players.PutActive(a.Addr, rec); err != nil {
		return err
	}
	res.Players = []PlayerState{{Address: a.Addr, State: players.Online, Record: rec}}
	return nil
}

func (e *Engine) applySpawn(ctx context.Context, a SpawnMonster, res *Result) ([]CustodyEntry, error) {
	var asset ledger.AssetID
	err := ledger.Group(ctx, e.ledger, func(tx ledger.Ledger) error {
		id, err := tx.Mint(ctx, e.cfg.Pool)
		if err != nil {
			return err
		}
		if id == ledger.NoAsset {
			return fmt.Errorf("ledger minted the zero asset")
		}
		if _, dup := e.reg.FindByAsset(id); dup {
			return fmt.Errorf("ledger minted live asset %d twice", id)
		}
		asset = id
		return nil
	})
	if err != nil {
		return nil, arenaerr.Wrap(arenaerr.CodeLedgerFailure, "mint", err)
	}
	if err := e.reg.Add(a.Pos, asset); err != nil {
		return nil, err
	}
	res.Asset = asset
	return []CustodyEntry{{Asset: asset, To: e.cfg.Pool, Reason: CustodyMint}}, nil
}

func (e *Engine) applyKill(ctx context.Context, a KillMonster, res *Result) ([]CustodyEntry, error) {
	rec, err := e.players.Active(a.Addr)
	if err != nil {
		return nil, err
	}
	idx, ok := e.reg.FindByAsset(a.Asset)
	if !ok {
		return nil, arenaerr.New(arenaerr.CodeMonsterNotFound, "no live monster bound to asset %d", a.Asset)
	}

	err = ledger.Group(ctx, e.ledger, func(tx ledger.Ledger) error {
		if err := tx.OptIn(ctx, a.Addr, a.Asset); err != nil {
			return err
		}
		return tx.Transfer(ctx, a.Asset, e.cfg.Pool, a.Addr)
	})
	if err != nil {
		return nil, arenaerr.Wrap(arenaerr.CodeLedgerFailure, "kill custody transfer", err)
	}

	// Custody moved; the commit below cannot fail under the lock.
	if err := e.reg.Remove(idx); err != nil {
		return nil, err
	}
	rec.Score++
	// Replaces any asset already carried; that one stays held but untracked.
	rec.Unsecured = a.Asset
	if err := e.players.PutActive(a.Addr, rec); err != nil {
		return nil, err
	}
	res.Asset = a.Asset
	res.Players = []PlayerState{{Address: a.Addr, State: players.Online, Record: rec}}
	return []CustodyEntry{{Asset: a.Asset, From: e.cfg.Pool, To: a.Addr, Reason: CustodyKill}}, nil
}

func (e *Engine) applySecure(a SecureAsset, res *Result) error {
	rec, err := e.players.Active(a.Addr)
	if err != nil {
		return err
	}
	if rec.Unsecured == ledger.NoAsset {
		return arenaerr.New(arenaerr.CodeNoUnsecuredAsset, "player %s holds no unsecured asset", a.Addr)
	}
	if !e.cfg.Rules.InSafeZone(rec.Pos) {
		return arenaerr.New(arenaerr.CodeOutsideSafeZone, "player %s at %s is outside the safe zone", a.Addr, rec.Pos)
	}
	res.Asset = rec.Unsecured
	rec.Score++
	rec.Unsecured = ledger.NoAsset
	if err := e.players.PutActive(a.Addr, rec); err != nil {
		return err
	}
	res.Players = []PlayerState{{Address: a.Addr, State: players.Online, Record: rec}}
	return nil
}

func (e *Engine) applySteal(ctx context.Context, a Steal, res *Result) ([]CustodyEntry, error) {
	thief, err := e.players.Active(a.Thief)
	if err != nil {
		return nil, err
	}
	if a.Thief == a.Victim {
		return nil, arenaerr.New(arenaerr.CodeSelfSteal, "player %s cannot steal from itself", a.Thief)
	}
	victim, vstate, err := e.players.Authoritative(a.Victim)
	if err != nil {
		return nil, arenaerr.New(arenaerr.CodePlayerNotFound, "victim %s unknown", a.Victim)
	}
	asset := victim.Unsecured
	if asset == ledger.NoAsset {
		return nil, arenaerr.New(arenaerr.CodeNoUnsecuredAsset, "victim %s holds no unsecured asset", a.Victim)
	}
	if !e.cfg.Rules.WithinRange(thief.Pos, victim.Pos) {
		return nil, arenaerr.New(arenaerr.CodeOutOfRange, "victim %s at %s is out of range of %s", a.Victim, victim.Pos, thief.Pos)
	}

	err = ledger.Group(ctx, e.ledger, func(tx ledger.Ledger) error {
		if err := tx.OptIn(ctx, a.Thief, asset); err != nil {
			return err
		}
		return tx.Transfer(ctx, asset, a.Victim, a.Thief)
	})
	if err != nil {
		return nil, arenaerr.Wrap(arenaerr.CodeLedgerFailure, "steal custody transfer", err)
	}

	victim.Unsecured = ledger.NoAsset
	if err := e.players.Put(a.Victim, vstate, victim); err != nil {
		return nil, err
	}
	thief.Unsecured = asset
	if err := e.players.PutActive(a.Thief, thief); err != nil {
		return nil, err
	}
	res.Asset = asset
	res.Players = []PlayerState{
		{Address: a.Thief, State: players.Online, Record: thief},
		{Address: a.Victim, State: vstate, Record: victim},
	}
	return []CustodyEntry{{Asset: asset, From: a.Victim, To: a.Thief, Reason: CustodySteal}}, nil
}

func (e *Engine) recordAction(entry ActionLogEntry) {
	if e.actionLog == nil {
		return
	}
	if err := e.actionLog.WriteAction(entry); err != nil {
		e.logf("action log seq=%d: %v", entry.Seq, err)
	}
}

func (e *Engine) recordCustody(entry CustodyEntry) {
	if e.custodyLog == nil {
		return
	}
	if err := e.custodyLog.WriteCustody(entry); err != nil {
		e.logf("custody log seq=%d asset=%d: %v", entry.Seq, entry.Asset, err)
	}
}

func (e *Engine) msgFor(seq uint64, a Action) protocol.ActMsg {
	if a == nil {
		return protocol.ActMsg{}
	}
	return MsgFromAction(fmt.Sprintf("seq-%d", seq), a)
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}

func actionName(a Action) string {
	if a == nil {
		return "<nil>"
	}
	return a.Name()
}
