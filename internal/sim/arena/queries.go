package arena

import (
	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/ledger"
)

// Monsters returns the live monsters in registry order.
func (e *Engine) Monsters() []monsters.Monster {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.Snapshot()
}

// MonstersBox returns the registry in its persisted byte layout.
func (e *Engine) MonstersBox() []byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.reg.EncodeBox()
}

// Player returns the authoritative record of addr.
func (e *Engine) Player(addr ledger.AccountID) (PlayerState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, st, err := e.players.Authoritative(addr)
	if err != nil {
		return PlayerState{}, err
	}
	return PlayerState{Address: addr, State: st, Record: rec}, nil
}

// PlayerBox returns the saved snapshot of addr in its persisted byte layout.
func (e *Engine) PlayerBox(addr ledger.AccountID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rec, err := e.players.Saved(addr)
	if err != nil {
		return nil, err
	}
	return players.EncodeBox(rec), nil
}

// SavedPlayers enumerates offline snapshots sorted by address.
func (e *Engine) SavedPlayers() []players.SavedPlayer {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.players.SavedPlayers()
}

// Seq is the sequence number of the last applied action.
func (e *Engine) Seq() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seq
}

// Ledger exposes the custody ledger for read-only queries.
func (e *Engine) Ledger() ledger.Ledger { return e.ledger }
