package arena

import (
	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

// Result describes one applied action. On rejection only Seq and Action are set.
type Result struct {
	Seq    uint64
	Action Action
	// Asset is the asset minted, collected or stolen by the action.
	Asset   ledger.AssetID
	Players []PlayerState
	Digest  string
}

// PlayerState is a player's authoritative record together with its lifecycle state.
type PlayerState struct {
	Address ledger.AccountID `json:"address"`
	State   players.State    `json:"state"`
	Record  players.Record   `json:"record"`
}

// View converts ps to its wire form.
func (ps PlayerState) View() *protocol.PlayerView {
	return &protocol.PlayerView{
		Address:        string(ps.Address),
		State:          ps.State.String(),
		Pos:            [2]int64{ps.Record.Pos.X, ps.Record.Pos.Y},
		Score:          ps.Record.Score,
		UnsecuredAsset: uint64(ps.Record.Unsecured),
	}
}

type ActionLogger interface {
	WriteAction(entry ActionLogEntry) error
}

type CustodyLogger interface {
	WriteCustody(entry CustodyEntry) error
}

// ActionLogEntry records every applied action, accepted or not. The action
// log plus the starting snapshot reproduce the arena exactly.
type ActionLogEntry struct {
	Seq    uint64          `json:"seq"`
	Act    protocol.ActMsg `json:"act"`
	OK     bool            `json:"ok"`
	Code   arenaerr.Code   `json:"code,omitempty"`
	Asset  ledger.AssetID  `json:"asset,omitempty"`
	Digest string          `json:"digest,omitempty"`
}

// Custody reasons.
const (
	CustodyMint  = "MINT"
	CustodyKill  = "KILL"
	CustodySteal = "STEAL"
)

// CustodyEntry records one change of asset holder.
type CustodyEntry struct {
	Seq    uint64           `json:"seq"`
	Asset  ledger.AssetID   `json:"asset"`
	From   ledger.AccountID `json:"from,omitempty"`
	To     ledger.AccountID `json:"to"`
	Reason string           `json:"reason"`
}
