// Package observerproto is the read-only observer and admin surface of an
// arena. It is versioned separately from the player protocol.
package observerproto

import "monsterarena.ai/internal/protocol"

const Version = "0.1"

// Client -> Server. First message on the observer WS connection; may be
// re-sent to change the filter.
type SubscribeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	// Optional: only stream actions involving this address.
	Address string `json:"address,omitempty"`
}

// GET /v1/bootstrap
type BootstrapResponse struct {
	ProtocolVersion string               `json:"protocol_version"`
	ArenaID         string               `json:"arena_id"`
	Seq             uint64               `json:"seq"`
	Digest          string               `json:"digest"`
	ArenaParams     protocol.ArenaParams `json:"arena_params"`
	Monsters        []MonsterView        `json:"monsters"`
}

type MonsterView struct {
	Pos     [2]int64 `json:"pos"`
	AssetID uint64   `json:"asset_id"`
}

// GET /v1/monsters
type MonstersResponse struct {
	Count    int           `json:"count"`
	Monsters []MonsterView `json:"monsters"`
}

// GET /v1/players?saved=1
type PlayersResponse struct {
	Players []protocol.PlayerView `json:"players"`
}

// GET /v1/assets/{id}
type AssetResponse struct {
	ID       uint64 `json:"id"`
	UnitName string `json:"unit_name"`
	Total    uint64 `json:"total"`
	Manager  string `json:"manager"`
	Freeze   string `json:"freeze"`
	Clawback string `json:"clawback"`
	Reserve  string `json:"reserve"`
	Holder   string `json:"holder"`
}

// Server -> Client. One per accepted action.
type EventMsg struct {
	Type            string                `json:"type"` // EVENT
	ProtocolVersion string                `json:"protocol_version"`
	Seq             uint64                `json:"seq"`
	Action          string                `json:"action"`
	Actor           string                `json:"actor,omitempty"`
	AssetID         uint64                `json:"asset_id,omitempty"`
	Digest          string                `json:"digest"`
	Players         []protocol.PlayerView `json:"players,omitempty"`
}

// POST /admin/v1/monsters
type SpawnRequest struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

type SpawnResponse struct {
	AssetID uint64 `json:"asset_id"`
	Seq     uint64 `json:"seq"`
	Digest  string `json:"digest"`
}

// POST /admin/v1/snapshot
type SnapshotResponse struct {
	Path string `json:"path"`
	Seq  uint64 `json:"seq"`
}

type ErrorResponse struct {
	Code    string `json:"code"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message"`
}
