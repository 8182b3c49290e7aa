package protocol

// HELLO (client -> server)
type HelloMsg struct {
	Type            string     `json:"type"`
	ProtocolVersion string     `json:"protocol_version"`
	Address         string     `json:"address"`
	Auth            *HelloAuth `json:"auth,omitempty"`
}

type HelloAuth struct {
	Token string `json:"token,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	SessionID       string      `json:"session_id"`
	Address         string      `json:"address"`
	ArenaParams     ArenaParams `json:"arena_params"`
	Player          *PlayerView `json:"player,omitempty"`
}

type ArenaParams struct {
	ArenaID          string `json:"arena_id"`
	Pool             string `json:"pool"`
	Metric           string `json:"metric"`
	SafeZoneRadius   int64  `json:"safe_zone_radius"`
	InteractionRange int64  `json:"interaction_range"`
}

// PlayerView is the authoritative record of one player.
type PlayerView struct {
	Address        string   `json:"address"`
	State          string   `json:"state"` // ONLINE or OFFLINE
	Pos            [2]int64 `json:"pos"`
	Score          uint64   `json:"score"`
	UnsecuredAsset uint64   `json:"unsecured_asset"`
}

// ACT (client -> server): exactly one action per message.
type ActMsg struct {
	Type            string    `json:"type"`
	ProtocolVersion string    `json:"protocol_version"`
	ID              string    `json:"id"`
	Action          string    `json:"action"`
	Actor           string    `json:"actor,omitempty"` // filled by the server from the session
	Direction       string    `json:"direction,omitempty"`
	AssetID         uint64    `json:"asset_id,omitempty"`
	Victim          string    `json:"victim,omitempty"`
	Pos             *[2]int64 `json:"pos,omitempty"`
}

// RESULT (server -> client)
type ResultMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	ID              string      `json:"id"`
	OK              bool        `json:"ok"`
	Code            string      `json:"code,omitempty"`   // E_* wire code
	Reason          string      `json:"reason,omitempty"` // fine-grained engine code
	Message         string      `json:"message,omitempty"`
	Seq             uint64      `json:"seq,omitempty"`
	Digest          string      `json:"digest,omitempty"`
	AssetID         uint64      `json:"asset_id,omitempty"`
	Player          *PlayerView `json:"player,omitempty"`
}
