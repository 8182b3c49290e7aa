package protocol

import "encoding/json"

const Version = "1.0"

// Message types.
const (
	TypeHello   = "HELLO"
	TypeWelcome = "WELCOME"
	TypeAct     = "ACT"
	TypeResult  = "RESULT"
)

// Action names carried by ACT.action.
const (
	ActEnter  = "ENTER"
	ActExit   = "EXIT"
	ActMove   = "MOVE"
	ActSpawn  = "SPAWN"
	ActKill   = "KILL"
	ActSecure = "SECURE"
	ActSteal  = "STEAL"
)

// BaseMessage lets us route unknown JSON messages by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
