package arena

import (
	"strings"

	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

// Action is the closed set of state transitions. Each variant carries exactly
// the fields it needs.
type Action interface {
	Name() string
	isAction()
}

type EnterPlayer struct{ Addr ledger.AccountID }

type ExitAndSave struct{ Addr ledger.AccountID }

type Move struct {
	Addr ledger.AccountID
	Dir  spatial.Direction
}

// SpawnMonster is admin-only; access control lives in the transport.
type SpawnMonster struct{ Pos spatial.Position }

type KillMonster struct {
	Addr  ledger.AccountID
	Asset ledger.AssetID
}

type SecureAsset struct{ Addr ledger.AccountID }

type Steal struct {
	Thief  ledger.AccountID
	Victim ledger.AccountID
}

func (EnterPlayer) Name() string  { return protocol.ActEnter }
func (ExitAndSave) Name() string  { return protocol.ActExit }
func (Move) Name() string         { return protocol.ActMove }
func (SpawnMonster) Name() string { return protocol.ActSpawn }
func (KillMonster) Name() string  { return protocol.ActKill }
func (SecureAsset) Name() string  { return protocol.ActSecure }
func (Steal) Name() string        { return protocol.ActSteal }

func (EnterPlayer) isAction()  {}
func (ExitAndSave) isAction()  {}
func (Move) isAction()         {}
func (SpawnMonster) isAction() {}
func (KillMonster) isAction()  {}
func (SecureAsset) isAction()  {}
func (Steal) isAction()        {}

// Actor returns the address an action is performed by, or "" for SpawnMonster.
func Actor(a Action) ledger.AccountID {
	switch v := a.(type) {
	case EnterPlayer:
		return v.Addr
	case ExitAndSave:
		return v.Addr
	case Move:
		return v.Addr
	case KillMonster:
		return v.Addr
	case SecureAsset:
		return v.Addr
	case Steal:
		return v.Thief
	}
	return ""
}

// ActionFromMsg converts a wire ACT into an Action. msg.Actor must already be
// set from the session.
func ActionFromMsg(msg protocol.ActMsg) (Action, error) {
	actor := ledger.AccountID(msg.Actor)
	needActor := func() error {
		if actor == "" {
			return arenaerr.New(arenaerr.CodeBadAction, "%s: missing actor", msg.Action)
		}
		return nil
	}
	switch strings.ToUpper(msg.Action) {
	case protocol.ActEnter:
		if err := needActor(); err != nil {
			return nil, err
		}
		return EnterPlayer{Addr: actor}, nil
	case protocol.ActExit:
		if err := needActor(); err != nil {
			return nil, err
		}
		return ExitAndSave{Addr: actor}, nil
	case protocol.ActMove:
		if err := needActor(); err != nil {
			return nil, err
		}
		d, err := spatial.ParseDirection(msg.Direction)
		if err != nil {
			return nil, arenaerr.Wrap(arenaerr.CodeBadAction, "MOVE", err)
		}
		return Move{Addr: actor, Dir: d}, nil
	case protocol.ActSpawn:
		if msg.Pos == nil {
			return nil, arenaerr.New(arenaerr.CodeBadAction, "SPAWN: missing pos")
		}
		return SpawnMonster{Pos: spatial.Position{X: msg.Pos[0], Y: msg.Pos[1]}}, nil
	case protocol.ActKill:
		if err := needActor(); err != nil {
			return nil, err
		}
		if msg.AssetID == 0 {
			return nil, arenaerr.New(arenaerr.CodeBadAction, "KILL: missing asset_id")
		}
		return KillMonster{Addr: actor, Asset: ledger.AssetID(msg.AssetID)}, nil
	case protocol.ActSecure:
		if err := needActor(); err != nil {
			return nil, err
		}
		return SecureAsset{Addr: actor}, nil
	case protocol.ActSteal:
		if err := needActor(); err != nil {
			return nil, err
		}
		if msg.Victim == "" {
			return nil, arenaerr.New(arenaerr.CodeBadAction, "STEAL: missing victim")
		}
		return Steal{Thief: actor, Victim: ledger.AccountID(msg.Victim)}, nil
	default:
		return nil, arenaerr.New(arenaerr.CodeBadAction, "unknown action %q", msg.Action)
	}
}

// MsgFromAction is the inverse of ActionFromMsg.
func MsgFromAction(id string, a Action) protocol.ActMsg {
	msg := protocol.ActMsg{
		Type:            protocol.TypeAct,
		ProtocolVersion: protocol.Version,
		ID:              id,
		Action:          a.Name(),
		Actor:           string(Actor(a)),
	}
	switch v := a.(type) {
	case Move:
		msg.Direction = v.Dir.String()
	case SpawnMonster:
		msg.Pos = &[2]int64{v.Pos.X, v.Pos.Y}
	case KillMonster:
		msg.AssetID = uint64(v.Asset)
	case Steal:
		msg.Victim = string(v.Victim)
	}
	return msg
}
