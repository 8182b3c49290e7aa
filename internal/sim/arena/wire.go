package arena

import (
	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arenaerr"
)

// WireCode maps an engine error to its E_* protocol code.
func WireCode(err error) string {
	if err == nil {
		return ""
	}
	switch arenaerr.KindOf(err) {
	case arenaerr.KindNotFound:
		return protocol.ErrNotFound
	case arenaerr.KindInvalidState:
		return protocol.ErrInvalidState
	case arenaerr.KindPrecondition:
		return protocol.ErrPrecondition
	case arenaerr.KindLedger:
		return protocol.ErrLedger
	case arenaerr.KindBadRequest:
		return protocol.ErrBadRequest
	default:
		return protocol.ErrInternal
	}
}

// ResultMsg builds the RESULT reply for an applied ACT.
func ResultMsg(id string, res Result, err error) protocol.ResultMsg {
	msg := protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ID:              id,
		OK:              err == nil,
		Seq:             res.Seq,
	}
	if err != nil {
		msg.Code = WireCode(err)
		msg.Reason = string(arenaerr.CodeOf(err))
		msg.Message = err.Error()
		return msg
	}
	msg.Digest = res.Digest
	msg.AssetID = uint64(res.Asset)
	actor := Actor(res.Action)
	for _, p := range res.Players {
		if p.Address == actor {
			msg.Player = p.View()
			break
		}
	}
	return msg
}

// Params describes the arena to clients.
func (c Config) Params() protocol.ArenaParams {
	return protocol.ArenaParams{
		ArenaID:          c.ID,
		Pool:             string(c.Pool),
		Metric:           string(c.Rules.Metric),
		SafeZoneRadius:   c.Rules.SafeZoneRadius,
		InteractionRange: c.Rules.InteractionRange,
	}
}
