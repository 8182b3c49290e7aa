package arena

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/ledger"
)

// Digest returns the hex sha256 of the full arena state.
func (e *Engine) Digest() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.digestLocked()
}

func (e *Engine) digestLocked() string {
	h := sha256.New()
	var tmp [8]byte

	digestWriteString(h, &tmp, e.cfg.ID)
	digestWriteString(h, &tmp, string(e.cfg.Pool))
	digestWriteString(h, &tmp, string(e.cfg.Rules.Metric))
	digestWriteU64(h, &tmp, uint64(e.cfg.Rules.SafeZoneRadius))
	digestWriteU64(h, &tmp, uint64(e.cfg.Rules.InteractionRange))

	h.Write(e.reg.EncodeBox())

	slots := e.players.Slots()
	digestWriteU64(h, &tmp, uint64(len(slots)))
	for _, s := range slots {
		digestWriteString(h, &tmp, string(s.Address))
		h.Write([]byte{boolByte(s.Online)})
		h.Write(players.EncodeBox(s.Record))
	}
	saved := e.players.SavedPlayers()
	digestWriteU64(h, &tmp, uint64(len(saved)))
	for _, s := range saved {
		digestWriteString(h, &tmp, string(s.Address))
		h.Write(players.EncodeBox(s.Record))
	}

	if ex, ok := e.ledger.(ledger.Exporter); ok {
		st := ex.Export()
		digestWriteU64(h, &tmp, uint64(st.NextID))
		digestWriteU64(h, &tmp, uint64(len(st.Assets)))
		for _, a := range st.Assets {
			digestWriteU64(h, &tmp, uint64(a.Params.ID))
			digestWriteString(h, &tmp, string(a.Holder))
		}
		digestWriteU64(h, &tmp, uint64(len(st.OptIns)))
		for _, o := range st.OptIns {
			digestWriteU64(h, &tmp, uint64(o.Asset))
			digestWriteString(h, &tmp, string(o.Account))
		}
	}

	return hex.EncodeToString(h.Sum(nil))
}

func digestWriteU64(h hash.Hash, tmp *[8]byte, v uint64) {
	binary.LittleEndian.PutUint64(tmp[:], v)
	h.Write(tmp[:])
}

func digestWriteString(h hash.Hash, tmp *[8]byte, s string) {
	digestWriteU64(h, tmp, uint64(len(s)))
	h.Write([]byte(s))
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}
