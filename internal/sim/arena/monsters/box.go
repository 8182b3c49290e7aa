package monsters

import (
	"encoding/binary"
	"fmt"

	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/ledger"
)

// BoxName is the key the registry is persisted under.
const BoxName = "MONSTERS"

// Box layout: [count:8] followed by count records of
// [pos_x:8][pos_y:8][asset_id:8], all big-endian.
const (
	countSize  = 8
	RecordSize = 24
)

func (r *Registry) EncodeBox() []byte {
	return EncodeBox(r.list)
}

func EncodeBox(list []Monster) []byte {
	b := make([]byte, countSize+len(list)*RecordSize)
	binary.BigEndian.PutUint64(b[0:8], uint64(len(list)))
	off := countSize
	for _, m := range list {
		binary.BigEndian.PutUint64(b[off:], uint64(m.Pos.X))
		binary.BigEndian.PutUint64(b[off+8:], uint64(m.Pos.Y))
		binary.BigEndian.PutUint64(b[off+16:], uint64(m.Asset))
		off += RecordSize
	}
	return b
}

// DecodeBox parses a MONSTERS box. Trailing bytes past count records are
// rejected so a stride mismatch cannot go unnoticed.
func DecodeBox(b []byte) ([]Monster, error) {
	if len(b) < countSize {
		return nil, fmt.Errorf("monsters box: short header (%d bytes)", len(b))
	}
	n := binary.BigEndian.Uint64(b[0:8])
	body := uint64(len(b) - countSize)
	if body%RecordSize != 0 || body/RecordSize != n {
		return nil, fmt.Errorf("monsters box: count=%d but body is %d bytes (stride %d)", n, body, RecordSize)
	}
	out := make([]Monster, 0, n)
	off := countSize
	for i := uint64(0); i < n; i++ {
		out = append(out, Monster{
			Pos: spatial.Position{
				X: int64(binary.BigEndian.Uint64(b[off:])),
				Y: int64(binary.BigEndian.Uint64(b[off+8:])),
			},
			Asset: ledger.AssetID(binary.BigEndian.Uint64(b[off+16:])),
		})
		off += RecordSize
	}
	return out, nil
}
