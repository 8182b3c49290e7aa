package players

import (
	"encoding/binary"
	"fmt"

	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/ledger"
)

// BoxSize is the saved snapshot layout:
// [pos_x:8][pos_y:8][score:8][unsecured_asset:8], big-endian.
const BoxSize = 32

func EncodeBox(r Record) []byte {
	b := make([]byte, BoxSize)
	binary.BigEndian.PutUint64(b[0:], uint64(r.Pos.X))
	binary.BigEndian.PutUint64(b[8:], uint64(r.Pos.Y))
	binary.BigEndian.PutUint64(b[16:], r.Score)
	binary.BigEndian.PutUint64(b[24:], uint64(r.Unsecured))
	return b
}

func DecodeBox(b []byte) (Record, error) {
	if len(b) != BoxSize {
		return Record{}, fmt.Errorf("player box: want %d bytes, got %d", BoxSize, len(b))
	}
	return Record{
		Pos: spatial.Position{
			X: int64(binary.BigEndian.Uint64(b[0:])),
			Y: int64(binary.BigEndian.Uint64(b[8:])),
		},
		Score:     binary.BigEndian.Uint64(b[16:]),
		Unsecured: ledger.AssetID(binary.BigEndian.Uint64(b[24:])),
	}, nil
}
