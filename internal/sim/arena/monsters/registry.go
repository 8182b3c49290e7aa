// Package monsters is the registry of live monsters. Each monster is bound
// to one minted asset held by the shared pool until a player kills it.
package monsters

import (
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

type Monster struct {
	Pos   spatial.Position `json:"pos"`
	Asset ledger.AssetID   `json:"asset_id"`
}

// Registry is an unordered collection of monsters. Removal swaps the last
// record into the freed index, so order is only insertion order until the
// first removal.
type Registry struct {
	list    []Monster
	byAsset map[ledger.AssetID]int
}

func NewRegistry() *Registry {
	return &Registry{byAsset: map[ledger.AssetID]int{}}
}

func (r *Registry) Len() int { return len(r.list) }

// Add appends a monster. The asset must be non-zero and not already live.
func (r *Registry) Add(pos spatial.Position, asset ledger.AssetID) error {
	if asset == ledger.NoAsset {
		return arenaerr.New(arenaerr.CodeBadAction, "monster needs a minted asset")
	}
	if _, dup := r.byAsset[asset]; dup {
		return arenaerr.New(arenaerr.CodeDuplicateMonster, "asset %d already bound to a live monster", asset)
	}
	r.byAsset[asset] = len(r.list)
	r.list = append(r.list, Monster{Pos: pos, Asset: asset})
	return nil
}

func (r *Registry) FindByAsset(asset ledger.AssetID) (int, bool) {
	idx, ok := r.byAsset[asset]
	return idx, ok
}

func (r *Registry) At(index int) (Monster, error) {
	if index < 0 || index >= len(r.list) {
		return Monster{}, arenaerr.New(arenaerr.CodeIndexOutOfRange, "monster index %d out of range [0,%d)", index, len(r.list))
	}
	return r.list[index], nil
}

// Remove deletes the monster at index by moving the last record into its slot.
func (r *Registry) Remove(index int) error {
	m, err := r.At(index)
	if err != nil {
		return err
	}
	last := len(r.list) - 1
	if index != last {
		moved := r.list[last]
		r.list[index] = moved
		r.byAsset[moved.Asset] = index
	}
	r.list[last] = Monster{}
	r.list = r.list[:last]
	delete(r.byAsset, m.Asset)
	return nil
}

// Snapshot returns a copy of the live monsters in registry order.
func (r *Registry) Snapshot() []Monster {
	out := make([]Monster, len(r.list))
	copy(out, r.list)
	return out
}

// Replace swaps in a full monster list, e.g. after decoding a box.
func (r *Registry) Replace(list []Monster) error {
	next := NewRegistry()
	for _, m := range list {
		if err := next.Add(m.Pos, m.Asset); err != nil {
			return err
		}
	}
	*r = *next
	return nil
}
