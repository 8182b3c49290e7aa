package arena

import (
	"fmt"

	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/ledger"
)

// Export captures the full arena state. The ledger is included when it
// implements ledger.Exporter.
func (e *Engine) Export() snapshot.SnapshotV1 {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := snapshot.SnapshotV1{
		Header: snapshot.Header{
			Version: snapshot.Version,
			ArenaID: e.cfg.ID,
			Seq:     e.seq,
			Digest:  e.digestLocked(),
		},
		Pool:             string(e.cfg.Pool),
		Metric:           string(e.cfg.Rules.Metric),
		SafeZoneRadius:   e.cfg.Rules.SafeZoneRadius,
		InteractionRange: e.cfg.Rules.InteractionRange,
		MonstersBox:      e.reg.EncodeBox(),
	}
	for _, s := range e.players.Slots() {
		snap.Players = append(snap.Players, snapshot.PlayerV1{
			Address: string(s.Address),
			Online:  s.Online,
			Box:     players.EncodeBox(s.Record),
		})
	}
	for _, s := range e.players.SavedPlayers() {
		snap.Saved = append(snap.Saved, snapshot.SavedV1{
			Address: string(s.Address),
			Box:     players.EncodeBox(s.Record),
		})
	}
	if ex, ok := e.ledger.(ledger.Exporter); ok {
		snap.Ledger = ledgerToSnapshot(ex.Export())
	}
	return snap
}

// Import replaces the arena state with snap. Nothing changes on error.
func (e *Engine) Import(snap snapshot.SnapshotV1) error {
	if snap.Header.Version != snapshot.Version {
		return fmt.Errorf("arena import: unsupported snapshot version %d", snap.Header.Version)
	}
	metric, err := spatial.ParseMetric(snap.Metric)
	if err != nil {
		return fmt.Errorf("arena import: %w", err)
	}
	cfg := Config{
		ID:   snap.Header.ArenaID,
		Pool: ledger.AccountID(snap.Pool),
		Rules: spatial.Rules{
			Metric:           metric,
			SafeZoneRadius:   snap.SafeZoneRadius,
			InteractionRange: snap.InteractionRange,
		},
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("arena import: %w", err)
	}

	list, err := monsters.DecodeBox(snap.MonstersBox)
	if err != nil {
		return fmt.Errorf("arena import: %w", err)
	}
	reg := monsters.NewRegistry()
	if err := reg.Replace(list); err != nil {
		return fmt.Errorf("arena import: %w", err)
	}

	slots := make([]players.SlotEntry, 0, len(snap.Players))
	for _, p := range snap.Players {
		rec, err := players.DecodeBox(p.Box)
		if err != nil {
			return fmt.Errorf("arena import: player %s: %w", p.Address, err)
		}
		slots = append(slots, players.SlotEntry{Address: ledger.AccountID(p.Address), Online: p.Online, Record: rec})
	}
	saved := make([]players.SavedPlayer, 0, len(snap.Saved))
	for _, p := range snap.Saved {
		rec, err := players.DecodeBox(p.Box)
		if err != nil {
			return fmt.Errorf("arena import: saved %s: %w", p.Address, err)
		}
		saved = append(saved, players.SavedPlayer{Address: ledger.AccountID(p.Address), Record: rec})
	}
	store := players.NewStore()
	if err := store.Load(slots, saved); err != nil {
		return fmt.Errorf("arena import: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if snap.Ledger != nil {
		ex, ok := e.ledger.(ledger.Exporter)
		if !ok {
			return fmt.Errorf("arena import: snapshot carries ledger state but the ledger cannot import it")
		}
		if err := ex.Import(ledgerFromSnapshot(*snap.Ledger)); err != nil {
			return fmt.Errorf("arena import: %w", err)
		}
	}
	e.cfg = cfg
	e.reg = reg
	e.players = store
	e.seq = snap.Header.Seq
	if snap.Header.Digest != "" {
		if got := e.digestLocked(); got != snap.Header.Digest {
			e.logf("import: digest mismatch seq=%d want=%s got=%s", e.seq, snap.Header.Digest, got)
		}
	}
	return nil
}

func ledgerToSnapshot(st ledger.State) *snapshot.LedgerV1 {
	out := &snapshot.LedgerV1{NextID: uint64(st.NextID)}
	for _, a := range st.Assets {
		out.Assets = append(out.Assets, snapshot.AssetV1{
			ID:       uint64(a.Params.ID),
			UnitName: a.Params.UnitName,
			Total:    a.Params.Total,
			Manager:  string(a.Params.Manager),
			Freeze:   string(a.Params.Freeze),
			Clawback: string(a.Params.Clawback),
			Reserve:  string(a.Params.Reserve),
			Holder:   string(a.Holder),
		})
	}
	for _, o := range st.OptIns {
		out.OptIns = append(out.OptIns, snapshot.OptInV1{Asset: uint64(o.Asset), Account: string(o.Account)})
	}
	return out
}

func ledgerFromSnapshot(s snapshot.LedgerV1) ledger.State {
	st := ledger.State{NextID: ledger.AssetID(s.NextID)}
	for _, a := range s.Assets {
		st.Assets = append(st.Assets, ledger.Asset{
			Params: ledger.AssetParams{
				ID:       ledger.AssetID(a.ID),
				UnitName: a.UnitName,
				Total:    a.Total,
				Manager:  ledger.AccountID(a.Manager),
				Freeze:   ledger.AccountID(a.Freeze),
				Clawback: ledger.AccountID(a.Clawback),
				Reserve:  ledger.AccountID(a.Reserve),
			},
			Holder: ledger.AccountID(a.Holder),
		})
	}
	for _, o := range s.OptIns {
		st.OptIns = append(st.OptIns, ledger.OptIn{Asset: ledger.AssetID(o.Asset), Account: ledger.AccountID(o.Account)})
	}
	return st
}
