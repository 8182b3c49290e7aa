// Package players keeps per-address player records.
//
// A player is either Online, with a mutable active record, or Offline, with
// a saved snapshot. Exactly one of the two forms is authoritative at a time.
// The active slot outlives an exit but is reset to the zero record.
package players

import (
	"sort"

	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

type State uint8

const (
	Offline State = iota
	Online
)

func (s State) String() string {
	if s == Online {
		return "ONLINE"
	}
	return "OFFLINE"
}

type Record struct {
	Pos       spatial.Position `json:"pos"`
	Score     uint64           `json:"score"`
	Unsecured ledger.AssetID   `json:"unsecured_asset"`
}

func (r Record) IsZero() bool { return r == Record{} }

type slot struct {
	rec    Record
	online bool
}

type Store struct {
	slots map[ledger.AccountID]*slot
	saved map[ledger.AccountID]Record
}

func NewStore() *Store {
	return &Store{
		slots: map[ledger.AccountID]*slot{},
		saved: map[ledger.AccountID]Record{},
	}
}

func (s *Store) State(addr ledger.AccountID) State {
	if sl := s.slots[addr]; sl != nil && sl.online {
		return Online
	}
	return Offline
}

// Enter brings addr online, restoring and clearing its saved snapshot when
// one exists.
func (s *Store) Enter(addr ledger.AccountID) (Record, error) {
	if addr == "" {
		return Record{}, arenaerr.New(arenaerr.CodeBadAction, "empty address")
	}
	sl := s.slots[addr]
	if sl != nil && sl.online {
		return Record{}, arenaerr.New(arenaerr.CodeAlreadyOnline, "player %s is already online", addr)
	}
	if sl == nil {
		sl = &slot{}
		s.slots[addr] = sl
	}
	rec, ok := s.saved[addr]
	if ok {
		delete(s.saved, addr)
	}
	sl.rec = rec
	sl.online = true
	return rec, nil
}

// Exit writes the active record to the saved form and resets the slot.
func (s *Store) Exit(addr ledger.AccountID) (Record, error) {
	sl := s.slots[addr]
	if sl == nil || !sl.online {
		return Record{}, arenaerr.New(arenaerr.CodeNotOnline, "player %s is not online", addr)
	}
	rec := sl.rec
	s.saved[addr] = rec
	sl.rec = Record{}
	sl.online = false
	return rec, nil
}

func (s *Store) Active(addr ledger.AccountID) (Record, error) {
	sl := s.slots[addr]
	if sl == nil || !sl.online {
		return Record{}, arenaerr.New(arenaerr.CodeNotOnline, "player %s is not online", addr)
	}
	return sl.rec, nil
}

func (s *Store) Saved(addr ledger.AccountID) (Record, error) {
	rec, ok := s.saved[addr]
	if !ok {
		return Record{}, arenaerr.New(arenaerr.CodeNoSnapshot, "no saved snapshot for %s", addr)
	}
	return rec, nil
}

// Authoritative returns whichever form currently owns addr's state.
func (s *Store) Authoritative(addr ledger.AccountID) (Record, State, error) {
	if sl := s.slots[addr]; sl != nil && sl.online {
		return sl.rec, Online, nil
	}
	if rec, ok := s.saved[addr]; ok {
		return rec, Offline, nil
	}
	return Record{}, Offline, arenaerr.New(arenaerr.CodePlayerNotFound, "unknown player %s", addr)
}

// PutActive commits a staged active record.
func (s *Store) PutActive(addr ledger.AccountID, rec Record) error {
	sl := s.slots[addr]
	if sl == nil || !sl.online {
		return arenaerr.New(arenaerr.CodeNotOnline, "player %s is not online", addr)
	}
	sl.rec = rec
	return nil
}

// PutSaved commits a staged change to an existing saved snapshot.
func (s *Store) PutSaved(addr ledger.AccountID, rec Record) error {
	if _, ok := s.saved[addr]; !ok {
		return arenaerr.New(arenaerr.CodeNoSnapshot, "no saved snapshot for %s", addr)
	}
	s.saved[addr] = rec
	return nil
}

// Put commits rec into whichever form is authoritative for addr.
func (s *Store) Put(addr ledger.AccountID, st State, rec Record) error {
	if st == Online {
		return s.PutActive(addr, rec)
	}
	return s.PutSaved(addr, rec)
}

type SavedPlayer struct {
	Address ledger.AccountID `json:"address"`
	Record  Record           `json:"record"`
}

// SavedPlayers lists offline snapshots sorted by address.
func (s *Store) SavedPlayers() []SavedPlayer {
	out := make([]SavedPlayer, 0, len(s.saved))
	for addr, rec := range s.saved {
		out = append(out, SavedPlayer{Address: addr, Record: rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// SlotEntry is the exported form of one active slot.
type SlotEntry struct {
	Address ledger.AccountID `json:"address"`
	Online  bool             `json:"online"`
	Record  Record           `json:"record"`
}

func (s *Store) Slots() []SlotEntry {
	out := make([]SlotEntry, 0, len(s.slots))
	for addr, sl := range s.slots {
		out = append(out, SlotEntry{Address: addr, Online: sl.online, Record: sl.rec})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out
}

// Load replaces the store content. Fails if an address is both online and saved.
func (s *Store) Load(slots []SlotEntry, saved []SavedPlayer) error {
	next := NewStore()
	for _, e := range slots {
		if e.Address == "" {
			return arenaerr.New(arenaerr.CodeBadAction, "slot with empty address")
		}
		next.slots[e.Address] = &slot{rec: e.Record, online: e.Online}
	}
	for _, p := range saved {
		if sl := next.slots[p.Address]; sl != nil && sl.online {
			return arenaerr.New(arenaerr.CodeAlreadyOnline, "player %s is both online and saved", p.Address)
		}
		next.saved[p.Address] = p.Record
	}
	*s = *next
	return nil
}
