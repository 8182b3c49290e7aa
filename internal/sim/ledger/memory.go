package ledger

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Op names a ledger call for fault injection.
type Op string

const (
	OpMint     Op = "MINT"
	OpOptIn    Op = "OPT_IN"
	OpTransfer Op = "TRANSFER"
)

// AssetParams mirrors the authority fields of a minted asset.
type AssetParams struct {
	ID       AssetID   `json:"id"`
	UnitName string    `json:"unit_name"`
	Total    uint64    `json:"total"`
	Manager  AccountID `json:"manager"`
	Freeze   AccountID `json:"freeze"`
	Clawback AccountID `json:"clawback"`
	Reserve  AccountID `json:"reserve"`
}

// Asset is an asset plus its current holder.
type Asset struct {
	Params AssetParams `json:"params"`
	Holder AccountID   `json:"holder"`
}

// OptIn records one account allowed to receive one asset.
type OptIn struct {
	Asset   AssetID   `json:"asset"`
	Account AccountID `json:"account"`
}

// State is the exportable content of a MemoryLedger.
type State struct {
	NextID AssetID `json:"next_id"`
	Assets []Asset `json:"assets"`
	OptIns []OptIn `json:"opt_ins"`
}

// MemoryLedger is a goroutine-safe in-memory Ledger and Grouper.
type MemoryLedger struct {
	mu     sync.Mutex
	st     memState
	faults map[Op]error
}

type memState struct {
	nextID AssetID
	assets map[AssetID]Asset
	optIns map[AssetID]map[AccountID]struct{}
}

const MonsterUnitName = "MONSTER"

func NewMemoryLedger() *MemoryLedger {
	return &MemoryLedger{
		st: memState{
			nextID: 1,
			assets: map[AssetID]Asset{},
			optIns: map[AssetID]map[AccountID]struct{}{},
		},
		faults: map[Op]error{},
	}
}

// FailOn makes the next call of op fail with err (one shot). Used to
// exercise the rollback paths of grouped steps.
func (m *MemoryLedger) FailOn(op Op, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = err
}

func (m *MemoryLedger) Mint(ctx context.Context, custodian AccountID) (AssetID, error) {
	if err := ctx.Err(); err != nil {
		return NoAsset, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mintLocked(&m.st, custodian)
}

func (m *MemoryLedger) OptIn(ctx context.Context, account AccountID, asset AssetID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.optInLocked(&m.st, account, asset)
}

func (m *MemoryLedger) Transfer(ctx context.Context, asset AssetID, from, to AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transferLocked(&m.st, asset, from, to)
}

func (m *MemoryLedger) Group(ctx context.Context, fn func(Ledger) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	staged := m.st.clone()
	if err := fn(&groupTx{m: m, st: &staged}); err != nil {
		return err
	}
	m.st = staged
	return nil
}

// Asset returns the params and holder of id.
func (m *MemoryLedger) Asset(id AssetID) (Asset, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.st.assets[id]
	return a, ok
}

// Balance is 1 when account holds asset, else 0.
func (m *MemoryLedger) Balance(asset AssetID, account AccountID) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.st.assets[asset]; ok && a.Holder == account {
		return 1
	}
	return 0
}

func (m *MemoryLedger) OptedIn(asset AssetID, account AccountID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.st.optIns[asset][account]
	return ok
}

// Export returns a deterministic copy of the ledger content.
func (m *MemoryLedger) Export() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := State{NextID: m.st.nextID}
	ids := make([]AssetID, 0, len(m.st.assets))
	for id := range m.st.assets {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		out.Assets = append(out.Assets, m.st.assets[id])
		accts := make([]AccountID, 0, len(m.st.optIns[id]))
		for a := range m.st.optIns[id] {
			accts = append(accts, a)
		}
		sort.Slice(accts, func(i, j int) bool { return accts[i] < accts[j] })
		for _, a := range accts {
			out.OptIns = append(out.OptIns, OptIn{Asset: id, Account: a})
		}
	}
	return out
}

// Import replaces the ledger content.
func (m *MemoryLedger) Import(s State) error {
	st := memState{
		nextID: s.NextID,
		assets: map[AssetID]Asset{},
		optIns: map[AssetID]map[AccountID]struct{}{},
	}
	for _, a := range s.Assets {
		if a.Params.ID == NoAsset {
			return fmt.Errorf("ledger import: asset with zero id")
		}
		if _, dup := st.assets[a.Params.ID]; dup {
			return fmt.Errorf("ledger import: duplicate asset %d", a.Params.ID)
		}
		if a.Params.ID >= st.nextID {
			st.nextID = a.Params.ID + 1
		}
		st.assets[a.Params.ID] = a
	}
	for _, o := range s.OptIns {
		if _, ok := st.assets[o.Asset]; !ok {
			return fmt.Errorf("ledger import: opt-in for unknown asset %d", o.Asset)
		}
		st.addOptIn(o.Asset, o.Account)
	}
	if st.nextID == NoAsset {
		st.nextID = 1
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.st = st
	return nil
}

func (m *MemoryLedger) takeFault(op Op) error {
	err := m.faults[op]
	if err != nil {
		delete(m.faults, op)
	}
	return err
}

func (m *MemoryLedger) mintLocked(st *memState, custodian AccountID) (AssetID, error) {
	if err := m.takeFault(OpMint); err != nil {
		return NoAsset, err
	}
	if custodian == "" {
		return NoAsset, ErrEmptyAccount
	}
	id := st.nextID
	st.nextID++
	st.assets[id] = Asset{
		Params: AssetParams{
			ID:       id,
			UnitName: MonsterUnitName,
			Total:    1,
			Manager:  custodian,
			Freeze:   custodian,
			Clawback: custodian,
			Reserve:  custodian,
		},
		Holder: custodian,
	}
	return id, nil
}

func (m *MemoryLedger) optInLocked(st *memState, account AccountID, asset AssetID) error {
	if err := m.takeFault(OpOptIn); err != nil {
		return err
	}
	if account == "" {
		return ErrEmptyAccount
	}
	if _, ok := st.assets[asset]; !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	st.addOptIn(asset, account)
	return nil
}

func (m *MemoryLedger) transferLocked(st *memState, asset AssetID, from, to AccountID) error {
	if err := m.takeFault(OpTransfer); err != nil {
		return err
	}
	a, ok := st.assets[asset]
	if !ok {
		return fmt.Errorf("%w: %d", ErrUnknownAsset, asset)
	}
	if from == to {
		return ErrSameAccount
	}
	if a.Holder != from {
		return fmt.Errorf("%w: asset=%d from=%s", ErrNotHolder, asset, from)
	}
	if to != a.Params.Reserve {
		if _, ok := st.optIns[asset][to]; !ok {
			return fmt.Errorf("%w: asset=%d to=%s", ErrNotOptedIn, asset, to)
		}
	}
	a.Holder = to
	st.assets[asset] = a
	return nil
}

func (st *memState) addOptIn(asset AssetID, account AccountID) {
	set := st.optIns[asset]
	if set == nil {
		set = map[AccountID]struct{}{}
		st.optIns[asset] = set
	}
	set[account] = struct{}{}
}

func (st memState) clone() memState {
	out := memState{
		nextID: st.nextID,
		assets: make(map[AssetID]Asset, len(st.assets)),
		optIns: make(map[AssetID]map[AccountID]struct{}, len(st.optIns)),
	}
	for id, a := range st.assets {
		out.assets[id] = a
	}
	for id, set := range st.optIns {
		cp := make(map[AccountID]struct{}, len(set))
		for a := range set {
			cp[a] = struct{}{}
		}
		out.optIns[id] = cp
	}
	return out
}

// groupTx is the staged view handed to Group callbacks. The ledger mutex
// is already held.
type groupTx struct {
	m  *MemoryLedger
	st *memState
}

func (g *groupTx) Mint(ctx context.Context, custodian AccountID) (AssetID, error) {
	if err := ctx.Err(); err != nil {
		return NoAsset, err
	}
	return g.m.mintLocked(g.st, custodian)
}

func (g *groupTx) OptIn(ctx context.Context, account AccountID, asset AssetID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.m.optInLocked(g.st, account, asset)
}

func (g *groupTx) Transfer(ctx context.Context, asset AssetID, from, to AccountID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return g.m.transferLocked(g.st, asset, from, to)
}
