// Package ledger is the custody boundary of the arena: minting monster
// assets and moving them between the shared pool and players.
//
// The engine only talks to the Ledger interface. MemoryLedger is the
// in-process implementation used by the server, replays and tests.
package ledger

import (
	"context"
	"errors"
	"strconv"
)

// AssetID references a single-unit asset. NoAsset is the "nothing held" sentinel.
type AssetID uint64

const NoAsset AssetID = 0

func (id AssetID) String() string { return strconv.FormatUint(uint64(id), 10) }

// AccountID is an account address on the ledger.
type AccountID string

// Ledger is the custody service the engine depends on. Each call is one
// atomic step; a failed call has no effect.
type Ledger interface {
	// Mint creates a fresh single-unit asset held by custodian, which also
	// keeps manager, freeze, clawback and reserve authority.
	Mint(ctx context.Context, custodian AccountID) (AssetID, error)
	// OptIn allows account to receive asset. Idempotent.
	OptIn(ctx context.Context, account AccountID, asset AssetID) error
	// Transfer moves the unit of asset from one account to another.
	Transfer(ctx context.Context, asset AssetID, from, to AccountID) error
}

// Grouper is implemented by ledgers that can submit several steps as one
// all-or-nothing unit. fn runs against a staged view; nothing it did is
// visible unless it returns nil.
type Grouper interface {
	Group(ctx context.Context, fn func(Ledger) error) error
}

// Group runs fn as a single unit when l supports it, and step by step otherwise.
func Group(ctx context.Context, l Ledger, fn func(Ledger) error) error {
	if g, ok := l.(Grouper); ok {
		return g.Group(ctx, fn)
	}
	return fn(l)
}

var (
	ErrUnknownAsset = errors.New("ledger: unknown asset")
	ErrNotOptedIn   = errors.New("ledger: receiver not opted in")
	ErrNotHolder    = errors.New("ledger: sender does not hold asset")
	ErrSameAccount  = errors.New("ledger: sender and receiver are the same account")
	ErrEmptyAccount = errors.New("ledger: empty account")
)

// Exporter is implemented by ledgers whose content can be captured in a
// snapshot and folded into the state digest.
type Exporter interface {
	Export() State
	Import(State) error
}
