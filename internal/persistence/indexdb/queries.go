package indexdb

import (
	"context"
	"database/sql"
	"encoding/json"

	"monsterarena.ai/internal/protocol"
	"monsterarena.ai/internal/sim/arena"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/arena/spatial"
	"monsterarena.ai/internal/sim/arenaerr"
	"monsterarena.ai/internal/sim/ledger"
)

// DB exposes the underlying handle for ad-hoc read queries.
func (s *SQLiteIndex) DB() *sql.DB { return s.db }

// SavedPlayers lists the indexed offline snapshots sorted by address.
func (s *SQLiteIndex) SavedPlayers(ctx context.Context) ([]players.SavedPlayer, error) {
	return QuerySavedPlayers(ctx, s.db)
}

func (s *SQLiteIndex) ActionsByActor(ctx context.Context, actor string, limit int) ([]arena.ActionLogEntry, error) {
	return QueryActionsByActor(ctx, s.db, actor, limit)
}

func (s *SQLiteIndex) CustodyByAsset(ctx context.Context, asset ledger.AssetID) ([]arena.CustodyEntry, error) {
	return QueryCustodyByAsset(ctx, s.db, asset)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func QuerySavedPlayers(ctx context.Context, q querier) ([]players.SavedPlayer, error) {
	rows, err := q.QueryContext(ctx, `SELECT address,pos_x,pos_y,score,unsecured_asset FROM saved_players ORDER BY address`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []players.SavedPlayer
	for rows.Next() {
		var (
			addr         string
			x, y         int64
			score, asset int64
		)
		if err := rows.Scan(&addr, &x, &y, &score, &asset); err != nil {
			return nil, err
		}
		out = append(out, players.SavedPlayer{
			Address: ledger.AccountID(addr),
			Record: players.Record{
				Pos:       spatial.Position{X: x, Y: y},
				Score:     uint64(score),
				Unsecured: ledger.AssetID(asset),
			},
		})
	}
	return out, rows.Err()
}

// QueryActionsByActor returns the latest actions of actor, newest first.
// limit <= 0 means 100.
func QueryActionsByActor(ctx context.Context, q querier, actor string, limit int) ([]arena.ActionLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx,
		`SELECT seq,ok,code,asset,digest,act_json FROM actions WHERE actor=? ORDER BY seq DESC LIMIT ?`,
		actor, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []arena.ActionLogEntry
	for rows.Next() {
		var (
			seq, asset   int64
			ok           int
			code, digest sql.NullString
			actJSON      string
		)
		if err := rows.Scan(&seq, &ok, &code, &asset, &digest, &actJSON); err != nil {
			return nil, err
		}
		var act protocol.ActMsg
		if err := json.Unmarshal([]byte(actJSON), &act); err != nil {
			return nil, err
		}
		out = append(out, arena.ActionLogEntry{
			Seq:    uint64(seq),
			Act:    act,
			OK:     ok == 1,
			Code:   arenaerr.Code(code.String),
			Asset:  ledger.AssetID(asset),
			Digest: digest.String,
		})
	}
	return out, rows.Err()
}

// QueryCustodyByAsset returns the custody history of asset in sequence order.
func QueryCustodyByAsset(ctx context.Context, q querier, asset ledger.AssetID) ([]arena.CustodyEntry, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT seq,from_account,to_account,reason FROM custody WHERE asset=? ORDER BY seq`,
		int64(asset),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []arena.CustodyEntry
	for rows.Next() {
		var (
			seq     int64
			from    sql.NullString
			to, why string
		)
		if err := rows.Scan(&seq, &from, &to, &why); err != nil {
			return nil, err
		}
		out = append(out, arena.CustodyEntry{
			Seq:    uint64(seq),
			Asset:  asset,
			From:   ledger.AccountID(from.String),
			To:     ledger.AccountID(to),
			Reason: why,
		})
	}
	return out, rows.Err()
}
