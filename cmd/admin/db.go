package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"

	"monsterarena.ai/internal/persistence/indexdb"
	"monsterarena.ai/internal/sim/ledger"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	arenaID := fs.String("arena", "", "arena id (required unless -db)")
	dbPath := fs.String("db", "", "sqlite db path (optional)")
	limit := fs.Int("limit", 20, "result limit")
	actor := fs.String("actor", "", "actor filter (actions)")
	asset := fs.String("asset", "", "asset id (custody)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}

	path := strings.TrimSpace(*dbPath)
	if path == "" {
		if strings.TrimSpace(*arenaID) == "" {
			fmt.Fprintln(os.Stderr, "missing -arena or -db")
			os.Exit(2)
		}
		path = filepath.Join(*dataDir, "arenas", *arenaID, "index", "arena.sqlite")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer db.Close()

	ctx := context.Background()
	if *limit <= 0 {
		*limit = 20
	}

	switch q {
	case "snapshots":
		rows, err := db.QueryContext(ctx, `SELECT seq,path,digest,monsters,players,saved FROM snapshots ORDER BY seq DESC LIMIT ?`, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		defer rows.Close()
		for rows.Next() {
			var r struct {
				Seq      uint64 `json:"seq"`
				Path     string `json:"path"`
				Digest   string `json:"digest"`
				Monsters int    `json:"monsters"`
				Players  int    `json:"players"`
				Saved    int    `json:"saved"`
			}
			if err := rows.Scan(&r.Seq, &r.Path, &r.Digest, &r.Monsters, &r.Players, &r.Saved); err != nil {
				fmt.Fprintln(os.Stderr, "scan:", err)
				os.Exit(1)
			}
			printJSON(r)
		}
		if err := rows.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "rows:", err)
			os.Exit(1)
		}

	case "saved":
		list, err := indexdb.QuerySavedPlayers(ctx, db)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, p := range list {
			printJSON(p)
		}

	case "actions":
		if strings.TrimSpace(*actor) == "" {
			fmt.Fprintln(os.Stderr, "missing -actor")
			os.Exit(2)
		}
		list, err := indexdb.QueryActionsByActor(ctx, db, *actor, *limit)
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, a := range list {
			printJSON(a)
		}

	case "custody":
		id, err := strconv.ParseUint(strings.TrimSpace(*asset), 10, 64)
		if err != nil || id == 0 {
			fmt.Fprintln(os.Stderr, "missing or bad -asset")
			os.Exit(2)
		}
		list, err := indexdb.QueryCustodyByAsset(ctx, db, ledger.AssetID(id))
		if err != nil {
			fmt.Fprintln(os.Stderr, "query:", err)
			os.Exit(1)
		}
		for _, c := range list {
			printJSON(c)
		}

	case "tuning":
		var name, digest, js, updated string
		row := db.QueryRowContext(ctx, `SELECT name,digest,json,updated_at FROM tuning ORDER BY updated_at DESC LIMIT 1`)
		if err := row.Scan(&name, &digest, &js, &updated); err != nil {
			fmt.Fprintln(os.Stderr, "scan:", err)
			os.Exit(1)
		}
		fmt.Printf("%s digest=%s updated=%s\n%s\n", name, digest, updated, js)

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q, "(want snapshots|saved|actions|custody|tuning)")
		os.Exit(2)
	}
}
