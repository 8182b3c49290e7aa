package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"monsterarena.ai/internal/persistence/snapshot"
	"monsterarena.ai/internal/sim/arena/monsters"
	"monsterarena.ai/internal/sim/arena/players"
	"monsterarena.ai/internal/sim/ledger"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "snapshot":
			snapshotCmd(os.Args[2:])
			return
		case "spawn":
			spawnCmd(os.Args[2:])
			return
		case "list":
			listCmd(os.Args[2:])
			return
		}
	}
	listCmd(os.Args[1:])
}

func listCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	arenaID := fs.String("arena", "", "arena id (optional)")
	_ = fs.Parse(args)

	base := filepath.Join(*dataDir, "arenas")
	if *arenaID != "" {
		base = filepath.Join(base, *arenaID)
	}

	entries, err := os.ReadDir(base)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, e := range entries {
		fmt.Println(e.Name())
	}
}

// snapshotCmd dumps a local snapshot file when -file or -arena is given,
// otherwise asks the running server to write one.
func snapshotCmd(args []string) {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	baseURL := fs.String("url", "http://127.0.0.1:8080", "server base url")
	file := fs.String("file", "", "snapshot file to dump")
	dataDir := fs.String("data", "./data", "runtime data directory")
	arenaID := fs.String("arena", "", "dump the latest snapshot of this arena")
	_ = fs.Parse(args)

	path := strings.TrimSpace(*file)
	if path == "" && strings.TrimSpace(*arenaID) != "" {
		p, err := snapshot.Latest(filepath.Join(*dataDir, "arenas", *arenaID, "snapshots"))
		if err != nil {
			fmt.Fprintln(os.Stderr, "latest snapshot:", err)
			os.Exit(1)
		}
		path = p
	}
	if path == "" {
		requestSnapshot(*baseURL)
		return
	}

	snap, err := snapshot.ReadSnapshot(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read snapshot:", err)
		os.Exit(1)
	}
	dump, err := dumpSnapshot(snap)
	if err != nil {
		fmt.Fprintln(os.Stderr, "decode snapshot:", err)
		os.Exit(1)
	}
	printJSON(dump)
}

type snapshotDump struct {
	Header           snapshot.Header       `json:"header"`
	Pool             string                `json:"pool"`
	Metric           string                `json:"metric"`
	SafeZoneRadius   int64                 `json:"safe_zone_radius"`
	InteractionRange int64                 `json:"interaction_range"`
	Monsters         []monsters.Monster    `json:"monsters"`
	Players          []players.SlotEntry   `json:"players"`
	Saved            []players.SavedPlayer `json:"saved"`
	Assets           int                   `json:"assets"`
	OptIns           int                   `json:"opt_ins"`
}

func dumpSnapshot(snap snapshot.SnapshotV1) (snapshotDump, error) {
	d := snapshotDump{
		Header:           snap.Header,
		Pool:             snap.Pool,
		Metric:           snap.Metric,
		SafeZoneRadius:   snap.SafeZoneRadius,
		InteractionRange: snap.InteractionRange,
	}
	list, err := monsters.DecodeBox(snap.MonstersBox)
	if err != nil {
		return d, err
	}
	d.Monsters = list
	for _, p := range snap.Players {
		rec, err := players.DecodeBox(p.Box)
		if err != nil {
			return d, fmt.Errorf("player %s: %w", p.Address, err)
		}
		d.Players = append(d.Players, players.SlotEntry{Address: ledger.AccountID(p.Address), Online: p.Online, Record: rec})
	}
	for _, p := range snap.Saved {
		rec, err := players.DecodeBox(p.Box)
		if err != nil {
			return d, fmt.Errorf("saved %s: %w", p.Address, err)
		}
		d.Saved = append(d.Saved, players.SavedPlayer{Address: ledger.AccountID(p.Address), Record: rec})
	}
	if snap.Ledger != nil {
		d.Assets = len(snap.Ledger.Assets)
		d.OptIns = len(snap.Ledger.OptIns)
	}
	return d, nil
}

func printJSON(v any) {
	b, _ := json.Marshal(v)
	fmt.Println(string(b))
}
