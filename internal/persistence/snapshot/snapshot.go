// Package snapshot stores full arena state as a zstd stream holding a JSON
// header line followed by a gob body.
package snapshot

import (
	"bufio"
	"encoding/gob"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const Version = 1

const fileSuffix = ".snap.zst"

type Header struct {
	Version int    `json:"version"`
	ArenaID string `json:"arena_id"`
	Seq     uint64 `json:"seq"`
	Digest  string `json:"digest,omitempty"`
}

type SnapshotV1 struct {
	Header Header `json:"header"`

	Pool             string `json:"pool"`
	Metric           string `json:"metric"`
	SafeZoneRadius   int64  `json:"safe_zone_radius"`
	InteractionRange int64  `json:"interaction_range"`

	// MonstersBox is the registry in its persisted byte layout.
	MonstersBox []byte `json:"monsters_box"`

	Players []PlayerV1 `json:"players"`
	Saved   []SavedV1  `json:"saved"`

	Ledger *LedgerV1 `json:"ledger,omitempty"`
}

// PlayerV1 is one active slot. Box uses the 32-byte player layout.
type PlayerV1 struct {
	Address string `json:"address"`
	Online  bool   `json:"online"`
	Box     []byte `json:"box"`
}

type SavedV1 struct {
	Address string `json:"address"`
	Box     []byte `json:"box"`
}

type LedgerV1 struct {
	NextID uint64    `json:"next_id"`
	Assets []AssetV1 `json:"assets"`
	OptIns []OptInV1 `json:"opt_ins"`
}

type AssetV1 struct {
	ID       uint64 `json:"id"`
	UnitName string `json:"unit_name"`
	Total    uint64 `json:"total"`
	Manager  string `json:"manager"`
	Freeze   string `json:"freeze"`
	Clawback string `json:"clawback"`
	Reserve  string `json:"reserve"`
	Holder   string `json:"holder"`
}

type OptInV1 struct {
	Asset   uint64 `json:"asset"`
	Account string `json:"account"`
}

// PathFor returns the canonical file name for a snapshot taken at seq.
func PathFor(dir string, seq uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%d%s", seq, fileSuffix))
}

// WriteSnapshot writes snap to path through a temp file and rename, so a
// crash never leaves a truncated snapshot under the final name.
func WriteSnapshot(path string, snap SnapshotV1) error {
	if snap.Header.Version == 0 {
		snap.Header.Version = Version
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := encode(f, snap); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func encode(f *os.File, snap SnapshotV1) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 256*1024)

	hb, _ := json.Marshal(snap.Header)
	if _, err := bw.Write(hb); err != nil {
		enc.Close()
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		enc.Close()
		return err
	}
	if err := gob.NewEncoder(bw).Encode(&snap); err != nil {
		enc.Close()
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func ReadSnapshot(path string) (SnapshotV1, error) {
	var snap SnapshotV1
	f, err := os.Open(path)
	if err != nil {
		return snap, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return snap, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 256*1024)

	// The gob body repeats the header.
	if _, err := br.ReadBytes('\n'); err != nil {
		return snap, fmt.Errorf("read header: %w", err)
	}
	if err := gob.NewDecoder(br).Decode(&snap); err != nil {
		return snap, fmt.Errorf("gob decode: %w", err)
	}
	if snap.Header.Version != Version {
		return snap, fmt.Errorf("unsupported snapshot version %d", snap.Header.Version)
	}
	return snap, nil
}

// ReadHeader decodes only the leading JSON header line.
func ReadHeader(path string) (Header, error) {
	var h Header
	f, err := os.Open(path)
	if err != nil {
		return h, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return h, err
	}
	defer dec.Close()

	line, err := bufio.NewReader(dec).ReadBytes('\n')
	if err != nil {
		return h, fmt.Errorf("read header: %w", err)
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// ErrNoSnapshots is returned by Latest when dir holds no snapshot files.
var ErrNoSnapshots = errors.New("snapshot: none found")

// List returns the snapshot files in dir ordered by sequence.
func List(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	type item struct {
		seq  uint64
		path string
	}
	var items []item
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		seq, err := strconv.ParseUint(strings.TrimSuffix(name, fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		items = append(items, item{seq: seq, path: filepath.Join(dir, name)})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].seq < items[j].seq })
	out := make([]string, 0, len(items))
	for _, it := range items {
		out = append(out, it.path)
	}
	return out, nil
}

// Latest returns the path of the highest-sequence snapshot in dir.
func Latest(dir string) (string, error) {
	files, err := List(dir)
	if err != nil {
		return "", err
	}
	if len(files) == 0 {
		return "", ErrNoSnapshots
	}
	return files[len(files)-1], nil
}
