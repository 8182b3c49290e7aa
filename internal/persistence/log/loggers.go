// Package log writes the durable JSONL logs of an arena: one entry per
// applied action and one per custody change, zstd compressed and rotated
// hourly.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"monsterarena.ai/internal/sim/arena"
)

type JSONLZstdWriter struct {
	baseDir string
	prefix  string
	now     func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

func NewJSONLZstdWriter(baseDir, prefix string) *JSONLZstdWriter {
	return &JSONLZstdWriter{
		baseDir: baseDir,
		prefix:  prefix,
		now:     time.Now,
	}
}

func (w *JSONLZstdWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeLocked()
}

func (w *JSONLZstdWriter) Write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	hour := w.now().UTC().Format("2006-01-02-15")
	if hour != w.curHour {
		if err := w.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.w.Write(b); err != nil {
		return err
	}
	if err := w.w.WriteByte('\n'); err != nil {
		return err
	}
	return w.w.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	path := w.pathForHour(hour)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f = f
	w.enc = enc
	w.w = bufio.NewWriterSize(enc, 128*1024)
	w.curHour = hour
	return nil
}

func (w *JSONLZstdWriter) closeLocked() error {
	var err1 error
	if w.w != nil {
		_ = w.w.Flush()
	}
	if w.enc != nil {
		err1 = w.enc.Close()
		w.enc = nil
	}
	if w.f != nil {
		_ = w.f.Close()
		w.f = nil
	}
	w.w = nil
	w.curHour = ""
	return err1
}

func (w *JSONLZstdWriter) pathForHour(hour string) string {
	return filepath.Join(w.baseDir, fmt.Sprintf("%s-%s.jsonl.zst", w.prefix, hour))
}

// ActionLogger writes one entry per applied action.
type ActionLogger struct{ w *JSONLZstdWriter }

func NewActionLogger(arenaDir string) *ActionLogger {
	return &ActionLogger{w: NewJSONLZstdWriter(ActionsDir(arenaDir), "actions")}
}

func (l *ActionLogger) WriteAction(v arena.ActionLogEntry) error { return l.w.Write(v) }
func (l *ActionLogger) Close() error                             { return l.w.Close() }

// CustodyLogger writes one entry per change of asset holder.
type CustodyLogger struct{ w *JSONLZstdWriter }

func NewCustodyLogger(arenaDir string) *CustodyLogger {
	return &CustodyLogger{w: NewJSONLZstdWriter(CustodyDir(arenaDir), "custody")}
}

func (l *CustodyLogger) WriteCustody(v arena.CustodyEntry) error { return l.w.Write(v) }
func (l *CustodyLogger) Close() error                            { return l.w.Close() }

func ActionsDir(arenaDir string) string { return filepath.Join(arenaDir, "actions") }
func CustodyDir(arenaDir string) string { return filepath.Join(arenaDir, "custody") }

// ListFiles returns the .jsonl.zst files under dir in chronological order.
// File names embed the UTC hour, so lexical order is time order.
func ListFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, e := range ents {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".jsonl.zst") {
			continue
		}
		out = append(out, filepath.Join(dir, e.Name()))
	}
	sort.Strings(out)
	return out, nil
}

// ScanFile calls fn with each JSON line of a compressed log file.
func ScanFile(path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()
	return scanLines(dec, fn)
}

func scanLines(r io.Reader, fn func(line []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return sc.Err()
}

// ReadActions decodes every action entry under arenaDir in log order.
func ReadActions(arenaDir string) ([]arena.ActionLogEntry, error) {
	files, err := ListFiles(ActionsDir(arenaDir))
	if err != nil {
		return nil, err
	}
	var out []arena.ActionLogEntry
	for _, p := range files {
		err := ScanFile(p, func(line []byte) error {
			var e arena.ActionLogEntry
			if err := json.Unmarshal(line, &e); err != nil {
				return err
			}
			out = append(out, e)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filepath.Base(p), err)
		}
	}
	return out, nil
}
