// Package log persists the world's tick and audit streams as hourly-rotated,
// zstd-compressed JSON lines.
package log

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"gridbuild.dev/internal/sim/world"
)

const (
	fileSuffix = ".jsonl.zst"
	hourLayout = "2006-01-02-15"
)

// HourlyWriter appends JSON lines to <dir>/<prefix>-<UTC hour>.jsonl.zst and
// starts a new file whenever the hour changes.
type HourlyWriter struct {
	dir    string
	prefix string
	now    func() time.Time

	mu   sync.Mutex
	hour string
	f    *os.File
	enc  *zstd.Encoder
	bw   *bufio.Writer
}

func NewHourlyWriter(dir, prefix string) *HourlyWriter {
	return &HourlyWriter{dir: dir, prefix: prefix, now: time.Now}
}

func (w *HourlyWriter) Append(v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if hour := w.now().UTC().Format(hourLayout); hour != w.hour {
		if err := w.open(hour); err != nil {
			return err
		}
	}
	b = append(b, '\n')
	if _, err := w.bw.Write(b); err != nil {
		return err
	}
	return w.bw.Flush()
}

func (w *HourlyWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.closeFile()
}

func (w *HourlyWriter) open(hour string) error {
	if err := w.closeFile(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(w.dir, w.prefix+"-"+hour+fileSuffix)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	w.f, w.enc, w.hour = f, enc, hour
	w.bw = bufio.NewWriterSize(enc, 128*1024)
	return nil
}

// closeFile ends the current zstd frame. Appending to the same hour later
// starts a new frame in the same file, which readers handle transparently.
func (w *HourlyWriter) closeFile() error {
	var err error
	if w.bw != nil {
		err = w.bw.Flush()
		w.bw = nil
	}
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
		w.enc = nil
	}
	if w.f != nil {
		if cerr := w.f.Close(); err == nil {
			err = cerr
		}
		w.f = nil
	}
	w.hour = ""
	return err
}

// Files lists the files written for prefix in dir, oldest hour first.
func Files(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, prefix+"-") || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// Scan decodes each line of one file into a T and passes it to fn. A non-nil
// error from fn stops the scan and is returned as is.
func Scan[T any](path string, fn func(T) error) error {
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

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		var v T
		if err := json.Unmarshal(sc.Bytes(), &v); err != nil {
			return fmt.Errorf("%s:%d: %w", filepath.Base(path), line, err)
		}
		if err := fn(v); err != nil {
			return err
		}
	}
	return sc.Err()
}

func scanDir[T any](dir, prefix string, fn func(T) error) error {
	files, err := Files(dir, prefix)
	if err != nil {
		return err
	}
	for _, p := range files {
		if err := Scan(p, fn); err != nil {
			return err
		}
	}
	return nil
}

// TickLogger writes one entry per tick under <worldDir>/ticks.
type TickLogger struct{ w *HourlyWriter }

func NewTickLogger(worldDir string) *TickLogger {
	return &TickLogger{w: NewHourlyWriter(TickDir(worldDir), "ticks")}
}

func TickDir(worldDir string) string { return filepath.Join(worldDir, "ticks") }

func (l *TickLogger) WriteTick(e world.TickLogEntry) error { return l.w.Append(e) }
func (l *TickLogger) Close() error                         { return l.w.Close() }

// ReadTicks replays every tick entry found in dir in file order.
func ReadTicks(dir string, fn func(world.TickLogEntry) error) error {
	return scanDir(dir, "ticks", fn)
}

// AuditLogger writes grid mutations under <worldDir>/audit.
type AuditLogger struct{ w *HourlyWriter }

func NewAuditLogger(worldDir string) *AuditLogger {
	return &AuditLogger{w: NewHourlyWriter(AuditDir(worldDir), "audit")}
}

func AuditDir(worldDir string) string { return filepath.Join(worldDir, "audit") }

func (l *AuditLogger) WriteAudit(e world.AuditEntry) error { return l.w.Append(e) }
func (l *AuditLogger) Close() error                        { return l.w.Close() }

func ReadAudits(dir string, fn func(world.AuditEntry) error) error {
	return scanDir(dir, "audit", fn)
}
