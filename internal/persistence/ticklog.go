package persistence

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/talgya/mini-economy/internal/engine"
)

const tickLogSuffix = ".jsonl.zst"

// TickLog appends snapshots of one game as zstd-compressed JSON lines,
// rotating to a new file every hour.
type TickLog struct {
	dir string
	now func() time.Time

	mu      sync.Mutex
	curHour string
	f       *os.File
	enc     *zstd.Encoder
	w       *bufio.Writer
}

// NewTickLog creates a log writing under baseDir/gameID.
func NewTickLog(baseDir, gameID string) *TickLog {
	return &TickLog{
		dir: filepath.Join(baseDir, gameID),
		now: time.Now,
	}
}

// Dir returns the directory the log writes into.
func (l *TickLog) Dir() string { return l.dir }

// Write appends one snapshot.
func (l *TickLog) Write(u engine.TickUpdate) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	hour := l.now().UTC().Format("2006-01-02-15")
	if hour != l.curHour {
		if err := l.rotateLocked(hour); err != nil {
			return err
		}
	}

	b, err := json.Marshal(u)
	if err != nil {
		return err
	}
	if _, err := l.w.Write(b); err != nil {
		return err
	}
	if err := l.w.WriteByte('\n'); err != nil {
		return err
	}
	return l.w.Flush()
}

// Close flushes and closes the current file.
func (l *TickLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked()
}

func (l *TickLog) rotateLocked(hour string) error {
	if err := l.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(l.dir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(l.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		_ = f.Close()
		return err
	}
	l.f = f
	l.enc = enc
	l.w = bufio.NewWriterSize(enc, 64*1024)
	l.curHour = hour
	return nil
}

func (l *TickLog) closeLocked() error {
	var err error
	if l.w != nil {
		_ = l.w.Flush()
	}
	if l.enc != nil {
		err = l.enc.Close()
		l.enc = nil
	}
	if l.f != nil {
		_ = l.f.Close()
		l.f = nil
	}
	l.w = nil
	l.curHour = ""
	return err
}

func (l *TickLog) pathForHour(hour string) string {
	return filepath.Join(l.dir, fmt.Sprintf("ticks-%s%s", hour, tickLogSuffix))
}

// ReadTickLog decodes every snapshot stored in dir, in file order.
func ReadTickLog(dir string) ([]engine.TickUpdate, error) {
	files, err := filepath.Glob(filepath.Join(dir, "ticks-*"+tickLogSuffix))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var out []engine.TickUpdate
	for _, path := range files {
		updates, err := readTickFile(path)
		if err != nil {
			return out, fmt.Errorf("read %s: %w", filepath.Base(path), err)
		}
		out = append(out, updates...)
	}
	return out, nil
}

func readTickFile(path string) ([]engine.TickUpdate, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	var out []engine.TickUpdate
	jd := json.NewDecoder(dec)
	for {
		var u engine.TickUpdate
		if err := jd.Decode(&u); err != nil {
			if errors.Is(err, io.EOF) {
				return out, nil
			}
			return out, err
		}
		out = append(out, u)
	}
}
