// Package steplog writes training history as hourly-rotated, zstd-compressed JSONL.
package steplog

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

	"voxelmind/internal/trainer"
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

// SetClock replaces the clock used to pick the hourly file.
func (w *JSONLZstdWriter) SetClock(now func() time.Time) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.now = now
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

// Flush pushes buffered lines into the compressor.
func (w *JSONLZstdWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.w == nil {
		return nil
	}
	if err := w.w.Flush(); err != nil {
		return err
	}
	return w.enc.Flush()
}

func (w *JSONLZstdWriter) rotateLocked(hour string) error {
	if err := w.closeLocked(); err != nil {
		return err
	}
	if err := os.MkdirAll(w.baseDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(w.pathForHour(hour), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
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

// Logger records every step plus episode and training summaries under dataDir.
// It is both a trainer.StepSink and a trainer.Index.
type Logger struct {
	steps    *JSONLZstdWriter
	episodes *JSONLZstdWriter
	rounds   *JSONLZstdWriter
	onErr    func(error)
}

func New(dataDir string) *Logger {
	return &Logger{
		steps:    NewJSONLZstdWriter(filepath.Join(dataDir, "steps"), "steps"),
		episodes: NewJSONLZstdWriter(filepath.Join(dataDir, "episodes"), "episodes"),
		rounds:   NewJSONLZstdWriter(filepath.Join(dataDir, "train"), "train"),
	}
}

// OnError sets the callback for write failures of the fire-and-forget records.
func (l *Logger) OnError(fn func(error)) { l.onErr = fn }

func (l *Logger) SetClock(now func() time.Time) {
	l.steps.SetClock(now)
	l.episodes.SetClock(now)
	l.rounds.SetClock(now)
}

func (l *Logger) WriteStep(s trainer.StepResult) error { return l.steps.Write(s) }

func (l *Logger) RecordEpisode(e trainer.EpisodeSummary) { l.record(l.episodes.Write(e)) }
func (l *Logger) RecordTrain(r trainer.TrainRound)       { l.record(l.rounds.Write(r)) }

// RecordCheckpoint is a no-op; checkpoints are listed from the run index.
func (l *Logger) RecordCheckpoint(trainer.CheckpointInfo) {}

func (l *Logger) record(err error) {
	if err != nil && l.onErr != nil {
		l.onErr(err)
	}
}

func (l *Logger) Flush() error {
	for _, w := range []*JSONLZstdWriter{l.steps, l.episodes, l.rounds} {
		if err := w.Flush(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Logger) Close() error {
	var first error
	for _, w := range []*JSONLZstdWriter{l.steps, l.episodes, l.rounds} {
		if err := w.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// ListFiles returns dir's prefix-*.jsonl.zst files, oldest first.
func ListFiles(dir, prefix string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, prefix+"-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

// ReadLines calls fn with every line of a JSONL.zst file.
func ReadLines(path string, fn func([]byte) error) error {
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
	for sc.Scan() {
		if err := fn(sc.Bytes()); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return sc.Err()
}

func ReadSteps(path string, fn func(trainer.StepResult) error) error {
	return ReadLines(path, func(line []byte) error {
		var s trainer.StepResult
		if err := json.Unmarshal(line, &s); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return fn(s)
	})
}

func ReadEpisodes(path string, fn func(trainer.EpisodeSummary) error) error {
	return ReadLines(path, func(line []byte) error {
		var e trainer.EpisodeSummary
		if err := json.Unmarshal(line, &e); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		return fn(e)
	})
}
