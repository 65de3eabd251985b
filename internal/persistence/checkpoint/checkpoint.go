// Package checkpoint stores brain parameters as zstd-compressed files: a JSON header
// line followed by a gob body.
package checkpoint

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
	"time"

	"github.com/klauspost/compress/zstd"

	"voxelmind/internal/brain"
)

const Version = 1

var ErrNotFound = errors.New("checkpoint not found")

type Header struct {
	Version    int       `json:"version"`
	Kind       string    `json:"kind"` // "shared" or "personal"
	AgentID    string    `json:"agent_id,omitempty"`
	BrainID    string    `json:"brain_id"`
	ParentID   string    `json:"parent_id,omitempty"`
	Generation uint64    `json:"generation"`
	Step       uint64    `json:"step"`
	SavedAt    time.Time `json:"saved_at"`
}

type Checkpoint struct {
	Header Header
	Params *brain.Params
}

// Backend persists checkpoints. Load returns (nil, nil) for a missing file.
type Backend interface {
	Save(path string, ck Checkpoint) error
	Load(path string) (*Checkpoint, error)
}

type ZstdBackend struct{}

func (ZstdBackend) Save(path string, ck Checkpoint) error {
	if ck.Params == nil {
		return errors.New("checkpoint: nil params")
	}
	ck.Header.Version = Version
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := writeFile(tmp, ck); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeFile(path string, ck Checkpoint) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)

	hb, _ := json.Marshal(ck.Header)
	if _, err := bw.Write(hb); err != nil {
		return err
	}
	if err := bw.WriteByte('\n'); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(ck.Params); err != nil {
		return fmt.Errorf("gob encode: %w", err)
	}
	if err := bw.Flush(); err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	return f.Sync()
}

func (ZstdBackend) Load(path string) (*Checkpoint, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	br := bufio.NewReaderSize(dec, 64*1024)
	line, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	var ck Checkpoint
	if err := json.Unmarshal(line, &ck.Header); err != nil {
		return nil, fmt.Errorf("decode header: %w", err)
	}
	if ck.Header.Version != Version {
		return nil, fmt.Errorf("checkpoint version %d unsupported", ck.Header.Version)
	}
	ck.Params = new(brain.Params)
	if err := gob.NewDecoder(br).Decode(ck.Params); err != nil {
		return nil, fmt.Errorf("gob decode: %w", err)
	}
	return &ck, nil
}

// ReadHeader decodes only the header line.
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
		return h, err
	}
	err = json.Unmarshal(line, &h)
	return h, err
}

// Dir lays out checkpoints under one directory as <name>-<step>.ckpt.zst, where
// name is "shared" or the agent id.
type Dir struct {
	Root    string
	Backend Backend
}

func NewDir(root string) *Dir { return &Dir{Root: root, Backend: ZstdBackend{}} }

func (d *Dir) Path(name string, step uint64) string {
	return filepath.Join(d.Root, fmt.Sprintf("%s-%012d.ckpt.zst", name, step))
}

func (d *Dir) Save(name string, ck Checkpoint) (string, error) {
	p := d.Path(name, ck.Header.Step)
	return p, d.Backend.Save(p, ck)
}

// List returns the checkpoint paths for name, oldest first.
func (d *Dir) List(name string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.Root, name+"-*.ckpt.zst"))
	if err != nil {
		return nil, err
	}
	out := matches[:0]
	for _, m := range matches {
		step := strings.TrimSuffix(strings.TrimPrefix(filepath.Base(m), name+"-"), ".ckpt.zst")
		if _, err := strconv.ParseUint(step, 10, 64); err == nil {
			out = append(out, m)
		}
	}
	sort.Strings(out)
	return out, nil
}

// Latest loads the newest checkpoint for name.
func (d *Dir) Latest(name string) (*Checkpoint, string, error) {
	paths, err := d.List(name)
	if err != nil {
		return nil, "", err
	}
	for i := len(paths) - 1; i >= 0; i-- {
		ck, err := d.Backend.Load(paths[i])
		if err == nil && ck != nil {
			return ck, paths[i], nil
		}
	}
	return nil, "", fmt.Errorf("%s: %w", name, ErrNotFound)
}

// Prune removes all but the newest keep checkpoints for name.
func (d *Dir) Prune(name string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	paths, err := d.List(name)
	if err != nil || len(paths) <= keep {
		return 0, err
	}
	n := 0
	for _, p := range paths[:len(paths)-keep] {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			return n, err
		}
		n++
	}
	return n, nil
}

// Names lists the distinct checkpoint names present.
func (d *Dir) Names() ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(d.Root, "*.ckpt.zst"))
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var out []string
	for _, m := range matches {
		base := strings.TrimSuffix(filepath.Base(m), ".ckpt.zst")
		i := strings.LastIndexByte(base, '-')
		if i <= 0 {
			continue
		}
		if name := base[:i]; !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
