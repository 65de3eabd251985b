// Package archive keeps milestone copies of the shared brain that checkpoint
// pruning would otherwise delete.
package archive

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/trainer"
)

type Meta struct {
	Generation uint64 `json:"generation"`
	Milestone  uint64 `json:"milestone"`
	Step       uint64 `json:"step"`
	RunID      string `json:"run_id"`
	BrainID    string `json:"brain_id"`
	Checkpoint string `json:"checkpoint"`
	CreatedAt  string `json:"created_at"`
}

// Generations copies the shared checkpoint into
// <root>/archives/generation_<NNN>/ each time its generation reaches a new
// multiple of every. It is a trainer.Index; only shared checkpoint records are
// acted on.
type Generations struct {
	root  string
	every uint64
	log   logrus.FieldLogger

	mu   sync.Mutex
	last uint64
}

func NewGenerations(root string, every uint64, log logrus.FieldLogger) *Generations {
	if every == 0 {
		every = 1
	}
	if log == nil {
		l := logrus.New()
		l.SetLevel(logrus.WarnLevel)
		log = l
	}
	return &Generations{root: root, every: every, log: log}
}

func (g *Generations) RecordEpisode(trainer.EpisodeSummary) {}
func (g *Generations) RecordTrain(trainer.TrainRound)       {}

func (g *Generations) RecordCheckpoint(c trainer.CheckpointInfo) {
	if c.Name != "shared" {
		return
	}
	if _, ok, err := g.Archive(c); err != nil {
		g.log.WithError(err).WithField("generation", c.Generation).Warn("archive shared brain")
	} else if ok {
		g.log.WithField("generation", c.Generation).Info("shared brain archived")
	}
}

// Archive copies c.Path when c.Generation crosses a milestone not yet archived.
// It reports the archived path and whether a copy was made.
func (g *Generations) Archive(c trainer.CheckpointInfo) (string, bool, error) {
	milestone := c.Generation / g.every
	if milestone == 0 {
		return "", false, nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if milestone <= g.last {
		return "", false, nil
	}
	dir := filepath.Join(g.root, "archives", fmt.Sprintf("generation_%03d", milestone*g.every))
	if _, err := os.Stat(filepath.Join(dir, "meta.json")); err == nil {
		g.last = milestone
		return "", false, nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", false, err
	}
	dst := filepath.Join(dir, filepath.Base(c.Path))
	if err := copyFile(c.Path, dst); err != nil {
		return "", false, err
	}
	meta := Meta{
		Generation: c.Generation,
		Milestone:  milestone * g.every,
		Step:       c.Step,
		RunID:      c.RunID,
		BrainID:    c.BrainID,
		Checkpoint: filepath.Base(dst),
		CreatedAt:  time.Now().UTC().Format(time.RFC3339Nano),
	}
	b, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return "", false, err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), b, 0o644); err != nil {
		return "", false, err
	}
	g.last = milestone
	return dst, true, nil
}

// List returns the archived milestones, oldest first.
func List(root string) ([]Meta, error) {
	matches, err := filepath.Glob(filepath.Join(root, "archives", "generation_*", "meta.json"))
	if err != nil {
		return nil, err
	}
	out := make([]Meta, 0, len(matches))
	for _, m := range matches {
		b, err := os.ReadFile(m)
		if err != nil {
			return nil, err
		}
		var meta Meta
		if err := json.Unmarshal(b, &meta); err != nil {
			return nil, fmt.Errorf("%s: %w", m, err)
		}
		out = append(out, meta)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Milestone < out[j].Milestone })
	return out, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() { _ = out.Close() }()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
