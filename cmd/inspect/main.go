// Command inspect prints checkpoints, step logs and run index rows as JSON lines.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"voxelmind/internal/persistence/archive"
	"voxelmind/internal/persistence/checkpoint"
	"voxelmind/internal/persistence/runindex"
	"voxelmind/internal/persistence/steplog"
	"voxelmind/internal/trainer"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "checkpoints":
			checkpointsCmd(os.Args[2:])
			return
		case "steps":
			stepsCmd(os.Args[2:])
			return
		case "episodes":
			episodesCmd(os.Args[2:])
			return
		case "archives":
			archivesCmd(os.Args[2:])
			return
		case "db":
			dbCmd(os.Args[2:])
			return
		}
	}
	fmt.Fprintln(os.Stderr, "usage: inspect checkpoints|archives|steps|episodes|db [flags]")
	os.Exit(2)
}

func checkpointsCmd(args []string) {
	fs := flag.NewFlagSet("checkpoints", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	name := fs.String("name", "", "checkpoint name, e.g. shared or an agent id (default: latest of every name)")
	_ = fs.Parse(args)

	dir := checkpoint.NewDir(filepath.Join(*dataDir, "checkpoints"))
	if err := listCheckpoints(os.Stdout, dir, strings.TrimSpace(*name)); err != nil {
		fmt.Fprintln(os.Stderr, "checkpoints:", err)
		os.Exit(1)
	}
}

type checkpointRow struct {
	Name string `json:"name"`
	Path string `json:"path"`
	checkpoint.Header
}

// listCheckpoints prints every checkpoint of name, or the newest one of each
// name when name is empty.
func listCheckpoints(w io.Writer, dir *checkpoint.Dir, name string) error {
	names := []string{name}
	if name == "" {
		var err error
		if names, err = dir.Names(); err != nil {
			return err
		}
	}
	for _, n := range names {
		paths, err := dir.List(n)
		if err != nil {
			return err
		}
		if name == "" && len(paths) > 0 {
			paths = paths[len(paths)-1:]
		}
		for _, p := range paths {
			h, err := checkpoint.ReadHeader(p)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(p), err)
			}
			printJSON(w, checkpointRow{Name: n, Path: p, Header: h})
		}
	}
	return nil
}

func archivesCmd(args []string) {
	fs := flag.NewFlagSet("archives", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	_ = fs.Parse(args)

	metas, err := archive.List(*dataDir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "archives:", err)
		os.Exit(1)
	}
	for _, m := range metas {
		printJSON(os.Stdout, m)
	}
}

func stepsCmd(args []string) {
	fs := flag.NewFlagSet("steps", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	agent := fs.String("agent", "", "agent id filter")
	limit := fs.Int("limit", 0, "stop after this many rows (0 = all)")
	_ = fs.Parse(args)

	if err := dumpSteps(os.Stdout, filepath.Join(*dataDir, "steps"), strings.TrimSpace(*agent), *limit); err != nil {
		fmt.Fprintln(os.Stderr, "steps:", err)
		os.Exit(1)
	}
}

func episodesCmd(args []string) {
	fs := flag.NewFlagSet("episodes", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	agent := fs.String("agent", "", "agent id filter")
	limit := fs.Int("limit", 0, "stop after this many rows (0 = all)")
	_ = fs.Parse(args)

	if err := dumpEpisodes(os.Stdout, filepath.Join(*dataDir, "episodes"), strings.TrimSpace(*agent), *limit); err != nil {
		fmt.Fprintln(os.Stderr, "episodes:", err)
		os.Exit(1)
	}
}

var errLimit = errors.New("limit reached")

func dumpSteps(w io.Writer, dir, agent string, limit int) error {
	files, err := steplog.ListFiles(dir, "steps")
	if err != nil {
		return err
	}
	n := 0
	for _, f := range files {
		err := steplog.ReadSteps(f, func(s trainer.StepResult) error {
			if agent != "" && s.AgentID != agent {
				return nil
			}
			printJSON(w, s)
			n++
			if limit > 0 && n >= limit {
				return errLimit
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, errLimit) {
				return nil
			}
			return err
		}
	}
	return nil
}

func dumpEpisodes(w io.Writer, dir, agent string, limit int) error {
	files, err := steplog.ListFiles(dir, "episodes")
	if err != nil {
		return err
	}
	n := 0
	for _, f := range files {
		err := steplog.ReadEpisodes(f, func(e trainer.EpisodeSummary) error {
			if agent != "" && e.AgentID != agent {
				return nil
			}
			printJSON(w, e)
			n++
			if limit > 0 && n >= limit {
				return errLimit
			}
			return nil
		})
		if err != nil {
			if errors.Is(err, errLimit) {
				return nil
			}
			return err
		}
	}
	return nil
}

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite db path (default: <data>/index/runs.sqlite)")
	runID := fs.String("run", "", "run id (default: latest run)")
	agent := fs.String("agent", "", "agent id filter (episodes)")
	limit := fs.Int("limit", 20, "result limit")
	_ = fs.Parse(args)

	q := "runs"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "index", "runs.sqlite")
	}

	r, err := runindex.OpenReader(path)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer r.Close()

	if err := queryIndex(context.Background(), os.Stdout, r, q, strings.TrimSpace(*runID), strings.TrimSpace(*agent), *limit); err != nil {
		fmt.Fprintln(os.Stderr, q+":", err)
		os.Exit(1)
	}
}

func queryIndex(ctx context.Context, w io.Writer, r *runindex.Reader, q, runID, agent string, limit int) error {
	if q != "runs" && runID == "" {
		runs, err := r.Runs(ctx, 1)
		if err != nil {
			return err
		}
		if len(runs) == 0 {
			return fmt.Errorf("no runs recorded")
		}
		runID = runs[0].RunID
	}
	var rows []any
	switch q {
	case "runs":
		runs, err := r.Runs(ctx, limit)
		if err != nil {
			return err
		}
		for _, v := range runs {
			rows = append(rows, v)
		}
	case "agents":
		agents, err := r.Agents(ctx, runID)
		if err != nil {
			return err
		}
		for _, v := range agents {
			rows = append(rows, v)
		}
	case "episodes":
		eps, err := r.Episodes(ctx, runID, agent, limit)
		if err != nil {
			return err
		}
		for _, v := range eps {
			rows = append(rows, v)
		}
	case "rounds":
		rounds, err := r.TrainRounds(ctx, runID, limit)
		if err != nil {
			return err
		}
		for _, v := range rounds {
			rows = append(rows, v)
		}
	case "checkpoints":
		cks, err := r.Checkpoints(ctx, runID, limit)
		if err != nil {
			return err
		}
		for _, v := range cks {
			rows = append(rows, v)
		}
	default:
		return fmt.Errorf("unknown query %q (runs|agents|episodes|rounds|checkpoints)", q)
	}
	for _, row := range rows {
		printJSON(w, row)
	}
	return nil
}

func printJSON(w io.Writer, v any) {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
