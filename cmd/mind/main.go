package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/config"
	"voxelmind/internal/logging"
	"voxelmind/internal/persistence/archive"
	"voxelmind/internal/persistence/checkpoint"
	"voxelmind/internal/persistence/r2s3"
	"voxelmind/internal/persistence/runindex"
	"voxelmind/internal/persistence/steplog"
	"voxelmind/internal/sandbox"
	"voxelmind/internal/trainer"
	"voxelmind/internal/transport/wsclient"
)

func main() {
	var (
		configPath = flag.String("config", "./configs/mind.yaml", "path to mind.yaml")
		dataDir    = flag.String("data", "", "runtime data directory (default: persistence.data_dir)")
		worldURL   = flag.String("url", "", "remote world ws url (implies ws mode)")
		agents     = flag.Int("agents", 0, "number of agents (default: world.agents)")
		useSandbox = flag.Bool("sandbox", false, "train in the in-process sandbox world")
		strict     = flag.Bool("strict", false, "validate every OBS against the protocol schema")
		addr       = flag.String("addr", "127.0.0.1:9090", "http listen address for health, metrics and stats (empty to disable)")
	)
	flag.Parse()

	log := logging.New("mind")

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			log.WithError(err).Fatal("load config")
		}
		log.WithField("path", *configPath).Info("config not found, using defaults")
	}
	applyFlags(&cfg, *dataDir, *worldURL, *agents, *useSandbox, *strict)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err = run(ctx, cfg, strings.TrimSpace(*addr), log)
	stop()
	if err != nil {
		log.WithError(err).Fatal("mind stopped")
	}
}

// run wires persistence, spawns agents and trains until ctx is done. Every
// opened writer is closed before it returns, including on startup errors.
func run(ctx context.Context, cfg config.Config, addr string, log *logrus.Entry) error {
	root := cfg.Persistence.DataDir
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	deps := trainer.Deps{
		Log:         log,
		Checkpoints: checkpoint.NewDir(filepath.Join(root, "checkpoints")),
	}
	var indexes trainer.MultiIndex

	var idx *runindex.SQLiteIndex
	if cfg.Persistence.Index {
		var err error
		idx, err = runindex.OpenSQLite(filepath.Join(root, "index", "runs.sqlite"))
		if err != nil {
			log.WithError(err).Warn("run index disabled")
			idx = nil
		} else {
			defer idx.Close()
			indexes = append(indexes, idx)
		}
	}

	if cfg.Persistence.StepLog {
		steps := steplog.New(root)
		steps.OnError(func(err error) { log.WithError(err).Warn("step log write") })
		defer steps.Close()
		deps.Steps = steps
		indexes = append(indexes, steps)
	}
	if every := cfg.Persistence.ArchiveEvery; every > 0 {
		indexes = append(indexes, archive.NewGenerations(root, every, log.WithField("component", "archive")))
	}
	var mirror *r2s3.Mirror
	if m := cfg.Persistence.Mirror; m.Enabled {
		client, err := r2s3.New(r2s3.Options{
			Endpoint:        m.Endpoint,
			Bucket:          m.Bucket,
			AccessKeyID:     os.Getenv("VM_R2_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("VM_R2_SECRET_ACCESS_KEY"),
		})
		if err != nil {
			return fmt.Errorf("checkpoint mirror: %w", err)
		}
		mirror = r2s3.NewMirror(client, root, r2s3.MirrorOptions{
			Prefix:  m.Prefix,
			Workers: m.Workers,
			Log:     log.WithField("component", "mirror"),
		})
		defer mirror.Close()
		indexes = append(indexes, mirror)
	}
	if len(indexes) > 0 {
		deps.Index = indexes
	}

	tr, err := trainer.New(cfg, deps)
	if err != nil {
		return fmt.Errorf("create trainer: %w", err)
	}
	log = log.WithField("run_id", tr.RunID())

	if idx != nil {
		raw, err := cfg.Marshal()
		if err != nil {
			log.WithError(err).Warn("marshal config")
		}
		if err := idx.StartRun(tr.RunID(), cfg.Seed, raw, time.Now()); err != nil {
			log.WithError(err).Warn("record run")
		}
	}

	sessions, err := spawnAgents(tr, cfg, log)
	for _, s := range sessions {
		defer s.Close()
	}
	if err != nil {
		return fmt.Errorf("spawn agents: %w", err)
	}
	log.WithFields(logrus.Fields{
		"mode":   cfg.World.Mode,
		"agents": len(tr.Agents()),
		"seed":   cfg.Seed,
	}).Info("training started")

	if addr != "" {
		srv := &http.Server{
			Addr:              addr,
			Handler:           buildMux(services{tr: tr, idx: idx, mirror: mirror, sessions: sessions, log: log}),
			ReadHeaderTimeout: 5 * time.Second,
		}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			log.WithField("addr", addr).Info("listening")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.WithError(err).Error("http server stopped")
			}
		}()
	}

	if err := tr.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		log.WithError(err).Error("training stopped")
	}
	st := tr.Stats()
	log.WithFields(logrus.Fields{
		"steps":    st.TotalSteps,
		"episodes": st.EpisodesCompleted,
		"rounds":   st.TrainRounds,
	}).Info("shutdown")
	return nil
}

func applyFlags(cfg *config.Config, dataDir, worldURL string, agents int, useSandbox, strict bool) {
	if d := strings.TrimSpace(dataDir); d != "" {
		cfg.Persistence.DataDir = d
	}
	if u := strings.TrimSpace(worldURL); u != "" {
		cfg.World.URL = u
		cfg.World.Mode = config.WorldRemote
	}
	if useSandbox {
		cfg.World.Mode = config.WorldSandbox
	}
	if agents > 0 {
		cfg.World.Agents = agents
	}
	if strict {
		cfg.World.Strict = true
	}
}

// spawnAgents joins cfg.World.Agents bodies to the configured world. The
// returned sessions are non-nil only in ws mode and must be closed even when an
// error is returned.
func spawnAgents(tr *trainer.Trainer, cfg config.Config, log *logrus.Entry) ([]*wsclient.Session, error) {
	n := cfg.World.Agents
	switch cfg.World.Mode {
	case config.WorldSandbox:
		scfg := sandbox.DefaultConfig()
		scfg.Seed = cfg.Seed
		w := sandbox.New(scfg)
		for i := 0; i < n; i++ {
			id := fmt.Sprintf("agent-%d", i+1)
			h, err := w.Join(id)
			if err != nil {
				return nil, err
			}
			if _, err := tr.Spawn(trainer.AgentSpec{ID: id, Provider: h, Actuator: h}); err != nil {
				return nil, err
			}
		}
		return nil, nil

	case config.WorldRemote:
		timeout := time.Duration(cfg.World.ActTimeoutMS) * time.Millisecond
		var sessions []*wsclient.Session
		for i := 0; i < n; i++ {
			name := fmt.Sprintf("mind-%d", i+1)
			s := wsclient.NewSession(wsclient.Config{
				URL:       cfg.World.URL,
				AgentName: name,
				Strict:    cfg.World.Strict,
				Log:       log.WithField("component", "wsclient"),
			})
			s.Start()
			sessions = append(sessions, s)
			a := wsclient.NewAgent(s, wsclient.WithActTimeout(timeout))
			if _, err := tr.Spawn(trainer.AgentSpec{ID: name, Provider: a, Actuator: a}); err != nil {
				return sessions, err
			}
		}
		return sessions, nil
	}
	return nil, fmt.Errorf("unknown world mode %q", cfg.World.Mode)
}
