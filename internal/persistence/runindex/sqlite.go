// Package runindex keeps a queryable SQLite history of training runs:
// checkpoints, episodes and training rounds.
package runindex

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"

	"voxelmind/internal/trainer"
)

const schemaVersion = "1"

// timeLayout is fixed width so stored timestamps sort chronologically as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteIndex writes asynchronously. Records are dropped, and counted, when
// the writer falls behind; the step log stays the source of truth.
type SQLiteIndex struct {
	db *sql.DB

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool

	dropEpisode    atomic.Uint64
	dropTrain      atomic.Uint64
	dropCheckpoint atomic.Uint64
	writeErrors    atomic.Uint64
}

type reqKind int

const (
	reqEpisode reqKind = iota + 1
	reqTrain
	reqCheckpoint
)

type req struct {
	kind reqKind

	episode    trainer.EpisodeSummary
	train      trainer.TrainRound
	checkpoint trainer.CheckpointInfo
}

type Stats struct {
	DropEpisodeTotal    uint64 `json:"drop_episode_total"`
	DropTrainTotal      uint64 `json:"drop_train_total"`
	DropCheckpointTotal uint64 `json:"drop_checkpoint_total"`
	WriteErrorTotal     uint64 `json:"write_error_total"`
	QueueDepth          int    `json:"queue_depth"`
	QueueCapacity       int    `json:"queue_capacity"`
}

func OpenSQLite(path string) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db: db,
		ch: make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA foreign_keys=ON;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			started_at TEXT NOT NULL,
			seed INTEGER NOT NULL,
			config TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS checkpoints (
			path TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			name TEXT NOT NULL,
			step INTEGER NOT NULL,
			generation INTEGER NOT NULL,
			brain_id TEXT NOT NULL,
			saved_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_checkpoints_run_name ON checkpoints(run_id, name, step);`,
		`CREATE TABLE IF NOT EXISTS episodes (
			run_id TEXT NOT NULL,
			agent_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			total_reward REAL NOT NULL,
			cause TEXT NOT NULL,
			ended_at TEXT NOT NULL,
			PRIMARY KEY (run_id, agent_id, seq)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_episodes_agent ON episodes(agent_id, ended_at);`,
		`CREATE TABLE IF NOT EXISTS train_rounds (
			run_id TEXT NOT NULL,
			round INTEGER NOT NULL,
			global_step INTEGER NOT NULL,
			samples INTEGER NOT NULL,
			actor_loss REAL NOT NULL,
			critic_loss REAL NOT NULL,
			entropy REAL NOT NULL,
			approx_kl REAL NOT NULL,
			clip_fraction REAL NOT NULL,
			generation INTEGER NOT NULL,
			personal INTEGER NOT NULL,
			skipped INTEGER NOT NULL,
			err TEXT,
			at TEXT NOT NULL,
			PRIMARY KEY (run_id, round)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	_, err := db.Exec(`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version',?)`, schemaVersion)
	return err
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// StartRun records the run synchronously, before any asynchronous writes.
func (s *SQLiteIndex) StartRun(runID string, seed int64, config []byte, at time.Time) error {
	if s == nil {
		return nil
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO runs(run_id,started_at,seed,config) VALUES(?,?,?,?)`,
		runID, formatTime(at), seed, string(config))
	return err
}

func (s *SQLiteIndex) RecordEpisode(e trainer.EpisodeSummary) {
	s.enqueue(req{kind: reqEpisode, episode: e}, &s.dropEpisode)
}

func (s *SQLiteIndex) RecordTrain(r trainer.TrainRound) {
	s.enqueue(req{kind: reqTrain, train: r}, &s.dropTrain)
}

func (s *SQLiteIndex) RecordCheckpoint(c trainer.CheckpointInfo) {
	s.enqueue(req{kind: reqCheckpoint, checkpoint: c}, &s.dropCheckpoint)
}

func (s *SQLiteIndex) enqueue(r req, drops *atomic.Uint64) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- r:
	default:
		drops.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	if s == nil {
		return Stats{}
	}
	return Stats{
		DropEpisodeTotal:    s.dropEpisode.Load(),
		DropTrainTotal:      s.dropTrain.Load(),
		DropCheckpointTotal: s.dropCheckpoint.Load(),
		WriteErrorTotal:     s.writeErrors.Load(),
		QueueDepth:          len(s.ch),
		QueueCapacity:       cap(s.ch),
	}
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	insertEpisode, _ := s.db.Prepare(`INSERT OR REPLACE INTO episodes(run_id,agent_id,seq,steps,total_reward,cause,ended_at) VALUES(?,?,?,?,?,?,?)`)
	insertTrain, _ := s.db.Prepare(`INSERT OR REPLACE INTO train_rounds(run_id,round,global_step,samples,actor_loss,critic_loss,entropy,approx_kl,clip_fraction,generation,personal,skipped,err,at) VALUES(?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	insertCheckpoint, _ := s.db.Prepare(`INSERT OR REPLACE INTO checkpoints(path,run_id,name,step,generation,brain_id,saved_at) VALUES(?,?,?,?,?,?,?)`)
	defer func() {
		for _, st := range []*sql.Stmt{insertEpisode, insertTrain, insertCheckpoint} {
			if st != nil {
				_ = st.Close()
			}
		}
	}()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = 2 * time.Second
	)

	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
		lastCommit = time.Now()
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.writeErrors.Add(1)
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	rollback := func() {
		if tx == nil {
			return
		}
		_ = tx.Rollback()
		s.writeErrors.Add(1)
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}
	exec := func(st *sql.Stmt, args ...any) {
		if st == nil {
			return
		}
		if _, err := tx.Stmt(st).Exec(args...); err != nil {
			rollback()
			return
		}
		opCount++
	}

	for r := range s.ch {
		begin()
		if tx == nil {
			s.writeErrors.Add(1)
			continue
		}
		switch r.kind {
		case reqEpisode:
			e := r.episode
			exec(insertEpisode, e.RunID, e.AgentID, e.Seq, e.Steps, e.TotalReward, e.Cause, formatTime(e.EndedAt))

		case reqTrain:
			t := r.train
			exec(insertTrain, t.RunID, t.Round, int64(t.GlobalStep), t.Samples,
				t.Shared.ActorLoss, t.Shared.CriticLoss, t.Shared.Entropy, t.Shared.ApproxKL, t.Shared.ClipFraction,
				int64(t.Shared.Generation), t.Personal, boolInt(t.Shared.Skipped), t.Err, formatTime(t.At))

		case reqCheckpoint:
			c := r.checkpoint
			exec(insertCheckpoint, c.Path, c.RunID, c.Name, int64(c.Step), int64(c.Generation), c.BrainID, formatTime(c.At))
		}
		if tx != nil && (opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait) {
			commit()
		}
	}

	commit()
}

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
