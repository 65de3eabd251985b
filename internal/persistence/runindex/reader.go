package runindex

import (
	"context"
	"database/sql"
	"time"

	"voxelmind/internal/trainer"
)

type Run struct {
	RunID     string    `json:"run_id"`
	StartedAt time.Time `json:"started_at"`
	Seed      int64     `json:"seed"`
	Episodes  int       `json:"episodes"`
	Rounds    int       `json:"rounds"`
}

// AgentSummary aggregates one agent's episodes within a run.
type AgentSummary struct {
	AgentID   string  `json:"agent_id"`
	Episodes  int     `json:"episodes"`
	Deaths    int     `json:"deaths"`
	AvgSteps  float64 `json:"avg_steps"`
	AvgReward float64 `json:"avg_reward"`
	Best      float64 `json:"best_reward"`
}

// Reader queries an index written by SQLiteIndex.
type Reader struct{ db *sql.DB }

func OpenReader(path string) (*Reader, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Reader{db: db}, nil
}

func (r *Reader) Close() error { return r.db.Close() }

func (r *Reader) Runs(ctx context.Context, limit int) ([]Run, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT r.run_id, r.started_at, r.seed,
			(SELECT COUNT(*) FROM episodes e WHERE e.run_id = r.run_id),
			(SELECT COUNT(*) FROM train_rounds t WHERE t.run_id = r.run_id)
		FROM runs r ORDER BY r.started_at DESC LIMIT ?`, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Run
	for rows.Next() {
		var run Run
		var started string
		if err := rows.Scan(&run.RunID, &started, &run.Seed, &run.Episodes, &run.Rounds); err != nil {
			return nil, err
		}
		run.StartedAt = parseTime(started)
		out = append(out, run)
	}
	return out, rows.Err()
}

// Checkpoints lists checkpoints newest first. An empty runID matches every run.
func (r *Reader) Checkpoints(ctx context.Context, runID string, limit int) ([]trainer.CheckpointInfo, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, name, path, step, generation, brain_id, saved_at FROM checkpoints
		WHERE (? = '' OR run_id = ?) ORDER BY step DESC, name LIMIT ?`, runID, runID, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trainer.CheckpointInfo
	for rows.Next() {
		var c trainer.CheckpointInfo
		var step, gen int64
		var at string
		if err := rows.Scan(&c.RunID, &c.Name, &c.Path, &step, &gen, &c.BrainID, &at); err != nil {
			return nil, err
		}
		c.Step, c.Generation, c.At = uint64(step), uint64(gen), parseTime(at)
		out = append(out, c)
	}
	return out, rows.Err()
}

// Episodes lists episodes newest first, optionally filtered by run and agent.
func (r *Reader) Episodes(ctx context.Context, runID, agentID string, limit int) ([]trainer.EpisodeSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, agent_id, seq, steps, total_reward, cause, ended_at FROM episodes
		WHERE (? = '' OR run_id = ?) AND (? = '' OR agent_id = ?)
		ORDER BY ended_at DESC, agent_id, seq DESC LIMIT ?`, runID, runID, agentID, agentID, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trainer.EpisodeSummary
	for rows.Next() {
		var e trainer.EpisodeSummary
		var at string
		if err := rows.Scan(&e.RunID, &e.AgentID, &e.Seq, &e.Steps, &e.TotalReward, &e.Cause, &at); err != nil {
			return nil, err
		}
		e.EndedAt = parseTime(at)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *Reader) Agents(ctx context.Context, runID string) ([]AgentSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT agent_id, COUNT(*), SUM(CASE WHEN cause = 'death' THEN 1 ELSE 0 END),
			AVG(steps), AVG(total_reward), MAX(total_reward)
		FROM episodes WHERE (? = '' OR run_id = ?)
		GROUP BY agent_id ORDER BY agent_id`, runID, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []AgentSummary
	for rows.Next() {
		var a AgentSummary
		if err := rows.Scan(&a.AgentID, &a.Episodes, &a.Deaths, &a.AvgSteps, &a.AvgReward, &a.Best); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// TrainRounds lists rounds newest first.
func (r *Reader) TrainRounds(ctx context.Context, runID string, limit int) ([]trainer.TrainRound, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT run_id, round, global_step, samples, actor_loss, critic_loss, entropy, approx_kl,
			clip_fraction, generation, personal, skipped, COALESCE(err, ''), at
		FROM train_rounds WHERE (? = '' OR run_id = ?) ORDER BY at DESC, round DESC LIMIT ?`, runID, runID, limitOr(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []trainer.TrainRound
	for rows.Next() {
		var t trainer.TrainRound
		var step, gen int64
		var skipped int
		var at string
		if err := rows.Scan(&t.RunID, &t.Round, &step, &t.Samples, &t.Shared.ActorLoss, &t.Shared.CriticLoss,
			&t.Shared.Entropy, &t.Shared.ApproxKL, &t.Shared.ClipFraction, &gen, &t.Personal, &skipped, &t.Err, &at); err != nil {
			return nil, err
		}
		t.GlobalStep, t.Shared.Generation, t.Shared.Skipped, t.At = uint64(step), uint64(gen), skipped != 0, parseTime(at)
		out = append(out, t)
	}
	return out, rows.Err()
}

func limitOr(n int) int {
	if n <= 0 {
		return 20
	}
	return n
}

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
