package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"voxelmind/internal/persistence/r2s3"
	"voxelmind/internal/persistence/runindex"
	"voxelmind/internal/trainer"
	"voxelmind/internal/transport/wsclient"
)

// services are the long-lived parts the HTTP surface reports on. Only tr is
// required.
type services struct {
	tr       *trainer.Trainer
	idx      *runindex.SQLiteIndex
	mirror   *r2s3.Mirror
	sessions []*wsclient.Session
	log      logrus.FieldLogger
}

type statsResponse struct {
	Trainer  trainer.Stats     `json:"trainer"`
	Index    *runindex.Stats   `json:"index,omitempty"`
	Mirror   *r2s3.Stats       `json:"mirror,omitempty"`
	Sessions []wsclient.Status `json:"sessions,omitempty"`
	Agents   []agentStatus     `json:"agents"`
}

type agentStatus struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	Steps    uint64 `json:"steps"`
}

func buildMux(s services) *http.ServeMux {
	tr, idx, sessions, log := s.tr, s.idx, s.sessions, s.log
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")
		writeMetrics(rw, s)
	})
	mux.HandleFunc("/v1/stats", func(rw http.ResponseWriter, r *http.Request) {
		resp := statsResponse{Trainer: tr.Stats()}
		if idx != nil {
			st := idx.Stats()
			resp.Index = &st
		}
		if s.mirror != nil {
			st := s.mirror.Stats()
			resp.Mirror = &st
		}
		for _, ss := range sessions {
			resp.Sessions = append(resp.Sessions, ss.Status())
		}
		for _, a := range tr.Agents() {
			resp.Agents = append(resp.Agents, agentStatus{ID: a.ID(), ParentID: a.ParentID(), Steps: a.Steps()})
		}
		rw.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(rw).Encode(resp)
	})
	// Local-only: forces a checkpoint of every brain.
	mux.HandleFunc("/admin/v1/checkpoint", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		n, err := tr.Checkpoint()
		rw.Header().Set("Content-Type", "application/json")
		if err != nil {
			log.WithError(err).Warn("admin checkpoint")
			rw.WriteHeader(http.StatusInternalServerError)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "saved": n, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "saved": n})
	})
	// Local-only: runs one training round outside the step schedule.
	mux.HandleFunc("/admin/v1/train", func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			rw.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if !isLoopbackRemote(r.RemoteAddr) {
			http.Error(rw, "forbidden", http.StatusForbidden)
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 30*time.Second)
		defer cancel()
		done := make(chan struct{})
		var round trainer.TrainRound
		var err error
		go func() {
			defer close(done)
			round, err = tr.TrainOnce()
		}()
		rw.Header().Set("Content-Type", "application/json")
		select {
		case <-done:
		case <-ctx.Done():
			rw.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": ctx.Err().Error()})
			return
		}
		if err != nil {
			rw.WriteHeader(http.StatusConflict)
			_ = json.NewEncoder(rw).Encode(map[string]any{"ok": false, "error": err.Error()})
			return
		}
		_ = json.NewEncoder(rw).Encode(map[string]any{"ok": true, "round": round})
	})
	return mux
}

// Minimal Prometheus exposition format.
func writeMetrics(w io.Writer, svc services) {
	st := svc.tr.Stats()

	fmt.Fprintf(w, "# HELP voxelmind_agents Current number of training agents.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_agents gauge\n")
	fmt.Fprintf(w, "voxelmind_agents{run=%q} %d\n", st.RunID, st.Agents)

	fmt.Fprintf(w, "# HELP voxelmind_steps_total Agent steps taken across all agents.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_steps_total counter\n")
	fmt.Fprintf(w, "voxelmind_steps_total{run=%q} %d\n", st.RunID, st.TotalSteps)

	fmt.Fprintf(w, "# HELP voxelmind_episodes_total Completed episodes.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_episodes_total counter\n")
	fmt.Fprintf(w, "voxelmind_episodes_total{run=%q} %d\n", st.RunID, st.EpisodesCompleted)

	fmt.Fprintf(w, "# HELP voxelmind_episode_reward_avg Mean total reward of recent episodes.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_episode_reward_avg gauge\n")
	fmt.Fprintf(w, "voxelmind_episode_reward_avg{run=%q} %.6f\n", st.RunID, st.AvgReward)

	fmt.Fprintf(w, "# HELP voxelmind_episode_length_avg Mean length of recent episodes in steps.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_episode_length_avg gauge\n")
	fmt.Fprintf(w, "voxelmind_episode_length_avg{run=%q} %.3f\n", st.RunID, st.AvgEpisodeLength)

	fmt.Fprintf(w, "# HELP voxelmind_replay_size Transitions held in the shared replay buffer.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_replay_size gauge\n")
	fmt.Fprintf(w, "voxelmind_replay_size{run=%q} %d\n", st.RunID, st.BufferSize)

	fmt.Fprintf(w, "# HELP voxelmind_exploration_rate Current epsilon.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_exploration_rate gauge\n")
	fmt.Fprintf(w, "voxelmind_exploration_rate{run=%q} %.6f\n", st.RunID, st.ExplorationRate)

	fmt.Fprintf(w, "# HELP voxelmind_train_rounds_total Completed training rounds.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_train_rounds_total counter\n")
	fmt.Fprintf(w, "voxelmind_train_rounds_total{run=%q} %d\n", st.RunID, st.TrainRounds)

	fmt.Fprintf(w, "# HELP voxelmind_shared_generation Generation of the shared brain.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_shared_generation gauge\n")
	fmt.Fprintf(w, "voxelmind_shared_generation{run=%q} %d\n", st.RunID, st.SharedGeneration)

	if svc.idx != nil {
		is := svc.idx.Stats()
		fmt.Fprintf(w, "# HELP voxelmind_index_queue_depth Run index write queue depth.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_index_queue_depth gauge\n")
		fmt.Fprintf(w, "voxelmind_index_queue_depth %d\n", is.QueueDepth)
		fmt.Fprintf(w, "# HELP voxelmind_index_drop_total Records dropped because the index queue was full.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_index_drop_total counter\n")
		fmt.Fprintf(w, "voxelmind_index_drop_total{kind=%q} %d\n", "episode", is.DropEpisodeTotal)
		fmt.Fprintf(w, "voxelmind_index_drop_total{kind=%q} %d\n", "train", is.DropTrainTotal)
		fmt.Fprintf(w, "voxelmind_index_drop_total{kind=%q} %d\n", "checkpoint", is.DropCheckpointTotal)
		fmt.Fprintf(w, "# HELP voxelmind_index_write_errors_total Failed run index writes.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_index_write_errors_total counter\n")
		fmt.Fprintf(w, "voxelmind_index_write_errors_total %d\n", is.WriteErrorTotal)
	}

	if svc.mirror != nil {
		ms := svc.mirror.Stats()
		fmt.Fprintf(w, "# HELP voxelmind_mirror_queue_depth Checkpoint mirror upload queue depth.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_mirror_queue_depth gauge\n")
		fmt.Fprintf(w, "voxelmind_mirror_queue_depth %d\n", ms.QueueDepth)
		fmt.Fprintf(w, "# HELP voxelmind_mirror_uploads_total Checkpoint uploads by result.\n")
		fmt.Fprintf(w, "# TYPE voxelmind_mirror_uploads_total counter\n")
		fmt.Fprintf(w, "voxelmind_mirror_uploads_total{result=%q} %d\n", "ok", ms.UploadSuccessTotal)
		fmt.Fprintf(w, "voxelmind_mirror_uploads_total{result=%q} %d\n", "fail", ms.UploadFailTotal)
		fmt.Fprintf(w, "voxelmind_mirror_uploads_total{result=%q} %d\n", "dropped", ms.DroppedTotal)
	}

	sessions := svc.sessions
	if len(sessions) == 0 {
		return
	}
	fmt.Fprintf(w, "# HELP voxelmind_session_connected Whether the world session is connected (0/1).\n")
	fmt.Fprintf(w, "# TYPE voxelmind_session_connected gauge\n")
	for _, s := range sessions {
		ss := s.Status()
		fmt.Fprintf(w, "voxelmind_session_connected{agent=%q} %d\n", ss.AgentID, boolInt(ss.Connected))
	}
	fmt.Fprintf(w, "# HELP voxelmind_session_obs_total Observations received.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_session_obs_total counter\n")
	for _, s := range sessions {
		ss := s.Status()
		fmt.Fprintf(w, "voxelmind_session_obs_total{agent=%q} %d\n", ss.AgentID, ss.ObsCount)
	}
	fmt.Fprintf(w, "# HELP voxelmind_session_invalid_obs_total Observations dropped by schema validation.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_session_invalid_obs_total counter\n")
	for _, s := range sessions {
		ss := s.Status()
		fmt.Fprintf(w, "voxelmind_session_invalid_obs_total{agent=%q} %d\n", ss.AgentID, ss.InvalidObs)
	}
	fmt.Fprintf(w, "# HELP voxelmind_session_reconnects_total Reconnects after the first connection.\n")
	fmt.Fprintf(w, "# TYPE voxelmind_session_reconnects_total counter\n")
	for _, s := range sessions {
		ss := s.Status()
		fmt.Fprintf(w, "voxelmind_session_reconnects_total{agent=%q} %d\n", ss.AgentID, ss.Reconnects)
	}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isLoopbackRemote(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil {
		host = h
	}
	host = strings.TrimPrefix(host, "[")
	host = strings.TrimSuffix(host, "]")
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
