// Package wsclient connects agents to a remote voxel world over its websocket protocol.
package wsclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"voxelmind/internal/logging"
	"voxelmind/internal/protocol"
)

var ErrClosed = errors.New("wsclient: session closed")

type Config struct {
	URL         string
	AgentName   string
	ResumeToken string
	// Strict drops OBS messages that fail the embedded schema.
	Strict bool
	Log    *logrus.Entry
}

// Session keeps one agent connected, reconnecting with backoff until Close.
type Session struct {
	cfg Config
	log *logrus.Entry

	mu sync.RWMutex

	startOnce sync.Once
	closeOnce sync.Once
	stop      chan struct{}
	done      chan struct{}

	connected bool
	lastErr   string
	connGen   uint64

	conn    *websocket.Conn
	writeMu sync.Mutex

	agentID     string
	resumeToken string
	welcome     protocol.WelcomeMsg

	palette    []string
	paletteGen uint64

	obsSeq     uint64
	lastObs    protocol.ObsMsg
	lastObsGen uint64
	invalidObs uint64
	changed    chan struct{}

	pending map[string]chan protocol.ActionResult
}

type Status struct {
	Connected   bool   `json:"connected"`
	AgentID     string `json:"agent_id,omitempty"`
	ResumeToken string `json:"resume_token,omitempty"`
	URL         string `json:"url"`
	LastObsTick uint64 `json:"last_obs_tick"`
	ObsCount    uint64 `json:"obs_count"`
	InvalidObs  uint64 `json:"invalid_obs"`
	Reconnects  uint64 `json:"reconnects"`
	LastError   string `json:"last_error,omitempty"`
}

func NewSession(cfg Config) *Session {
	if cfg.AgentName == "" {
		cfg.AgentName = "mind"
	}
	log := cfg.Log
	if log == nil {
		log = logging.New("wsclient")
	}
	return &Session{
		cfg:         cfg,
		log:         log.WithField("agent_name", cfg.AgentName),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
		resumeToken: cfg.ResumeToken,
		changed:     make(chan struct{}),
		pending:     map[string]chan protocol.ActionResult{},
	}
}

func (s *Session) Start() {
	s.startOnce.Do(func() {
		go s.run()
	})
}

func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.stop)
		// Wake a blocking ReadMessage.
		s.disconnect()
		s.startOnce.Do(func() { close(s.done) })
		<-s.done
	})
}

func (s *Session) disconnect() {
	s.mu.Lock()
	c := s.conn
	s.conn = nil
	s.connected = false
	s.mu.Unlock()
	if c != nil {
		_ = c.Close()
	}
}

func (s *Session) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var reconnects uint64
	if s.connGen > 0 {
		reconnects = s.connGen - 1
	}
	return Status{
		Connected:   s.connected,
		AgentID:     s.agentID,
		ResumeToken: s.resumeToken,
		URL:         s.cfg.URL,
		LastObsTick: s.lastObs.Tick,
		ObsCount:    s.obsSeq,
		InvalidObs:  s.invalidObs,
		Reconnects:  reconnects,
		LastError:   s.lastErr,
	}
}

// Palette returns the current block palette and a counter that changes whenever
// the palette or the connection is replaced.
func (s *Session) Palette() ([]string, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.palette...), s.paletteGen
}

// NextObs blocks until an OBS newer than seq arrives and returns it with its
// sequence number and the connection generation it arrived on.
func (s *Session) NextObs(ctx context.Context, seq uint64) (protocol.ObsMsg, uint64, uint64, error) {
	for {
		s.mu.RLock()
		cur, obs, gen, changed := s.obsSeq, s.lastObs, s.lastObsGen, s.changed
		s.mu.RUnlock()
		if cur > seq {
			return obs, cur, gen, nil
		}
		select {
		case <-ctx.Done():
			return protocol.ObsMsg{}, seq, 0, ctx.Err()
		case <-s.stop:
			return protocol.ObsMsg{}, seq, 0, ErrClosed
		case <-changed:
		}
	}
}

// Act sends an ACT stamped with the latest observed tick. Results for the
// request ids are delivered on the returned channel: the accept result first,
// then the task outcome when the request started a task.
func (s *Session) Act(act protocol.ActMsg) (<-chan protocol.ActionResult, error) {
	ch := make(chan protocol.ActionResult, 2)
	s.mu.Lock()
	act.Type = protocol.TypeAct
	act.ProtocolVersion = protocol.Version
	act.Tick = s.lastObs.Tick
	act.AgentID = s.agentID
	for _, in := range act.Instants {
		s.pending[in.ID] = ch
	}
	for _, tr := range act.Tasks {
		s.pending[tr.ID] = ch
	}
	conn := s.conn
	s.mu.Unlock()

	if conn == nil {
		s.Forget(act)
		return nil, fmt.Errorf("wsclient: not connected")
	}
	b, err := json.Marshal(act)
	if err != nil {
		s.Forget(act)
		return nil, err
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
		s.Forget(act)
		return nil, err
	}
	return ch, nil
}

// Forget stops waiting for results of act's requests.
func (s *Session) Forget(act protocol.ActMsg, taskIDs ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, in := range act.Instants {
		delete(s.pending, in.ID)
	}
	for _, tr := range act.Tasks {
		delete(s.pending, tr.ID)
	}
	for _, id := range taskIDs {
		delete(s.pending, id)
	}
}

func (s *Session) run() {
	defer close(s.done)

	backoff := 200 * time.Millisecond
	for {
		select {
		case <-s.stop:
			s.disconnect()
			return
		default:
		}

		if err := s.connectAndReadLoop(); err != nil {
			s.mu.Lock()
			s.connected = false
			s.lastErr = err.Error()
			s.mu.Unlock()
			s.log.WithError(err).WithField("backoff", backoff).Warn("world connection lost")
			select {
			case <-s.stop:
				s.disconnect()
				return
			case <-time.After(backoff):
			}
			if backoff < 5*time.Second {
				backoff *= 2
				if backoff > 5*time.Second {
					backoff = 5 * time.Second
				}
			}
			continue
		}
		return
	}
}

func (s *Session) connectAndReadLoop() error {
	d := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, resp, err := d.Dial(s.cfg.URL, http.Header{})
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	hello := protocol.HelloMsg{
		Type:              protocol.TypeHello,
		ProtocolVersion:   protocol.Version,
		SupportedVersions: protocol.SupportedVersions,
		AgentName:         s.cfg.AgentName,
		Capabilities: protocol.HelloCapabilities{
			DeltaVoxels: true,
			MaxQueue:    64,
		},
	}
	s.mu.RLock()
	rt := strings.TrimSpace(s.resumeToken)
	s.mu.RUnlock()
	if rt != "" {
		hello.Auth = &protocol.HelloAuth{Token: rt}
	}

	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return err
	}

	s.mu.Lock()
	s.conn = conn
	s.connGen++
	s.paletteGen++
	s.lastErr = ""
	s.mu.Unlock()

	for {
		select {
		case <-s.stop:
			_ = conn.Close()
			return nil
		default:
		}

		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			_ = conn.Close()
			select {
			case <-s.stop:
				return nil
			default:
			}
			return err
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		if !protocol.IsSupportedVersion(base.ProtocolVersion) {
			s.log.WithField("protocol_version", base.ProtocolVersion).Debug("skipping message with unsupported version")
			continue
		}
		switch base.Type {
		case protocol.TypeWelcome:
			var w protocol.WelcomeMsg
			if err := json.Unmarshal(msg, &w); err != nil {
				continue
			}
			s.mu.Lock()
			s.welcome = w
			s.agentID = w.AgentID
			s.resumeToken = w.ResumeToken
			s.connected = true
			s.mu.Unlock()
			s.log.WithFields(logrus.Fields{
				"agent_id":  w.AgentID,
				"tick_rate": w.WorldParams.TickRateHz,
				"seed":      w.WorldParams.Seed,
			}).Info("welcome")

		case protocol.TypeCatalog:
			var c protocol.CatalogMsg
			if err := json.Unmarshal(msg, &c); err != nil {
				continue
			}
			if strings.ToLower(strings.TrimSpace(c.Name)) != protocol.CatalogBlockPalette || c.TotalParts > 1 {
				continue
			}
			s.mu.Lock()
			s.palette = append(s.palette[:0], c.Data...)
			s.paletteGen++
			s.mu.Unlock()

		case protocol.TypeAck:
			var ack protocol.AckMsg
			if err := json.Unmarshal(msg, &ack); err != nil || ack.Accepted {
				continue
			}
			s.log.WithFields(logrus.Fields{"ack_for": ack.AckFor, "code": ack.Code}).Warn("message not accepted: " + ack.Message)

		case protocol.TypeObs:
			if s.cfg.Strict {
				if err := protocol.ValidateObs(msg); err != nil {
					s.mu.Lock()
					s.invalidObs++
					s.mu.Unlock()
					s.log.WithError(err).Warn("dropping invalid obs")
					continue
				}
			}
			var o protocol.ObsMsg
			if err := json.Unmarshal(msg, &o); err != nil {
				continue
			}
			s.deliverObs(o)
		}
	}
}

func (s *Session) deliverObs(o protocol.ObsMsg) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o.AgentID == "" {
		o.AgentID = s.agentID
	} else {
		s.agentID = o.AgentID
	}
	s.obsSeq++
	s.lastObs = o
	s.lastObsGen = s.connGen

	for id, ch := range s.pending {
		r, ok := protocol.ResultFor(o.Events, id)
		if !ok {
			continue
		}
		delete(s.pending, id)
		offer(ch, r)
		if !r.OK || r.TaskID == "" {
			continue
		}
		if done, ok := protocol.ResultFor(o.Events, r.TaskID); ok {
			offer(ch, done)
		} else {
			s.pending[r.TaskID] = ch
		}
	}

	close(s.changed)
	s.changed = make(chan struct{})
}

func offer(ch chan protocol.ActionResult, r protocol.ActionResult) {
	select {
	case ch <- r:
	default:
	}
}
