package server

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
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/xhad/brief/internal/models"
	"github.com/xhad/brief/internal/types"
	"github.com/xhad/brief/pkg/orchestrator"
	"github.com/xhad/brief/pkg/prompt"
	"github.com/xhad/brief/pkg/store"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the envelope for both directions of the websocket.
//
// Client to server: "summarize" (URL or Text, optional Words and Features),
// "ask" (Content), "reset", "similar" (Content, or the current summary when
// empty; Limit) and "archived" (Content holds a summary id). Server to
// client: "status", "summary", "reply", "similar", "archived", "error".
type Message struct {
	Type      string `json:"type"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"session_id,omitempty"`

	URL      string `json:"url,omitempty"`
	Text     string `json:"text,omitempty"`
	Words    int    `json:"words,omitempty"`
	Features string `json:"features,omitempty"`
	Limit    int    `json:"limit,omitempty"`

	Data interface{} `json:"data,omitempty"`
}

type SummaryData struct {
	ID              string    `json:"id"`
	Text            string    `json:"text"`
	WordTarget      int       `json:"word_target"`
	Model           string    `json:"model"`
	SourceRef       string    `json:"source_ref"`
	CreatedAt       time.Time `json:"created_at"`
	ContentTooShort bool      `json:"content_too_short,omitempty"`
	Truncated       bool      `json:"truncated,omitempty"`
	Warnings        []string  `json:"warnings,omitempty"`
}

func summaryData(summary models.Summary) SummaryData {
	return SummaryData{
		ID:         summary.ID,
		Text:       summary.Text,
		WordTarget: summary.WordTarget,
		Model:      summary.ModelID,
		SourceRef:  summary.SourceRef,
		CreatedAt:  summary.CreatedAt,
	}
}

// askQueueSize bounds the questions waiting on one connection.
const askQueueSize = 16

type WSServer struct {
	orchestrator *orchestrator.Orchestrator
	sessions     store.SessionStore
	archive      types.SummaryLibrary
	logger       *zap.Logger
}

// NewWSServer creates the server. archive may be nil, in which case
// "similar" and "archived" requests are answered with an error.
func NewWSServer(orch *orchestrator.Orchestrator, sessions store.SessionStore, archive types.SummaryLibrary, logger *zap.Logger) *WSServer {
	if sessions == nil {
		sessions = store.NewMemorySessionStore(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSServer{
		orchestrator: orch,
		sessions:     sessions,
		archive:      archive,
		logger:       logger,
	}
}

func (s *WSServer) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Run serves until ctx is cancelled.
func (s *WSServer) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting websocket server", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// connection serialises writes; gorilla allows one concurrent writer.
type connection struct {
	conn   *websocket.Conn
	mu     sync.Mutex
	logger *zap.Logger

	// cancelSummary stops the summarize in flight. Only the read loop
	// touches it.
	cancelSummary context.CancelFunc
}

func (c *connection) send(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("error sending message", zap.Error(err))
	}
}

func (c *connection) stopSummary() {
	if c.cancelSummary != nil {
		c.cancelSummary()
		c.cancelSummary = nil
	}
}

type askRequest struct {
	intent   orchestrator.Intent
	question string
}

func (s *WSServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	session := s.orchestrator.NewSession("")
	if id := r.URL.Query().Get("session"); id != "" {
		snap, err := s.sessions.Load(ctx, id)
		switch {
		case err == nil:
			session = s.orchestrator.NewSession(id)
			session.Restore(snap)
		case errors.Is(err, store.ErrSessionNotFound):
			session = s.orchestrator.NewSession(id)
		default:
			s.logger.Warn("failed to load session", zap.String("session", id), zap.Error(err))
		}
	}

	c := &connection{conn: ws, logger: s.logger.With(zap.String("session", session.ID))}
	c.send(Message{Type: "status", Content: "connected", SessionID: session.ID})

	var wg sync.WaitGroup
	defer wg.Wait()

	// Questions are answered one at a time in the order they arrived.
	asks := make(chan askRequest, askQueueSize)
	defer close(asks)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for req := range asks {
			s.ask(ctx, c, session, req)
		}
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			c.logger.Debug("connection closed", zap.Error(err))
			cancel()
			break
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(Message{Type: "error", Content: "malformed message", SessionID: session.ID})
			continue
		}

		// Anything that changes the session content claims it here, in
		// arrival order, so the latest request wins.
		switch msg.Type {
		case "summarize":
			s.startSummarize(ctx, c, session, msg, &wg)
		case "ask":
			select {
			case asks <- askRequest{intent: session.Current(), question: msg.Content}:
			case <-ctx.Done():
			}
		case "reset":
			session.Reset()
			c.stopSummary()
			s.save(ctx, session)
			c.send(Message{Type: "status", Content: "reset", SessionID: session.ID})
		case "similar", "archived":
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.lookup(ctx, c, session, msg)
			}()
		default:
			c.send(Message{Type: "error", Content: fmt.Sprintf("unknown message type %q", msg.Type), SessionID: session.ID})
		}
	}
	c.stopSummary()
}

func (s *WSServer) startSummarize(ctx context.Context, c *connection, session *orchestrator.Session, msg Message, wg *sync.WaitGroup) {
	opts := orchestrator.Options{WordTarget: msg.Words}
	if msg.Features != "" {
		features, err := prompt.ParseFeatures(msg.Features)
		if err != nil {
			c.send(Message{Type: "error", Content: err.Error(), SessionID: session.ID})
			return
		}
		opts.Features = &features
	}

	input := orchestrator.Input{URL: msg.URL, Text: msg.Text}
	if err := input.Validate(); err != nil {
		c.send(Message{Type: "error", Content: err.Error(), SessionID: session.ID})
		return
	}

	intent := session.Begin()
	c.stopSummary()
	summaryCtx, cancel := context.WithCancel(ctx)
	c.cancelSummary = cancel

	source := strings.TrimSpace(msg.URL)
	if source == "" {
		source = "pasted text"
	}
	c.send(Message{Type: "status", Content: fmt.Sprintf("Summarizing %s", source), SessionID: session.ID})

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer cancel()
		s.summarize(summaryCtx, c, session, intent, input, opts)
	}()
}

func (s *WSServer) summarize(ctx context.Context, c *connection, session *orchestrator.Session, intent orchestrator.Intent, input orchestrator.Input, opts orchestrator.Options) {
	result, err := s.orchestrator.SummarizeIntent(ctx, session, intent, input, opts)
	if errors.Is(err, orchestrator.ErrSuperseded) {
		return
	}
	if err != nil {
		c.send(Message{Type: "error", Content: err.Error(), SessionID: session.ID})
		return
	}

	data := summaryData(result.Summary)
	data.ContentTooShort = result.ContentTooShort
	data.Truncated = result.Truncated
	for _, w := range result.Warnings {
		data.Warnings = append(data.Warnings, w.Error())
	}

	s.save(ctx, session)
	c.send(Message{Type: "summary", Content: result.Summary.Text, SessionID: session.ID, Data: data})
}

func (s *WSServer) ask(ctx context.Context, c *connection, session *orchestrator.Session, req askRequest) {
	reply, err := s.orchestrator.AskIntent(ctx, session, req.intent, req.question)
	if errors.Is(err, orchestrator.ErrSuperseded) {
		return
	}
	if err != nil {
		c.send(Message{Type: "error", Content: err.Error(), SessionID: session.ID})
		return
	}

	s.save(ctx, session)
	c.send(Message{Type: "reply", Content: reply.Content, SessionID: session.ID})
}

// lookup answers read-only archive requests.
func (s *WSServer) lookup(ctx context.Context, c *connection, session *orchestrator.Session, msg Message) {
	if s.archive == nil {
		c.send(Message{Type: "error", Content: "summary archive is not configured", SessionID: session.ID})
		return
	}

	switch msg.Type {
	case "similar":
		query := strings.TrimSpace(msg.Content)
		if query == "" {
			if current := session.Summary(); current != nil {
				query = current.Text
			}
		}
		if query == "" {
			c.send(Message{Type: "error", Content: orchestrator.ErrNoSummary.Error(), SessionID: session.ID})
			return
		}
		found, err := s.archive.Similar(ctx, query, msg.Limit)
		if err != nil {
			c.send(Message{Type: "error", Content: err.Error(), SessionID: session.ID})
			return
		}
		data := make([]SummaryData, 0, len(found))
		for _, summary := range found {
			data = append(data, summaryData(summary))
		}
		c.send(Message{Type: "similar", SessionID: session.ID, Data: data})
	case "archived":
		summary, err := s.archive.Get(ctx, strings.TrimSpace(msg.Content))
		if err != nil {
			c.send(Message{Type: "error", Content: err.Error(), SessionID: session.ID})
			return
		}
		c.send(Message{Type: "archived", Content: summary.Text, SessionID: session.ID, Data: summaryData(summary)})
	}
}

func (s *WSServer) save(ctx context.Context, session *orchestrator.Session) {
	if err := s.sessions.Save(ctx, session.Snapshot()); err != nil {
		s.logger.Warn("failed to save session", zap.String("session", session.ID), zap.Error(err))
	}
}
