// Package ws implements the WebSocket REPL endpoint. A client connects,
// initializes a session with an analysis context, and then streams code
// fragments and receives formatted results over the same connection. The
// session's variables persist for the lifetime of the connection.
package ws

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/jkaninda/sanduku/internal/llm"
	"github.com/jkaninda/sanduku/internal/repl"
	"github.com/jkaninda/sanduku/internal/tools/execute"
)

// Subprotocol identifies the REPL message framing version.
const Subprotocol = "sanduku-repl-v1"

// Message types exchanged over the connection.
const (
	TypeInit      = "session.init"
	TypeReady     = "session.ready"
	TypeExecute   = "execute"
	TypeResult    = "result"
	TypeInterrupt = "interrupt"
	TypeError     = "error"
)

// Message is the JSON envelope for every frame in both directions.
type Message struct {
	Type string `json:"type"`

	// session.init (client → server).
	Context             string  `json:"context,omitempty"`
	ContextData         any     `json:"context_data,omitempty"`
	TimeoutSeconds      float64 `json:"timeout_seconds,omitempty"`
	TruncateOutputChars int     `json:"truncate_output_chars,omitempty"`

	// execute (client → server).
	Code string `json:"code,omitempty"`

	// session.ready / result / error (server → client).
	SessionID string `json:"session_id,omitempty"`
	Output    string `json:"output,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Server upgrades HTTP connections to interactive REPL sessions.
type Server struct {
	tool     *execute.Tool
	defaults repl.Config
	provider llm.Provider // nil = llm_query disabled.
	token    string       // empty = no authentication.
	logger   *slog.Logger
}

// NewServer creates a WebSocket REPL server.
func NewServer(tool *execute.Tool, defaults repl.Config, logger *slog.Logger) *Server {
	return &Server{tool: tool, defaults: defaults, logger: logger}
}

// WithDelegate enables llm_query inside sessions created over WebSocket.
func (s *Server) WithDelegate(provider llm.Provider) *Server {
	s.provider = provider
	return s
}

// WithToken requires the given bearer token on every upgrade request.
func (s *Server) WithToken(token string) *Server {
	s.token = token
	return s
}

// Handler returns an http.Handler that upgrades connections to WebSocket.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleUpgrade)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	if s.token != "" {
		token := r.URL.Query().Get("token")
		if token == "" {
			token = r.Header.Get("Authorization")
			if len(token) > 7 && token[:7] == "Bearer " {
				token = token[7:]
			}
		}
		if token != s.token {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols: []string{Subprotocol},
	})
	if err != nil {
		s.logger.Error("websocket accept failed", slog.String("error", err.Error()))
		return
	}

	s.handleConnection(r.Context(), conn)
}

func (s *Server) handleConnection(ctx context.Context, conn *websocket.Conn) {
	var deps *execute.Deps
	var wg sync.WaitGroup
	send := newSender(conn)
	defer func() {
		wg.Wait()
		if deps != nil {
			s.tool.Teardown(deps)
		}
		conn.Close(websocket.StatusNormalClosure, "connection closed")
	}()

	deps, err := s.waitForInit(ctx, conn)
	if err != nil {
		s.logger.Error("session init failed", slog.String("error", err.Error()))
		_ = send(ctx, &Message{Type: TypeError, Error: err.Error()})
		return
	}

	if err := send(ctx, &Message{Type: TypeReady, SessionID: deps.ID}); err != nil {
		return
	}
	s.logger.Info("repl session opened", slog.String("session_id", deps.ID))

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				s.logger.Info("repl client disconnected", slog.String("session_id", deps.ID))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			_ = send(ctx, &Message{Type: TypeError, Error: "malformed message"})
			continue
		}

		switch msg.Type {
		case TypeExecute:
			// Execute off the read loop so an interrupt frame can land
			// while code is running. The session serializes evaluations.
			wg.Add(1)
			go func(code string) {
				defer wg.Done()
				output := s.tool.ExecuteCode(ctx, deps, code)
				_ = send(ctx, &Message{Type: TypeResult, SessionID: deps.ID, Output: output})
			}(msg.Code)
		case TypeInterrupt:
			s.tool.Interrupt(deps)
		default:
			_ = send(ctx, &Message{Type: TypeError, Error: fmt.Sprintf("unknown message type %q", msg.Type)})
		}
	}
}

// waitForInit reads the first frame, which must be session.init carrying
// the analysis context.
func (s *Server) waitForInit(ctx context.Context, conn *websocket.Conn) (*execute.Deps, error) {
	initCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, data, err := conn.Read(initCtx)
	if err != nil {
		return nil, fmt.Errorf("reading init message: %w", err)
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("parsing init message: %w", err)
	}
	if msg.Type != TypeInit {
		return nil, fmt.Errorf("expected %s as first message, got %q", TypeInit, msg.Type)
	}

	cfg := s.defaults
	if msg.TimeoutSeconds > 0 {
		cfg.Timeout = time.Duration(msg.TimeoutSeconds * float64(time.Second))
	}
	if msg.TruncateOutputChars > 0 {
		cfg.TruncateOutputChars = msg.TruncateOutputChars
	}

	return execute.NewDeps(execute.Deps{
		ContextText: msg.Context,
		ContextData: msg.ContextData,
		Config:      cfg,
		Provider:    s.provider,
	})
}

// newSender returns a write function for one connection. Writes are
// serialized: results may come from execution goroutines while the read
// loop reports errors on the same connection.
func newSender(conn *websocket.Conn) func(ctx context.Context, msg *Message) error {
	var mu sync.Mutex
	return func(ctx context.Context, msg *Message) error {
		data, err := json.Marshal(msg)
		if err != nil {
			return err
		}
		mu.Lock()
		defer mu.Unlock()
		return conn.Write(ctx, websocket.MessageText, data)
	}
}
