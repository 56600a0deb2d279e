// Package rpcserver implements RpcServer: a JSON-RPC 2.0 endpoint over a
// single WebSocket connection per client, exposing PaneManager and
// WorktreeRegistry operations to external tools (editor extensions, CI
// agents). Grounded on the reference corpus's gateway server (connection
// lifecycle, origin checking, ping/pong keepalive) restructured from
// pub/sub message routing into synchronous method dispatch, and on the
// original source's MCP handler module for the method/error-code contract.
package rpcserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/akiojin/gwt-sub001/internal/gwterrors"
	"github.com/akiojin/gwt-sub001/internal/logging"
	"github.com/akiojin/gwt-sub001/internal/panemanager"
	"github.com/gorilla/websocket"
)

const (
	maxTabs          = 8
	rateWindow       = 60 * time.Second
	rateLimit        = 5
	pingInterval     = 30 * time.Second
	pongTimeout      = 10 * time.Second
	writeTimeout     = 5 * time.Second
	authReadDeadline = 10 * time.Second
)

// JSON-RPC error codes, fixed by the wire contract this server implements.
const (
	codeInvalidParams  = -32602
	codeTabNotFound    = -32604
	codeTabNotRunning  = -32605
	codeTabLimit       = -32606
	codeRateLimited    = -32607
	codeInternal       = -32603
)

// Request is a JSON-RPC 2.0 request object.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

// rpcError is a JSON-RPC 2.0 error object.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Response is a JSON-RPC 2.0 response object; exactly one of Result/Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func success(id json.RawMessage, result interface{}) Response {
	return Response{JSONRPC: "2.0", ID: id, Result: result}
}

func errResponse(id json.RawMessage, code int, msg string) Response {
	return Response{JSONRPC: "2.0", ID: id, Error: &rpcError{Code: code, Message: msg}}
}

// Config configures one RpcServer instance.
type Config struct {
	Host      string
	Port      int
	AuthToken string // required first-message token; empty disables auth
}

// launchRateLimiter is process-global by design: the wire contract limits
// gwt_launch_agent to 5 calls per 60s across every connected client, not per
// client (mirrored from the reference MCP handler's static counters).
type launchRateLimiter struct {
	mu          sync.Mutex
	windowStart time.Time
	count       int
}

func (l *launchRateLimiter) allow(now time.Time) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if now.Sub(l.windowStart) >= rateWindow {
		l.windowStart = now
		l.count = 0
	}
	l.count++
	return l.count <= rateLimit
}

// Server is RpcServer.
type Server struct {
	cfg    Config
	panes  *panemanager.Manager
	log    *slog.Logger
	rate   launchRateLimiter
	upgrade websocket.Upgrader

	mu      sync.Mutex
	running bool
	http    *http.Server
}

// New constructs a Server bound to a single shared PaneManager. PaneManager
// enforces its own pane limit (P7); maxTabs here additionally caps the
// *running* tab count exposed over RPC per the wire contract.
func New(cfg Config, panes *panemanager.Manager) *Server {
	return &Server{
		cfg:   cfg,
		panes: panes,
		log:   logging.WithComponent("rpcserver"),
		upgrade: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				return strings.HasPrefix(origin, "http://localhost") ||
					strings.HasPrefix(origin, "http://127.0.0.1") ||
					strings.HasPrefix(origin, "https://localhost") ||
					strings.HasPrefix(origin, "https://127.0.0.1")
			},
		},
	}
}

// Start binds the listener and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return &gwterrors.Internal{Msg: "rpcserver already running"}
	}
	s.running = true
	mux := http.NewServeMux()
	mux.HandleFunc("/rpc", s.handleConn)
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	s.http = &http.Server{Addr: addr, Handler: mux, ReadTimeout: 0, WriteTimeout: 0}
	s.mu.Unlock()

	s.log.Info("rpcserver starting", slog.String("addr", addr))
	errCh := make(chan error, 1)
	go func() {
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- &gwterrors.ServerBindFailed{Address: addr, Err: err}
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		return s.Shutdown()
	}
}

// Shutdown stops accepting connections and drains the listener.
func (s *Server) Shutdown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.http.Shutdown(ctx)
}

// handleConn upgrades the connection, requires the auth token as the first
// text frame (when configured), then dispatches every subsequent frame as a
// JSON-RPC request and writes back exactly one response per request.
func (s *Server) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrade.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed", slog.Any("error", err))
		return
	}
	defer conn.Close()

	if s.cfg.AuthToken != "" {
		_ = conn.SetReadDeadline(time.Now().Add(authReadDeadline))
		_, msg, err := conn.ReadMessage()
		if err != nil || strings.TrimSpace(string(msg)) != s.cfg.AuthToken {
			_ = conn.WriteJSON(errResponse(nil, codeInvalidParams, "authentication failed"))
			return
		}
		_ = conn.SetReadDeadline(time.Time{})
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))
	})
	_ = conn.SetReadDeadline(time.Now().Add(pingInterval + pongTimeout))

	done := make(chan struct{})
	go s.readLoop(conn, done)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log.Warn("read error", slog.Any("error", err))
			}
			return
		}

		var req Request
		if err := json.Unmarshal(raw, &req); err != nil {
			_ = conn.WriteJSON(errResponse(nil, codeInvalidParams, "malformed request"))
			continue
		}

		resp := s.dispatch(req)
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(resp); err != nil {
			s.log.Debug("write error", slog.Any("error", err))
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Method {
	case "gwt_list_tabs":
		return s.handleListTabs(req)
	case "gwt_get_tab_info":
		return s.handleGetTabInfo(req)
	case "gwt_send_message":
		return s.handleSendMessage(req)
	case "gwt_broadcast_message":
		return s.handleBroadcastMessage(req)
	case "gwt_launch_agent":
		return s.handleLaunchAgent(req)
	case "gwt_stop_tab":
		return s.handleStopTab(req)
	case "gwt_get_worktree_diff":
		return s.handleGetWorktreeDiff(req)
	case "gwt_get_changed_files":
		return s.handleGetChangedFiles(req)
	default:
		return errResponse(req.ID, codeInvalidParams, "unknown method: "+req.Method)
	}
}

func paramString(params json.RawMessage, key string) (string, bool) {
	if len(params) == 0 {
		return "", false
	}
	var m map[string]interface{}
	if err := json.Unmarshal(params, &m); err != nil {
		return "", false
	}
	v, ok := m[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
