// Package wshost serves the pipeline message contract over WebSocket.
//
// Clients send one message per frame. Text frames carry JSON, binary frames
// carry msgpack with the same field names:
//
//	{"type":"init"}
//	{"type":"predict","audioData":{"sampleRate":48000,"length":144000,"channelData":[...]}}
//
// Every event produced for a message is written back as a frame of the
// same kind. All connections share the pipeline task queue, so requests are
// processed one at a time across the whole server.
package wshost

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/FrLars21/bioacoustics/pkg/pipeline"
)

// DefaultPath is the WebSocket endpoint path.
const DefaultPath = "/ws"

// DefaultReadLimit bounds one inbound frame. Ten minutes of 48 kHz audio
// as JSON numbers fits comfortably.
const DefaultReadLimit = 512 << 20

// Config configures a Server.
type Config struct {
	// Pipeline handles decoded messages. Its Run loop must be running.
	Pipeline *pipeline.Pipeline

	// Path is the WebSocket endpoint. Default: DefaultPath.
	Path string

	// ReadLimit is the maximum inbound frame size. Default: DefaultReadLimit.
	ReadLimit int64

	// WriteTimeout bounds writing one event. Default: 10s.
	WriteTimeout time.Duration

	// CheckOrigin is passed to the upgrader. Default: allow all.
	CheckOrigin func(r *http.Request) bool

	// Logger is optional. If nil, uses slog.Default().
	Logger *slog.Logger
}

// Server is an http.Handler that upgrades requests to WebSocket.
type Server struct {
	pipeline     *pipeline.Pipeline
	path         string
	readLimit    int64
	writeTimeout time.Duration
	upgrader     websocket.Upgrader
	logger       *slog.Logger
	mux          *http.ServeMux
}

// New creates a Server.
func New(cfg Config) (*Server, error) {
	if cfg.Pipeline == nil {
		return nil, errors.New("wshost: pipeline is required")
	}
	s := &Server{
		pipeline:     cfg.Pipeline,
		path:         cfg.Path,
		readLimit:    cfg.ReadLimit,
		writeTimeout: cfg.WriteTimeout,
		logger:       cfg.Logger,
	}
	if s.path == "" {
		s.path = DefaultPath
	}
	if s.readLimit <= 0 {
		s.readLimit = DefaultReadLimit
	}
	if s.writeTimeout <= 0 {
		s.writeTimeout = 10 * time.Second
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	check := cfg.CheckOrigin
	if check == nil {
		check = func(r *http.Request) bool { return true }
	}
	s.upgrader = websocket.Upgrader{CheckOrigin: check}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc(s.path, s.handleWS)
	s.mux.HandleFunc("/healthz", s.handleHealth)
	return s, nil
}

// Path returns the WebSocket endpoint path.
func (s *Server) Path() string {
	return s.path
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Serve accepts connections on ln until ctx is done.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:     s,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()
	s.logger.Info("wshost: listening", "addr", ln.Addr().String(), "path", s.path)

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		srv.Close()
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	state := s.pipeline.Engine().State()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"engine": state.String()})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("wshost: upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(s.readLimit)
	c := &conn{ws: ws, timeout: s.writeTimeout}
	logger := s.logger.With("remote", r.RemoteAddr)
	logger.Info("wshost: connected")
	s.serveConn(r.Context(), c, logger)
	logger.Info("wshost: disconnected")
}

type frame struct {
	kind int
	data []byte
}

func (s *Server) serveConn(ctx context.Context, c *conn, logger *slog.Logger) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer c.ws.Close()

	// Reads run separately so a dropped client cancels the request in
	// flight at its next chunk boundary.
	frames := make(chan frame)
	go func() {
		defer close(frames)
		defer cancel()
		for {
			kind, data, err := c.ws.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("wshost: read", "error", err)
				}
				return
			}
			select {
			case frames <- frame{kind: kind, data: data}:
			case <-ctx.Done():
				return
			}
		}
	}()

	for f := range frames {
		msg, err := decode(f)
		if err != nil {
			ev := pipeline.Event{Type: pipeline.TypeError, Code: pipeline.CodeBadRequest, Message: err.Error()}
			if err := c.write(f.kind, ev); err != nil {
				return
			}
			continue
		}
		err = s.pipeline.Submit(ctx, msg, func(ev pipeline.Event) error {
			return c.write(f.kind, ev)
		})
		if err != nil {
			if ctx.Err() == nil {
				logger.Warn("wshost: request aborted", "type", msg.Type, "error", err)
			}
			return
		}
	}
}

func decode(f frame) (pipeline.Message, error) {
	var msg pipeline.Message
	var err error
	switch f.kind {
	case websocket.TextMessage:
		err = json.Unmarshal(f.data, &msg)
	case websocket.BinaryMessage:
		err = msgpack.Unmarshal(f.data, &msg)
	default:
		return msg, fmt.Errorf("wshost: unsupported frame type %d", f.kind)
	}
	if err != nil {
		return msg, fmt.Errorf("wshost: decode message: %w", err)
	}
	return msg, nil
}

type conn struct {
	ws      *websocket.Conn
	timeout time.Duration
	mu      sync.Mutex
}

func (c *conn) write(kind int, ev pipeline.Event) error {
	var data []byte
	var err error
	if kind == websocket.BinaryMessage {
		data, err = msgpack.Marshal(ev)
	} else {
		kind = websocket.TextMessage
		data, err = json.Marshal(ev)
	}
	if err != nil {
		return fmt.Errorf("wshost: encode event: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(c.timeout))
	return c.ws.WriteMessage(kind, data)
}
