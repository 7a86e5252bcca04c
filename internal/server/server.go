package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"

	"github.com/GriffinCanCode/avatar-voice/internal/app"
	apperrors "github.com/GriffinCanCode/avatar-voice/internal/errors"
	"github.com/GriffinCanCode/avatar-voice/internal/playback"
	"github.com/GriffinCanCode/avatar-voice/internal/trace"
)

// Controller is the application surface driven by the server.
type Controller interface {
	StartVoice()
	StopVoice()
	CancelVoice()
	Chat(ctx context.Context, text string) (playback.Message, error)
	Message() (playback.Message, bool)
	MessagePlayed() (playback.Message, bool)
	State() app.Status
	Events() <-chan app.Event
}

// Message is the envelope of inbound websocket messages.
type Message struct {
	Type string `json:"type"`
}

type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TraceID string `json:"trace_id,omitempty"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message"`
}

type StatusResponse struct {
	Status string `json:"status"`
}

// rateLimiter tracks message timestamps using a sliding window.
type rateLimiter struct {
	timestamps []time.Time
	mu         sync.Mutex
}

// allow checks if a message is allowed and records the timestamp if so.
func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-RateLimitWindow)

	valid := r.timestamps[:0]
	for _, t := range r.timestamps {
		if t.After(cutoff) {
			valid = append(valid, t)
		}
	}
	r.timestamps = valid

	if len(r.timestamps) >= RateLimitMessages {
		return false
	}

	r.timestamps = append(r.timestamps, now)
	return true
}

// client is one websocket connection. All writes go through out and are
// performed by a single writer goroutine, in order.
type client struct {
	conn   *websocket.Conn
	out    chan any
	cancel context.CancelFunc
}

// send queues v without blocking. It reports false when the buffer is full.
func (c *client) send(v any) bool {
	select {
	case c.out <- v:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case v := <-c.out:
			wctx, cancel := context.WithTimeout(ctx, ClientWriteTimeout)
			err := wsjson.Write(wctx, c.conn, v)
			cancel()
			if err != nil {
				trace.Logger(ctx).Debug("websocket write error", "error", err)
				c.cancel()
				return
			}
		}
	}
}

// Server handles HTTP and WebSocket connections.
type Server struct {
	ctrl     Controller
	gatherer prometheus.Gatherer
	mu       sync.RWMutex
	clients  map[*client]struct{}
}

// New creates a server and starts broadcasting controller events to websocket
// clients until ctx is done. A nil gatherer disables /metrics.
func New(ctx context.Context, ctrl Controller, gatherer prometheus.Gatherer) *Server {
	s := &Server{
		ctrl:     ctrl,
		gatherer: gatherer,
		clients:  make(map[*client]struct{}),
	}
	go s.broadcastEvents(ctx)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/ws", s.handleWebSocket)

	mux.HandleFunc("POST /api/voice/start", s.handleVoiceStart)
	mux.HandleFunc("POST /api/voice/stop", s.handleVoiceStop)
	mux.HandleFunc("POST /api/voice/cancel", s.handleVoiceCancel)
	mux.HandleFunc("POST /api/chat", s.handleChat)
	mux.HandleFunc("GET /api/message", s.handleMessage)
	mux.HandleFunc("POST /api/message/played", s.handleMessagePlayed)
	mux.HandleFunc("GET /api/state", s.handleState)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	// Apply middleware: trace -> CORS
	return corsMiddleware(trace.Middleware(mux))
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "*")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleVoiceStart(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StartVoice()
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "voice_starting"})
}

func (s *Server) handleVoiceStop(w http.ResponseWriter, r *http.Request) {
	s.ctrl.StopVoice()
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "voice_stopping"})
}

func (s *Server) handleVoiceCancel(w http.ResponseWriter, r *http.Request) {
	s.ctrl.CancelVoice()
	writeJSON(w, http.StatusAccepted, StatusResponse{Status: "voice_cancelled"})
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	ctx, span := trace.StartSpan(r.Context(), "handle_chat")
	defer span.End()

	var req ChatMessage
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxChatBodyBytes)).Decode(&req); err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.InvalidArgument, "decode chat request"))
		return
	}
	msg, err := s.ctrl.Chat(ctx, req.Message)
	if err != nil {
		span.SetAttr("error", err.Error())
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	msg, ok := s.ctrl.Message()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleMessagePlayed(w http.ResponseWriter, r *http.Request) {
	next, ok := s.ctrl.MessagePlayed()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, next)
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.ctrl.State())
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		trace.Logger(r.Context()).Error("websocket accept error", "error", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "") }()

	ctx, cancel := context.WithCancel(r.Context())
	c := &client{conn: conn, out: make(chan any, ClientSendBuffer), cancel: cancel}
	var wg sync.WaitGroup
	defer wg.Wait()
	defer cancel()

	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writeLoop(ctx)
	}()

	log := trace.Logger(ctx)
	log.Info("websocket connected", "remote", r.RemoteAddr)
	rl := &rateLimiter{}

	for {
		var msg json.RawMessage
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			log.Debug("websocket read error", "error", err)
			return
		}

		if !rl.allow() {
			log.Warn("rate limit exceeded", "remote", r.RemoteAddr)
			c.send(ErrorMessage{Type: "error", Message: "rate limit exceeded"})
			continue
		}

		var base Message
		if err := json.Unmarshal(msg, &base); err != nil {
			continue
		}

		switch base.Type {
		case "voice_start":
			s.ctrl.StartVoice()
		case "voice_stop":
			s.ctrl.StopVoice()
		case "voice_cancel":
			s.ctrl.CancelVoice()
		case "played":
			s.ctrl.MessagePlayed()
		case "chat":
			var chat ChatMessage
			if err := json.Unmarshal(msg, &chat); err != nil {
				continue
			}
			cctx := ctx
			if chat.TraceID != "" {
				cctx = trace.WithContext(cctx, trace.NewChild(trace.Context{TraceID: chat.TraceID}))
			} else {
				cctx, _ = trace.EnsureContext(cctx)
			}
			wg.Add(1)
			go func() {
				defer wg.Done()
				s.chat(cctx, c, chat.Message)
			}()
		}
	}
}

// chat runs one ask for a websocket client. The reply reaches every client
// through the message event; only the error goes back to the asking client.
func (s *Server) chat(ctx context.Context, c *client, text string) {
	if _, err := s.ctrl.Chat(ctx, text); err != nil {
		if ctx.Err() != nil {
			return
		}
		c.send(ErrorMessage{
			Type:    "error",
			Kind:    apperrors.KindOf(err).String(),
			Message: err.Error(),
		})
	}
}

func (s *Server) broadcastEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt := <-s.ctrl.Events():
			s.mu.RLock()
			for c := range s.clients {
				if !c.send(evt) {
					trace.Logger(ctx).Warn("websocket client too slow, disconnecting")
					c.cancel()
				}
			}
			s.mu.RUnlock()
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatus(err), ErrorMessage{
		Type:    "error",
		Kind:    apperrors.KindOf(err).String(),
		Message: err.Error(),
	})
}

// httpStatus derives the response code from the error's gRPC code.
func httpStatus(err error) int {
	if errors.Is(err, app.ErrBusy) {
		return http.StatusConflict
	}
	var ae *apperrors.AppError
	if !errors.As(err, &ae) {
		return http.StatusInternalServerError
	}
	switch ae.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition, codes.Aborted:
		return http.StatusConflict
	case codes.Unimplemented:
		return http.StatusNotImplemented
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.DataLoss:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
