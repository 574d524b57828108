package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/skillstream/skillstream/internal/config"
	"github.com/skillstream/skillstream/internal/stream"
	"github.com/skillstream/skillstream/model"
)

// WebSocket close codes for connection-cap rejections.
const (
	closeCodeConnectionLimit     = 4008
	closeCodeTaskConnectionLimit = 4009
)

type streamHandler struct {
	manager  *stream.Manager
	logger   *zap.Logger
	cfg      config.StreamConfig
	upgrader websocket.Upgrader
}

func newStreamHandler(deps Dependencies) *streamHandler {
	origins := make(map[string]bool)
	for _, o := range deps.Config.Server.CORS.AllowedOrigins {
		origins[o] = true
	}
	return &streamHandler{
		manager: deps.Manager,
		logger:  deps.Logger,
		cfg:     deps.Config.Stream,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins["*"] || origins[origin]
			},
		},
	}
}

// stream upgrades the request to a WebSocket and forwards the subscriber's
// frames until the task reaches a terminal state or the client goes away.
// The handshake is rejected with a plain HTTP error for an unknown task;
// cap rejections complete the handshake and close with 4008 or 4009 so
// browser clients can read the close code.
func (h *streamHandler) stream(w http.ResponseWriter, r *http.Request) {
	taskID := chi.URLParam(r, "taskID")
	logger := h.logger.With(zap.String("task_id", taskID))

	sub, attachErr := h.manager.Attach(r.Context(), taskID)

	var envelope *model.ErrorEnvelope
	if attachErr != nil && errors.As(attachErr, &envelope) {
		switch envelope.Code {
		case model.ErrConnectionLimit, model.ErrTaskConnectionLimit:
			h.rejectWithCloseCode(w, r, envelope)
		default:
			WriteError(w, envelope)
		}
		return
	}
	if attachErr != nil {
		logger.Error("stream attach failed", zap.Error(attachErr))
		WriteError(w, model.NewInternalError())
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the handshake error.
		h.manager.Detach(sub)
		return
	}

	defer h.manager.Detach(sub)
	defer conn.Close()

	done := make(chan struct{})
	go h.readPump(conn, done)
	h.writePump(conn, sub, done, logger)
}

// rejectWithCloseCode completes the WebSocket handshake and immediately
// closes with the cap-specific close code.
func (h *streamHandler) rejectWithCloseCode(w http.ResponseWriter, r *http.Request, envelope *model.ErrorEnvelope) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	code := closeCodeConnectionLimit
	if envelope.Code == model.ErrTaskConnectionLimit {
		code = closeCodeTaskConnectionLimit
	}
	msg := websocket.FormatCloseMessage(code, envelope.Message)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(h.writeTimeout()))
}

// readPump drains client frames so pong handling and close detection work.
// Clients only ever send ping/pong and close.
func (h *streamHandler) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)

	deadline := 2 * h.pingInterval()
	_ = conn.SetReadDeadline(time.Now().Add(deadline))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(deadline))
	})
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(deadline))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(h.writeTimeout()))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes all writes to the connection: subscriber frames,
// periodic pings, and the final close frame.
func (h *streamHandler) writePump(conn *websocket.Conn, sub *stream.Subscriber, done <-chan struct{}, logger *zap.Logger) {
	ping := time.NewTicker(h.pingInterval())
	defer ping.Stop()

	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				// Manager closed the subscriber: terminal teardown or a
				// dropped stuck connection. Say goodbye cleanly.
				frame := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
				_ = conn.WriteControl(websocket.CloseMessage, frame, time.Now().Add(h.writeTimeout()))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(h.writeTimeout()))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug("stream write failed", zap.Error(err))
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.writeTimeout())); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *streamHandler) writeTimeout() time.Duration {
	if h.cfg.WriteTimeout > 0 {
		return h.cfg.WriteTimeout
	}
	return 10 * time.Second
}

func (h *streamHandler) pingInterval() time.Duration {
	if h.cfg.PingInterval > 0 {
		return h.cfg.PingInterval
	}
	return 30 * time.Second
}
