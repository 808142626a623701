package server

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsPongWait     = 60 * time.Second
	wsPingInterval = 30 * time.Second
	wsFlushPeriod  = 10 * time.Millisecond
)

func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  64 * 1024,
		WriteBufferSize: 4 * 1024,
		CheckOrigin: func(r *http.Request) bool {
			if s.corsOrigin == "" || s.corsOrigin == "*" {
				return true
			}
			origin := r.Header.Get("Origin")
			return origin == "" || origin == s.corsOrigin
		},
	}
}

// framesWebSocketHandler streams camera frames into a per-connection
// scanner and pushes decoded results back as JSON. Binary messages carry
// frames; text messages carry control requests.
func (s *Server) framesWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.logger().Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()
	if s.maxFrame > 0 {
		conn.SetReadLimit(int64(s.maxFrame))
	}

	sess := newSession(conn, getClientIP(r), s.decoder, s.scannerOpts, s.supervisor, s.framesPerSec, s.dedupe)
	s.sessions.Store(sess.id, sess)
	websocketSessions.Inc()
	defer func() {
		s.sessions.Delete(sess.id)
		sess.close()
		websocketSessions.Dec()
		s.logger().Info("Frame session closed", "session_id", sess.id, "delivered", sess.delivered.Load())
	}()

	s.logger().Info("Frame session opened", "session_id", sess.id, "remote_addr", sess.remoteAddr)
	if err := sess.send(wsMessage{Type: "session", SessionID: sess.id}); err != nil {
		return
	}

	done := make(chan struct{})
	defer close(done)
	go s.pushResults(conn, sess, done)

	s.readFrames(conn, sess)
}

// readFrames consumes client messages until the connection closes.
func (s *Server) readFrames(conn *websocket.Conn, sess *session) {
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger().Warn("WebSocket read failed", "session_id", sess.id, "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		websocketMessagesTotal.WithLabelValues("received").Inc()

		switch messageType {
		case websocket.BinaryMessage:
			buf, err := DecodeFrame(data)
			if err != nil {
				websocketFramesTotal.WithLabelValues("invalid").Inc()
				err = sess.sendError("invalid_frame", err.Error())
			} else {
				sess.submit(buf)
			}
			if err != nil {
				return
			}
		case websocket.TextMessage:
			if err := sess.handleControl(data); err != nil {
				return
			}
		}
	}
}

// pushResults forwards decoded results and keeps the connection alive until
// done is closed.
func (s *Server) pushResults(conn *websocket.Conn, sess *session, done <-chan struct{}) {
	flush := time.NewTicker(wsFlushPeriod)
	defer flush.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-flush.C:
			if err := sess.flush(); err != nil {
				s.logger().Debug("Result push failed", "session_id", sess.id, "error", err)
				_ = conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
				return
			}
		}
	}
}
