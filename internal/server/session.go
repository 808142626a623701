package server

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/thejerf/suture/v4"
	"golang.org/x/time/rate"

	"github.com/MeKo-Tech/qrlens/internal/bitmap"
	"github.com/MeKo-Tech/qrlens/internal/scanner"
	"github.com/MeKo-Tech/qrlens/internal/utils"
)

// FrameMagic starts a raw frame message: magic, big-endian uint32 width and
// height, one row-order byte (0 top-down, 1 bottom-up), then width*height
// RGB triples. Binary messages without the magic are decoded as encoded
// images (PNG, JPEG, ...).
const FrameMagic = "QRLF"

const frameHeaderSize = len(FrameMagic) + 4 + 4 + 1

// EncodeFrame builds a raw frame message from buf.
func EncodeFrame(buf bitmap.PixelBuffer) []byte {
	msg := make([]byte, frameHeaderSize, frameHeaderSize+len(buf.Pix))
	copy(msg, FrameMagic)
	binary.BigEndian.PutUint32(msg[4:], uint32(buf.Width))  //nolint:gosec // dimensions are positive
	binary.BigEndian.PutUint32(msg[8:], uint32(buf.Height)) //nolint:gosec // dimensions are positive
	if buf.Order == bitmap.BottomUp {
		msg[12] = 1
	}
	return append(msg, buf.Pix...)
}

// DecodeFrame parses a binary websocket message into a pixel buffer.
func DecodeFrame(msg []byte) (bitmap.PixelBuffer, error) {
	if len(msg) < frameHeaderSize || string(msg[:len(FrameMagic)]) != FrameMagic {
		img, _, err := utils.DecodeImageBytes(msg)
		if err != nil {
			return bitmap.PixelBuffer{}, fmt.Errorf("neither a raw frame nor a decodable image: %w", err)
		}
		return bitmap.FromImage(img, bitmap.TopDown), nil
	}

	w := binary.BigEndian.Uint32(msg[4:])
	h := binary.BigEndian.Uint32(msg[8:])
	if w == 0 || h == 0 || w > 1<<15 || h > 1<<15 {
		return bitmap.PixelBuffer{}, fmt.Errorf("invalid frame dimensions %dx%d", w, h)
	}
	var order bitmap.RowOrder
	switch msg[12] {
	case 0:
		order = bitmap.TopDown
	case 1:
		order = bitmap.BottomUp
	default:
		return bitmap.PixelBuffer{}, fmt.Errorf("invalid row order byte %d", msg[12])
	}
	payload := msg[frameHeaderSize:]
	if want := int(w) * int(h) * 3; len(payload) != want {
		return bitmap.PixelBuffer{}, fmt.Errorf("frame payload holds %d bytes, want %d", len(payload), want)
	}
	return bitmap.PixelBuffer{Pix: payload, Width: int(w), Height: int(h), Order: order}, nil
}

// wsConnWriter is the part of *websocket.Conn sessions write through.
type wsConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// wsMessage is every JSON message the server pushes to a frame session.
type wsMessage struct {
	Type      string          `json:"type"` // session, result, stats, error
	SessionID string          `json:"session_id,omitempty"`
	Result    *scanner.Result `json:"result,omitempty"`
	Stats     *scanner.Stats  `json:"stats,omitempty"`
	Error     string          `json:"error,omitempty"`
	ErrorType string          `json:"error_type,omitempty"`
}

// wsControl is a JSON text message sent by the client.
type wsControl struct {
	Type string `json:"type"` // stats, reset
}

// session is one frame streaming connection with its own scanner worker.
type session struct {
	id         string
	remoteAddr string
	started    time.Time

	writeMu sync.Mutex
	conn    wsConnWriter

	scanner *scanner.Scanner
	token   suture.ServiceToken
	limiter *rate.Limiter
	dedupe  *scanner.Deduper

	delivered atomic.Uint64
}

// newSession creates a session whose scanner runs under sup. fps <= 0
// disables throttling; dedupe suppresses repeated texts.
func newSession(conn wsConnWriter, remoteAddr string, dec scanner.Decoder, opts scanner.Options,
	sup *suture.Supervisor, fps float64, dedupe bool,
) *session {
	sess := &session{
		id:         uuid.NewString(),
		remoteAddr: remoteAddr,
		started:    time.Now(),
		conn:       conn,
		scanner:    scanner.New(dec, opts),
	}
	if fps > 0 {
		sess.limiter = rate.NewLimiter(rate.Limit(fps), max(1, int(fps)))
	}
	if dedupe {
		sess.dedupe = &scanner.Deduper{}
	}
	if sup != nil {
		sess.token = sup.Add(sess.scanner)
	} else {
		sess.scanner.Start()
	}
	return sess
}

// submit hands a frame to the scanner unless the session is over its frame
// rate.
func (sess *session) submit(buf bitmap.PixelBuffer) bool {
	if sess.limiter != nil && !sess.limiter.Allow() {
		websocketFramesTotal.WithLabelValues("throttled").Inc()
		return false
	}
	if !sess.scanner.Submit(scanner.Frame{Buffer: buf}) {
		return false
	}
	websocketFramesTotal.WithLabelValues("accepted").Inc()
	return true
}

// flush sends every queued result the client has not seen yet.
func (sess *session) flush() error {
	for {
		res, ok := sess.scanner.TryReceive()
		if !ok {
			return nil
		}
		if sess.dedupe != nil && !sess.dedupe.Accept(res) {
			continue
		}
		if err := sess.send(wsMessage{Type: "result", SessionID: sess.id, Result: &res}); err != nil {
			return err
		}
		sess.delivered.Add(1)
	}
}

func (sess *session) handleControl(data []byte) error {
	var ctl wsControl
	if err := json.Unmarshal(data, &ctl); err != nil {
		return sess.sendError("invalid_request", fmt.Sprintf("Failed to parse message: %v", err))
	}
	switch ctl.Type {
	case "stats":
		st := sess.scanner.Stats()
		return sess.send(wsMessage{Type: "stats", SessionID: sess.id, Stats: &st})
	case "reset":
		if sess.dedupe != nil {
			sess.dedupe.Reset()
		}
		return nil
	default:
		return sess.sendError("invalid_request", "Unsupported message type: "+ctl.Type)
	}
}

func (sess *session) send(msg wsMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	if err := sess.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}

func (sess *session) sendError(errorType, message string) error {
	return sess.send(wsMessage{Type: "error", SessionID: sess.id, Error: message, ErrorType: errorType})
}

func (sess *session) info() SessionInfo {
	return SessionInfo{
		ID:         sess.id,
		RemoteAddr: sess.remoteAddr,
		Started:    sess.started,
		Stats:      sess.scanner.Stats(),
		Delivered:  sess.delivered.Load(),
	}
}

// close stops the scanner; its supervisor drops it once Serve returns.
func (sess *session) close() {
	sess.scanner.Stop()
}

// goingAway asks the client to close the connection.
func (sess *session) goingAway() {
	sess.writeMu.Lock()
	defer sess.writeMu.Unlock()
	_ = sess.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
}
