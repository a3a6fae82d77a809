package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pingInterval   = 30 * time.Second
	pongWait       = 45 * time.Second
	maxMessageSize = 8 << 10
	sendBuffer     = 64
)

var (
	errConnClosed     = errors.New("connection closed")
	errSendBufferFull = errors.New("send buffer full")
)

type WSHandler struct {
	service  *app.GameService
	log      *zap.Logger
	upgrader websocket.Upgrader
}

func NewWSHandler(service *app.GameService, log *zap.Logger) *WSHandler {
	if log == nil {
		log = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type           string          `json:"type"`
	RoomID         string          `json:"roomId"`
	PlayerNickname string          `json:"playerNickname"`
	IsReady        *bool           `json:"isReady"`
	Payload        json.RawMessage `json:"payload"`
}

type chatPayload struct {
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type decisionPayload struct {
	SelectedPassengers []bool `json:"selectedPassengers"`
}

// wsConn is the registry's view of a socket. Only the writer goroutine
// touches the socket; everyone else queues frames.
type wsConn struct {
	mu     sync.Mutex
	send   chan []byte
	closed bool
}

func newWSConn() *wsConn {
	return &wsConn{send: make(chan []byte, sendBuffer)}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return errSendBufferFull
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// ServeWS upgrades HTTP requests to websockets and routes inbound events to
// the game use cases.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	connID := newConnID()
	log := h.log.With(zap.String("conn_id", connID))
	log.Debug("connection opened")

	out := newWSConn()
	writerDone := make(chan struct{})
	go h.writeLoop(conn, out, log, writerDone)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("ws read error", zap.Error(err))
			}
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		h.dispatch(connID, out, log, data)
	}

	h.service.Leave(connID)
	out.close()
	<-writerDone
	log.Debug("connection closed")
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, out *wsConn, log *zap.Logger, done chan<- struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		close(done)
	}()

	for {
		select {
		case msg, ok := <-out.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				log.Debug("ws write error", zap.Error(err))
				// unblock the reader so the connection is torn down
				_ = conn.Close()
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = conn.Close()
				return
			}
		}
	}
}

func (h *WSHandler) dispatch(connID string, out *wsConn, log *zap.Logger, data []byte) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("inbound handler panicked", zap.Any("panic", rec))
			h.reply(out, log, domain.ErrorEvent("Server error"))
		}
	}()

	var in inboundMessage
	if err := json.Unmarshal(data, &in); err != nil {
		h.reply(out, log, domain.ErrorEvent(domain.ErrBadRequest.Error()))
		return
	}
	log.Debug("inbound event", zap.String("type", in.Type))

	var err error
	switch in.Type {
	case domain.EventCreateRoom:
		err = h.service.CreateRoom(connID, out, in.RoomID, in.PlayerNickname)
	case domain.EventJoinRoom:
		err = h.service.JoinRoom(connID, out, in.RoomID, in.PlayerNickname)
	case domain.EventPlayerReady:
		if in.IsReady == nil {
			err = domain.ErrBadRequest
			break
		}
		err = h.service.SetReady(connID, *in.IsReady)
	case domain.EventStartGame:
		err = h.service.StartGame(connID)
	case domain.EventChatMessage:
		var p chatPayload
		if json.Unmarshal(in.Payload, &p) != nil || p.Text == "" {
			err = domain.ErrBadRequest
			break
		}
		err = h.service.SendMessage(connID, p.Text, p.Timestamp)
	case domain.EventCaptainDecision:
		var p decisionPayload
		if json.Unmarshal(in.Payload, &p) != nil || len(p.SelectedPassengers) != domain.SlotCount {
			err = domain.ErrBadRequest
			break
		}
		var selected [domain.SlotCount]bool
		copy(selected[:], p.SelectedPassengers)
		err = h.service.CaptainDecision(connID, selected)
	case domain.EventPing:
		h.reply(out, log, domain.Event{Type: domain.EventPong, Timestamp: time.Now().UnixMilli()})
	default:
		err = domain.ErrBadRequest
	}

	if err != nil {
		log.Debug("inbound event rejected", zap.String("type", in.Type), zap.Error(err))
		h.reply(out, log, domain.ErrorEvent(err.Error()))
	}
}

// reply writes straight to the sender, whether or not it belongs to a room.
func (h *WSHandler) reply(out *wsConn, log *zap.Logger, event domain.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error("encode reply", zap.Error(err))
		return
	}
	if err := out.Send(data); err != nil {
		log.Debug("reply dropped", zap.Error(err))
	}
}

func newConnID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.NewString()
}
