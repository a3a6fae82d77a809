package http

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"spacescape-service/internal/infra/collaborator"
	"spacescape-service/internal/infra/memory"
	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
)

type frame struct {
	Type      string          `json:"type"`
	RoomID    string          `json:"roomId"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	log := zaptest.NewLogger(t)
	results := memory.NewResultStore()
	registry := app.NewRegistry(memory.NewRoomStore(), 0, log)
	controller := app.NewController(registry, collaborator.NewCannedGenerator(), results, app.DefaultTimings(), log)
	t.Cleanup(controller.Close)
	service := app.NewGameService(registry, controller, results, nil, log)

	server := httptest.NewServer(NewMux(NewWSHandler(service, log), NewRoomHandler(service, log)))
	t.Cleanup(server.Close)
	return server
}

func dial(t *testing.T, server *httptest.Server) *websocket.Conn {
	t.Helper()
	u := "ws" + server.URL[len("http"):] + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) frame {
	t.Helper()
	var msg frame
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%s)", expect, msg.Type, msg.Payload)
	}
	return msg
}

func readState(conn *websocket.Conn, t *testing.T) domain.GameState {
	t.Helper()
	var state domain.GameState
	msg := readNext(conn, t, domain.EventGameState)
	if err := json.Unmarshal(msg.Payload, &state); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	return state
}

func send(conn *websocket.Conn, t *testing.T, msg map[string]any) {
	t.Helper()
	if err := conn.WriteJSON(msg); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWebSocketLobbyFlow(t *testing.T) {
	server := newTestServer(t)
	capConn := dial(t, server)

	send(capConn, t, map[string]any{"type": "CREATE_ROOM", "roomId": "R1", "playerNickname": "Cap"})
	created := readNext(capConn, t, domain.EventRoomCreated)
	if created.RoomID != "R1" {
		t.Fatalf("expected roomId R1, got %q", created.RoomID)
	}
	state := readState(capConn, t)
	if state.Room.Captain != "Cap" {
		t.Fatalf("expected Cap as captain, got %q", state.Room.Captain)
	}

	annConn := dial(t, server)
	send(annConn, t, map[string]any{"type": "JOIN_ROOM", "roomId": "R1", "playerNickname": "Ann"})
	if state := readState(annConn, t); len(state.Room.PlayerOrder) != 2 {
		t.Fatalf("expected two players, got %v", state.Room.PlayerOrder)
	}
	readState(capConn, t)

	send(annConn, t, map[string]any{"type": "PLAYER_READY", "playerNickname": "Ann", "isReady": true})
	if state := readState(capConn, t); !state.Room.Players["Ann"].Ready {
		t.Fatalf("expected Ann ready")
	}
	readState(annConn, t)

	// the claimed nickname is ignored; Ann is not the captain
	send(annConn, t, map[string]any{"type": "START_GAME", "playerNickname": "Cap", "roomId": "R1"})
	errFrame := readNext(annConn, t, domain.EventError)
	var reason string
	_ = json.Unmarshal(errFrame.Payload, &reason)
	if reason != domain.ErrNotHost.Error() {
		t.Fatalf("expected not-host error, got %q", reason)
	}

	send(capConn, t, map[string]any{"type": "START_GAME", "playerNickname": "Cap", "roomId": "R1"})
	if state := readState(capConn, t); state.Room.Status != domain.StatusPlaying {
		t.Fatalf("expected playing, got %s", state.Room.Status)
	}
	readNext(capConn, t, domain.EventChatMessage)
	if state := readState(capConn, t); state.Room.Countdown == nil || *state.Room.Countdown != 20 {
		t.Fatalf("expected countdown 20, got %v", state.Room.Countdown)
	}

	// Ann drops; the captain sees the smaller room.
	annConn.Close()
	var after domain.GameState
	for i := 0; i < 5; i++ {
		after = readState(capConn, t)
		if len(after.Room.PlayerOrder) == 1 {
			break
		}
	}
	if len(after.Room.PlayerOrder) != 1 {
		t.Fatalf("expected Ann removed, got %v", after.Room.PlayerOrder)
	}
}

func TestWebSocketPingAndBadInput(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)

	send(conn, t, map[string]any{"type": "PING"})
	pong := readNext(conn, t, domain.EventPong)
	if pong.Timestamp == 0 {
		t.Fatalf("expected pong timestamp")
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte("{nope")); err != nil {
		t.Fatalf("write: %v", err)
	}
	readNext(conn, t, domain.EventError)

	send(conn, t, map[string]any{"type": "TELEPORT"})
	readNext(conn, t, domain.EventError)

	send(conn, t, map[string]any{"type": "CHAT_MESSAGE", "payload": map[string]any{"text": "hi"}})
	msg := readNext(conn, t, domain.EventError)
	var reason string
	_ = json.Unmarshal(msg.Payload, &reason)
	if reason != domain.ErrNotConnected.Error() {
		t.Fatalf("expected not-connected error, got %q", reason)
	}

	send(conn, t, map[string]any{"type": "CAPTAIN_DECISION", "payload": map[string]any{"selectedPassengers": []bool{true}}})
	readNext(conn, t, domain.EventError)
}

func TestRoomEndpoints(t *testing.T) {
	server := newTestServer(t)
	conn := dial(t, server)
	send(conn, t, map[string]any{"type": "CREATE_ROOM", "roomId": "R1", "playerNickname": "Cap"})
	readNext(conn, t, domain.EventRoomCreated)

	resp, err := http.Get(server.URL + "/rooms/R1")
	if err != nil {
		t.Fatalf("get status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var summary domain.RoomSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	if summary.RoomID != "R1" || summary.PlayerCount != 1 || summary.Status != domain.StatusWaiting {
		t.Fatalf("unexpected summary %+v", summary)
	}

	missing, err := http.Get(server.URL + "/rooms/nowhere")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", missing.StatusCode)
	}

	results, err := http.Get(server.URL + "/rooms/R1/results")
	if err != nil {
		t.Fatalf("get results: %v", err)
	}
	body, _ := io.ReadAll(results.Body)
	results.Body.Close()
	if results.StatusCode != http.StatusOK || string(body) != "[]\n" {
		t.Fatalf("expected empty list, got %d %q", results.StatusCode, body)
	}

	health, err := http.Get(server.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	body, _ = io.ReadAll(health.Body)
	health.Body.Close()
	if string(body) != "ok" {
		t.Fatalf("expected ok, got %q", body)
	}
}
