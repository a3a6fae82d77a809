package domain

// Inbound event types.
const (
	EventCreateRoom      = "CREATE_ROOM"
	EventJoinRoom        = "JOIN_ROOM"
	EventPlayerReady     = "PLAYER_READY"
	EventStartGame       = "START_GAME"
	EventCaptainDecision = "CAPTAIN_DECISION"
	EventPing            = "PING"
)

// Outbound event types. CHAT_MESSAGE travels both ways.
const (
	EventGameState   = "GAME_STATE"
	EventChatMessage = "CHAT_MESSAGE"
	EventRoomCreated = "ROOM_CREATED"
	EventError       = "ERROR"
	EventPong        = "PONG"
)

// Event is the envelope of every outbound frame.
type Event struct {
	Type      string `json:"type"`
	RoomID    string `json:"roomId,omitempty"`
	Payload   any    `json:"payload,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func GameStateEvent(state GameState) Event {
	return Event{Type: EventGameState, Payload: state}
}

func ChatEvent(msg ChatMessage) Event {
	return Event{Type: EventChatMessage, Payload: msg}
}

func ErrorEvent(reason string) Event {
	return Event{Type: EventError, Payload: reason}
}
