package domain

import "time"

// Status is the lifecycle of a room. It only moves forward.
type Status string

const (
	StatusWaiting   Status = "waiting"
	StatusPlaying   Status = "playing"
	StatusCompleted Status = "completed"
)

// Round is the phase of a playing room.
type Round string

const (
	RoundQuestion    Round = "question"
	RoundAnswer      Round = "answer"
	RoundTranslation Round = "translation"
)

const (
	// SlotCount is the number of passenger pods shown to the captain.
	SlotCount = 4
	// DefaultMaxCycles ends the game after this many question/answer/translation cycles.
	DefaultMaxCycles = 10

	NicknameMinLen = 2
	NicknameMaxLen = 15

	// NoMessageSent marks a real slot whose player stayed silent this round.
	NoMessageSent = "NO_MESSAGE_SENT"

	DefaultCaptainQuestion = "What were you doing before the catastrophe started?"

	SystemSender     = "System"
	TranslatorSender = "DigiTranslate 3000"
)

// Player is one member of a room.
type Player struct {
	Nickname       string `json:"nickname"`
	Ready          bool   `json:"ready"`
	ConnID         string `json:"clientId"`
	HasSentMessage bool   `json:"hasSentMessage"`
	Captain        bool   `json:"isCaptain"`
}

// RoomView is the public part of a room snapshot.
type RoomView struct {
	ID          string            `json:"id"`
	Status      Status            `json:"status"`
	Round       Round             `json:"round"`
	Countdown   *int              `json:"countdown"`
	CycleCount  int               `json:"cycleCount"`
	Captain     string            `json:"captain"`
	PlayerOrder []string          `json:"playerOrder"`
	Players     map[string]Player `json:"players"`
	Scores      map[string]int    `json:"scores"`
}

// GameState is the full snapshot carried by GAME_STATE events.
type GameState struct {
	Room             RoomView          `json:"room"`
	PendingMessages  map[string]string `json:"pendingMessages"`
	PassengerMapping map[string]int    `json:"passengerMapping"`
}

// ChatMessage is the payload of CHAT_MESSAGE events.
type ChatMessage struct {
	RoomKey   string `json:"roomKey"`
	Sender    string `json:"sender"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
	IsPrivate bool   `json:"isPrivate"`
}

// SlotMessage is one passenger pod as handed to the collaborator.
type SlotMessage struct {
	Player           string `json:"player"`
	Slot             int    `json:"-"`
	Message          string `json:"message,omitempty"`
	IsRealPlayer     bool   `json:"isRealPlayer"`
	OriginalNickname string `json:"originalNickname,omitempty"`
	Fabricated       bool   `json:"-"`
}

// PlayerMessages is the request body the collaborator consumes.
type PlayerMessages struct {
	Players            []SlotMessage `json:"players"`
	EmptyPositions     []int         `json:"emptyPositions"`
	CaptainQuestion    string        `json:"captainQuestion"`
	RealPlayerMessages []string      `json:"realPlayerMessages"`
}

// SlotReveal discloses who sat in a pod.
type SlotReveal struct {
	Slot     int    `json:"slot"`
	Real     bool   `json:"real"`
	Nickname string `json:"nickname,omitempty"`
}

// GameResult is the final outcome of a room, recorded after the captain decides.
type GameResult struct {
	RoomID     string         `json:"roomId"`
	Captain    string         `json:"captain"`
	Scores     map[string]int `json:"scores"`
	Correct    int            `json:"correct"`
	Incorrect  int            `json:"incorrect"`
	FinishedAt time.Time      `json:"finishedAt"`
}

// RoomSummary backs the room status endpoint.
type RoomSummary struct {
	RoomID      string `json:"roomId"`
	Status      Status `json:"status"`
	PlayerCount int    `json:"playerCount"`
}
