package app

import (
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"spacescape-service/internal/domain"
)

const (
	captainQuestionPoints = 10
	passengerAnswerPoints = 5
	correctPickPoints     = 50
	wrongPickPenalty      = 30
	savedPassengerPoints  = 20

	startAnnouncement    = "The game has commenced. Captain will ask questions to determine which pods hold androids. Don't get left behind."
	gameOverAnnouncement = "<b>Game Over!</b> The maximum number of rounds has been reached. The captain must now decide which pod(s) to leave behind."
)

// Room is the authoritative state of one game session. Every exported method
// takes the room lock, so a phase timer and a player action are serialized.
type Room struct {
	id        string
	maxCycles int
	now       func() time.Time
	rnd       *rand.Rand

	mu               sync.Mutex
	status           domain.Status
	round            domain.Round
	countdown        *int
	cycleCount       int
	order            []string
	players          map[string]*domain.Player
	scores           map[string]int
	scoreOrder       []string
	passengerMapping map[string]int
	pendingMessages  map[string]string
	decided          bool
}

// Transition describes one advanceRound step.
type Transition struct {
	From         domain.Round
	To           domain.Round
	GameOver     bool
	Announcement domain.ChatMessage
}

// Decision is the outcome of the captain's end-of-game pick.
type Decision struct {
	Captain   string
	Correct   int
	Incorrect int
	Scores    map[string]int
	Summary   domain.ChatMessage
}

func NewRoom(id string, maxCycles int) *Room {
	return NewRoomWithClock(id, maxCycles, time.Now, rand.New(rand.NewSource(time.Now().UnixNano())))
}

// NewRoomWithClock is test-only for deterministic timestamps and slot shuffles.
func NewRoomWithClock(id string, maxCycles int, now func() time.Time, rnd *rand.Rand) *Room {
	if maxCycles <= 0 {
		maxCycles = domain.DefaultMaxCycles
	}
	return &Room{
		id:              id,
		maxCycles:       maxCycles,
		now:             now,
		rnd:             rnd,
		status:          domain.StatusWaiting,
		round:           domain.RoundQuestion,
		players:         make(map[string]*domain.Player),
		scores:          make(map[string]int),
		pendingMessages: make(map[string]string),
	}
}

func (r *Room) ID() string {
	return r.id
}

// AddPlayer inserts a new player. The first player becomes the captain and is ready.
func (r *Room) AddPlayer(nickname, connID string) (domain.GameState, error) {
	nickname = strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nickname); n < domain.NicknameMinLen || n > domain.NicknameMaxLen {
		return domain.GameState{}, domain.ErrInvalidNickname
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.StatusWaiting {
		return domain.GameState{}, domain.ErrAlreadyInProgress
	}
	if _, ok := r.players[nickname]; ok {
		return domain.GameState{}, domain.ErrNameTaken
	}
	// one captain plus a passenger per pod
	if len(r.order) > domain.SlotCount {
		return domain.GameState{}, domain.ErrRoomFull
	}

	first := len(r.order) == 0
	r.players[nickname] = &domain.Player{
		Nickname: nickname,
		Ready:    first,
		ConnID:   connID,
		Captain:  first,
	}
	r.order = append(r.order, nickname)
	if _, ok := r.scores[nickname]; !ok {
		r.scoreOrder = append(r.scoreOrder, nickname)
	}
	r.scores[nickname] = 0
	return r.snapshotLocked(), nil
}

// RemovePlayer deletes the player, promoting the next-earliest player when the
// captain leaves. Scores are kept.
func (r *Room) RemovePlayer(nickname string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(nickname)
}

// RemoveByConn removes the player bound to connID and returns its nickname.
func (r *Room) RemoveByConn(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, nickname := range r.order {
		if r.players[nickname].ConnID == connID {
			return nickname, r.removeLocked(nickname)
		}
	}
	return "", false
}

func (r *Room) removeLocked(nickname string) bool {
	player, ok := r.players[nickname]
	if !ok {
		return false
	}
	delete(r.players, nickname)
	for i, n := range r.order {
		if n == nickname {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	if player.Captain && len(r.order) > 0 {
		next := r.players[r.order[0]]
		next.Captain = true
		next.Ready = true
	}
	return true
}

// NicknameByConn resolves the player bound to a connection.
func (r *Room) NicknameByConn(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, nickname := range r.order {
		if r.players[nickname].ConnID == connID {
			return nickname, true
		}
	}
	return "", false
}

func (r *Room) IsEmpty() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.order) == 0
}

func (r *Room) SetReady(nickname string, ready bool) (domain.GameState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	player, ok := r.players[nickname]
	if !ok {
		return domain.GameState{}, domain.ErrPlayerNotFound
	}
	player.Ready = ready
	return r.snapshotLocked(), nil
}

// StartGame validates the captain and readiness, assigns pods and starts the
// first question round.
func (r *Room) StartGame(nickname string) (domain.ChatMessage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.StatusWaiting {
		return domain.ChatMessage{}, domain.ErrAlreadyInProgress
	}
	if nickname == "" || nickname != r.captainLocked() {
		return domain.ChatMessage{}, domain.ErrNotHost
	}
	for _, n := range r.order {
		if !r.players[n].Ready {
			return domain.ChatMessage{}, domain.ErrNotAllReady
		}
	}

	r.passengerMapping = r.assignSlotsLocked()
	r.status = domain.StatusPlaying
	r.round = domain.RoundQuestion
	r.cycleCount = 0
	r.countdown = nil
	r.resetRoundLocked()
	return r.systemMessageLocked(startAnnouncement), nil
}

// assignSlotsLocked shuffles the pods and zips them with the passengers in join
// order. Passengers beyond the pod count get no slot.
func (r *Room) assignSlotsLocked() map[string]int {
	slots := [domain.SlotCount]int{}
	for i := range slots {
		slots[i] = i + 1
	}
	for i := len(slots) - 1; i > 0; i-- {
		j := r.rnd.Intn(i + 1)
		slots[i], slots[j] = slots[j], slots[i]
	}

	mapping := make(map[string]int)
	idx := 0
	for _, nickname := range r.order {
		if r.players[nickname].Captain {
			continue
		}
		if idx >= len(slots) {
			break
		}
		mapping[nickname] = slots[idx]
		idx++
	}
	return mapping
}

// AddMessage records the player's single message for the current round and
// awards points for a captain question or a passenger answer.
func (r *Room) AddMessage(nickname, text string, timestamp int64) (domain.ChatMessage, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	player, ok := r.players[nickname]
	if !ok {
		return domain.ChatMessage{}, false, domain.ErrPlayerNotFound
	}
	if r.status != domain.StatusPlaying || r.round == domain.RoundTranslation {
		return domain.ChatMessage{}, false, domain.ErrWrongRound
	}
	if player.HasSentMessage {
		return domain.ChatMessage{}, false, domain.ErrAlreadySentThisRound
	}

	isHost := player.Captain
	player.HasSentMessage = true
	r.pendingMessages[nickname] = text

	switch {
	case isHost && r.round == domain.RoundQuestion:
		r.scores[nickname] += captainQuestionPoints
	case !isHost && r.round == domain.RoundAnswer:
		r.scores[nickname] += passengerAnswerPoints
	}

	if timestamp == 0 {
		timestamp = r.now().UnixMilli()
	}
	return domain.ChatMessage{
		RoomKey:   r.id,
		Sender:    nickname,
		Text:      text,
		Timestamp: timestamp,
		IsPrivate: !isHost,
	}, isHost, nil
}

// AdvanceRound moves question -> answer -> translation -> question. Leaving
// translation closes a cycle and completes the game at the cycle limit.
func (r *Room) AdvanceRound() (Transition, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.advanceLocked()
}

func (r *Room) advanceLocked() (Transition, bool) {
	if r.status != domain.StatusPlaying {
		return Transition{}, false
	}

	t := Transition{From: r.round}
	switch r.round {
	case domain.RoundQuestion:
		r.round = domain.RoundAnswer
	case domain.RoundAnswer:
		r.round = domain.RoundTranslation
		r.countdown = nil
	case domain.RoundTranslation:
		r.round = domain.RoundQuestion
		r.countdown = nil
		r.cycleCount++
		r.resetRoundLocked()
		if r.cycleCount >= r.maxCycles {
			r.status = domain.StatusCompleted
			t.GameOver = true
			t.Announcement = r.systemMessageLocked(gameOverAnnouncement)
		}
	}
	t.To = r.round
	return t, true
}

// CloseQuestionRound ends the question round, standing in the default question
// when the captain stayed silent. It reports whether the default was used.
func (r *Room) CloseQuestionRound() (bool, Transition, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.StatusPlaying || r.round != domain.RoundQuestion {
		return false, Transition{}, domain.ErrWrongRound
	}

	synthesized := false
	if captain := r.captainLocked(); captain != "" {
		if _, ok := r.pendingMessages[captain]; !ok {
			r.pendingMessages[captain] = domain.DefaultCaptainQuestion
			synthesized = true
		}
	}
	t, _ := r.advanceLocked()
	return synthesized, t, nil
}

func (r *Room) resetRoundLocked() {
	r.pendingMessages = make(map[string]string)
	for _, player := range r.players {
		player.HasSentMessage = false
	}
}

// SetCountdown shows a fresh countdown for a timed phase.
func (r *Room) SetCountdown(seconds int) domain.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	if seconds < 0 {
		seconds = 0
	}
	r.countdown = &seconds
	return r.snapshotLocked()
}

func (r *Room) ClearCountdown() domain.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.countdown = nil
	return r.snapshotLocked()
}

// Tick decrements a running countdown. It reports false once the countdown is
// exhausted or absent.
func (r *Room) Tick() (domain.GameState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.countdown == nil || *r.countdown <= 0 {
		return domain.GameState{}, false
	}
	next := *r.countdown - 1
	r.countdown = &next
	return r.snapshotLocked(), true
}

// Phase reports status, round and completed cycles.
func (r *Room) Phase() (domain.Status, domain.Round, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status, r.round, r.cycleCount
}

func (r *Room) State() domain.GameState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

func (r *Room) Summary() domain.RoomSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	return domain.RoomSummary{
		RoomID:      r.id,
		Status:      r.status,
		PlayerCount: len(r.order),
	}
}

func (r *Room) CaptainQuestion() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captainQuestionLocked()
}

func (r *Room) captainQuestionLocked() string {
	if q := r.pendingMessages[r.captainLocked()]; q != "" {
		return q
	}
	return domain.DefaultCaptainQuestion
}

// PlayerMessages assembles the pods in slot order for the collaborator.
func (r *Room) PlayerMessages() domain.PlayerMessages {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySlot := make(map[int]string, len(r.passengerMapping))
	for nickname, slot := range r.passengerMapping {
		bySlot[slot] = nickname
	}

	out := domain.PlayerMessages{
		Players:            make([]domain.SlotMessage, 0, domain.SlotCount),
		EmptyPositions:     make([]int, 0, domain.SlotCount),
		CaptainQuestion:    r.captainQuestionLocked(),
		RealPlayerMessages: make([]string, 0, len(r.pendingMessages)),
	}
	for slot := 1; slot <= domain.SlotCount; slot++ {
		entry := domain.SlotMessage{Player: passengerLabel(slot), Slot: slot}
		if nickname, ok := bySlot[slot]; ok {
			entry.IsRealPlayer = true
			entry.OriginalNickname = nickname
			entry.Message = r.pendingMessages[nickname]
			if entry.Message == "" {
				entry.Message = domain.NoMessageSent
			}
		} else {
			out.EmptyPositions = append(out.EmptyPositions, slot)
		}
		out.Players = append(out.Players, entry)
	}
	for _, nickname := range r.scoreOrder {
		if msg := r.pendingMessages[nickname]; msg != "" && msg != domain.NoMessageSent {
			out.RealPlayerMessages = append(out.RealPlayerMessages, msg)
		}
	}
	return out
}

// PassengerReveal discloses, pod by pod, who was real.
func (r *Room) PassengerReveal() ([]domain.SlotReveal, domain.ChatMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	bySlot := make(map[int]string, len(r.passengerMapping))
	for nickname, slot := range r.passengerMapping {
		bySlot[slot] = nickname
	}

	reveal := make([]domain.SlotReveal, 0, domain.SlotCount)
	var b strings.Builder
	b.WriteString("<b>Passenger Reveal:</b><br>")
	for slot := 1; slot <= domain.SlotCount; slot++ {
		nickname, isReal := bySlot[slot]
		reveal = append(reveal, domain.SlotReveal{Slot: slot, Real: isReal, Nickname: nickname})
		if isReal {
			fmt.Fprintf(&b, "%s: Real Player (%s)<br>", passengerLabel(slot), nickname)
		} else {
			fmt.Fprintf(&b, "%s: AI-Generated<br>", passengerLabel(slot))
		}
	}
	return reveal, r.systemMessageLocked(b.String())
}

// ProcessCaptainDecision scores the captain's pick of pods to leave behind.
// Selecting a fabricated pod earns the captain points, selecting a real one
// costs points, and every real passenger left unselected is rewarded.
func (r *Room) ProcessCaptainDecision(nickname string, selected [domain.SlotCount]bool) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.status != domain.StatusCompleted {
		return Decision{}, domain.ErrGameNotCompleted
	}
	captain := r.captainLocked()
	if nickname != captain {
		return Decision{}, domain.ErrNotHost
	}
	if r.decided {
		return Decision{}, domain.ErrDecisionMade
	}
	r.decided = true

	realSlots := make(map[int]bool, len(r.passengerMapping))
	for _, slot := range r.passengerMapping {
		realSlots[slot] = true
	}

	d := Decision{Captain: captain}
	for i, pick := range selected {
		if !pick {
			continue
		}
		if realSlots[i+1] {
			d.Incorrect++
		} else {
			d.Correct++
		}
	}

	r.scores[captain] += d.Correct*correctPickPoints - d.Incorrect*wrongPickPenalty
	for nickname, slot := range r.passengerMapping {
		if slot >= 1 && slot <= domain.SlotCount && !selected[slot-1] {
			r.scores[nickname] += savedPassengerPoints
		}
	}

	var b strings.Builder
	b.WriteString("<b>Final Scores:</b><br>")
	for _, n := range r.scoreOrder {
		fmt.Fprintf(&b, "%s: %d points<br>", n, r.scores[n])
	}
	d.Scores = copyScores(r.scores)
	d.Summary = r.systemMessageLocked(b.String())
	return d, nil
}

func (r *Room) captainLocked() string {
	for _, nickname := range r.order {
		if r.players[nickname].Captain {
			return nickname
		}
	}
	return ""
}

func (r *Room) systemMessageLocked(text string) domain.ChatMessage {
	return domain.ChatMessage{
		RoomKey:   r.id,
		Sender:    domain.SystemSender,
		Text:      text,
		Timestamp: r.now().UnixMilli(),
	}
}

func (r *Room) snapshotLocked() domain.GameState {
	players := make(map[string]domain.Player, len(r.players))
	for nickname, player := range r.players {
		players[nickname] = *player
	}
	var countdown *int
	if r.countdown != nil {
		c := *r.countdown
		countdown = &c
	}
	pending := make(map[string]string, len(r.pendingMessages))
	for k, v := range r.pendingMessages {
		pending[k] = v
	}
	var mapping map[string]int
	if r.passengerMapping != nil {
		mapping = make(map[string]int, len(r.passengerMapping))
		for k, v := range r.passengerMapping {
			mapping[k] = v
		}
	}

	return domain.GameState{
		Room: domain.RoomView{
			ID:          r.id,
			Status:      r.status,
			Round:       r.round,
			Countdown:   countdown,
			CycleCount:  r.cycleCount,
			Captain:     r.captainLocked(),
			PlayerOrder: append([]string(nil), r.order...),
			Players:     players,
			Scores:      copyScores(r.scores),
		},
		PendingMessages:  pending,
		PassengerMapping: mapping,
	}
}

func copyScores(scores map[string]int) map[string]int {
	out := make(map[string]int, len(scores))
	for k, v := range scores {
		out[k] = v
	}
	return out
}

func passengerLabel(slot int) string {
	return fmt.Sprintf("Passenger %d", slot)
}
