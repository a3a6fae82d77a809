package app

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"spacescape-service/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const captainUnreachableNotice = "*static* Captain's pod communication systems are not reachable at this moment. While we attempt to restore connection, please share: " + domain.DefaultCaptainQuestion

// Generator is the text-generation collaborator used during translation.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ResultRecorder stores and lists final game results.
type ResultRecorder interface {
	RecordResult(ctx context.Context, result domain.GameResult) error
	ListResults(ctx context.Context, roomID string) ([]domain.GameResult, error)
}

// Timings configures the phase clock.
type Timings struct {
	Question           time.Duration
	Answer             time.Duration
	TranslationTimeout time.Duration
	Tick               time.Duration
}

func DefaultTimings() Timings {
	return Timings{
		Question:           20 * time.Second,
		Answer:             30 * time.Second,
		TranslationTimeout: 10 * time.Second,
		Tick:               time.Second,
	}
}

// Outcome tags how a collaborator call ended.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeMalformed Outcome = "malformed"
	OutcomeFailed    Outcome = "failed"
)

// CollaboratorResult is the tagged result of one collaborator call.
type CollaboratorResult struct {
	Outcome Outcome
	Slots   map[int]string
	Err     error
}

// phaseClock holds the only phase timer and countdown ticker of a room. Every
// arm bumps epoch, so callbacks from an earlier arm become no-ops.
type phaseClock struct {
	mu    sync.Mutex
	room  *Room
	epoch uint64
	timer *time.Timer
	stop  chan struct{}
}

func (p *phaseClock) stopLocked() {
	p.epoch++
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
	if p.stop != nil {
		close(p.stop)
		p.stop = nil
	}
}

// Controller drives rooms through question, answer and translation on a clock.
type Controller struct {
	registry *Registry
	gen      Generator
	results  ResultRecorder
	timings  Timings
	log      *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sf     singleflight.Group

	mu     sync.Mutex
	clocks map[string]*phaseClock
}

func NewController(registry *Registry, gen Generator, results ResultRecorder, timings Timings, log *zap.Logger) *Controller {
	if log == nil {
		log = zap.NewNop()
	}
	defaults := DefaultTimings()
	if timings.Question <= 0 {
		timings.Question = defaults.Question
	}
	if timings.Answer <= 0 {
		timings.Answer = defaults.Answer
	}
	if timings.TranslationTimeout <= 0 {
		timings.TranslationTimeout = defaults.TranslationTimeout
	}
	if timings.Tick <= 0 {
		timings.Tick = defaults.Tick
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		registry: registry,
		gen:      gen,
		results:  results,
		timings:  timings,
		log:      log,
		ctx:      ctx,
		cancel:   cancel,
		clocks:   make(map[string]*phaseClock),
	}
	registry.OnRoomDestroyed(c.roomDestroyed)
	return c
}

// Start arms the clock for the room's current phase, replacing any clock
// already armed for it.
func (c *Controller) Start(roomID string) error {
	room, ok := c.registry.Room(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	p := c.clockFor(roomID)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.room = room
	c.armLocked(roomID, p)
	return nil
}

// Disarm stops the room's clock and forgets it.
func (c *Controller) Disarm(roomID string) {
	p, ok := c.detach(roomID)
	if !ok {
		return
	}
	p.mu.Lock()
	p.stopLocked()
	p.mu.Unlock()
	c.log.Debug("phase clock disarmed", zap.String("room_id", roomID))
}

// roomDestroyed runs from the registry, possibly inside a broadcast made
// under this room's clock lock, so the clock is stopped asynchronously.
func (c *Controller) roomDestroyed(roomID string) {
	p, ok := c.detach(roomID)
	if !ok {
		return
	}
	go func() {
		p.mu.Lock()
		p.stopLocked()
		p.mu.Unlock()
	}()
	c.log.Debug("phase clock released", zap.String("room_id", roomID))
}

func (c *Controller) detach(roomID string) (*phaseClock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.clocks[roomID]
	delete(c.clocks, roomID)
	return p, ok
}

// Close stops every clock and abandons pending collaborator waits.
func (c *Controller) Close() {
	c.cancel()
	c.mu.Lock()
	clocks := make([]*phaseClock, 0, len(c.clocks))
	for _, p := range c.clocks {
		clocks = append(clocks, p)
	}
	c.clocks = make(map[string]*phaseClock)
	c.mu.Unlock()
	for _, p := range clocks {
		p.mu.Lock()
		p.stopLocked()
		p.mu.Unlock()
	}
}

func (c *Controller) lookupClock(roomID string) (*phaseClock, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.clocks[roomID]
	return p, ok
}

func (c *Controller) clockFor(roomID string) *phaseClock {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.clocks[roomID]
	if !ok {
		p = &phaseClock{}
		c.clocks[roomID] = p
	}
	return p
}

// liveRoom reports whether the clock's room is still the one registered.
func (c *Controller) liveRoom(roomID string, room *Room) bool {
	live, ok := c.registry.Room(roomID)
	return ok && live == room
}

func (c *Controller) armLocked(roomID string, p *phaseClock) {
	p.stopLocked()
	room := p.room
	if room == nil || c.ctx.Err() != nil {
		return
	}
	status, round, cycle := room.Phase()
	if status != domain.StatusPlaying {
		return
	}

	var d time.Duration
	switch round {
	case domain.RoundQuestion:
		d = c.timings.Question
	case domain.RoundAnswer:
		d = c.timings.Answer
	case domain.RoundTranslation:
		// bounded by the collaborator timeout, not by the clock
		room.ClearCountdown()
		c.registry.BroadcastState(roomID)
		go c.translate(roomID, room, cycle)
		return
	}

	room.SetCountdown(int(math.Ceil(d.Seconds())))
	c.registry.BroadcastState(roomID)
	c.log.Info("phase started",
		zap.String("room_id", roomID),
		zap.String("round", string(round)),
		zap.Int("cycle", cycle),
	)

	epoch := p.epoch
	stop := make(chan struct{})
	p.stop = stop
	p.timer = time.AfterFunc(d, func() { c.onPhaseTimeout(roomID, p, epoch) })
	go c.runCountdown(roomID, p, epoch, stop)
}

func (c *Controller) runCountdown(roomID string, p *phaseClock, epoch uint64, stop <-chan struct{}) {
	ticker := time.NewTicker(c.timings.Tick)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if !c.tick(roomID, p, epoch) {
				return
			}
		}
	}
}

func (c *Controller) tick(roomID string, p *phaseClock, epoch uint64) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch != epoch {
		return false
	}
	if !c.liveRoom(roomID, p.room) {
		p.stopLocked()
		return false
	}
	if _, ok := p.room.Tick(); !ok {
		return false
	}
	c.registry.BroadcastState(roomID)
	return true
}

func (c *Controller) onPhaseTimeout(roomID string, p *phaseClock, epoch uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.epoch != epoch {
		return
	}
	p.timer = nil
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("phase timeout panicked", zap.String("room_id", roomID), zap.Any("panic", rec))
			c.armLocked(roomID, p)
		}
	}()

	room := p.room
	if !c.liveRoom(roomID, room) {
		p.stopLocked()
		return
	}

	_, round, _ := room.Phase()
	switch round {
	case domain.RoundQuestion:
		synthesized, _, err := room.CloseQuestionRound()
		if err != nil {
			c.log.Warn("close question round", zap.String("room_id", roomID), zap.Error(err))
			return
		}
		if synthesized {
			c.registry.BroadcastChat(roomID, domain.ChatMessage{
				RoomKey:   roomID,
				Sender:    domain.SystemSender,
				Text:      captainUnreachableNotice,
				Timestamp: time.Now().UnixMilli(),
			})
		}
		c.armLocked(roomID, p)
	case domain.RoundAnswer:
		if _, ok := room.AdvanceRound(); !ok {
			return
		}
		c.armLocked(roomID, p)
	}
}

// translate runs message processing once per translation phase, however many
// times the phase gets armed.
func (c *Controller) translate(roomID string, room *Room, cycle int) {
	key := fmt.Sprintf("%s:%d", roomID, cycle)
	_, _, _ = c.sf.Do(key, func() (interface{}, error) {
		c.processMessages(roomID, room, cycle)
		return nil, nil
	})
}

func (c *Controller) processMessages(roomID string, room *Room, cycle int) {
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("message processing panicked", zap.String("room_id", roomID), zap.Any("panic", rec))
			c.finishTranslation(roomID, room, cycle, fallbackTranslation)
		}
	}()

	c.registry.BroadcastChat(roomID, translatorMessage(roomID, processingNotice))

	msgs := room.PlayerMessages()
	res := c.collaborate(msgs)

	text := fallbackTranslation
	if res.Outcome == OutcomeSuccess {
		text = FormatTranslation(MergeTranslation(msgs, res.Slots))
	} else {
		c.log.Warn("translation fell back",
			zap.String("room_id", roomID),
			zap.Int("cycle", cycle),
			zap.String("outcome", string(res.Outcome)),
			zap.Error(res.Err),
		)
	}
	c.finishTranslation(roomID, room, cycle, text)
}

// collaborate races the collaborator against the translation timeout. A late
// reply lands in the buffered channel and is dropped.
func (c *Controller) collaborate(msgs domain.PlayerMessages) CollaboratorResult {
	prompt, err := BuildPrompt(msgs)
	if err != nil {
		return CollaboratorResult{Outcome: OutcomeFailed, Err: err}
	}

	type reply struct {
		text string
		err  error
	}
	replies := make(chan reply, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				replies <- reply{err: fmt.Errorf("collaborator panic: %v", rec)}
			}
		}()
		text, err := c.gen.Generate(c.ctx, prompt)
		replies <- reply{text: text, err: err}
	}()

	timer := time.NewTimer(c.timings.TranslationTimeout)
	defer timer.Stop()

	select {
	case r := <-replies:
		if r.err != nil {
			return CollaboratorResult{Outcome: OutcomeFailed, Err: r.err}
		}
		slots, err := ParseTranslation(r.text)
		if err != nil {
			return CollaboratorResult{Outcome: OutcomeMalformed, Err: err}
		}
		return CollaboratorResult{Outcome: OutcomeSuccess, Slots: slots}
	case <-timer.C:
		return CollaboratorResult{Outcome: OutcomeTimeout, Err: domain.ErrCollaboratorTimeout}
	case <-c.ctx.Done():
		return CollaboratorResult{Outcome: OutcomeFailed, Err: c.ctx.Err()}
	}
}

// finishTranslation publishes the translation and leaves the translation
// phase, either to the next question round or to the end of the game.
func (c *Controller) finishTranslation(roomID string, room *Room, cycle int, text string) {
	p, ok := c.lookupClock(roomID)
	if !ok {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.room != room || c.ctx.Err() != nil || !c.liveRoom(roomID, room) {
		return
	}
	status, round, current := room.Phase()
	if status != domain.StatusPlaying || round != domain.RoundTranslation || current != cycle {
		return
	}

	c.registry.BroadcastChat(roomID, translatorMessage(roomID, text))

	t, ok := room.AdvanceRound()
	if !ok {
		return
	}
	if t.GameOver {
		p.stopLocked()
		c.registry.BroadcastChat(roomID, t.Announcement)
		c.registry.BroadcastState(roomID)
		c.log.Info("game completed", zap.String("room_id", roomID), zap.Int("cycle", cycle+1))
		return
	}
	c.armLocked(roomID, p)
}

// HandleCaptainDecision scores the captain's end-of-game pick, reveals the
// pods and records the result.
func (c *Controller) HandleCaptainDecision(roomID, nickname string, selected [domain.SlotCount]bool) error {
	room, ok := c.registry.Room(roomID)
	if !ok {
		return domain.ErrRoomNotFound
	}
	d, err := room.ProcessCaptainDecision(nickname, selected)
	if err != nil {
		return err
	}

	c.registry.BroadcastChat(roomID, d.Summary)
	_, reveal := room.PassengerReveal()
	c.registry.BroadcastChat(roomID, reveal)
	c.registry.BroadcastState(roomID)

	if c.results == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(c.ctx, 5*time.Second)
	defer cancel()
	result := domain.GameResult{
		RoomID:     roomID,
		Captain:    d.Captain,
		Scores:     d.Scores,
		Correct:    d.Correct,
		Incorrect:  d.Incorrect,
		FinishedAt: time.Now().UTC(),
	}
	if err := c.results.RecordResult(ctx, result); err != nil {
		c.log.Error("record game result", zap.String("room_id", roomID), zap.Error(err))
	}
	return nil
}

func translatorMessage(roomID, text string) domain.ChatMessage {
	return domain.ChatMessage{
		RoomKey:   roomID,
		Sender:    domain.TranslatorSender,
		Text:      text,
		Timestamp: time.Now().UnixMilli(),
	}
}
