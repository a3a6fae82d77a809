package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"spacescape-service/internal/domain"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type genFunc func(ctx context.Context, prompt string) (string, error)

func (f genFunc) Generate(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

type memRecorder struct {
	mu      sync.Mutex
	results []domain.GameResult
}

func (r *memRecorder) RecordResult(_ context.Context, result domain.GameResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results = append(r.results, result)
	return nil
}

func (r *memRecorder) ListResults(_ context.Context, roomID string) ([]domain.GameResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.GameResult
	for _, res := range r.results {
		if res.RoomID == roomID {
			out = append(out, res)
		}
	}
	return out, nil
}

const fourPods = `{"players":[
	{"player":"Passenger 1","message":"one"},
	{"player":"Passenger 2","message":"two"},
	{"player":"Passenger 3","message":"three"},
	{"player":"Passenger 4","message":"four"}]}`

type fixture struct {
	reg      *Registry
	ctl      *Controller
	room     *Room
	conns    map[string]*fakeConn
	recorder *memRecorder
}

func newFixture(t *testing.T, maxCycles int, timings Timings, gen Generator) *fixture {
	t.Helper()
	reg := NewRegistry(newMapRooms(), maxCycles, zaptest.NewLogger(t))
	conns := seatPlayers(t, reg, "cap", "p1")
	room, _ := reg.Room("room-1")
	_, err := room.SetReady("p1", true)
	require.NoError(t, err)
	_, err = room.StartGame("cap")
	require.NoError(t, err)

	recorder := &memRecorder{}
	ctl := NewController(reg, gen, recorder, timings, zaptest.NewLogger(t))
	t.Cleanup(ctl.Close)
	return &fixture{reg: reg, ctl: ctl, room: room, conns: conns, recorder: recorder}
}

func fastTimings() Timings {
	return Timings{
		Question:           30 * time.Millisecond,
		Answer:             30 * time.Millisecond,
		TranslationTimeout: 40 * time.Millisecond,
		Tick:               10 * time.Millisecond,
	}
}

func (f *fixture) waitCompleted(t *testing.T) {
	t.Helper()
	require.Eventually(t, func() bool {
		status, _, _ := f.room.Phase()
		if status != domain.StatusCompleted {
			return false
		}
		for _, c := range f.conns {
			if countText(c.chatTexts(domain.SystemSender), gameOverAnnouncement) == 0 {
				return false
			}
		}
		return true
	}, 3*time.Second, 5*time.Millisecond)
}

func countText(texts []string, want string) int {
	n := 0
	for _, s := range texts {
		if s == want {
			n++
		}
	}
	return n
}

func TestDefaultTimings(t *testing.T) {
	d := DefaultTimings()
	require.Equal(t, 20*time.Second, d.Question)
	require.Equal(t, 30*time.Second, d.Answer)
	require.Equal(t, 10*time.Second, d.TranslationTimeout)

	ctl := NewController(NewRegistry(newMapRooms(), 0, nil), nil, nil, Timings{}, nil)
	defer ctl.Close()
	require.Equal(t, d, ctl.timings)
}

func TestStartShowsQuestionCountdown(t *testing.T) {
	f := newFixture(t, 0, DefaultTimings(), genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))

	require.NoError(t, f.ctl.Start("room-1"))
	state := f.room.State()
	require.NotNil(t, state.Room.Countdown)
	require.Equal(t, 20, *state.Room.Countdown)
	require.Contains(t, f.conns["p1"].types(), domain.EventGameState)

	require.ErrorIs(t, f.ctl.Start("missing"), domain.ErrRoomNotFound)
}

func TestCountdownTicksDownToZero(t *testing.T) {
	timings := fastTimings()
	timings.Question = 2500 * time.Millisecond
	f := newFixture(t, 0, timings, genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))

	require.NoError(t, f.ctl.Start("room-1"))
	require.Equal(t, 3, *f.room.State().Room.Countdown)

	require.Eventually(t, func() bool {
		c := f.room.State().Room.Countdown
		return c != nil && *c == 0
	}, time.Second, 5*time.Millisecond)
	_, round, _ := f.room.Phase()
	require.Equal(t, domain.RoundQuestion, round)
}

func TestTimeoutFallbackBroadcastsOnceAndCompletes(t *testing.T) {
	late := make(chan struct{})
	f := newFixture(t, 1, fastTimings(), genFunc(func(ctx context.Context, _ string) (string, error) {
		select {
		case <-time.After(150 * time.Millisecond):
		case <-ctx.Done():
		}
		close(late)
		return fourPods, nil
	}))

	require.NoError(t, f.ctl.Start("room-1"))
	f.waitCompleted(t)

	// let the late reply arrive; it must be discarded
	select {
	case <-late:
	case <-time.After(time.Second):
		t.Fatalf("generator never returned")
	}
	time.Sleep(50 * time.Millisecond)

	translator := f.conns["cap"].chatTexts(domain.TranslatorSender)
	require.Equal(t, 1, countText(translator, fallbackTranslation))
	require.Equal(t, 1, countText(translator, processingNotice))
	require.Len(t, translator, 2)

	system := f.conns["cap"].chatTexts(domain.SystemSender)
	require.Equal(t, 1, countText(system, captainUnreachableNotice))
	require.Equal(t, 1, countText(system, gameOverAnnouncement))
}

func TestSuccessfulTranslationIsBroadcastInSlotOrder(t *testing.T) {
	var prompts []string
	var mu sync.Mutex
	f := newFixture(t, 1, fastTimings(), genFunc(func(_ context.Context, prompt string) (string, error) {
		mu.Lock()
		prompts = append(prompts, prompt)
		mu.Unlock()
		return "```json\n" + fourPods + "\n```", nil
	}))

	_, _, err := f.room.AddMessage("cap", "Where were you?", 0)
	require.NoError(t, err)
	require.NoError(t, f.ctl.Start("room-1"))
	f.waitCompleted(t)

	translator := f.conns["p1"].chatTexts(domain.TranslatorSender)
	require.Len(t, translator, 2)
	require.Equal(t,
		`<b>Passenger 1</b>: "one"<br><b>Passenger 2</b>: "two"<br><b>Passenger 3</b>: "three"<br><b>Passenger 4</b>: "four"`,
		translator[1])

	// the captain asked, so the stand-in question was never needed
	require.Zero(t, countText(f.conns["cap"].chatTexts(domain.SystemSender), captainUnreachableNotice))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, prompts, 1)
	require.Contains(t, prompts[0], "Where were you?")
}

func TestMalformedReplyFallsBackAndStartsNextCycle(t *testing.T) {
	f := newFixture(t, 3, fastTimings(), genFunc(func(context.Context, string) (string, error) {
		return "the androids ate my homework", nil
	}))

	require.NoError(t, f.ctl.Start("room-1"))
	require.Eventually(t, func() bool {
		_, _, cycle := f.room.Phase()
		return cycle >= 1
	}, 3*time.Second, 5*time.Millisecond)
	f.ctl.Disarm("room-1")

	require.GreaterOrEqual(t, countText(f.conns["cap"].chatTexts(domain.TranslatorSender), fallbackTranslation), 1)
	status, _, _ := f.room.Phase()
	require.Equal(t, domain.StatusPlaying, status)
}

func TestRearmLeavesSingleTimer(t *testing.T) {
	timings := fastTimings()
	timings.Question = 40 * time.Millisecond
	timings.Answer = 2 * time.Second
	f := newFixture(t, 0, timings, genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))

	require.NoError(t, f.ctl.Start("room-1"))
	require.NoError(t, f.ctl.Start("room-1"))

	require.Eventually(t, func() bool {
		_, round, _ := f.room.Phase()
		return round == domain.RoundAnswer
	}, time.Second, 5*time.Millisecond)

	// a leftover question timer would push the room on to translation
	time.Sleep(120 * time.Millisecond)
	_, round, _ := f.room.Phase()
	require.Equal(t, domain.RoundAnswer, round)
	require.Equal(t, 1, countText(f.conns["cap"].chatTexts(domain.SystemSender), captainUnreachableNotice))
}

func TestDestroyedRoomStopsClock(t *testing.T) {
	f := newFixture(t, 0, fastTimings(), genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))
	require.NoError(t, f.ctl.Start("room-1"))

	f.reg.RemoveConnection("conn-p1")
	_, destroyed := f.reg.RemoveConnection("conn-cap")
	require.True(t, destroyed)

	time.Sleep(100 * time.Millisecond)
	_, round, cycle := f.room.Phase()
	require.Equal(t, domain.RoundQuestion, round)
	require.Equal(t, 0, cycle)

	f.ctl.Disarm("room-1")
	f.ctl.Disarm("room-1")
}

func (c *Controller) clockCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clocks)
}

func TestBroadcastFailureReleasesClock(t *testing.T) {
	f := newFixture(t, 0, fastTimings(), genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))
	require.NoError(t, f.ctl.Start("room-1"))
	require.Equal(t, 1, f.ctl.clockCount())

	for _, c := range f.conns {
		c.mu.Lock()
		c.fail = true
		c.mu.Unlock()
	}

	require.Eventually(t, func() bool {
		_, live := f.reg.Room("room-1")
		return !live && f.ctl.clockCount() == 0
	}, time.Second, 5*time.Millisecond)
}

func TestLateTranslationDoesNotRecreateClock(t *testing.T) {
	f := newFixture(t, 0, fastTimings(), genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))
	require.NoError(t, f.ctl.Start("room-1"))
	f.ctl.Disarm("room-1")

	f.ctl.finishTranslation("room-1", f.room, 0, fallbackTranslation)
	require.Zero(t, f.ctl.clockCount())
}

func TestHandleCaptainDecision(t *testing.T) {
	f := newFixture(t, 1, fastTimings(), genFunc(func(context.Context, string) (string, error) {
		return fourPods, nil
	}))

	err := f.ctl.HandleCaptainDecision("room-1", "cap", [4]bool{})
	require.ErrorIs(t, err, domain.ErrGameNotCompleted)

	require.NoError(t, f.ctl.Start("room-1"))
	f.waitCompleted(t)
	f.conns["p1"].reset()

	slot := f.room.State().PassengerMapping["p1"]
	var selected [4]bool
	selected[slot-1] = true

	require.NoError(t, f.ctl.HandleCaptainDecision("room-1", "cap", selected))

	chats := f.conns["p1"].chatTexts(domain.SystemSender)
	require.Len(t, chats, 2)
	require.True(t, strings.HasPrefix(chats[0], "<b>Final Scores:</b>"))
	require.True(t, strings.HasPrefix(chats[1], "<b>Passenger Reveal:</b>"))
	require.Contains(t, f.conns["p1"].types(), domain.EventGameState)

	results, err := f.recorder.ListResults(context.Background(), "room-1")
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "cap", results[0].Captain)
	require.Equal(t, 1, results[0].Incorrect)
	// the captain's stand-in question still counts for nothing, the wrong pick costs 30
	require.Equal(t, -30, results[0].Scores["cap"])

	require.ErrorIs(t, f.ctl.HandleCaptainDecision("room-1", "cap", selected), domain.ErrDecisionMade)
	require.ErrorIs(t, f.ctl.HandleCaptainDecision("nope", "cap", selected), domain.ErrRoomNotFound)
}
