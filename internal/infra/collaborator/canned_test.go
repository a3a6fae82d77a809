package collaborator

import (
	"context"
	"strings"
	"testing"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestCannedGeneratorFillsEveryPod(t *testing.T) {
	msgs := domain.PlayerMessages{
		Players: []domain.SlotMessage{
			{Player: "Passenger 1", Slot: 1},
			{Player: "Passenger 2", Slot: 2, IsRealPlayer: true, OriginalNickname: "bob", Message: "I was Fixing the reactor"},
			{Player: "Passenger 3", Slot: 3, IsRealPlayer: true, OriginalNickname: "cara", Message: domain.NoMessageSent},
			{Player: "Passenger 4", Slot: 4},
		},
		EmptyPositions:     []int{1, 4},
		CaptainQuestion:    domain.DefaultCaptainQuestion,
		RealPlayerMessages: []string{"I was Fixing the reactor"},
	}
	prompt, err := app.BuildPrompt(msgs)
	require.NoError(t, err)

	gen := NewCannedGenerator()
	raw, err := gen.Generate(context.Background(), prompt)
	require.NoError(t, err)

	slots, err := app.ParseTranslation(raw)
	require.NoError(t, err)
	require.Len(t, slots, domain.SlotCount)
	require.True(t, strings.HasSuffix(slots[2], "i was Fixing the reactor"), slots[2])
	for slot, text := range slots {
		require.NotEmpty(t, text, "slot %d", slot)
		require.NotEqual(t, domain.NoMessageSent, text)
	}

	again, err := gen.Generate(context.Background(), prompt)
	require.NoError(t, err)
	require.Equal(t, raw, again)
}

func TestCannedGeneratorRejectsForeignPrompt(t *testing.T) {
	_, err := NewCannedGenerator().Generate(context.Background(), "hello")
	require.Error(t, err)
}
