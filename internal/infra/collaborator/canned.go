package collaborator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"spacescape-service/internal/domain"
)

const messagesMarker = "PASSENGER MESSAGES TO PROCESS:"

var cannedAnswers = []string{
	"I was in the hydroponics bay checking on the tomato plants when the lights flickered.",
	"Sleeping in my bunk. The alarms woke me up and I ran straight here.",
	"I was playing cards with two engineers in the mess hall, I was winning for once.",
	"Running on the treadmill in the gym deck. I felt the whole floor shake.",
	"Reading in the observation lounge. I saw a flash near the reactor housing.",
	"Trying to fix the coffee machine on deck three, honestly.",
}

var rewordPrefixes = []string{
	"Honestly, ",
	"Well, ",
	"To be fair, ",
	"If I'm being honest, ",
}

// CannedGenerator answers without a network call. It rewords real answers
// with a fixed prefix and fills the other pods from a fixed pool, so the same
// prompt always yields the same reply.
type CannedGenerator struct{}

func NewCannedGenerator() *CannedGenerator {
	return &CannedGenerator{}
}

type cannedPlayer struct {
	Player  string `json:"player"`
	Message string `json:"message"`
}

func (g *CannedGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msgs, err := extractMessages(prompt)
	if err != nil {
		return "", err
	}

	seed := len(msgs.CaptainQuestion)
	out := struct {
		Players []cannedPlayer `json:"players"`
	}{Players: make([]cannedPlayer, 0, len(msgs.Players))}

	for i, p := range msgs.Players {
		var text string
		if p.IsRealPlayer && p.Message != "" && p.Message != domain.NoMessageSent {
			text = reword(p.Message, rewordPrefixes[(seed+i)%len(rewordPrefixes)])
		} else {
			text = cannedAnswers[(seed+i)%len(cannedAnswers)]
		}
		out.Players = append(out.Players, cannedPlayer{Player: p.Player, Message: text})
	}

	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func extractMessages(prompt string) (domain.PlayerMessages, error) {
	idx := strings.Index(prompt, messagesMarker)
	if idx < 0 {
		return domain.PlayerMessages{}, errors.New("canned generator: prompt carries no passenger messages")
	}
	rest := prompt[idx+len(messagesMarker):]
	start := strings.Index(rest, "{")
	if start < 0 {
		return domain.PlayerMessages{}, errors.New("canned generator: prompt carries no passenger messages")
	}

	var msgs domain.PlayerMessages
	// the decoder stops after the first JSON value
	if err := json.NewDecoder(strings.NewReader(rest[start:])).Decode(&msgs); err != nil {
		return domain.PlayerMessages{}, fmt.Errorf("canned generator: decode messages: %w", err)
	}
	return msgs, nil
}

func reword(text, prefix string) string {
	text = strings.TrimSpace(text)
	r, size := utf8.DecodeRuneInString(text)
	if r == utf8.RuneError {
		return prefix + text
	}
	return prefix + string(unicode.ToLower(r)) + text[size:]
}
