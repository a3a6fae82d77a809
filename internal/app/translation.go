package app

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"spacescape-service/internal/domain"
)

const translationInstructions = `You are assisting with a multiplayer game where players are passengers on a spaceship. The captain asks questions to identify which passengers are AI androids.

TASK 1 - REPHRASE REAL PLAYER MESSAGES:
- Rephrase every message marked isRealPlayer:true with different structure and wording.
- Keep the exact meaning, specific details and emotional tone of the original.

TASK 2 - HANDLE NO_MESSAGE_SENT:
- For any real position marked NO_MESSAGE_SENT, write a natural answer to the captain's question.

TASK 3 - FILL EMPTY POSITIONS:
- For every empty position, write a plausible answer to the captain's question with its own personality.
- Never reference other passengers' responses.

Make the rephrased real messages hard to tell apart from the generated ones.`

const responseFormat = `OUTPUT FORMAT:
Return valid JSON exactly like this:
{
  "players": [
    {"player": "Passenger 1", "message": "..."},
    {"player": "Passenger 2", "message": "..."},
    {"player": "Passenger 3", "message": "..."},
    {"player": "Passenger 4", "message": "..."}
  ]
}`

const noMessageRendering = "Did not send a message"

const fallbackTranslation = "<b>System Alert:</b> Translation buffer overflow detected. <br><i>Communication fragments recovered:</i><br>" +
	"<b>Passenger 1</b>: \"*static* Signal interference... can't establish clear connection.\"<br>" +
	"<b>Passenger 2</b>: \"*static* ...systems malfunction... retry communication...\"<br>" +
	"<b>Passenger 3</b>: \"*static* ...please standby for connection reattempt...\"<br>" +
	"<b>Passenger 4</b>: \"*static* Emergency protocols activated... communication disrupted...\""

const processingNotice = "<i>Processing communication translations...</i>"

// BuildPrompt renders the collaborator request for one translation phase.
func BuildPrompt(msgs domain.PlayerMessages) (string, error) {
	body, err := json.MarshalIndent(msgs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode player messages: %w", err)
	}
	empty := make([]string, 0, len(msgs.EmptyPositions))
	for _, slot := range msgs.EmptyPositions {
		empty = append(empty, strconv.Itoa(slot))
	}

	var b strings.Builder
	b.WriteString(translationInstructions)
	fmt.Fprintf(&b, "\n\nCAPTAIN'S QUESTION: %q\n", msgs.CaptainQuestion)
	fmt.Fprintf(&b, "EMPTY POSITIONS: %s\n\n", strings.Join(empty, ", "))
	b.WriteString("PASSENGER MESSAGES TO PROCESS:\n")
	b.Write(body)
	b.WriteString("\n\n")
	b.WriteString(responseFormat)
	return b.String(), nil
}

type translationResponse struct {
	Players []struct {
		Player  string `json:"player"`
		Message string `json:"message"`
	} `json:"players"`
}

// ParseTranslation extracts one text per pod. Entries outside 1..4 or
// duplicated are ignored; a response with no usable entry is malformed.
func ParseTranslation(raw string) (map[int]string, error) {
	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var resp translationResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrCollaboratorMalformed, err)
	}

	out := make(map[int]string, domain.SlotCount)
	for _, p := range resp.Players {
		slot, ok := parseSlot(p.Player)
		if !ok {
			continue
		}
		if _, dup := out[slot]; dup {
			continue
		}
		out[slot] = strings.TrimSpace(p.Message)
	}
	if len(out) == 0 {
		return nil, domain.ErrCollaboratorMalformed
	}
	return out, nil
}

func parseSlot(label string) (int, bool) {
	label = strings.TrimSpace(label)
	label = strings.TrimPrefix(label, "Passenger")
	slot, err := strconv.Atoi(strings.TrimSpace(label))
	if err != nil || slot < 1 || slot > domain.SlotCount {
		return 0, false
	}
	return slot, true
}

// MergeTranslation replaces each pod's text in place. Real pods keep their slot
// and lose the original wording; empty pods become fabricated entries.
func MergeTranslation(msgs domain.PlayerMessages, slots map[int]string) []domain.SlotMessage {
	merged := make([]domain.SlotMessage, len(msgs.Players))
	copy(merged, msgs.Players)
	for i := range merged {
		text := slots[merged[i].Slot]
		merged[i].Message = text
		if !merged[i].IsRealPlayer && text != "" {
			merged[i].Fabricated = true
		}
	}
	return merged
}

// FormatTranslation renders the pods in slot order for the chat.
func FormatTranslation(slots []domain.SlotMessage) string {
	lines := make([]string, 0, len(slots))
	for _, s := range slots {
		text := s.Message
		if text == "" {
			text = noMessageRendering
		}
		lines = append(lines, fmt.Sprintf("<b>%s</b>: \"%s\"", passengerLabel(s.Slot), text))
	}
	return strings.Join(lines, "<br>")
}
