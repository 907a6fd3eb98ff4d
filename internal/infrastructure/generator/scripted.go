package generator

import (
	"context"
	"fmt"
	"sync"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
)

// Scripted produces canned utterances for offline runs: no API key, no
// network. Cycles through the given lines per participant turn.
type Scripted struct {
	mu    sync.Mutex
	lines []string
	calls map[string]int
}

func NewScripted(lines []string) *Scripted {
	if len(lines) == 0 {
		lines = []string{"I agree with the direction of the discussion so far."}
	}
	return &Scripted{lines: lines, calls: make(map[string]int)}
}

// Generate implements participant.Generator.
func (g *Scripted) Generate(ctx context.Context, p *participant.Participant, turn participant.TurnContext) (*participant.Utterance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	g.mu.Lock()
	n := g.calls[p.ID.String()]
	g.calls[p.ID.String()] = n + 1
	g.mu.Unlock()
	return &participant.Utterance{
		Content:     fmt.Sprintf("[%s] %s", p.Name, g.lines[n%len(g.lines)]),
		MessageType: "response",
	}, nil
}
