package scheduler

import (
	"errors"
	"fmt"
	"sort"

	"github.com/Knetic/govaluate"

	"github.com/lijianye521/CrewAI/internal/domain/participant"
	"github.com/lijianye521/CrewAI/internal/domain/session"
)

// DefaultScoreExpression orders participants tied on turns_taken. Higher
// scores speak earlier; initiative dominates, frequency breaks ties
// between equally assertive personas.
const DefaultScoreExpression = "initiative * 10 + frequency"

var ErrInvalidExpression = errors.New("invalid score expression")

// ValidateExpression rejects a selection expression that cannot be
// evaluated against a representative participant. Called at session
// creation so the loop never hits a broken policy.
func ValidateExpression(expr string) error {
	if expr == "" {
		return nil
	}
	compiled, err := govaluate.NewEvaluableExpression(expr)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	probe := participant.Participant{Weights: participant.Weights{Initiative: 0.5, Frequency: 0.5}}
	if _, err := scoreParticipant(&probe, compiled); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	return nil
}

func scoreParticipant(p *participant.Participant, expr *govaluate.EvaluableExpression) (float64, error) {
	result, err := expr.Evaluate(map[string]interface{}{
		"initiative":  p.Weights.Initiative,
		"frequency":   p.Weights.Frequency,
		"turns_taken": float64(p.TurnsTaken),
		"priority":    float64(p.SpeakingPriority),
	})
	if err != nil {
		return 0, err
	}
	f, ok := result.(float64)
	if !ok {
		return 0, fmt.Errorf("score expression did not evaluate to a number")
	}
	return f, nil
}

// NextSpeaker deterministically selects from participants that have not
// exhausted the round budget: fewest turns_taken first, then highest
// policy score, then lowest speaking_priority, then declared order.
// Returns nil when every participant is done.
func NextSpeaker(roster []*participant.Participant, rounds int, policy session.SelectionPolicy) (*participant.Participant, error) {
	exprText := policy.ScoreExpression
	if exprText == "" {
		exprText = DefaultScoreExpression
	}
	expr, err := govaluate.NewEvaluableExpression(exprText)
	if err != nil {
		return nil, err
	}

	type candidate struct {
		p     *participant.Participant
		score float64
		order int
	}
	candidates := make([]candidate, 0, len(roster))
	for i, p := range roster {
		if p.TurnsTaken >= rounds {
			continue
		}
		score, err := scoreParticipant(p, expr)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, candidate{p: p, score: score, order: i})
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.p.TurnsTaken != b.p.TurnsTaken {
			return a.p.TurnsTaken < b.p.TurnsTaken
		}
		if a.score != b.score {
			return a.score > b.score
		}
		if a.p.SpeakingPriority != b.p.SpeakingPriority {
			return a.p.SpeakingPriority < b.p.SpeakingPriority
		}
		return a.order < b.order
	})
	return candidates[0].p, nil
}
