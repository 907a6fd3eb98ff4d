// Package replay re-emits a finished session's recorded events under a
// client-controlled virtual clock. Replay is purely presentational: it
// exposes prefixes of an immutable log, never re-runs side effects.
package replay

import (
	"sync"
	"time"

	"github.com/lijianye521/CrewAI/internal/domain/event"
)

const (
	MinSpeed = 0.5
	MaxSpeed = 3.0
)

// PacingPolicy parameterizes playback timing. BaseDelay keeps the
// inter-step delay positive at high speed; MaxDelay bounds the wait
// across long recorded gaps.
type PacingPolicy struct {
	BaseDelay time.Duration
	MaxDelay  time.Duration
}

func DefaultPacing() PacingPolicy {
	return PacingPolicy{
		BaseDelay: 50 * time.Millisecond,
		MaxDelay:  3 * time.Second,
	}
}

// Player is one replay cursor over a frozen, ordered event list.
// Position counts exposed events and always stays within [0, len(log)]:
// position p means the prefix log[:p] has been emitted.
type Player struct {
	events []*event.Event
	policy PacingPolicy
	out    chan *event.Event

	mu       sync.Mutex
	position int
	speed    float64
	playing  bool
	gen      int
}

// NewPlayer starts paused at position 0 with speed 1.0.
func NewPlayer(events []*event.Event, policy PacingPolicy) *Player {
	if policy.BaseDelay <= 0 || policy.MaxDelay <= 0 {
		policy = DefaultPacing()
	}
	return &Player{
		events: events,
		policy: policy,
		// Buffered to the full log so the timer loop never blocks on a
		// slow consumer; emission order is fixed regardless.
		out:   make(chan *event.Event, len(events)+1),
		speed: 1.0,
	}
}

// Events is the playback stream. Closed never; callers stop reading when
// Position reaches the log length.
func (p *Player) Events() <-chan *event.Event {
	return p.out
}

// Position returns the count of exposed events.
func (p *Player) Position() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.position
}

// Speed returns the current playback speed factor.
func (p *Player) Speed() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speed
}

// Playing reports whether the timer loop is advancing.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// SetSpeed clamps into [MinSpeed, MaxSpeed].
func (p *Player) SetSpeed(speed float64) float64 {
	if speed < MinSpeed {
		speed = MinSpeed
	}
	if speed > MaxSpeed {
		speed = MaxSpeed
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.speed = speed
	return speed
}

// Seek jumps the cursor, clamped to [0, len(log)], and returns the
// exposed prefix. Playback, if running, continues from the new position.
func (p *Player) Seek(position int) []*event.Event {
	if position < 0 {
		position = 0
	}
	if position > len(p.events) {
		position = len(p.events)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.position = position
	p.gen++
	if p.playing {
		go p.loop(p.gen)
	}
	prefix := make([]*event.Event, position)
	copy(prefix, p.events[:position])
	return prefix
}

// Step advances one position immediately, bypassing the timer.
func (p *Player) Step() (*event.Event, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.position >= len(p.events) {
		return nil, false
	}
	ev := p.events[p.position]
	p.position++
	return ev, true
}

// Play starts the timer loop. No-op while already playing or at the end.
func (p *Player) Play() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.playing || p.position >= len(p.events) {
		return
	}
	p.playing = true
	p.gen++
	go p.loop(p.gen)
}

// Pause halts the timer without losing position.
func (p *Player) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.playing = false
	p.gen++
}

// Reset is Seek(0) plus Pause.
func (p *Player) Reset() {
	p.mu.Lock()
	p.playing = false
	p.position = 0
	p.gen++
	p.mu.Unlock()
}

// NextDelay returns the wait before the next emission:
// clamp(recorded inter-arrival gap / speed, BaseDelay, MaxDelay).
func (p *Player) NextDelay() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nextDelayLocked()
}

func (p *Player) nextDelayLocked() time.Duration {
	delay := p.policy.BaseDelay
	if p.position > 0 && p.position < len(p.events) {
		gap := p.events[p.position].Timestamp.Sub(p.events[p.position-1].Timestamp)
		scaled := time.Duration(float64(gap) / p.speed)
		if scaled > delay {
			delay = scaled
		}
	}
	if delay > p.policy.MaxDelay {
		delay = p.policy.MaxDelay
	}
	return delay
}

func (p *Player) loop(gen int) {
	for {
		p.mu.Lock()
		if p.gen != gen || !p.playing {
			p.mu.Unlock()
			return
		}
		if p.position >= len(p.events) {
			p.playing = false
			p.mu.Unlock()
			return
		}
		delay := p.nextDelayLocked()
		p.mu.Unlock()

		time.Sleep(delay)

		p.mu.Lock()
		if p.gen != gen || !p.playing || p.position >= len(p.events) {
			p.mu.Unlock()
			return
		}
		ev := p.events[p.position]
		p.position++
		p.mu.Unlock()

		p.out <- ev
	}
}
