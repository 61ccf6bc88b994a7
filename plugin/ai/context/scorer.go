package context

import (
	"math"
	"time"

	"github.com/hrygo/groupmind/store"
)

// Value thresholds used by the compressor triage.
const (
	HighValueThreshold   = 5.0
	MediumValueThreshold = 2.0
)

// DefaultHalfLife is the age at which a message's value halves.
const DefaultHalfLife = 24 * time.Hour

// DefaultWeights are the per-type base values.
var DefaultWeights = map[store.MessageType]float64{
	store.MessageTypeUser:      10,
	store.MessageTypeStatus:    7,
	store.MessageTypeFailure:   5,
	store.MessageTypeNormal:    3,
	store.MessageTypeReasoning: 2,
}

// ValueScorer computes retention value = weight(type) x 0.5^(age/halfLife).
type ValueScorer struct {
	Weights  map[store.MessageType]float64
	HalfLife time.Duration
}

// NewValueScorer creates a scorer with the default weights and half-life.
func NewValueScorer() *ValueScorer {
	return &ValueScorer{Weights: DefaultWeights, HalfLife: DefaultHalfLife}
}

// Score returns the value of msg at time now. Messages from the future are
// treated as brand new. The result is not rounded.
func (s *ValueScorer) Score(msg *store.Message, now time.Time) float64 {
	weight, ok := s.Weights[msg.Type]
	if !ok {
		weight = s.Weights[store.MessageTypeNormal]
	}

	elapsed := now.Sub(msg.CreatedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	halfLife := s.HalfLife
	if halfLife <= 0 {
		halfLife = DefaultHalfLife
	}
	return weight * math.Pow(0.5, elapsed.Hours()/halfLife.Hours())
}

// ScoreAll sets ValueScore on every message. A summary keeps the score it
// was created with and never decays below HighValueThreshold, so a later pass
// cannot drop it.
func (s *ValueScorer) ScoreAll(msgs []*store.Message, now time.Time) {
	for _, m := range msgs {
		if m.Compressed {
			v := HighValueThreshold
			if m.ValueScore != nil {
				v = max(v, *m.ValueScore)
			}
			m.ValueScore = &v
			continue
		}
		v := s.Score(m, now)
		m.ValueScore = &v
	}
}
