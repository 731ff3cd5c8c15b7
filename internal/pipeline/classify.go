package pipeline

import (
	"fmt"
	"math"
	"slices"
	"sync"

	"github.com/MrWong99/mindscope/pkg/signal"
)

// TieBreak selects the winning class when several share the maximum
// probability exactly.
type TieBreak string

const (
	// TieBreakLowest picks the lowest class index.
	TieBreakLowest TieBreak = "lowest"

	// TieBreakHighest picks the highest class index.
	TieBreakHighest TieBreak = "highest"
)

// IsValid reports whether t is a recognised tie-break rule.
func (t TieBreak) IsValid() bool {
	return t == TieBreakLowest || t == TieBreakHighest
}

// PendingLabel is the label index reported before any vector has arrived.
const PendingLabel = -1

// ClassPolicy controls how raw probability vectors are post-processed.
type ClassPolicy struct {
	// Low and High bound every component before renormalisation.
	Low, High float64

	// TieBreak resolves exact ties in the argmax.
	TieBreak TieBreak

	// Labels names each class; its length is the expected vector length.
	Labels []string
}

// DefaultClassPolicy returns the two-class motor-imagery policy: clamp to
// [0.05, 0.95], favour the lower index on ties.
func DefaultClassPolicy() ClassPolicy {
	return ClassPolicy{
		Low:      0.05,
		High:     0.95,
		TieBreak: TieBreakLowest,
		Labels:   []string{"left_hand", "right_hand"},
	}
}

// Normalize clamps each component of p into [Low, High] and rescales the
// result to sum to 1. The input is not modified.
func (cp ClassPolicy) Normalize(p signal.Probabilities) []float64 {
	out := make([]float64, len(p))
	var sum float64
	for i, v := range p {
		out[i] = math.Min(math.Max(v, cp.Low), cp.High)
		sum += out[i]
	}
	if sum <= 0 {
		// Only reachable with a zero lower bound and an all-zero vector.
		for i := range out {
			out[i] = 1 / float64(len(out))
		}
		return out
	}
	for i := range out {
		out[i] /= sum
	}
	return out
}

// Argmax returns the index of the largest value, resolving exact ties with
// cp.TieBreak. It returns [PendingLabel] for an empty slice.
func (cp ClassPolicy) Argmax(p []float64) int {
	best := PendingLabel
	for i, v := range p {
		switch {
		case best == PendingLabel || v > p[best]:
			best = i
		case v == p[best] && cp.TieBreak == TieBreakHighest:
			best = i
		}
	}
	return best
}

// Classification is the derived classifier state exposed to presentation.
type Classification struct {
	// Label is the winning class index, or [PendingLabel].
	Label int `json:"label"`

	// Name is Labels[Label], or "pending".
	Name string `json:"name"`

	// Confidence is max(Probabilities) × 100.
	Confidence float64 `json:"confidence"`

	// Probabilities is the clamped and renormalised vector.
	Probabilities []float64 `json:"probabilities"`

	// Raw is the vector as received from the inference source.
	Raw []float64 `json:"raw"`

	// Updates counts accepted vectors.
	Updates int64 `json:"updates"`
}

// Classifier holds the latest probability vector and its derived label.
// All methods are safe for concurrent use.
type Classifier struct {
	policy ClassPolicy

	mu    sync.RWMutex
	state Classification
}

// NewClassifier returns a classifier in the pending state.
func NewClassifier(policy ClassPolicy) *Classifier {
	c := &Classifier{policy: policy}
	c.state = c.pending()
	return c
}

// Policy returns the classifier's policy.
func (c *Classifier) Policy() ClassPolicy { return c.policy }

// Update validates p, normalises it and derives the new label and
// confidence. An invalid vector leaves the state unchanged and returns an
// error wrapping [signal.ErrMalformedProbabilities].
func (c *Classifier) Update(p signal.Probabilities) error {
	if err := p.Validate(len(c.policy.Labels)); err != nil {
		return err
	}
	probs := c.policy.Normalize(p)
	label := c.policy.Argmax(probs)

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = Classification{
		Label:         label,
		Name:          c.policy.Labels[label],
		Confidence:    probs[label] * 100,
		Probabilities: probs,
		Raw:           slices.Clone([]float64(p)),
		Updates:       c.state.Updates + 1,
	}
	return nil
}

// State returns a copy of the current classification.
func (c *Classifier) State() Classification {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	s.Probabilities = slices.Clone(s.Probabilities)
	s.Raw = slices.Clone(s.Raw)
	return s
}

// Reset returns the classifier to the pending state.
func (c *Classifier) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = c.pending()
}

func (c *Classifier) pending() Classification {
	n := len(c.policy.Labels)
	uniform := make([]float64, n)
	for i := range uniform {
		uniform[i] = 1 / float64(n)
	}
	return Classification{
		Label:         PendingLabel,
		Name:          "pending",
		Probabilities: uniform,
		Raw:           []float64{},
	}
}

// String implements fmt.Stringer for log output.
func (c Classification) String() string {
	if c.Label == PendingLabel {
		return "pending"
	}
	return fmt.Sprintf("%s (%.1f%%)", c.Name, c.Confidence)
}
