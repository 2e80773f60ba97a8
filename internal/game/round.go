package game

import (
	"encoding/json"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Number is a dart board segment. Bull is stored as 25.
type Number int

const (
	Bull Number = 25

	// invalidNumber marks input that is not a number on any board; the
	// validator reports it.
	invalidNumber Number = -1
)

// UnmarshalJSON accepts integers, numeric strings and "bull".
func (n *Number) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		if strings.EqualFold(s, "bull") {
			*n = Bull
			return nil
		}
		if v, err := strconv.Atoi(s); err == nil {
			*n = Number(v)
			return nil
		}
		*n = invalidNumber
		return nil
	}
	var f float64
	if err := json.Unmarshal(b, &f); err != nil {
		*n = invalidNumber
		return nil
	}
	if f != math.Trunc(f) || f < -1 || f > 1000 {
		*n = invalidNumber
		return nil
	}
	*n = Number(f)
	return nil
}

// IsBull reports whether n is the bull segment.
func (n Number) IsBull() bool { return n == Bull }

// Valid reports whether n exists on a dart board.
func (n Number) Valid() bool {
	return (n >= 1 && n <= 20) || n == Bull
}

// Slot is one dart of a submitted round. Both fields nil is a miss.
type Slot struct {
	Number     *Number `json:"number"`
	Multiplier *int    `json:"multiplier"`
}

// Empty reports whether neither number nor multiplier was provided.
func (s Slot) Empty() bool {
	return s.Number == nil && s.Multiplier == nil
}

// Submission is a round of up to three darts as sent by a client, keyed by
// slot 1..3.
type Submission map[int]Slot

// Order returns the slot indexes in ascending order.
func (s Submission) Order() []int {
	idx := make([]int, 0, len(s))
	for i := range s {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

// ThrowOutcome is the scoring result of one slot.
type ThrowOutcome struct {
	Order       int     `json:"order"`
	Target      *Number `json:"target"`
	Multiplier  *int    `json:"multiplier"`
	Scored      bool    `json:"scored"`
	ScoreAmount *int    `json:"scoreAmount,omitempty"`
	Closed      bool    `json:"closed"`
	CloseAmount *int    `json:"closeAmount,omitempty"`
}

// Miss builds the outcome of a slot that neither scored nor closed.
func Miss(order int, s Slot) ThrowOutcome {
	return ThrowOutcome{Order: order, Target: s.Number, Multiplier: s.Multiplier}
}

// Amount returns a pointer to v, for the optional outcome amounts.
func Amount(v int) *int { return &v }
