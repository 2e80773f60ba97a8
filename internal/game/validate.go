package game

// Violation messages reported by ValidateRound.
const (
	MsgTooManyThrows     = "There can only be three throws per round."
	MsgBadSlot           = "Throws are numbered 1 to 3."
	MsgIncompleteThrow   = "Both the number and multiplier must be provided."
	MsgInvalidNumber     = "The number is not a valid value on a dart board."
	MsgInvalidMultiplier = "The multiplier is not a valid value on a dart board."
	MsgTripleBull        = "There is no triple bulls eye on the board."
)

// MaxThrows is the number of darts in a round.
const MaxThrows = 3

// ValidateRound checks a submission against the physical board. It returns
// nil when the round is acceptable. The round size check is authoritative:
// when it fails no per-slot checks are made.
func ValidateRound(sub Submission) *ValidationError {
	if len(sub) > MaxThrows {
		return &ValidationError{Message: MsgTooManyThrows}
	}
	slots := make(map[int][]string)
	for i, s := range sub {
		if v := validateSlot(i, s); len(v) > 0 {
			slots[i] = v
		}
	}
	if len(slots) == 0 {
		return nil
	}
	return &ValidationError{Slots: slots}
}

func validateSlot(i int, s Slot) []string {
	var v []string
	if i < 1 || i > MaxThrows {
		v = append(v, MsgBadSlot)
	}
	if (s.Number == nil) != (s.Multiplier == nil) {
		v = append(v, MsgIncompleteThrow)
	}
	if s.Number != nil && !s.Number.Valid() {
		v = append(v, MsgInvalidNumber)
	}
	if s.Multiplier != nil && (*s.Multiplier < 1 || *s.Multiplier > 3) {
		v = append(v, MsgInvalidMultiplier)
	}
	if s.Number != nil && s.Number.IsBull() && s.Multiplier != nil && *s.Multiplier == 3 {
		v = append(v, MsgTripleBull)
	}
	return v
}
