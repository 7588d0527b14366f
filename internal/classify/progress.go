package classify

import "iter"

// PhaseState records which phases have been observed in a log.
// It is derived on demand and never persisted.
type PhaseState struct {
	Seen    [PhaseCount]bool
	Current Phase
}

// Observe folds one record into the state. Current follows the most
// recent record with a non-general phase; order is not otherwise enforced.
func (s *PhaseState) Observe(p Phase) {
	if p < 0 || int(p) >= PhaseCount {
		return
	}
	s.Seen[p] = true
	if p != PhaseGeneral {
		s.Current = p
	}
}

// Completed counts the named phases (1..6) that have been seen.
func (s PhaseState) Completed() int {
	n := 0
	for p := PhasePreparation; p <= PhaseBootloader; p++ {
		if s.Seen[p] {
			n++
		}
	}
	return n
}

// BuildPhaseState scans contents in order. Iteration stops at the first error,
// which is returned alongside the state gathered so far.
func (c *Classifier) BuildPhaseState(contents iter.Seq2[string, error]) (PhaseState, error) {
	var state PhaseState
	for content, err := range contents {
		if err != nil {
			return state, err
		}
		state.Observe(c.DetectPhase(content))
	}
	return state, nil
}
