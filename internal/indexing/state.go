package indexing

import "fmt"

// State is a stage of an indexing run.
type State string

const (
	StateIdle       State = "IDLE"
	StateConverting State = "CONVERTING"
	StateChunking   State = "CHUNKING"
	StateEmbedding  State = "EMBEDDING"
	StateStoring    State = "STORING"
	StateDone       State = "DONE"
	StateFailed     State = "FAILED"
)

// transitions lists the legal successors of each state. Every non-terminal
// state may fail; FAILED and DONE are terminal.
var transitions = map[State][]State{
	StateIdle:       {StateConverting, StateDone, StateFailed},
	StateConverting: {StateChunking, StateFailed},
	StateChunking:   {StateEmbedding, StateFailed},
	StateEmbedding:  {StateStoring, StateFailed},
	StateStoring:    {StateDone, StateFailed},
	StateDone:       {StateFailed},
}

// Terminal reports whether no further transition is expected.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// CanTransition reports whether from -> to is legal.
func CanTransition(from, to State) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to State) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("illegal indexing transition %s -> %s", from, to)
	}
	return nil
}
