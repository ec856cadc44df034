package usecase

import "fmt"

type pipelineState string

const (
	stateIdle       pipelineState = "idle"
	stateValidating pipelineState = "validating"
	stateExtracting pipelineState = "extracting"
	stateSearching  pipelineState = "searching"
	stateFinalizing pipelineState = "finalizing"
	stateComplete   pipelineState = "complete"
	stateFailed     pipelineState = "failed"
)

var pipelineTransitions = map[pipelineState]pipelineState{
	stateIdle:       stateValidating,
	stateValidating: stateExtracting,
	stateExtracting: stateSearching,
	stateSearching:  stateFinalizing,
	stateFinalizing: stateComplete,
}

// pipelineMachine tracks the position of one run. The only moves are to the next phase or to
// failed, and never out of a terminal state.
type pipelineMachine struct {
	state pipelineState
}

func newPipelineMachine() *pipelineMachine {
	return &pipelineMachine{state: stateIdle}
}

func (m *pipelineMachine) advance(next pipelineState) error {
	if m.terminal() {
		return fmt.Errorf("pipeline already %s", m.state)
	}
	if next == stateFailed {
		m.state = stateFailed
		return nil
	}
	if pipelineTransitions[m.state] != next {
		return fmt.Errorf("illegal pipeline transition %s -> %s", m.state, next)
	}
	m.state = next
	return nil
}

func (m *pipelineMachine) fail() {
	if !m.terminal() {
		m.state = stateFailed
	}
}

func (m *pipelineMachine) terminal() bool {
	return m.state == stateComplete || m.state == stateFailed
}
