package trace

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"ggp/game"
)

// Record replays actions from the initial state and closes the trace with
// the given outcome.
func Record(g game.Game, actions []game.Action, outcome Outcome) (*Trace, error) {
	if len(actions) == 0 {
		return nil, fmt.Errorf("trace needs at least one action")
	}
	t := &Trace{Outcome: outcome}
	state := g.Initial()
	for _, a := range actions {
		next, err := g.Next(state, a)
		if err != nil {
			return nil, fmt.Errorf("failed to record %s: %w", a, err)
		}
		t.Transitions = append(t.Transitions, Transition{State: state, Action: a, Next: next})
		state = next
	}
	return t, nil
}

// Write emits traces as JSON lines in the format Load reads.
func Write(w io.Writer, g game.Game, traces []*Trace) error {
	bw := bufio.NewWriter(w)
	for _, t := range traces {
		for i, tr := range t.Transitions {
			line := make(map[string]any, len(tr.Extra)+4)
			for k, v := range tr.Extra {
				line[k] = v
			}
			var err error
			if line["state"], err = g.EncodeState(tr.State); err != nil {
				return fmt.Errorf("failed to encode state: %w", err)
			}
			if line["action"], err = g.EncodeAction(tr.Action); err != nil {
				return fmt.Errorf("failed to encode action: %w", err)
			}
			if line["next_state"], err = g.EncodeState(tr.Next); err != nil {
				return fmt.Errorf("failed to encode next state: %w", err)
			}
			if i == len(t.Transitions)-1 {
				line["outcome"] = t.Outcome
			}
			raw, err := json.Marshal(line)
			if err != nil {
				return fmt.Errorf("failed to encode transition: %w", err)
			}
			bw.Write(raw)
			bw.WriteByte('\n')
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write traces: %w", err)
	}
	return nil
}

func WriteFile(path string, g game.Game, traces []*Trace) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create traces file: %w", err)
	}
	if err := Write(f, g, traces); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
