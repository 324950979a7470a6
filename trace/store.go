package trace

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"os"
	"sort"

	"ggp/game"

	"golang.org/x/exp/rand"
)

const maxLineSize = 4 << 20

// MalformedTraceError reports input that cannot be read as a trace.
type MalformedTraceError struct {
	Trace  int
	Line   int
	Reason string
}

func (e *MalformedTraceError) Error() string {
	return fmt.Sprintf("malformed trace %d at line %d: %s", e.Trace, e.Line, e.Reason)
}

// Store holds the traces of one run. It is read-only after loading.
type Store struct {
	game   game.Game
	traces []*Trace
}

// NewStore wraps traces that were built in memory.
func NewStore(g game.Game, traces []*Trace) *Store {
	s := &Store{game: g, traces: make([]*Trace, len(traces))}
	for i, t := range traces {
		t.Index = i
		s.traces[i] = t
	}
	return s
}

func LoadFile(path string, g game.Game) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open traces: %w", err)
	}
	defer f.Close()
	return Load(f, g)
}

// Load reads one JSON object per line. Consecutive lines form a trace that
// ends at the line carrying an outcome.
func Load(r io.Reader, g game.Game) (*Store, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var traces []*Trace
	current := &Trace{}
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		malformed := func(format string, args ...any) error {
			return &MalformedTraceError{Trace: len(traces), Line: line, Reason: fmt.Sprintf(format, args...)}
		}

		tr, outcome, err := decodeLine(raw, g)
		if err != nil {
			return nil, malformed("%v", err)
		}
		tr.Line = line
		if n := len(current.Transitions); n > 0 && !current.Transitions[n-1].Next.Equal(tr.State) {
			return nil, malformed("state %s does not continue from %s", tr.State, current.Transitions[n-1].Next)
		}
		current.Transitions = append(current.Transitions, tr)

		if outcome == nil {
			continue
		}
		if err := outcome.validate(g.Players()); err != nil {
			return nil, malformed("%v", err)
		}
		current.Outcome = *outcome
		current.Index = len(traces)
		traces = append(traces, current)
		current = &Trace{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read traces: %w", err)
	}
	if len(current.Transitions) > 0 {
		return nil, &MalformedTraceError{Trace: len(traces), Line: line, Reason: "input ends inside a trace without outcome"}
	}
	return &Store{game: g, traces: traces}, nil
}

var knownFields = []string{"state", "action", "next_state", "outcome"}

func decodeLine(raw []byte, g game.Game) (Transition, *Outcome, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Transition{}, nil, fmt.Errorf("invalid json: %v", err)
	}
	for _, key := range knownFields[:3] {
		if v, ok := fields[key]; !ok || isNull(v) {
			return Transition{}, nil, fmt.Errorf("missing %s", key)
		}
	}

	var (
		tr  Transition
		err error
	)
	if tr.State, err = g.DecodeState(fields["state"]); err != nil {
		return Transition{}, nil, fmt.Errorf("state: %v", err)
	}
	if tr.Action, err = g.DecodeAction(fields["action"]); err != nil {
		return Transition{}, nil, fmt.Errorf("action: %v", err)
	}
	if tr.Next, err = g.DecodeState(fields["next_state"]); err != nil {
		return Transition{}, nil, fmt.Errorf("next_state: %v", err)
	}
	if !game.Contains(g.Moves(tr.State), tr.Action) {
		return Transition{}, nil, fmt.Errorf("action %s is not in the move vocabulary", tr.Action)
	}

	var outcome *Outcome
	if v, ok := fields["outcome"]; ok && !isNull(v) {
		outcome = &Outcome{}
		if err := json.Unmarshal(v, outcome); err != nil {
			return Transition{}, nil, fmt.Errorf("outcome: %v", err)
		}
	}

	for _, key := range knownFields {
		delete(fields, key)
	}
	if len(fields) > 0 {
		tr.Extra = fields
	}
	return tr, outcome, nil
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func (s *Store) Game() game.Game {
	return s.game
}

func (s *Store) Len() int {
	return len(s.traces)
}

func (s *Store) At(i int) *Trace {
	return s.traces[i]
}

// Traces returns a copy of the trace list.
func (s *Store) Traces() []*Trace {
	return append([]*Trace(nil), s.traces...)
}

// Iterate yields every trace in load order. It can be ranged over repeatedly.
func (s *Store) Iterate() iter.Seq2[int, *Trace] {
	return func(yield func(int, *Trace) bool) {
		for i, t := range s.traces {
			if !yield(i, t) {
				return
			}
		}
	}
}

// Sample draws k traces without replacement, returned in load order. The
// same seed always yields the same sample. A k outside (0, Len) returns
// every trace.
func (s *Store) Sample(k int, seed uint64) []*Trace {
	if k <= 0 || k >= len(s.traces) {
		return s.Traces()
	}
	rng := rand.New(rand.NewSource(seed))
	picked := rng.Perm(len(s.traces))[:k]
	sort.Ints(picked)

	sample := make([]*Trace, k)
	for i, idx := range picked {
		sample[i] = s.traces[idx]
	}
	return sample
}

func (s *Store) Stats() Stats {
	return Summarize(s.traces)
}
