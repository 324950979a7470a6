package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

const TicTacToeName = "tictactoe"

var (
	ErrOccupied   = errors.New("cell is occupied")
	ErrOutOfBoard = errors.New("cell is outside the board")
	ErrWrongTurn  = errors.New("player is not to move")
)

// TicTacToe is the reference game. Its physics only place marks; winning
// lines, full boards and scores are left for the rules to discover.
type TicTacToe struct{}

type boardJSON struct {
	Board string `json:"board"`
	Turn  string `json:"turn"`
}

type markJSON struct {
	Mark string `json:"mark"`
	Cell *int   `json:"cell"`
}

func (TicTacToe) Name() string { return TicTacToeName }

func (TicTacToe) Players() []string { return []string{PlayerX, PlayerO} }

func (TicTacToe) Initial() State { return NewBoard() }

func (TicTacToe) Mover(s State) string { return s.(Board).Turn }

func (TicTacToe) DecodeState(raw json.RawMessage) (State, error) {
	var v boardJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode board: %w", err)
	}
	return ParseBoard(v.Board, v.Turn)
}

func (TicTacToe) DecodeAction(raw json.RawMessage) (Action, error) {
	var v markJSON
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, fmt.Errorf("failed to decode mark: %w", err)
	}
	if v.Mark != PlayerX && v.Mark != PlayerO {
		return nil, fmt.Errorf("invalid mark %q", v.Mark)
	}
	if v.Cell == nil {
		return nil, errors.New("mark has no cell")
	}
	return Mark{Player: v.Mark, Cell: *v.Cell}, nil
}

func (TicTacToe) EncodeState(s State) (json.RawMessage, error) {
	b, ok := s.(Board)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", s)
	}
	return json.Marshal(boardJSON{Board: string(b.Cells[:]), Turn: b.Turn})
}

func (TicTacToe) EncodeAction(a Action) (json.RawMessage, error) {
	m, ok := a.(Mark)
	if !ok {
		return nil, fmt.Errorf("unexpected action type %T", a)
	}
	cell := m.Cell
	return json.Marshal(markJSON{Mark: m.Player, Cell: &cell})
}

// Moves offers every cell to the player to move, occupied or not.
func (TicTacToe) Moves(s State) []Action {
	b := s.(Board)
	moves := make([]Action, 0, 9)
	for cell := 0; cell < 9; cell++ {
		moves = append(moves, Mark{Player: b.Turn, Cell: cell})
	}
	return moves
}

func (TicTacToe) Next(s State, a Action) (State, error) {
	b, ok := s.(Board)
	if !ok {
		return nil, fmt.Errorf("unexpected state type %T", s)
	}
	m, ok := a.(Mark)
	if !ok {
		return nil, fmt.Errorf("unexpected action type %T", a)
	}
	switch {
	case m.Cell < 0 || m.Cell > 8:
		return nil, fmt.Errorf("%w: %d", ErrOutOfBoard, m.Cell)
	case m.Player != b.Turn:
		return nil, fmt.Errorf("%w: %s", ErrWrongTurn, m.Player)
	case !b.Empty(m.Cell):
		return nil, fmt.Errorf("%w: %d", ErrOccupied, m.Cell)
	}
	next := b
	next.Cells[m.Cell] = m.Player[0]
	next.Turn = other(b.Turn)
	return next, nil
}

func (TicTacToe) StateFeatures(s State) map[string]any {
	b := s.(Board)
	return map[string]any{
		"turn":        b.Turn,
		"full":        b.EmptyCount() == 0,
		"line_x":      b.HasLine(PlayerX),
		"line_o":      b.HasLine(PlayerO),
		"empty_count": b.EmptyCount(),
	}
}

func (TicTacToe) ActionFeatures(s State, a Action) map[string]any {
	b := s.(Board)
	m := a.(Mark)
	return map[string]any{
		"cell":       m.Cell,
		"cell_empty": m.Cell >= 0 && m.Cell < 9 && b.Empty(m.Cell),
	}
}

// Referee reports the true result of a position. It is used to produce
// example traces and is never consulted by rule induction.
func (TicTacToe) Referee(s State) (done bool, scores map[string]float64) {
	b := s.(Board)
	switch {
	case b.HasLine(PlayerX):
		return true, map[string]float64{PlayerX: 1, PlayerO: 0}
	case b.HasLine(PlayerO):
		return true, map[string]float64{PlayerX: 0, PlayerO: 1}
	case b.EmptyCount() == 0:
		return true, map[string]float64{PlayerX: 0.5, PlayerO: 0.5}
	}
	return false, nil
}

// Play applies the cells in order from the initial board, alternating marks.
func (g TicTacToe) Play(cells ...int) ([]Action, []State, error) {
	var s State = g.Initial()
	actions := make([]Action, 0, len(cells))
	states := []State{s}
	for _, c := range cells {
		a := Mark{Player: s.(Board).Turn, Cell: c}
		next, err := g.Next(s, a)
		if err != nil {
			return nil, nil, err
		}
		actions = append(actions, a)
		states = append(states, next)
		s = next
	}
	return actions, states, nil
}
