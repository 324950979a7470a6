package game

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

const (
	PlayerX = "x"
	PlayerO = "o"

	emptyCell = '.'
)

var lines = [8][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8},
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8},
	{0, 4, 8}, {2, 4, 6},
}

// Board is a tic-tac-toe position. Cells hold 'x', 'o' or '.', row by row.
type Board struct {
	Cells [9]byte
	Turn  string
}

func NewBoard() Board {
	b := Board{Turn: PlayerX}
	for i := range b.Cells {
		b.Cells[i] = emptyCell
	}
	return b
}

// ParseBoard builds a board from its nine-character row-major listing.
func ParseBoard(cells, turn string) (Board, error) {
	if len(cells) != 9 {
		return Board{}, fmt.Errorf("board must have 9 cells, got %d", len(cells))
	}
	if turn != PlayerX && turn != PlayerO {
		return Board{}, fmt.Errorf("invalid turn %q", turn)
	}
	b := Board{Turn: turn}
	for i := 0; i < 9; i++ {
		switch c := cells[i]; c {
		case 'x', 'o', emptyCell:
			b.Cells[i] = c
		default:
			return Board{}, fmt.Errorf("invalid cell %q at %d", c, i)
		}
	}
	return b, nil
}

func (b Board) Hash() Hash {
	hasher := fnv.New64a()
	hasher.Write(b.Cells[:])
	binary.Write(hasher, binary.LittleEndian, b.Turn == PlayerX)
	return Hash(hasher.Sum64())
}

func (b Board) Equal(other State) bool {
	o, ok := other.(Board)
	return ok && o == b
}

func (b Board) String() string {
	return string(b.Cells[:]) + "/" + b.Turn
}

func (b Board) Empty(cell int) bool {
	return b.Cells[cell] == emptyCell
}

func (b Board) EmptyCount() int {
	n := 0
	for _, c := range b.Cells {
		if c == emptyCell {
			n++
		}
	}
	return n
}

// HasLine reports whether the player holds three cells in a row.
func (b Board) HasLine(player string) bool {
	mark := player[0]
	for _, l := range lines {
		if b.Cells[l[0]] == mark && b.Cells[l[1]] == mark && b.Cells[l[2]] == mark {
			return true
		}
	}
	return false
}

func other(player string) string {
	if player == PlayerX {
		return PlayerO
	}
	return PlayerX
}
