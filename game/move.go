package game

import (
	"encoding/binary"
	"fmt"
	"hash/fnv"
)

// Mark places the player's symbol on a cell.
type Mark struct {
	Player string
	Cell   int
}

func (m Mark) Hash() Hash {
	hasher := fnv.New64a()
	hasher.Write([]byte(m.Player))
	binary.Write(hasher, binary.LittleEndian, int64(m.Cell))
	return Hash(hasher.Sum64())
}

func (m Mark) Equal(other Action) bool {
	o, ok := other.(Mark)
	return ok && o == m
}

func (m Mark) String() string {
	return fmt.Sprintf("%s@%d", m.Player, m.Cell)
}
