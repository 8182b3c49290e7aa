// Package spatial holds the pure position rules of the arena: movement,
// safe-zone membership and player interaction range.
package spatial

import (
	"fmt"
	"math"
	"strings"
)

type Position struct {
	X int64 `json:"x"`
	Y int64 `json:"y"`
}

var Origin = Position{}

func (p Position) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

type Direction uint8

const (
	Up Direction = iota + 1
	Down
	Left
	Right
)

func (d Direction) String() string {
	switch d {
	case Up:
		return "UP"
	case Down:
		return "DOWN"
	case Left:
		return "LEFT"
	case Right:
		return "RIGHT"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

func (d Direction) Valid() bool { return d >= Up && d <= Right }

// ParseDirection accepts UP, DOWN, LEFT and RIGHT in any case.
func ParseDirection(s string) (Direction, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "UP":
		return Up, nil
	case "DOWN":
		return Down, nil
	case "LEFT":
		return Left, nil
	case "RIGHT":
		return Right, nil
	default:
		return 0, fmt.Errorf("unknown direction %q", s)
	}
}

// Delta is the unit step of d.
func (d Direction) Delta() (dx, dy int64) {
	switch d {
	case Up:
		return 0, 1
	case Down:
		return 0, -1
	case Left:
		return -1, 0
	case Right:
		return 1, 0
	default:
		return 0, 0
	}
}

// ApplyMove steps p one unit in d. ok is false for an invalid direction or
// when the step would leave the int64 plane.
func ApplyMove(p Position, d Direction) (next Position, ok bool) {
	if !d.Valid() {
		return p, false
	}
	dx, dy := d.Delta()
	if (dx > 0 && p.X == math.MaxInt64) || (dx < 0 && p.X == math.MinInt64) ||
		(dy > 0 && p.Y == math.MaxInt64) || (dy < 0 && p.Y == math.MinInt64) {
		return p, false
	}
	return Position{X: p.X + dx, Y: p.Y + dy}, true
}
