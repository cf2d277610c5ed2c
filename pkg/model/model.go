// Package model defines the core domain types for GoStep.
package model

import "fmt"

// CommandType identifies what a lockstep command asks the clients to do.
type CommandType uint32

const (
	CmdMove    CommandType = 1 // move an existing unit to (TargetX, TargetY)
	CmdAttack  CommandType = 2 // attack towards (TargetX, TargetY)
	CmdPlace   CommandType = 3 // create a unit of UnitType; server assigns UnitID
	CmdEndGame CommandType = 4 // end the match; TargetX carries the winner index
)

func (t CommandType) String() string {
	switch t {
	case CmdMove:
		return "move"
	case CmdAttack:
		return "attack"
	case CmdPlace:
		return "place"
	case CmdEndGame:
		return "end_game"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(t))
	}
}

// Command is one unit of game state change, exchanged in per-tick batches.
// The server never interprets coordinates or unit types; it only assigns
// UnitID for Place commands.
type Command struct {
	UnitID   uint32      // 0 until the server assigns one for Place
	Type     CommandType
	UnitType uint32      // meaningful only for Place
	TargetX  float64
	TargetY  float64
}

// Winner returns the player index named by an EndGame command.
// Only exact 0 and 1 are accepted.
func (c Command) Winner() (int, bool) {
	if c.Type != CmdEndGame {
		return 0, false
	}
	switch c.TargetX {
	case 0:
		return 0, true
	case 1:
		return 1, true
	default:
		return 0, false
	}
}
