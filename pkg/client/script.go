package client

import (
	"context"
	"fmt"
	"math"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/relay"
)

// Script describes what a headless player does once a match starts.
type Script struct {
	Ticks        int           `yaml:"ticks"`         // 0 = play until an EndGame arrives
	PlaceEvery   int           `yaml:"place_every"`   // place a unit every N ticks (0 = never)
	UnitType     uint32        `yaml:"unit_type"`     // unit type for Place commands
	Winner       int           `yaml:"winner"`        // player index named by the host's EndGame
	TickInterval time.Duration `yaml:"tick_interval"` // pause between ticks
}

// DefaultScript returns default script settings.
func DefaultScript() *Script {
	return &Script{
		Ticks:        20,
		PlaceEvery:   5,
		UnitType:     1,
		TickInterval: 50 * time.Millisecond,
	}
}

// LoadScript loads a script from YAML over the defaults.
func LoadScript(path string) (*Script, error) {
	s := DefaultScript()
	data, err := os.ReadFile(path) //nolint:gosec // path from user-provided CLI flag
	if err != nil {
		return nil, fmt.Errorf("client: read script: %w", err)
	}
	if err := yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("client: parse script: %w", err)
	}
	return s, nil
}

// Commands returns the batch player sends on tick. The host ends the game on
// the last scripted tick.
func (s *Script) Commands(tick int, player uint32) []model.Command {
	cmds := []model.Command{}
	if s.PlaceEvery > 0 && tick%s.PlaceEvery == 0 {
		cmds = append(cmds, model.Command{
			Type:     model.CmdPlace,
			UnitType: s.UnitType,
			TargetX:  float64(tick * 10),
			TargetY:  float64(player * 100),
		})
	}
	if player == 0 && s.Ticks > 0 && tick == s.Ticks-1 {
		cmds = append(cmds, model.Command{Type: model.CmdEndGame, TargetX: float64(s.Winner)})
	}
	return cmds
}

// PlayResult summarizes a scripted match from one player's view.
type PlayResult struct {
	PlayerID uint32
	Ticks    int
	// Units are the ids the server assigned to this player's placements.
	Units   []uint32
	EndGame bool
	Winner  int
}

// Play reads the player id and runs script until the match ends or ctx is
// done. It must be called right after WaitMatch or Join.
func (c *Client) Play(ctx context.Context, script *Script) (PlayResult, error) {
	pid, err := c.PlayerID()
	if err != nil {
		return PlayResult{}, err
	}
	res := PlayResult{PlayerID: pid, Winner: -1}
	// Unit ids come from per-player ranges, so ownership is visible in the id.
	low, high := relay.HostUnitBase, relay.JoinerUnitBase
	if pid == 1 {
		low, high = relay.JoinerUnitBase, math.MaxUint32
	}

	for tick := 0; ; tick++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		got, err := c.Step(script.Commands(tick, pid))
		if err != nil {
			return res, err
		}
		res.Ticks++
		for _, cmd := range got {
			switch cmd.Type {
			case model.CmdPlace:
				if cmd.UnitID >= low && cmd.UnitID < high {
					res.Units = append(res.Units, cmd.UnitID)
				}
			case model.CmdEndGame:
				res.EndGame = true
				if w, ok := cmd.Winner(); ok {
					res.Winner = w
				}
			}
		}
		if res.EndGame {
			return res, nil
		}
		if script.TickInterval > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(script.TickInterval):
			}
		}
	}
}
