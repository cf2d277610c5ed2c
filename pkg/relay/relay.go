// Package relay runs the lockstep tick loop for one two-player match.
//
// A Match owns both transports for its whole lifetime and touches no shared
// state, so it needs no locking. Player 0 is the host, player 1 the joiner.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/protocol"
)

// First unit ids handed out to each player in a fresh match.
const (
	HostUnitBase   uint32 = 1000
	JoinerUnitBase uint32 = 2000
)

// Reason tells why a match ended.
type Reason int

const (
	ReasonEndGame Reason = iota
	ReasonDisconnect
	ReasonCanceled
)

func (r Reason) String() string {
	switch r {
	case ReasonEndGame:
		return "end_game"
	case ReasonDisconnect:
		return "disconnect"
	case ReasonCanceled:
		return "canceled"
	default:
		return fmt.Sprintf("Reason(%d)", int(r))
	}
}

// Options configures a Match.
type Options struct {
	// SendPlayerIDs sends each player its 4-byte index before the first tick.
	SendPlayerIDs bool
	// MaxBatch caps the command count a player may announce per tick.
	// Zero means protocol.MaxBatchCommands.
	MaxBatch int
	Logger   *slog.Logger
}

// Result summarizes a finished match.
type Result struct {
	Reason   Reason
	Ticks    int
	Commands int
	// Placed counts unit ids allocated per player.
	Placed [2]int
	// Winner is the player index named by the EndGame command, or -1.
	Winner int
	// Err is the transport error that ended the match, if any.
	Err error
}

// Match is one running game between two players.
type Match struct {
	players [2]*protocol.Transport
	next    [2]uint32
	opts    Options
	log     *slog.Logger

	closeOnce sync.Once
}

// New creates a match. host becomes player 0 and joiner player 1.
func New(host, joiner *protocol.Transport, opts Options) *Match {
	if opts.MaxBatch <= 0 {
		opts.MaxBatch = protocol.MaxBatchCommands
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Match{
		players: [2]*protocol.Transport{host, joiner},
		next:    [2]uint32{HostUnitBase, JoinerUnitBase},
		opts:    opts,
		log:     log,
	}
}

// Run drives the tick loop until a player disconnects, a tick carrying an
// EndGame command has been broadcast, or ctx is canceled. Both transports are
// closed when Run returns.
func (m *Match) Run(ctx context.Context) Result {
	stop := context.AfterFunc(ctx, m.close)
	defer stop()
	defer m.close()

	res := Result{Winner: -1}

	if m.opts.SendPlayerIDs {
		for i, p := range m.players {
			if err := p.WritePlayerID(uint32(i)); err != nil {
				return m.abort(ctx, res, fmt.Errorf("relay: player %d id: %w", i, err))
			}
		}
	}

	for {
		var batches [2][]model.Command
		for i, p := range m.players {
			cmds, err := p.ReadBatch(m.opts.MaxBatch)
			if err != nil {
				return m.abort(ctx, res, fmt.Errorf("relay: receive from player %d: %w", i, err))
			}
			batches[i] = cmds
		}

		tick, ended, winner := m.assign(batches, &res)
		for i, p := range m.players {
			if err := p.WriteBatch(tick); err != nil {
				return m.abort(ctx, res, fmt.Errorf("relay: broadcast to player %d: %w", i, err))
			}
		}
		res.Ticks++
		res.Commands += len(tick)

		if ended {
			res.Reason = ReasonEndGame
			res.Winner = winner
			m.log.Debug("match ended", "ticks", res.Ticks, "winner", winner)
			return res
		}
	}
}

// assign concatenates player 0's commands then player 1's, giving every Place
// command a fresh id from its sender's counter. Other fields pass through.
func (m *Match) assign(batches [2][]model.Command, res *Result) (tick []model.Command, ended bool, winner int) {
	winner = -1
	tick = make([]model.Command, 0, len(batches[0])+len(batches[1]))
	for i, cmds := range batches {
		for _, c := range cmds {
			switch c.Type {
			case model.CmdPlace:
				c.UnitID = m.next[i]
				m.next[i]++
				res.Placed[i]++
			case model.CmdEndGame:
				if !ended {
					ended = true
					if w, ok := c.Winner(); ok {
						winner = w
					}
				}
			}
			tick = append(tick, c)
		}
	}
	return tick, ended, winner
}

func (m *Match) abort(ctx context.Context, res Result, err error) Result {
	res.Reason = ReasonDisconnect
	if ctx.Err() != nil {
		res.Reason = ReasonCanceled
		err = errors.Join(err, ctx.Err())
	}
	res.Err = err
	m.log.Debug("match aborted", "reason", res.Reason.String(), "ticks", res.Ticks, "err", err)
	return res
}

func (m *Match) close() {
	m.closeOnce.Do(func() {
		for _, p := range m.players {
			_ = p.Close()
		}
	})
}
