// Command bot is a headless GoStep player. It registers, creates or joins a
// room, then plays a scripted match.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NicolasHaas/gostep/pkg/client"
	"github.com/NicolasHaas/gostep/pkg/logging"
)

func main() {
	addr := flag.String("addr", "127.0.0.1:8080", "Server address")
	name := flag.String("name", "bot", "Username to register")
	create := flag.Bool("create", false, "Create a room and wait for a joiner")
	join := flag.Uint("join", 0, "Room id to join (0 = first open room)")
	scriptPath := flag.String("script", "", "YAML script file (flags given explicitly override it)")
	ticks := flag.Int("ticks", 0, "Ticks to play before the host ends the game (0 = script default)")
	placeEvery := flag.Int("place-every", 0, "Place a unit every N ticks (0 = script default)")
	winner := flag.Int("winner", 0, "Player index the host's end-game command names as winner")
	logLevel := flag.String("log-level", "info", "Log level: "+logging.LevelNames())
	flag.Parse()

	if err := logging.Setup(logging.Options{Level: *logLevel, Output: os.Stderr}); err != nil {
		fmt.Fprintf(os.Stderr, "invalid logging config: %v\n", err)
		os.Exit(1)
	}

	script := client.DefaultScript()
	if *scriptPath != "" {
		s, err := client.LoadScript(*scriptPath)
		if err != nil {
			slog.Error("load script", "err", err)
			os.Exit(1)
		}
		script = s
	}
	if *ticks > 0 {
		script.Ticks = *ticks
	}
	if *placeEvery > 0 {
		script.PlaceEvery = *placeEvery
	}
	flag.Visit(func(f *flag.Flag) {
		if f.Name == "winner" {
			script.Winner = *winner
		}
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *addr, *name, *create, uint32(*join), script); err != nil {
		slog.Error("bot failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, addr, name string, create bool, joinID uint32, script *client.Script) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	c, err := client.Dial(dialCtx, addr)
	cancel()
	if err != nil {
		return err
	}
	defer func() { _ = c.Close() }()
	c.SetChatHandler(func(line string) { slog.Info("chat", "line", line) })

	wins, err := c.Register(name)
	if err != nil {
		return err
	}
	slog.Info("registered", "user", name, "wins", wins)

	if create {
		id, err := c.Create()
		if err != nil {
			return err
		}
		slog.Info("room created, waiting for joiner", "room", id)
		if err := c.WaitMatch(); err != nil {
			return err
		}
	} else {
		if joinID == 0 {
			ids, err := c.List()
			if err != nil {
				return err
			}
			if len(ids) == 0 {
				return errors.New("no open rooms")
			}
			joinID = ids[0]
		}
		if err := c.Join(joinID); err != nil {
			return err
		}
		slog.Info("joined room", "room", joinID)
	}

	res, err := c.Play(ctx, script)
	if err != nil {
		return err
	}
	slog.Info("match over",
		"player", res.PlayerID,
		"ticks", res.Ticks,
		"units", len(res.Units),
		"end_game", res.EndGame,
		"winner", res.Winner,
	)
	return nil
}
