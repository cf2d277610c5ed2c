// Package client implements the GoStep client side of the lobby and
// lockstep protocols.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/NicolasHaas/gostep/pkg/model"
	"github.com/NicolasHaas/gostep/pkg/protocol"
)

// ErrRejected wraps an "ERROR ..." reply from the server.
var ErrRejected = errors.New("client: rejected")

// ackPayload is sent after MATCH_START. The server ignores its content.
const ackPayload = "ACK\n"

// ChatHandler is called for chat lines received while waiting for a reply.
type ChatHandler func(line string)

// Client is one connection to a GoStep server.
type Client struct {
	t       *protocol.Transport
	mu      sync.Mutex
	onChat  ChatHandler
	welcome string
}

// Dial connects to addr and reads the welcome line.
func Dial(ctx context.Context, addr string) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("client: connect: %w", err)
	}
	c, err := New(conn)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// New wraps an established connection and reads the welcome line.
func New(conn net.Conn) (*Client, error) {
	c := &Client{t: protocol.NewTransport(conn)}
	line, err := c.t.ReadLine()
	if err != nil {
		return nil, fmt.Errorf("client: read welcome: %w", err)
	}
	if !strings.HasPrefix(line, "WELCOME") {
		return nil, fmt.Errorf("client: unexpected greeting %q", line)
	}
	c.welcome = line
	return c, nil
}

// Welcome returns the server's greeting line.
func (c *Client) Welcome() string { return c.welcome }

// SetChatHandler sets the callback for chat lines from other players.
func (c *Client) SetChatHandler(h ChatHandler) {
	c.onChat = h
}

// Close closes the connection.
func (c *Client) Close() error {
	return c.t.Close()
}

// Send writes one lobby line.
func (c *Client) Send(line string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.WriteLine(line)
}

// ReadLine returns the next line from the server, chat included.
func (c *Client) ReadLine() (string, error) {
	return c.t.ReadLine()
}

// readReply returns the next non-chat line. ERROR lines become ErrRejected.
func (c *Client) readReply() (string, error) {
	for {
		line, err := c.t.ReadLine()
		if err != nil {
			return "", fmt.Errorf("client: read reply: %w", err)
		}
		if strings.HasPrefix(line, "CHAT ") {
			if c.onChat != nil {
				c.onChat(line)
			}
			continue
		}
		if msg, ok := strings.CutPrefix(line, "ERROR "); ok {
			return line, fmt.Errorf("%w: %s", ErrRejected, msg)
		}
		return line, nil
	}
}

// Request sends line and returns the reply.
func (c *Client) Request(line string) (string, error) {
	if err := c.Send(line); err != nil {
		return "", err
	}
	return c.readReply()
}

// Register logs in as username and returns the win count.
func (c *Client) Register(username string) (int32, error) {
	reply, err := c.Request("REGISTER " + username)
	if err != nil {
		return 0, err
	}
	_, wins, ok := strings.Cut(reply, "Wins: ")
	if !ok {
		return 0, fmt.Errorf("client: unexpected register reply %q", reply)
	}
	n, err := strconv.ParseInt(wins, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("client: parse wins: %w", err)
	}
	return int32(n), nil
}

// List returns the ids of rooms waiting for a joiner.
func (c *Client) List() ([]uint32, error) {
	reply, err := c.Request("LIST")
	if err != nil {
		return nil, err
	}
	if reply != "GAMES:" {
		return nil, fmt.Errorf("client: unexpected list reply %q", reply)
	}
	ids := []uint32{}
	for {
		line, err := c.t.ReadLine()
		if err != nil {
			return nil, fmt.Errorf("client: read list: %w", err)
		}
		if line == "" {
			return ids, nil
		}
		var id uint32
		if _, err := fmt.Sscanf(line, "ID: %d | Status: WAIT", &id); err != nil {
			return nil, fmt.Errorf("client: parse list entry %q: %w", line, err)
		}
		ids = append(ids, id)
	}
}

// Create opens a room and returns its id. Call WaitMatch next.
func (c *Client) Create() (uint32, error) {
	reply, err := c.Request("CREATE")
	if err != nil {
		return 0, err
	}
	var id uint32
	if _, err := fmt.Sscanf(reply, "CREATED %d WAIT...", &id); err != nil {
		return 0, fmt.Errorf("client: unexpected create reply %q", reply)
	}
	return id, nil
}

// WaitMatch blocks until MATCH_START, then acknowledges it.
func (c *Client) WaitMatch() error {
	reply, err := c.readReply()
	if err != nil {
		return err
	}
	if reply != "MATCH_START" {
		return fmt.Errorf("client: unexpected reply %q while waiting", reply)
	}
	return c.ack()
}

// Join joins room id and acknowledges MATCH_START.
func (c *Client) Join(id uint32) error {
	if err := c.Send(fmt.Sprintf("JOIN %d", id)); err != nil {
		return err
	}
	return c.WaitMatch()
}

// Chat sends msg to the lobby and returns the server's echo.
func (c *Client) Chat(msg string) (string, error) {
	return c.Request("CHAT " + msg)
}

// Leaderboard returns the raw leaderboard entries.
func (c *Client) Leaderboard() ([]string, error) {
	reply, err := c.Request("LEADERBOARD")
	if err != nil {
		return nil, err
	}
	body, ok := strings.CutPrefix(reply, "LEADERBOARD:")
	if !ok {
		return nil, fmt.Errorf("client: unexpected leaderboard reply %q", reply)
	}
	if body == "" {
		return []string{}, nil
	}
	return strings.Split(body, "|"), nil
}

func (c *Client) ack() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.t.Conn().Write([]byte(ackPayload)); err != nil {
		return fmt.Errorf("client: send ack: %w", err)
	}
	return nil
}

// PlayerID reads the 4-byte player index the server sends when a match
// starts (0 host, 1 joiner).
func (c *Client) PlayerID() (uint32, error) {
	return c.t.ReadPlayerID()
}

// Step sends this tick's commands and returns the tick as broadcast to both
// players.
func (c *Client) Step(cmds []model.Command) ([]model.Command, error) {
	c.mu.Lock()
	err := c.t.WriteBatch(cmds)
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("client: send tick: %w", err)
	}
	tick, err := c.t.ReadBatch(protocol.MaxBatchCommands)
	if err != nil {
		return nil, fmt.Errorf("client: read tick: %w", err)
	}
	return tick, nil
}
