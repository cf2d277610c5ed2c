package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Connection counters
	TotalConnections  atomic.Int64 // lifetime TCP connections accepted
	ActiveConnections atomic.Int64 // connections whose lobby goroutine is running
	TotalDisconnects  atomic.Int64 // lobby sessions closed (EXIT, UNREGISTER, drop)

	// Lobby counters
	Registrations    atomic.Int64 // REGISTER that created a new user
	Logins           atomic.Int64 // REGISTER that reused an existing user
	Unregistrations  atomic.Int64 // users deleted by UNREGISTER
	RejectedCommands atomic.Int64 // commands answered with an ERROR line
	ChatMessagesSent atomic.Int64 // CHAT lines broadcast

	// Room counters
	RoomsCreated atomic.Int64 // CREATE
	RoomsClosed  atomic.Int64 // rooms retired without a match (host left, admin removal)
	JoinsFailed  atomic.Int64 // JOIN on a full or missing room

	// Match counters
	MatchesStarted   atomic.Int64 // handshake completed, relay launched
	MatchesAborted   atomic.Int64 // handshake failed
	MatchesCompleted atomic.Int64 // ended by an EndGame command
	MatchesDropped   atomic.Int64 // ended by a disconnect or shutdown
	ActiveMatches    atomic.Int64 // relays currently running
	TicksRelayed     atomic.Int64 // ticks broadcast
	CommandsRelayed  atomic.Int64 // command records broadcast (per tick, not per recipient)
	UnitsPlaced      atomic.Int64 // unit ids allocated
	WinsRecorded     atomic.Int64 // wins credited to users
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	ActiveConnections int64 `json:"active_connections"`
	TotalConnections  int64 `json:"total_connections"`
	TotalDisconnects  int64 `json:"total_disconnects"`

	Registrations    int64 `json:"registrations"`
	Logins           int64 `json:"logins"`
	Unregistrations  int64 `json:"unregistrations"`
	RejectedCommands int64 `json:"rejected_commands"`
	ChatMessagesSent int64 `json:"chat_messages_sent"`

	RoomsCreated int64 `json:"rooms_created"`
	RoomsClosed  int64 `json:"rooms_closed"`
	JoinsFailed  int64 `json:"joins_failed"`

	MatchesStarted   int64 `json:"matches_started"`
	MatchesAborted   int64 `json:"matches_aborted"`
	MatchesCompleted int64 `json:"matches_completed"`
	MatchesDropped   int64 `json:"matches_dropped"`
	ActiveMatches    int64 `json:"active_matches"`
	TicksRelayed     int64 `json:"ticks_relayed"`
	CommandsRelayed  int64 `json:"commands_relayed"`
	UnitsPlaced      int64 `json:"units_placed"`
	WinsRecorded     int64 `json:"wins_recorded"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:            uptime.Truncate(time.Second).String(),
		UptimeSeconds:     int64(uptime.Seconds()),
		ActiveConnections: m.ActiveConnections.Load(),
		TotalConnections:  m.TotalConnections.Load(),
		TotalDisconnects:  m.TotalDisconnects.Load(),
		Registrations:     m.Registrations.Load(),
		Logins:            m.Logins.Load(),
		Unregistrations:   m.Unregistrations.Load(),
		RejectedCommands:  m.RejectedCommands.Load(),
		ChatMessagesSent:  m.ChatMessagesSent.Load(),
		RoomsCreated:      m.RoomsCreated.Load(),
		RoomsClosed:       m.RoomsClosed.Load(),
		JoinsFailed:       m.JoinsFailed.Load(),
		MatchesStarted:    m.MatchesStarted.Load(),
		MatchesAborted:    m.MatchesAborted.Load(),
		MatchesCompleted:  m.MatchesCompleted.Load(),
		MatchesDropped:    m.MatchesDropped.Load(),
		ActiveMatches:     m.ActiveMatches.Load(),
		TicksRelayed:      m.TicksRelayed.Load(),
		CommandsRelayed:   m.CommandsRelayed.Load(),
		UnitsPlaced:       m.UnitsPlaced.Load(),
		WinsRecorded:      m.WinsRecorded.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a periodic metrics summary to the logger.
func (m *Metrics) LogSummary() {
	s := m.Snapshot()
	slog.Info("metrics",
		"uptime", s.Uptime,
		"connections", s.ActiveConnections,
		"total_connections", s.TotalConnections,
		"active_matches", s.ActiveMatches,
		"matches_started", s.MatchesStarted,
		"ticks", s.TicksRelayed,
		"chat_msgs", s.ChatMessagesSent,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed.
func (m *Metrics) StartPeriodicLog(interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary()
			}
		}
	}()
}
