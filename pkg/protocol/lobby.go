package protocol

import (
	"strings"
)

// RequestKind is the closed set of lobby commands.
type RequestKind int

const (
	ReqUnknown RequestKind = iota
	ReqRegister
	ReqList
	ReqCreate
	ReqJoin
	ReqChat
	ReqLeaderboard
	ReqExit
	ReqUnregister
)

func (k RequestKind) String() string {
	switch k {
	case ReqRegister:
		return "REGISTER"
	case ReqList:
		return "LIST"
	case ReqCreate:
		return "CREATE"
	case ReqJoin:
		return "JOIN"
	case ReqChat:
		return "CHAT"
	case ReqLeaderboard:
		return "LEADERBOARD"
	case ReqExit:
		return "EXIT"
	case ReqUnregister:
		return "UNREGISTER"
	default:
		return "UNKNOWN"
	}
}

var keywords = map[string]RequestKind{
	"REGISTER":    ReqRegister,
	"LIST":        ReqList,
	"CREATE":      ReqCreate,
	"JOIN":        ReqJoin,
	"CHAT":        ReqChat,
	"LEADERBOARD": ReqLeaderboard,
	"EXIT":        ReqExit,
	"UNREGISTER":  ReqUnregister,
}

// Request is one parsed lobby line.
type Request struct {
	Kind RequestKind
	// Arg is the first word after the keyword for REGISTER and JOIN, and
	// the rest of the line for CHAT. Empty for the others.
	Arg string
}

// ParseRequest parses one lobby line. Keywords are case-sensitive.
func ParseRequest(line string) Request {
	line = strings.TrimSpace(line)
	keyword, rest, _ := strings.Cut(line, " ")
	kind, ok := keywords[keyword]
	if !ok {
		return Request{Kind: ReqUnknown}
	}
	rest = strings.TrimSpace(rest)

	switch kind {
	case ReqRegister, ReqJoin:
		// Extra words (e.g. a legacy password) are ignored.
		if fields := strings.Fields(rest); len(fields) > 0 {
			return Request{Kind: kind, Arg: fields[0]}
		}
		return Request{Kind: kind}
	case ReqChat:
		return Request{Kind: kind, Arg: rest}
	default:
		return Request{Kind: kind}
	}
}
