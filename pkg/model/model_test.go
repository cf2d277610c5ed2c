package model

import (
	"strings"
	"testing"
)

func TestValidateUsername(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"valid simple", "alice", nil},
		{"valid with numbers", "user123", nil},
		{"valid with underscore", "my_user", nil},
		{"valid with hyphen", "my-user", nil},
		{"valid max length", strings.Repeat("a", MaxUsernameLength), nil},
		{"empty", "", ErrUsernameEmpty},
		{"too long", strings.Repeat("a", MaxUsernameLength+1), ErrUsernameTooLong},
		{"contains space", "has space", ErrUsernameInvalidChars},
		{"contains pipe", "a|b", ErrUsernameInvalidChars},
		{"contains colon", "a:b", ErrUsernameInvalidChars},
		{"unicode letter", "ñoño", ErrUsernameInvalidChars},
		{"newline", "user\nname", ErrUsernameInvalidChars},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateUsername(tt.input)
			if err != tt.wantErr {
				t.Errorf("ValidateUsername(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestCommandWinner(t *testing.T) {
	tests := []struct {
		name   string
		cmd    Command
		want   int
		wantOK bool
	}{
		{"host wins", Command{Type: CmdEndGame, TargetX: 0}, 0, true},
		{"joiner wins", Command{Type: CmdEndGame, TargetX: 1}, 1, true},
		{"fractional", Command{Type: CmdEndGame, TargetX: 0.5}, 0, false},
		{"out of range", Command{Type: CmdEndGame, TargetX: 2}, 0, false},
		{"not end game", Command{Type: CmdMove, TargetX: 1}, 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.cmd.Winner()
			if got != tt.want || ok != tt.wantOK {
				t.Errorf("Winner() = (%d, %t), want (%d, %t)", got, ok, tt.want, tt.wantOK)
			}
		})
	}
}

func TestCommandTypeString(t *testing.T) {
	if got := CmdPlace.String(); got != "place" {
		t.Errorf("CmdPlace.String() = %q", got)
	}
	if got := CommandType(9).String(); got != "unknown(9)" {
		t.Errorf("CommandType(9).String() = %q", got)
	}
}
