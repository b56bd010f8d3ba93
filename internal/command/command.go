// Package command parses command-task instruction strings: one or more
// literal bot commands joined with "--", optionally followed by a
// "----"-separated custom identifier that is attached to the command
// output on delivery.
package command

import (
	"fmt"
	"strings"
)

// Position says where a custom identifier is attached to command output.
type Position string

const (
	PositionStart Position = "start"
	PositionEnd   Position = "end"
)

// Identifier is an optional label attached to a command task's output.
type Identifier struct {
	Text     string   `json:"text"`
	Position Position `json:"position"`
}

// Apply attaches the identifier to command output.
func (id *Identifier) Apply(output string) string {
	if id == nil || id.Text == "" {
		return output
	}
	if id.Position == PositionStart {
		return id.Text + "\n" + output
	}
	return output + "\n" + id.Text
}

// ParseMulti splits a raw command-task instruction.
//
// Shape: "cmd1--cmd2--cmd3[----identifier[----position]]" where position is
// start/before or end/after (default end). The display string is the
// command portion as the user typed it.
func ParseMulti(raw string) (display string, commands []string, ident *Identifier) {
	parts := strings.Split(strings.TrimSpace(raw), "----")

	display = strings.TrimSpace(parts[0])
	for _, c := range strings.Split(parts[0], "--") {
		if c = strings.TrimSpace(c); c != "" {
			commands = append(commands, c)
		}
	}

	if len(parts) >= 2 {
		text := strings.TrimSpace(parts[1])
		if text != "" {
			pos := PositionEnd
			if len(parts) >= 3 {
				switch strings.ToLower(strings.TrimSpace(parts[2])) {
				case "start", "before":
					pos = PositionStart
				}
			}
			ident = &Identifier{Text: text, Position: pos}
		}
	}
	return display, commands, ident
}

// Validate checks that every command is present and carries the configured
// prefix. An empty prefix disables the prefix check.
func Validate(commands []string, prefix string) error {
	if len(commands) == 0 {
		return fmt.Errorf("no command instructions found")
	}
	if prefix == "" {
		return nil
	}
	for _, c := range commands {
		if !strings.HasPrefix(c, prefix) {
			return fmt.Errorf("command %q must start with %q", c, prefix)
		}
	}
	return nil
}
