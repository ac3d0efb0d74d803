package command

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Command is a recognised chat instruction: the trigger token plus whatever
// followed it.
type Command struct {
	Name     string
	Argument string
}

// Parser matches messages against a fixed trigger token.
type Parser struct {
	trigger string
}

// NewParser constructs a parser for the given trigger word.
func NewParser(trigger string) *Parser {
	return &Parser{trigger: trigger}
}

// Trigger returns the configured trigger token.
func (p *Parser) Trigger() string {
	return p.trigger
}

// Parse extracts a command from raw message text. The first
// whitespace-delimited token must equal the trigger exactly
// (case-sensitive); the remainder is trimmed and kept verbatim as the
// argument, interior whitespace included. A message that is not addressed to
// the bot yields ok=false. That is a non-event, never an error.
func (p *Parser) Parse(raw string) (Command, bool) {
	rest := strings.TrimLeftFunc(raw, unicode.IsSpace)
	if !strings.HasPrefix(rest, p.trigger) {
		return Command{}, false
	}

	rest = rest[len(p.trigger):]
	if rest != "" {
		r, _ := utf8.DecodeRuneInString(rest)
		if !unicode.IsSpace(r) {
			// The first token merely starts with the trigger ("floor" vs "f").
			return Command{}, false
		}
	}

	return Command{Name: p.trigger, Argument: strings.TrimSpace(rest)}, true
}
