package command

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/skobkin/xaescope/internal/device"
)

// Kind names a configuration command understood by the device.
type Kind string

const (
	KindTrigMode  Kind = "trigmode"
	KindTimebase  Kind = "timebase"
	KindTrigDir   Kind = "trigdir"
	KindTrigLevel Kind = "triglevel"
)

var kindCodes = map[Kind]device.Code{
	KindTrigMode:  device.CodeTrigMode,
	KindTimebase:  device.CodeTimebase,
	KindTrigDir:   device.CodeTrigDir,
	KindTrigLevel: device.CodeTrigLevel,
}

// Code returns the device sub-command for k.
func (k Kind) Code() (device.Code, bool) {
	code, ok := kindCodes[k]
	return code, ok
}

// Command is either Config or Raw.
type Command interface {
	// Text is the command as the user typed it, used for logs and the journal.
	Text() string
	isCommand()
}

// Config changes one device setting before capturing.
type Config struct {
	Kind      Kind
	Parameter string
}

func (c Config) Text() string {
	return string(c.Kind) + " " + c.Parameter
}

func (Config) isCommand() {}

// Raw is any command without a configuration step, e.g. "sweep" or "noop".
type Raw struct {
	Input string
}

func (r Raw) Text() string {
	return r.Input
}

func (Raw) isCommand() {}

// KindOf returns the journal label for cmd.
func KindOf(cmd Command) string {
	switch c := cmd.(type) {
	case Config:
		return string(c.Kind)
	default:
		return "capture"
	}
}

// ParseError reports a command string that could not become a Config.
// Parse still returns a usable Raw alongside it.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse command %q: %s", e.Input, e.Reason)
}

// Parse splits input into kind (first whitespace-delimited token) and parameter
// (the trimmed remainder). Unknown kinds become Raw. A known kind without a
// parameter becomes Raw together with a *ParseError so the caller can log it.
func Parse(input string) (Command, error) {
	trimmed := strings.TrimSpace(input)
	kindToken, rest := trimmed, ""
	if i := strings.IndexFunc(trimmed, unicode.IsSpace); i >= 0 {
		kindToken, rest = trimmed[:i], trimmed[i:]
	}
	kind := Kind(kindToken)
	if _, known := kindCodes[kind]; !known {
		return Raw{Input: trimmed}, nil
	}

	parameter := strings.TrimSpace(rest)
	if parameter == "" {
		return Raw{Input: trimmed}, &ParseError{Input: input, Reason: "missing parameter for " + string(kind)}
	}

	return Config{Kind: kind, Parameter: parameter}, nil
}
