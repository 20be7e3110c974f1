package device

import (
	"fmt"
	"strconv"
)

// Code is the sub-command selector understood by the capture program.
type Code int

const (
	CodeRead      Code = 0
	CodeFlush     Code = 3
	CodeTimebase  Code = 4
	CodeTrigLevel Code = 6
	CodeTrigDir   Code = 8
	CodeTrigMode  Code = 10
)

func (c Code) String() string {
	return strconv.Itoa(int(c))
}

// Phase tells the executor how a failure of the op affects the rest of the sequence.
type Phase int

const (
	// PhaseConfigure ops are skipped once an earlier configure op failed.
	PhaseConfigure Phase = iota
	// PhaseFlush ops always run so stale captures are drained.
	PhaseFlush
	// PhaseRead ops always run and produce the capture.
	PhaseRead
)

func (p Phase) String() string {
	switch p {
	case PhaseConfigure:
		return "configure"
	case PhaseFlush:
		return "flush"
	case PhaseRead:
		return "read"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// ResultShape says what the caller does with the process output.
type ResultShape int

const (
	ResultIgnore ResultShape = iota
	ResultCapture
)

// Op is one external invocation.
type Op struct {
	Code   Code
	Args   []string
	Phase  Phase
	Result ResultShape
}

// Argv returns the arguments appended to the program's invocation line.
func (o Op) Argv() []string {
	argv := make([]string, 0, len(o.Args)+1)
	argv = append(argv, o.Code.String())
	argv = append(argv, o.Args...)
	return argv
}

func (o Op) String() string {
	if len(o.Args) == 0 {
		return fmt.Sprintf("%s(%d)", o.Phase, o.Code)
	}
	return fmt.Sprintf("%s(%d %v)", o.Phase, o.Code, o.Args)
}

func Configure(code Code, args ...string) Op {
	return Op{Code: code, Args: args, Phase: PhaseConfigure, Result: ResultIgnore}
}

func Flush() Op {
	return Op{Code: CodeFlush, Phase: PhaseFlush, Result: ResultIgnore}
}

func Read() Op {
	return Op{Code: CodeRead, Phase: PhaseRead, Result: ResultCapture}
}

// Sequence is an ordered list of ops; each op starts only after the previous process exited.
type Sequence []Op
