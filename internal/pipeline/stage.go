package pipeline

// Stage is a phase of operation execution.
type Stage int

const (
	StageModel Stage = iota
	StageRuntime
	StageVerify
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageModel:
		return "MODEL"
	case StageRuntime:
		return "RUNTIME"
	case StageVerify:
		return "VERIFY"
	case StageDone:
		return "DONE"
	default:
		return "UNKNOWN"
	}
}

// ResultAction is what a completed step learns about the operation's fate.
type ResultAction int

const (
	// Keep means the operation committed.
	Keep ResultAction = iota
	// Rollback means the step must undo its local effect.
	Rollback
)

func (a ResultAction) String() string {
	if a == Keep {
		return "KEEP"
	}
	return "ROLLBACK"
}
