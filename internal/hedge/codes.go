package hedge

// Code is the machine-readable outcome of a workflow. The numeric
// values are the wire contract served by the trigger API.
type Code int

const (
	// CodeSuccess: the workflow completed or was a legitimate no-op.
	CodeSuccess Code = 200
	// CodeTaskRunning: the per-account lock is held; re-poll later.
	CodeTaskRunning Code = 201
	// CodeTaskComplete: the requested terminal state was already reached.
	CodeTaskComplete Code = 203
	// CodeSystemError: unexpected or unclassified failure.
	CodeSystemError Code = 500
	// CodeNotHedged: the position shape cannot be handled (e.g. close
	// on anything but a long-spot/short-swap pair).
	CodeNotHedged Code = 501
	// CodeAuthFailure: credentials did not resolve to an account.
	CodeAuthFailure Code = 502
	// CodePartialLegFailure: one leg filled, the other did not. The
	// account carries unintended directional exposure. Never retried
	// automatically; requires operator attention.
	CodePartialLegFailure Code = 510
	// CodeFirstLegFailure: the first leg failed outright. No exposure
	// was created; safe to retry later.
	CodeFirstLegFailure Code = 511
)

func (c Code) String() string {
	switch c {
	case CodeSuccess:
		return "success"
	case CodeTaskRunning:
		return "task already running"
	case CodeTaskComplete:
		return "task already complete"
	case CodeNotHedged:
		return "position is not a standard hedge"
	case CodeAuthFailure:
		return "unable to login, check your key"
	case CodePartialLegFailure:
		return "one leg filled without its pair, manual intervention required"
	case CodeFirstLegFailure:
		return "first leg failed, no exposure taken"
	default:
		return "system error"
	}
}
