package coordinator

import "errors"

var (
	// ErrUnknownAgent is returned for requests from unregistered agents.
	ErrUnknownAgent = errors.New("agent not registered")

	// ErrUnknownInstance is returned when the problem instance does not exist.
	ErrUnknownInstance = errors.New("problem instance not found")

	// ErrInstanceInactive is returned when the instance is no longer
	// accepting submissions (budget exhausted or deactivated).
	ErrInstanceInactive = errors.New("problem instance not accepting submissions")

	// ErrDuplicateSubmitter is returned when the agent already has an open
	// submission on the instance.
	ErrDuplicateSubmitter = errors.New("agent already has a pending submission for this instance")

	// ErrUnknownSubmission is returned when the submission id does not exist.
	ErrUnknownSubmission = errors.New("solution submission not found")

	// ErrWindowClosed is returned for votes arriving after the validation
	// window reached a terminal state.
	ErrWindowClosed = errors.New("validation window closed")

	// ErrSelfValidation is returned when an agent tries to vote on its own
	// submission.
	ErrSelfValidation = errors.New("agents cannot validate their own submissions")

	// ErrDuplicateVote is returned when an agent votes twice on the same
	// submission.
	ErrDuplicateVote = errors.New("agent already voted on this submission")

	// ErrNoValidationTask is returned when no eligible pending submission
	// exists for the requesting agent.
	ErrNoValidationTask = errors.New("no validation task available")

	// ErrShuttingDown is returned for intake requests during shutdown.
	ErrShuttingDown = errors.New("coordinator shutting down")
)
