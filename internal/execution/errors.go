package execution

import "errors"

var (
	ErrUnsupportedLanguage = errors.New("unsupported language")
	ErrExternalService     = errors.New("execution service error")
	ErrExecutionTimeout    = errors.New("execution timed out")
	ErrTooManyJobs         = errors.New("too many running executions")
	ErrJobAbandoned        = errors.New("execution abandoned")
)

// Messages shown to the requester. They are the stderr of the error result.
const (
	msgUnsupportedLanguage = "Unsupported language."
	msgSubmitFailed        = "Failed to create submission."
	msgPollFailed          = "Failed to retrieve execution result."
	msgTimedOut            = "Execution timed out."
	msgTooManyJobs         = "Too many running executions."
)
