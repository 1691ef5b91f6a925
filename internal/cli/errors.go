package cli

import "fmt"

// ExitError represents a command failure with a specific exit code.
//
// Cobra RunE functions return NewExitError(code) instead of calling
// os.Exit() directly, so tests can assert on exit codes without process
// termination. [RunWithConfig] extracts the code via [IsExitError]; only
// [Execute] terminates the process.
type ExitError struct {
	// Code is the exit code to return to the shell.
	// Convention: 0 = success, 1 = invalid protocol or failed export,
	// 2 = usage error.
	Code int
}

// Error returns "exit status N", matching the os/exec convention.
func (e *ExitError) Error() string {
	return fmt.Sprintf("exit status %d", e.Code)
}

// NewExitError creates an [ExitError] with the given exit code.
func NewExitError(code int) *ExitError {
	return &ExitError{Code: code}
}

// IsExitError checks whether err is an [ExitError] and extracts its code.
// Returns (0, false) for nil or unrelated errors.
func IsExitError(err error) (int, bool) {
	if exitErr, ok := err.(*ExitError); ok {
		return exitErr.Code, true
	}
	return 0, false
}
