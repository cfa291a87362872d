package authz

import "errors"

var (
	// ErrAccessDenied is returned by callers that turn a false decision into an error.
	ErrAccessDenied = errors.New("authz: access denied")
	// ErrEvaluation wraps lookup failures during evaluation.
	ErrEvaluation = errors.New("authz: evaluation failed")
	// ErrMalformedScheme reports a requirement the evaluator cannot interpret.
	ErrMalformedScheme = errors.New("authz: malformed scheme")
)
