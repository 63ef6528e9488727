package model

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel error kinds shared by the scoring engine and its callers.
// Callers match them with errors.Is.
var (
	ErrValidation          = errors.New("validation failed")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrInvalidTransition   = errors.New("invalid transition")
	ErrBudgetExceeded      = errors.New("budget exceeded")
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	ErrStoreUnavailable    = errors.New("store unavailable")
	ErrNotFound            = errors.New("not found")

	ErrNegativeScore       = fmt.Errorf("%w: score would become negative", ErrInvalidTransition)
	ErrSetFinished         = fmt.Errorf("%w: set already finished", ErrInvalidTransition)
	ErrMatchAlreadyDecided = fmt.Errorf("%w: match already decided", ErrInvalidTransition)
)

// FieldError names one offending RuleSet field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every field that failed validation.
type ValidationError struct {
	Fields []FieldError
}

// Add records a failed field.
func (e *ValidationError) Add(field, format string, args ...any) {
	e.Fields = append(e.Fields, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

// Empty reports whether no field failed.
func (e *ValidationError) Empty() bool { return e == nil || len(e.Fields) == 0 }

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap lets errors.Is(err, ErrValidation) match.
func (e *ValidationError) Unwrap() error { return ErrValidation }

// BudgetError reports a spent timeout or substitution budget.
type BudgetError struct {
	Kind      EventKind // timeout or substitution
	Side      Side
	Scope     Scope // window the budget covers
	SetNumber int   // set of the request
	Used      int
	Max       int
}

func (e *BudgetError) Error() string {
	window := "match"
	if e.Scope == ScopeSet {
		window = fmt.Sprintf("set %d", e.SetNumber)
	}
	return fmt.Sprintf("budget exceeded: %s has used %d of %d %ss in %s", e.Side, e.Used, e.Max, e.Kind, window)
}

// Unwrap lets errors.Is(err, ErrBudgetExceeded) match.
func (e *BudgetError) Unwrap() error { return ErrBudgetExceeded }

// Retryable reports whether err is transient and safe to retry.
func Retryable(err error) bool {
	return errors.Is(err, ErrConcurrencyConflict) || errors.Is(err, ErrStoreUnavailable)
}
