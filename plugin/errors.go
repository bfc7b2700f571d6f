package plugin

import (
	"errors"
	"strings"
)

// ErrNotLoaded is returned by callbacks after Close
var ErrNotLoaded = errors.New("plugin not loaded")

// CallbackError aggregates the per-publisher failures of one callback
type CallbackError struct {
	Callback string
	Errs     []error
}

func (e *CallbackError) Error() string {
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return e.Callback + ": " + strings.Join(msgs, " | ")
}

// Unwrap exposes every publisher error to errors.Is and errors.As
func (e *CallbackError) Unwrap() []error {
	return e.Errs
}

// collect returns nil for no errors, otherwise a *CallbackError
func collect(callback string, errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return &CallbackError{Callback: callback, Errs: errs}
}
