package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/dukex/flowpoint/pkg/models"
)

// NodeError is a classified node execution error.
type NodeError struct {
	Kind models.ErrorKind
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s error: %v", e.Kind, e.Err)
}

func (e *NodeError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the dispatcher's retry policy applies.
func (e *NodeError) Retryable() bool {
	return e.Kind == models.ErrorKindTransient
}

// ConfigError marks err as a malformed node config. It aborts the branch.
func ConfigError(err error) error {
	return &NodeError{Kind: models.ErrorKindConfig, Err: err}
}

// TransientError marks err as a temporary collaborator failure.
func TransientError(err error) error {
	return &NodeError{Kind: models.ErrorKindTransient, Err: err}
}

// PermanentError marks err as a rejection by a collaborator. It aborts the branch.
func PermanentError(err error) error {
	return &NodeError{Kind: models.ErrorKindPermanent, Err: err}
}

// Configf is a shortcut for ConfigError(fmt.Errorf(...)).
func Configf(format string, args ...any) error {
	return ConfigError(fmt.Errorf(format, args...))
}

// Classify returns the error kind of err. Unclassified errors and deadline
// expiries are transient; cancellation is reported as permanent so it is not
// retried.
func Classify(err error) models.ErrorKind {
	var nodeErr *NodeError
	if errors.As(err, &nodeErr) {
		return nodeErr.Kind
	}

	if errors.Is(err, context.Canceled) {
		return models.ErrorKindPermanent
	}

	return models.ErrorKindTransient
}
