package engine

import "errors"

var (
	// ErrEmptyMessage is returned when outbound content is blank.
	ErrEmptyMessage = errors.New("message content is empty")
	// ErrPermissionDenied is returned when an actor tries to delete a
	// message they did not send.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMessageNotFound is returned when a message id is not in the
	// local history.
	ErrMessageNotFound = errors.New("message not found")
	// ErrStopped is returned by operations invoked after Shutdown.
	ErrStopped = errors.New("engine stopped")
)
