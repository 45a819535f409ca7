package campaign

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	ErrAlreadyRunning  = errors.New("campaign loop is already running")
	ErrChannelNotReady = errors.New("whatsapp channel is not ready")
)

// ValidationError wraps rule failures on a create request.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string   { return e.Err.Error() }
func (e *ValidationError) Unwrap() error   { return e.Err }
func (e *ValidationError) StatusCode() int { return http.StatusBadRequest }

type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) StatusCode() int { return http.StatusNotFound }

// StateError is an operation the campaign's current status does not allow.
type StateError struct {
	ID     string
	Op     string
	Status Status
	Err    error
}

func (e *StateError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("cannot %s campaign %s: %v", e.Op, e.ID, e.Err)
	}
	return fmt.Sprintf("cannot %s campaign %s in status %s", e.Op, e.ID, e.Status)
}

func (e *StateError) Unwrap() error   { return e.Err }
func (e *StateError) StatusCode() int { return http.StatusConflict }

// ChannelError is a failed send to one recipient.
type ChannelError struct {
	Recipient string
	Err       error
}

func (e *ChannelError) Error() string {
	return fmt.Sprintf("send to %s: %v", e.Recipient, e.Err)
}

func (e *ChannelError) Unwrap() error   { return e.Err }
func (e *ChannelError) StatusCode() int { return http.StatusBadGateway }

// MediaError is media that could not be loaded or uploaded.
type MediaError struct {
	URL string
	Err error
}

func (e *MediaError) Error() string {
	return fmt.Sprintf("media %s: %v", e.URL, e.Err)
}

func (e *MediaError) Unwrap() error   { return e.Err }
func (e *MediaError) StatusCode() int { return http.StatusUnprocessableEntity }

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}
