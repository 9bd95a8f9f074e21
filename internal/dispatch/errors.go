package dispatch

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoAdapter        = errors.New("no adapter registered")
	ErrContainerTimeout = errors.New("threads container was not ready in time")
)

// UnknownChannelError is returned when a channel name has no registered adapter
type UnknownChannelError struct {
	Channel string
}

func (e *UnknownChannelError) Error() string {
	return fmt.Sprintf("no adapter registered for channel %q", e.Channel)
}

func (e *UnknownChannelError) Unwrap() error { return ErrNoAdapter }

// ConfigError means an adapter could not start a send because credentials or
// endpoints are missing. No network call has been made when it is returned.
type ConfigError struct {
	Adapter string
	Missing []string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("%s adapter is not configured: missing %s", e.Adapter, strings.Join(e.Missing, ", "))
}

// PhaseError carries a non-2xx response from one step of a provider call
type PhaseError struct {
	Phase      string
	StatusCode int
	Body       string
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("%s failed with status %d: %s", e.Phase, e.StatusCode, e.Body)
}

// ContainerError is a terminal container status reported by Threads
type ContainerError struct {
	CreationID string
	Status     string
	Message    string
}

func (e *ContainerError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = "no error message"
	}
	return fmt.Sprintf("threads container %s is %s: %s", e.CreationID, e.Status, msg)
}
