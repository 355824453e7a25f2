package router

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies a failed navigation.
type Kind string

const (
	KindNetwork Kind = "network"
	KindServer  Kind = "server"
	KindClient  Kind = "client"
	KindTimeout Kind = "timeout"
	KindRender  Kind = "render"
)

// ErrBusy is returned by Navigate when another navigation is in flight.
var ErrBusy = errors.New("router: navigation already in progress")

// FetchError is a terminal fragment fetch or render failure.
type FetchError struct {
	Kind     Kind
	Path     string
	Status   int // HTTP status, 0 when no response was received
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	switch {
	case e.Status != 0:
		return fmt.Sprintf("router: %s %s: HTTP %d after %d attempt(s)", e.Kind, e.Path, e.Status, e.Attempts)
	case e.Err != nil:
		return fmt.Sprintf("router: %s %s: %v", e.Kind, e.Path, e.Err)
	default:
		return fmt.Sprintf("router: %s %s", e.Kind, e.Path)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// Retryable reports whether another attempt may succeed.
func (e *FetchError) Retryable() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// IsTimeout reports whether err is a fetch timeout.
func IsTimeout(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe) && fe.Kind == KindTimeout
}

// UserMessage is the text shown in the error banner.
func UserMessage(err error) string {
	var fe *FetchError
	if !errors.As(err, &fe) {
		return "Navigation failed. Please try again."
	}
	switch fe.Kind {
	case KindTimeout:
		return "The page took too long to load. Please try again."
	case KindNetwork:
		return "Unable to reach the panel. Check your connection and try again."
	case KindServer:
		return fmt.Sprintf("The server failed to load this page (%d %s).", fe.Status, http.StatusText(fe.Status))
	case KindClient:
		if fe.Status == http.StatusNotFound {
			return "This page does not exist."
		}
		return fmt.Sprintf("Failed to load page (%d %s).", fe.Status, http.StatusText(fe.Status))
	default:
		return "The page could not be displayed."
	}
}
