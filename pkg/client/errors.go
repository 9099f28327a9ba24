package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/fruitsalade/dropbox/pkg/protocol"
)

// Argument and state errors.
var (
	ErrUnauthorized         = errors.New("dropbox: must authorize before calling API methods")
	ErrAlreadyAuthorized    = errors.New("dropbox: session is already authorized")
	ErrInvalidPath          = errors.New("dropbox: invalid path")
	ErrInvalidName          = errors.New("dropbox: name must not contain a path separator")
	ErrInvalidMode          = errors.New("dropbox: invalid mode")
	ErrInvalidSerialization = errors.New("dropbox: invalid serialized session")
	ErrInvalidUploadSource  = errors.New("dropbox: invalid upload source")
)

// Expected conditions reported by the Entry façade.
var (
	ErrNotADirectory = errors.New("dropbox: not a directory")
	ErrNotAFile      = errors.New("dropbox: not a file")
)

// UnsuccessfulResponseError is returned when the server answers with a
// status that has no more specific mapping.
type UnsuccessfulResponseError struct {
	Method     string
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
}

func (e *UnsuccessfulResponseError) Error() string {
	msg := fmt.Sprintf("dropbox: %s %s returned %d", e.Method, e.URL, e.StatusCode)
	if m := e.ServerMessage(); m != "" {
		msg += ": " + m
	} else if len(e.Body) > 0 {
		msg += ": " + truncate(string(e.Body), 200)
	}
	return msg
}

// ServerMessage returns the "error" field of a JSON error body, or "".
func (e *UnsuccessfulResponseError) ServerMessage() string {
	var body protocol.ErrorResponse
	if err := json.Unmarshal(e.Body, &body); err != nil {
		return ""
	}
	return body.Error
}

// ParseError is returned when a response body that should be JSON is not.
type ParseError struct {
	URL  string
	Body []byte
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("dropbox: invalid response from %s: %v", e.URL, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// FileNotFoundError maps a 404 from a file-targeting operation.
type FileNotFoundError struct {
	Path     string
	Response *UnsuccessfulResponseError
}

func (e *FileNotFoundError) Error() string {
	return fmt.Sprintf("dropbox: file not found: %s", e.Path)
}

func (e *FileNotFoundError) Unwrap() error {
	return e.Response
}

// FileExistsError maps a 403 from a collision-sensitive operation.
type FileExistsError struct {
	Path     string
	Response *UnsuccessfulResponseError
}

func (e *FileExistsError) Error() string {
	return fmt.Sprintf("dropbox: file already exists: %s", e.Path)
}

func (e *FileExistsError) Unwrap() error {
	return e.Response
}

// TooManyEntriesError is returned when a listing exceeds the requested limit.
type TooManyEntriesError struct {
	Path     string
	Response *UnsuccessfulResponseError
}

func (e *TooManyEntriesError) Error() string {
	return fmt.Sprintf("dropbox: too many entries in %s", e.Path)
}

func (e *TooManyEntriesError) Unwrap() error {
	return e.Response
}

// AsUnsuccessful checks if err wraps an UnsuccessfulResponseError.
func AsUnsuccessful(err error) (*UnsuccessfulResponseError, bool) {
	var ue *UnsuccessfulResponseError
	if errors.As(err, &ue) {
		return ue, true
	}
	return nil, false
}

// IsNotFound reports whether err is a FileNotFoundError or a raw 404.
func IsNotFound(err error) bool {
	var nf *FileNotFoundError
	if errors.As(err, &nf) {
		return true
	}
	ue, ok := AsUnsuccessful(err)
	return ok && ue.StatusCode == http.StatusNotFound
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
