package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Kind classifies a remote failure.
type Kind string

const (
	// KindNetwork means the remote could not be reached.
	KindNetwork Kind = "network"
	// KindServer means the remote answered with a server-side failure.
	KindServer Kind = "server"
	// KindRequest means the request itself was rejected.
	KindRequest Kind = "request"
	// KindAuth means the identity was missing or refused.
	KindAuth Kind = "auth"
)

// Error is returned by every Store operation.
type Error struct {
	Kind    Kind
	Op      string // insert, update, delete, select, session, ping
	Table   string
	Status  int    // HTTP status, 0 when not applicable
	Code    string // backend error code (PGRST..., SQLSTATE)
	Message string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("remote ")
	b.WriteString(e.Op)
	if e.Table != "" {
		b.WriteString(" ")
		b.WriteString(e.Table)
	}
	fmt.Fprintf(&b, " (%s", e.Kind)
	if e.Status != 0 {
		fmt.Fprintf(&b, ", status %d", e.Status)
	}
	if e.Code != "" {
		fmt.Fprintf(&b, ", code %s", e.Code)
	}
	b.WriteString(")")
	switch {
	case e.Message != "":
		b.WriteString(": ")
		b.WriteString(e.Message)
	case e.Err != nil:
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same call may succeed.
func (e *Error) Transient() bool {
	return e.Kind == KindNetwork || e.Kind == KindServer
}

// KindOf returns the failure class of err. Errors not produced by this
// package count as network failures when they are transport errors and
// request failures otherwise.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var rerr *Error
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	if isTransportError(err) {
		return KindNetwork
	}
	return KindRequest
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindServer:
		return true
	}
	return false
}

// IsNetwork reports whether err means the remote is unreachable.
func IsNetwork(err error) bool {
	return KindOf(err) == KindNetwork
}

// isTransportError matches failures below the application protocol.
func isTransportError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// classifyStatus maps an HTTP response to a failure class. PostgREST codes
// (PGRST...) and gateway statuses count as server failures.
func classifyStatus(status int, code string) Kind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status >= 500:
		return KindServer
	case strings.HasPrefix(code, "PGRST"):
		return KindServer
	case isServerCode(code):
		return KindServer
	}
	return KindRequest
}

// isServerCode matches bodies that carry a 5xx status as their code.
func isServerCode(code string) bool {
	n, err := strconv.Atoi(code)
	return err == nil && n >= 500 && n < 600
}
