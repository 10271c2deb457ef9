package imap

import (
	"errors"
	"io"
	"net"
	"strings"
	"syscall"

	"github.com/emersion/go-imap/client"
)

// brokenConnectionMarkers are substrings of errors that mean the connection is
// gone rather than that the server refused a command.
var brokenConnectionMarkers = []string{
	"broken pipe",
	"connection reset",
	"connection refused",
	"use of closed network connection",
	"connection closed",
	"i/o timeout",
	"EOF",
}

// IsConnectionError reports whether err means the connection failed, as
// opposed to a NO or BAD reply to a command.
func IsConnectionError(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) || errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.EPIPE) || errors.Is(err, syscall.ECONNREFUSED) {
		return true
	}

	// The client drops to the logout state once the server hangs up.
	if errors.Is(err, client.ErrNotLoggedIn) || errors.Is(err, client.ErrAlreadyLoggedOut) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := err.Error()
	for _, marker := range brokenConnectionMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
