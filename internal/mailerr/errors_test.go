package mailerr

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Is(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		sentinel error
		kind     Kind
	}{
		{"authentication", Authentication("login", errors.New("NO bad password")), ErrAuthentication, KindAuthentication},
		{"connection", Connection("fetch", io.EOF), ErrConnection, KindConnection},
		{"not found", NotFound("uid %d not found in %s", 7, "inbox"), ErrNotFound, KindNotFound},
		{"delivery", Delivery("550 no such user", nil), ErrDelivery, KindDelivery},
		{"invalid argument", InvalidArgument("page must be >= 1"), ErrInvalidArgument, KindInvalidArgument},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(tt.err))

			wrapped := fmt.Errorf("failed to do thing: %w", tt.err)
			assert.ErrorIs(t, wrapped, tt.sentinel)
			assert.Equal(t, tt.kind, KindOf(wrapped))

			for _, other := range []error{ErrAuthentication, ErrConnection, ErrNotFound, ErrDelivery, ErrInvalidArgument} {
				if other != tt.sentinel {
					assert.NotErrorIs(t, tt.err, other)
				}
			}
		})
	}
}

func TestReason(t *testing.T) {
	t.Run("classified errors expose their reason", func(t *testing.T) {
		err := fmt.Errorf("outer: %w", NotFound("uid 4 not found in trash"))
		assert.Equal(t, "uid 4 not found in trash", Reason(err))
	})

	t.Run("unclassified errors fall back to the message", func(t *testing.T) {
		assert.Equal(t, "boom", Reason(errors.New("boom")))
	})

	t.Run("nil has no reason", func(t *testing.T) {
		assert.Equal(t, "", Reason(nil))
	})

	t.Run("reasons are distinguishable across kinds", func(t *testing.T) {
		reasons := map[string]bool{}
		for _, err := range []error{
			Authentication("login", nil),
			Connection("dial", nil),
			NotFound("missing"),
			Delivery("rejected", nil),
			InvalidArgument("bad"),
		} {
			reasons[Reason(err)] = true
		}
		assert.Len(t, reasons, 5)
	})
}

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(Connection("data", io.ErrUnexpectedEOF)))
	assert.False(t, IsTransient(Delivery("550 rejected", nil)))
	assert.False(t, IsTransient(Delivery("gave up", Connection("data", io.EOF))))
	assert.False(t, IsTransient(errors.New("plain")))
}

func TestError_Message(t *testing.T) {
	err := Connection("select INBOX", io.EOF)
	assert.Equal(t, "select INBOX: EOF", err.Error())

	err = Delivery("550 mailbox unavailable", errors.New("smtp: 550 mailbox unavailable"))
	assert.Contains(t, err.Error(), "550 mailbox unavailable")
}
