package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/vdavid/vmail/mailcore/internal/testutil"
)

func TestFetchHeaders(t *testing.T) {
	t.Run("returns error for nil client", func(t *testing.T) {
		_, err := FetchHeaders(nil, []uint32{1, 2, 3})
		if err == nil || err.Error() != "client is nil" {
			t.Errorf("Expected 'client is nil' error, got: %v", err)
		}
	})

	t.Run("returns empty map for empty UIDs", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		c, cleanup := server.Connect(t)
		defer cleanup()

		result, err := FetchHeaders(c, []uint32{})
		if err != nil {
			t.Errorf("Expected no error for empty UIDs, got: %v", err)
		}
		if result == nil || len(result) != 0 {
			t.Errorf("Expected empty map, got %v", result)
		}
	})

	t.Run("fetches headers and skips missing UIDs", func(t *testing.T) {
		server := testutil.NewTestIMAPServer(t)
		uid := server.AddMessage(t, "INBOX", testutil.TestMessage{
			MessageID: "<headers@example.com>",
			Subject:   "Test Subject",
			From:      "from@example.com",
		})

		c, cleanup := server.Connect(t)
		defer cleanup()
		if _, err := SelectMailbox(c, InboxPath); err != nil {
			t.Fatalf("Failed to select INBOX: %v", err)
		}

		messages, err := FetchHeaders(c, []uint32{uid, uid + 100})
		if err != nil {
			t.Fatalf("FetchHeaders failed: %v", err)
		}
		if len(messages) != 1 {
			t.Fatalf("Expected 1 message, got %d", len(messages))
		}
		msg := messages[uid]
		if msg == nil || msg.Envelope == nil {
			t.Fatal("Expected envelope for fetched message")
		}
		if msg.Envelope.Subject != "Test Subject" {
			t.Errorf("Expected subject 'Test Subject', got %s", msg.Envelope.Subject)
		}
	})
}

func TestFetchFlags(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	uid := server.AddMessage(t, "INBOX", testutil.TestMessage{
		Subject: "Flagged",
		From:    "from@example.com",
		Flags:   []string{imap.FlaggedFlag},
	})

	c, cleanup := server.Connect(t)
	defer cleanup()
	if _, err := SelectMailbox(c, InboxPath); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	flags, ok, err := FetchFlags(c, uid)
	if err != nil || !ok {
		t.Fatalf("FetchFlags failed: ok=%v err=%v", ok, err)
	}
	if !HasFlag(flags, imap.FlaggedFlag) {
		t.Errorf("Expected \\Flagged in %v", flags)
	}

	_, ok, err = FetchFlags(c, uid+100)
	if err != nil {
		t.Fatalf("FetchFlags failed for missing UID: %v", err)
	}
	if ok {
		t.Error("Expected missing UID to report ok=false")
	}
}

func TestFetchFull(t *testing.T) {
	server := testutil.NewTestIMAPServer(t)
	uid := server.AddMessage(t, "INBOX", testutil.TestMessage{
		MessageID:  "<full@example.com>",
		Subject:    "Full body",
		From:       "from@example.com",
		Body:       "The complete body.",
		ReceivedAt: time.Now().Add(-time.Hour),
	})

	c, cleanup := server.Connect(t)
	defer cleanup()
	if _, err := SelectMailbox(c, InboxPath); err != nil {
		t.Fatalf("Failed to select INBOX: %v", err)
	}

	msg, raw, err := FetchFull(c, uid)
	if err != nil {
		t.Fatalf("FetchFull failed: %v", err)
	}
	if msg == nil {
		t.Fatal("Expected message")
	}
	if !strings.Contains(string(raw), "The complete body.") {
		t.Errorf("Expected raw body, got %q", string(raw))
	}
	if HasFlag(server.Flags(t, "INBOX", uid), imap.SeenFlag) {
		t.Error("Fetching the body must not mark the message as read")
	}

	msg, _, err = FetchFull(c, uid+100)
	if err != nil || msg != nil {
		t.Errorf("Expected nil message for missing UID, got %v, %v", msg, err)
	}
}
