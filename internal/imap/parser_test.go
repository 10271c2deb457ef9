package imap

import (
	"strings"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

func TestConvertAddress(t *testing.T) {
	t.Run("keeps personal name and address", func(t *testing.T) {
		got := convertAddress(&imap.Address{PersonalName: "John Doe", MailboxName: "john", HostName: "example.com"})
		if got.Name != "John Doe" || got.Address != "john@example.com" {
			t.Errorf("Unexpected address: %+v", got)
		}
	})

	t.Run("returns empty address for nil", func(t *testing.T) {
		if got := convertAddress(nil); got.Address != "" {
			t.Errorf("Expected empty address, got %+v", got)
		}
	})

	t.Run("skips group markers in lists", func(t *testing.T) {
		got := convertAddressList([]*imap.Address{
			{MailboxName: "user1", HostName: "example.com"},
			{},
			{PersonalName: "User Two", MailboxName: "user2", HostName: "example.com"},
		})
		if len(got) != 2 {
			t.Fatalf("Expected 2 addresses, got %d", len(got))
		}
		if got[1].String() != "User Two <user2@example.com>" {
			t.Errorf("Unexpected second address: %s", got[1].String())
		}
	})
}

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name  string
		flags []string
		want  models.Flags
	}{
		{"no flags", nil, models.Flags{}},
		{"seen", []string{imap.SeenFlag}, models.Flags{Read: true}},
		{"flagged", []string{imap.FlaggedFlag}, models.Flags{Starred: true}},
		{"both plus others", []string{imap.AnsweredFlag, imap.SeenFlag, imap.FlaggedFlag}, models.Flags{Read: true, Starred: true}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseFlags(tt.flags); got != tt.want {
				t.Errorf("ParseFlags(%v) = %+v, want %+v", tt.flags, got, tt.want)
			}
		})
	}
}

func TestMessageFromHeaders(t *testing.T) {
	sent := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	received := sent.Add(time.Minute)

	msg := MessageFromHeaders(&imap.Message{
		Uid:          42,
		Flags:        []string{imap.SeenFlag},
		InternalDate: received,
		Size:         1234,
		Envelope: &imap.Envelope{
			Date:      sent,
			Subject:   "Quarterly report",
			From:      []*imap.Address{{PersonalName: "Alice", MailboxName: "alice", HostName: "example.com"}},
			To:        []*imap.Address{{MailboxName: "bob", HostName: "example.com"}},
			MessageId: "<report@example.com>",
			InReplyTo: "<earlier@example.com>",
		},
		BodyStructure: &imap.BodyStructure{
			MIMEType: "multipart",
			Parts: []*imap.BodyStructure{
				{MIMEType: "text", MIMESubType: "plain"},
				{MIMEType: "application", MIMESubType: "pdf", Disposition: "attachment"},
			},
		},
	}, models.FolderInbox)

	if msg.UID != 42 || msg.Folder != models.FolderInbox {
		t.Errorf("Unexpected key: %+v", msg.Key())
	}
	if msg.MessageID != "report@example.com" {
		t.Errorf("Expected brackets to be stripped, got %q", msg.MessageID)
	}
	if msg.InReplyTo != "earlier@example.com" {
		t.Errorf("Unexpected In-Reply-To %q", msg.InReplyTo)
	}
	if msg.From.Address != "alice@example.com" || msg.From.Name != "Alice" {
		t.Errorf("Unexpected sender %+v", msg.From)
	}
	if len(msg.To) != 1 || msg.To[0].Address != "bob@example.com" {
		t.Errorf("Unexpected recipients %+v", msg.To)
	}
	if !msg.Flags.Read || msg.Flags.Starred {
		t.Errorf("Unexpected flags %+v", msg.Flags)
	}
	if !msg.HasAttachments {
		t.Error("Expected attachment to be detected from body structure")
	}
	if msg.SentAt == nil || !msg.SentAt.Equal(sent) {
		t.Errorf("Unexpected sent time %v", msg.SentAt)
	}
	if !msg.ReceivedAt.Equal(received) {
		t.Errorf("Unexpected received time %v", msg.ReceivedAt)
	}
}

func TestParseRaw(t *testing.T) {
	t.Run("parses plain text message", func(t *testing.T) {
		raw := strings.Join([]string{
			"Message-ID: <plain@example.com>",
			"From: Alice <alice@example.com>",
			"To: bob@example.com, Carol <carol@example.com>",
			"Subject: Hello",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"Hi Bob",
		}, "\r\n")

		msg := &models.Message{}
		if err := ParseRaw([]byte(raw), msg); err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		if msg.Subject != "Hello" {
			t.Errorf("Unexpected subject %q", msg.Subject)
		}
		if !strings.Contains(msg.BodyText, "Hi Bob") {
			t.Errorf("Unexpected body %q", msg.BodyText)
		}
		if msg.MessageID != "plain@example.com" {
			t.Errorf("Unexpected Message-ID %q", msg.MessageID)
		}
		if len(msg.To) != 2 || msg.To[1].Name != "Carol" {
			t.Errorf("Unexpected recipients %+v", msg.To)
		}
		if msg.Cc != nil {
			t.Errorf("Expected no Cc, got %+v", msg.Cc)
		}
		if msg.HasAttachments {
			t.Error("Expected no attachments")
		}
		if msg.Size != uint32(len(raw)) {
			t.Errorf("Expected size %d, got %d", len(raw), msg.Size)
		}
	})

	t.Run("lists attachments with their ids", func(t *testing.T) {
		raw := strings.Join([]string{
			"Message-ID: <attach@example.com>",
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: Files",
			"MIME-Version: 1.0",
			`Content-Type: multipart/mixed; boundary="XYZ"`,
			"",
			"--XYZ",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"See attached",
			"--XYZ",
			"Content-Type: application/pdf",
			`Content-Disposition: attachment; filename="report.pdf"`,
			AttachmentIDHeader + ": blob-1",
			"",
			"PDFDATA",
			"--XYZ",
			"Content-Type: text/csv",
			`Content-Disposition: attachment; filename="data.csv"`,
			"",
			"a,b",
			"--XYZ--",
			"",
		}, "\r\n")

		msg := &models.Message{}
		if err := ParseRaw([]byte(raw), msg); err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		if len(msg.Attachments) != 2 {
			t.Fatalf("Expected 2 attachments, got %d", len(msg.Attachments))
		}
		if msg.Attachments[0].ID != "blob-1" || msg.Attachments[0].Filename != "report.pdf" {
			t.Errorf("Unexpected first attachment %+v", msg.Attachments[0])
		}
		if msg.Attachments[1].ID != "part-2" || msg.Attachments[1].Inline {
			t.Errorf("Unexpected second attachment %+v", msg.Attachments[1])
		}
		if !msg.HasAttachments {
			t.Error("Expected HasAttachments to be set")
		}

		contents, err := AttachmentContents([]byte(raw))
		if err != nil {
			t.Fatalf("AttachmentContents failed: %v", err)
		}
		if string(contents["blob-1"]) != "PDFDATA" {
			t.Errorf("Expected blob-1 content PDFDATA, got %q", contents["blob-1"])
		}
		if string(contents["part-2"]) != "a,b" {
			t.Errorf("Expected part-2 content a,b, got %q", contents["part-2"])
		}
	})

	t.Run("inline body parts are not attachments", func(t *testing.T) {
		raw := strings.Join([]string{
			"Message-ID: <bodies@example.com>",
			"From: alice@example.com",
			"To: bob@example.com",
			"Subject: Bodies",
			"MIME-Version: 1.0",
			`Content-Type: multipart/mixed; boundary="OUTER"`,
			"",
			"--OUTER",
			`Content-Type: multipart/alternative; boundary="ALT"`,
			"",
			"--ALT",
			"Content-Type: text/plain; charset=utf-8",
			"",
			"Plain body",
			"--ALT",
			"Content-Type: text/html; charset=utf-8",
			"",
			"<p>HTML body</p>",
			"--ALT--",
			"--OUTER",
			"Content-Type: image/png",
			`Content-Disposition: inline; filename="logo.png"`,
			"Content-Id: <logo@example.com>",
			"",
			"PNGDATA",
			"--OUTER--",
			"",
		}, "\r\n")

		msg := &models.Message{}
		if err := ParseRaw([]byte(raw), msg); err != nil {
			t.Fatalf("ParseRaw failed: %v", err)
		}

		if len(msg.Attachments) != 1 {
			t.Fatalf("Expected only the image as attachment, got %+v", msg.Attachments)
		}
		got := msg.Attachments[0]
		if got.Filename != "logo.png" || !got.Inline || got.ContentID != "logo@example.com" {
			t.Errorf("Unexpected inline attachment %+v", got)
		}
		if !strings.Contains(msg.BodyText, "Plain body") || !strings.Contains(msg.BodyHTML, "HTML body") {
			t.Errorf("Expected both bodies, got text %q html %q", msg.BodyText, msg.BodyHTML)
		}

		contents, err := AttachmentContents([]byte(raw))
		if err != nil {
			t.Fatalf("AttachmentContents failed: %v", err)
		}
		if len(contents) != 1 {
			t.Errorf("Expected one attachment body, got %d", len(contents))
		}
	})
}
