package models

import (
	"fmt"
	"html"
	"strings"
	"time"
)

// Address is a mailbox address with an optional display name.
type Address struct {
	Name    string `json:"name,omitempty"`
	Address string `json:"address"`
}

func (a Address) String() string {
	if a.Name == "" {
		return a.Address
	}
	return fmt.Sprintf("%s <%s>", a.Name, a.Address)
}

// Flag is a per-message flag the owner can toggle.
type Flag string

const (
	FlagRead    Flag = "read"
	FlagStarred Flag = "starred"
)

// Flags holds the owner-visible message flags.
type Flags struct {
	Read    bool `json:"read"`
	Starred bool `json:"starred"`
}

// MessageKey identifies a message. UIDs are scoped to their folder.
type MessageKey struct {
	Folder string `json:"folder"`
	UID    uint32 `json:"uid"`
}

func (k MessageKey) String() string {
	return fmt.Sprintf("%s/%d", k.Folder, k.UID)
}

// AttachmentRef references an attachment by opaque identifier. The bytes
// themselves live in the message or in the blob store.
type AttachmentRef struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
	Inline      bool   `json:"inline,omitempty"`
	ContentID   string `json:"content_id,omitempty"`
}

// Message is a message as seen in one folder.
type Message struct {
	Folder         string          `json:"folder"`
	UID            uint32          `json:"uid"`
	MessageID      string          `json:"message_id,omitempty"`
	InReplyTo      string          `json:"in_reply_to,omitempty"`
	From           Address         `json:"from"`
	To             []Address       `json:"to,omitempty"`
	Cc             []Address       `json:"cc,omitempty"`
	Bcc            []Address       `json:"bcc,omitempty"`
	Subject        string          `json:"subject"`
	BodyText       string          `json:"body_text,omitempty"`
	BodyHTML       string          `json:"body_html,omitempty"`
	Raw            []byte          `json:"-"`
	ReceivedAt     time.Time       `json:"received_at"`
	SentAt         *time.Time      `json:"sent_at,omitempty"`
	Flags          Flags           `json:"flags"`
	HasAttachments bool            `json:"has_attachments"`
	Attachments    []AttachmentRef `json:"attachments,omitempty"`
	Size           uint32          `json:"size"`
}

// Key returns the message's (folder, UID) identity.
func (m *Message) Key() MessageKey {
	return MessageKey{Folder: m.Folder, UID: m.UID}
}

// RenderedHTML returns the HTML body, or the text body escaped and with line
// breaks turned into <br> when the message has no HTML part.
func (m *Message) RenderedHTML() string {
	if m.BodyHTML != "" {
		return m.BodyHTML
	}
	if m.BodyText == "" {
		return ""
	}
	escaped := html.EscapeString(strings.ReplaceAll(m.BodyText, "\r\n", "\n"))
	return strings.ReplaceAll(escaped, "\n", "<br>\n")
}

// AsDraft converts a message stored in Drafts back into an editable draft.
func (m *Message) AsDraft() *OutboundDraft {
	return &OutboundDraft{
		DraftID:     m.UID,
		From:        m.From,
		To:          m.To,
		Cc:          m.Cc,
		Bcc:         m.Bcc,
		Subject:     m.Subject,
		BodyText:    m.BodyText,
		BodyHTML:    m.BodyHTML,
		InReplyTo:   m.InReplyTo,
		Attachments: m.Attachments,
	}
}

// Page is one page of a folder listing.
type Page struct {
	Messages   []*Message `json:"messages"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
	Page       int        `json:"page"`
	PageSize   int        `json:"page_size"`
}
