package models

import "strings"

// OutboundDraft is an owner-authored message that has not been sent yet.
// DraftID is the draft's UID in the Drafts folder, or 0 if it was never saved.
type OutboundDraft struct {
	DraftID     uint32          `json:"draft_id,omitempty"`
	From        Address         `json:"from"`
	To          []Address       `json:"to,omitempty"`
	Cc          []Address       `json:"cc,omitempty"`
	Bcc         []Address       `json:"bcc,omitempty"`
	Subject     string          `json:"subject"`
	BodyText    string          `json:"body_text,omitempty"`
	BodyHTML    string          `json:"body_html,omitempty"`
	InReplyTo   string          `json:"in_reply_to,omitempty"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
}

// Recipients returns every envelope recipient address, Bcc included.
func (d *OutboundDraft) Recipients() []string {
	var rcpts []string
	for _, list := range [][]Address{d.To, d.Cc, d.Bcc} {
		for _, a := range list {
			rcpts = append(rcpts, a.Address)
		}
	}
	return rcpts
}

// HasBody reports whether the draft has a non-blank text or HTML body.
func (d *OutboundDraft) HasBody() bool {
	return strings.TrimSpace(d.BodyText) != "" || strings.TrimSpace(d.BodyHTML) != ""
}
