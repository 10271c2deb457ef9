package imap

import (
	"bytes"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/emersion/go-imap"
	"github.com/jhillyerd/enmime"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// AttachmentIDHeader carries an attachment's blob identifier inside the MIME part.
const AttachmentIDHeader = "X-Attachment-Id"

// ParseFlags converts IMAP system flags to message flags.
func ParseFlags(flags []string) models.Flags {
	var f models.Flags
	for _, flag := range flags {
		switch flag {
		case imap.SeenFlag:
			f.Read = true
		case imap.FlaggedFlag:
			f.Starred = true
		}
	}
	return f
}

// NormalizeMessageID strips whitespace and angle brackets from a Message-ID.
func NormalizeMessageID(id string) string {
	return strings.Trim(strings.TrimSpace(id), "<>")
}

// HasFlag reports whether flags contains flag.
func HasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if strings.EqualFold(f, flag) {
			return true
		}
	}
	return false
}

// MessageFromHeaders builds a listing entry from a header-only fetch.
func MessageFromHeaders(m *imap.Message, folder string) *models.Message {
	msg := &models.Message{
		Folder:         folder,
		UID:            m.Uid,
		ReceivedAt:     m.InternalDate,
		Flags:          ParseFlags(m.Flags),
		Size:           m.Size,
		HasAttachments: hasAttachments(m.BodyStructure),
	}

	if env := m.Envelope; env != nil {
		msg.MessageID = NormalizeMessageID(env.MessageId)
		msg.InReplyTo = NormalizeMessageID(env.InReplyTo)
		msg.Subject = env.Subject
		if len(env.From) > 0 {
			msg.From = convertAddress(env.From[0])
		}
		msg.To = convertAddressList(env.To)
		msg.Cc = convertAddressList(env.Cc)
		msg.Bcc = convertAddressList(env.Bcc)
		if !env.Date.IsZero() {
			sentAt := env.Date
			msg.SentAt = &sentAt
		}
	}

	return msg
}

// ParseRaw fills msg's addresses, subject, bodies and attachments from the raw message.
func ParseRaw(raw []byte, msg *models.Message) error {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to parse message: %w", err)
	}

	msg.Raw = raw
	msg.Subject = env.GetHeader("Subject")
	msg.BodyText = env.Text
	msg.BodyHTML = env.HTML
	if id := env.GetHeader("Message-Id"); id != "" {
		msg.MessageID = NormalizeMessageID(id)
	}
	if inReplyTo := env.GetHeader("In-Reply-To"); inReplyTo != "" {
		msg.InReplyTo = NormalizeMessageID(inReplyTo)
	}

	from, err := addressList(env, "From")
	if err != nil {
		return err
	}
	if len(from) > 0 {
		msg.From = from[0]
	}
	if msg.To, err = addressList(env, "To"); err != nil {
		return err
	}
	if msg.Cc, err = addressList(env, "Cc"); err != nil {
		return err
	}
	if msg.Bcc, err = addressList(env, "Bcc"); err != nil {
		return err
	}

	msg.Attachments = nil
	forEachAttachment(env, func(ref models.AttachmentRef, _ *enmime.Part) {
		msg.Attachments = append(msg.Attachments, ref)
	})
	msg.HasAttachments = len(msg.Attachments) > 0
	if msg.Size == 0 {
		msg.Size = uint32(len(raw))
	}

	return nil
}

// AttachmentContents returns the decoded attachment bodies of raw, keyed by
// the IDs ParseRaw assigns.
func AttachmentContents(raw []byte) (map[string][]byte, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	contents := make(map[string][]byte)
	forEachAttachment(env, func(ref models.AttachmentRef, part *enmime.Part) {
		contents[ref.ID] = part.Content
	})
	return contents, nil
}

// forEachAttachment visits attachments first, then inline parts that stand
// on their own. Inline text parts without a name are message bodies.
func forEachAttachment(env *enmime.Envelope, fn func(models.AttachmentRef, *enmime.Part)) {
	index := 0
	for _, part := range env.Attachments {
		fn(attachmentRef(part, index, false), part)
		index++
	}
	for _, part := range env.Inlines {
		if !isInlineAttachment(part) {
			continue
		}
		fn(attachmentRef(part, index, true), part)
		index++
	}
}

func isInlineAttachment(part *enmime.Part) bool {
	return part.FileName != "" || part.ContentID != "" || part.Header.Get(AttachmentIDHeader) != ""
}

func attachmentRef(part *enmime.Part, index int, inline bool) models.AttachmentRef {
	id := part.Header.Get(AttachmentIDHeader)
	if id == "" {
		id = fmt.Sprintf("part-%d", index+1)
	}
	return models.AttachmentRef{
		ID:          id,
		Filename:    part.FileName,
		ContentType: part.ContentType,
		Size:        int64(len(part.Content)),
		Inline:      inline,
		ContentID:   part.ContentID,
	}
}

func addressList(env *enmime.Envelope, header string) ([]models.Address, error) {
	list, err := env.AddressList(header)
	if errors.Is(err, mail.ErrHeaderNotPresent) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s header: %w", header, err)
	}
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]models.Address, 0, len(list))
	for _, a := range list {
		out = append(out, models.Address{Name: a.Name, Address: a.Address})
	}
	return out, nil
}

func convertAddress(address *imap.Address) models.Address {
	if address == nil || (address.MailboxName == "" && address.HostName == "") {
		return models.Address{}
	}
	return models.Address{
		Name:    address.PersonalName,
		Address: address.MailboxName + "@" + address.HostName,
	}
}

func convertAddressList(addresses []*imap.Address) []models.Address {
	if len(addresses) == 0 {
		return nil
	}
	result := make([]models.Address, 0, len(addresses))
	for _, address := range addresses {
		if a := convertAddress(address); a.Address != "" {
			result = append(result, a)
		}
	}
	return result
}

func hasAttachments(bs *imap.BodyStructure) bool {
	if bs == nil {
		return false
	}
	if strings.EqualFold(bs.Disposition, "attachment") {
		return true
	}
	for _, part := range bs.Parts {
		if hasAttachments(part) {
			return true
		}
	}
	return false
}
