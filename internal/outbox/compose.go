package outbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-message/textproto"
	"github.com/google/uuid"
	"github.com/vdavid/vmail/mailcore/internal/blob"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// composed holds the two renditions of one message: the stored copy keeps
// Bcc, the relayed copy does not.
type composed struct {
	messageID string
	stored    []byte
	relayed   []byte
}

func (p *Pipeline) compose(ctx context.Context, draft *models.OutboundDraft, from models.Address, attachments blob.Store) (*composed, error) {
	messageID := uuid.NewString() + "@" + p.opts.MessageIDDomain

	var h mail.Header
	h.SetDate(p.now())
	h.SetMessageID(messageID)
	h.SetSubject(draft.Subject)
	h.SetAddressList("From", []*mail.Address{toMailAddress(from)})
	for _, field := range []struct {
		key  string
		list []models.Address
	}{
		{"To", draft.To},
		{"Cc", draft.Cc},
		{"Bcc", draft.Bcc},
	} {
		if len(field.list) > 0 {
			h.SetAddressList(field.key, toMailAddresses(field.list))
		}
	}
	if id := imaputil.NormalizeMessageID(draft.InReplyTo); id != "" {
		h.SetMsgIDList("In-Reply-To", []string{id})
		h.SetMsgIDList("References", []string{id})
	}

	var buf bytes.Buffer
	mw, err := mail.CreateWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("failed to create message writer: %w", err)
	}
	if err := writeBody(mw, draft); err != nil {
		return nil, err
	}
	for _, ref := range draft.Attachments {
		if err := writeAttachment(ctx, mw, attachments, ref); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("failed to finish message: %w", err)
	}

	stored := buf.Bytes()
	relayed, err := stripBcc(stored)
	if err != nil {
		return nil, err
	}

	return &composed{messageID: messageID, stored: stored, relayed: relayed}, nil
}

func writeBody(mw *mail.Writer, draft *models.OutboundDraft) error {
	iw, err := mw.CreateInline()
	if err != nil {
		return fmt.Errorf("failed to create body: %w", err)
	}

	parts := []struct{ contentType, body string }{{"text/plain", draft.BodyText}}
	if draft.BodyHTML != "" {
		parts = append(parts, struct{ contentType, body string }{"text/html", draft.BodyHTML})
		if strings.TrimSpace(draft.BodyText) == "" {
			parts = parts[1:]
		}
	}

	for _, part := range parts {
		var ih mail.InlineHeader
		ih.SetContentType(part.contentType, map[string]string{"charset": "utf-8"})
		ih.Set("Content-Transfer-Encoding", "quoted-printable")
		w, err := iw.CreatePart(ih)
		if err != nil {
			return fmt.Errorf("failed to create %s part: %w", part.contentType, err)
		}
		if _, err := io.WriteString(w, part.body); err != nil {
			return fmt.Errorf("failed to write %s part: %w", part.contentType, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("failed to close %s part: %w", part.contentType, err)
		}
	}

	return iw.Close()
}

// writeAttachment streams one blob into the message. The blob ID is kept in
// a part header so a saved draft can be sent later with the same references.
func writeAttachment(ctx context.Context, mw *mail.Writer, attachments blob.Store, ref models.AttachmentRef) error {
	rc, info, err := attachments.Open(ctx, ref.ID)
	if err != nil {
		if mailerr.KindOf(err) == mailerr.KindNotFound {
			return mailerr.InvalidArgument("attachment %s does not exist", ref.ID)
		}
		return err
	}
	defer rc.Close()

	filename := ref.Filename
	if filename == "" {
		filename = info.Filename
	}
	contentType := ref.ContentType
	if contentType == "" {
		contentType = info.ContentType
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	var ah mail.AttachmentHeader
	ah.SetContentType(contentType, nil)
	ah.SetFilename(filename)
	if ref.Inline {
		ah.SetContentDisposition("inline", map[string]string{"filename": filename})
		if ref.ContentID != "" {
			ah.Set("Content-Id", "<"+strings.Trim(ref.ContentID, "<>")+">")
		}
	}
	ah.Set(imaputil.AttachmentIDHeader, ref.ID)

	w, err := mw.CreateAttachment(ah)
	if err != nil {
		return fmt.Errorf("failed to create attachment %s: %w", ref.ID, err)
	}
	if _, err := io.Copy(w, rc); err != nil {
		return fmt.Errorf("failed to write attachment %s: %w", ref.ID, err)
	}
	return w.Close()
}

// stripBcc returns raw without its Bcc header field.
func stripBcc(raw []byte) ([]byte, error) {
	br := bufio.NewReader(bytes.NewReader(raw))
	h, err := textproto.ReadHeader(br)
	if err != nil {
		return nil, fmt.Errorf("failed to read composed header: %w", err)
	}
	h.Del("Bcc")

	var buf bytes.Buffer
	buf.Grow(len(raw))
	if err := textproto.WriteHeader(&buf, h); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}
	if _, err := io.Copy(&buf, br); err != nil {
		return nil, fmt.Errorf("failed to copy body: %w", err)
	}
	return buf.Bytes(), nil
}

func toMailAddress(a models.Address) *mail.Address {
	return &mail.Address{Name: a.Name, Address: a.Address}
}

func toMailAddresses(list []models.Address) []*mail.Address {
	out := make([]*mail.Address, len(list))
	for i, a := range list {
		out[i] = toMailAddress(a)
	}
	return out
}
