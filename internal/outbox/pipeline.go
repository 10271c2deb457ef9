package outbox

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-message/mail"
	"github.com/emersion/go-smtp"
	"github.com/sirupsen/logrus"
	"github.com/vdavid/vmail/mailcore/internal/blob"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
	"github.com/vdavid/vmail/mailcore/internal/relay"
)

var (
	sentFlags  = []string{imap.SeenFlag}
	draftFlags = []string{imap.DraftFlag, imap.SeenFlag}
)

// Send validates, relays and files draft, and returns the Message-ID of the
// delivered message. Transient relay failures are retried with backoff; a
// permanent failure returns at once. When delivery fails for good the draft
// is kept in Drafts, saving it first if it was never saved.
func (p *Pipeline) Send(ctx context.Context, s Session, draft *models.OutboundDraft) (string, error) {
	return p.send(ctx, s, draft, nil)
}

// SendDraft sends the draft saved in Drafts under draftID.
func (p *Pipeline) SendDraft(ctx context.Context, s Session, draftID uint32) (string, error) {
	if draftID == 0 {
		return "", mailerr.InvalidArgument("draft id is required")
	}

	msg, err := p.store.FetchMessage(ctx, s, models.FolderDrafts, draftID)
	if err != nil {
		return "", err
	}
	return p.send(ctx, s, msg.AsDraft(), msg.Raw)
}

func (p *Pipeline) send(ctx context.Context, s Session, draft *models.OutboundDraft, draftRaw []byte) (string, error) {
	from := sender(s.Credentials(), draft)
	if err := validate(draft, from); err != nil {
		return "", err
	}

	log := logrus.WithFields(logrus.Fields{"owner": s.Owner(), "draft": draft.DraftID})

	if err := p.limiter(s.Owner()).Wait(ctx); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", mailerr.Connection("send", errors.New("send rate limit exceeded"))
	}

	attachments, err := p.attachmentSource(ctx, s, draft, draftRaw)
	if err != nil {
		return "", err
	}
	msg, err := p.compose(ctx, draft, from, attachments)
	if err != nil {
		return "", err
	}

	if err := p.deliver(ctx, s, from.Address, draft.Recipients(), msg.relayed); err != nil {
		log.WithError(err).Warn("Outbox: delivery failed")
		if draft.DraftID == 0 {
			dctx, cancel := detached(ctx)
			if _, saveErr := p.saveDraft(dctx, s, draft, attachments); saveErr != nil {
				log.WithError(saveErr).Error("Outbox: failed to keep undelivered message as draft")
			}
			cancel()
		}
		return "", err
	}

	dctx, cancel := detached(ctx)
	defer cancel()

	if _, err := p.store.Append(dctx, s, models.FolderSent, msg.stored, sentFlags, time.Time{}); err != nil {
		log.WithError(err).Error("Outbox: message delivered but not filed in Sent")
	}
	if draft.DraftID != 0 {
		if err := p.store.Delete(dctx, s, models.FolderDrafts, draft.DraftID); err != nil && !errors.Is(err, mailerr.ErrNotFound) {
			log.WithError(err).Warn("Outbox: failed to remove sent draft")
		}
	}

	log.WithField("message_id", msg.messageID).Info("Outbox: message sent")
	return msg.messageID, nil
}

// SaveDraft stores draft in Drafts, replacing its previous revision, and
// returns the new draft ID. Recipients are not validated.
func (p *Pipeline) SaveDraft(ctx context.Context, s Session, draft *models.OutboundDraft) (uint32, error) {
	if draft == nil {
		return 0, mailerr.InvalidArgument("draft is required")
	}

	attachments, err := p.attachmentSource(ctx, s, draft, nil)
	if err != nil {
		return 0, err
	}
	return p.saveDraft(ctx, s, draft, attachments)
}

func (p *Pipeline) saveDraft(ctx context.Context, s Session, draft *models.OutboundDraft, attachments blob.Store) (uint32, error) {
	msg, err := p.compose(ctx, draft, sender(s.Credentials(), draft), attachments)
	if err != nil {
		return 0, err
	}

	uid, err := p.store.Append(ctx, s, models.FolderDrafts, msg.stored, draftFlags, time.Time{})
	if err != nil {
		return 0, err
	}

	if draft.DraftID != 0 && draft.DraftID != uid {
		if err := p.store.Delete(ctx, s, models.FolderDrafts, draft.DraftID); err != nil && !errors.Is(err, mailerr.ErrNotFound) {
			logrus.WithFields(logrus.Fields{"owner": s.Owner(), "draft": draft.DraftID}).WithError(err).Warn("Outbox: failed to remove previous draft revision")
		}
	}
	return uid, nil
}

// attachmentSource resolves attachment IDs against the saved draft's own
// parts first, then the blob store.
func (p *Pipeline) attachmentSource(ctx context.Context, s Session, draft *models.OutboundDraft, draftRaw []byte) (blob.Store, error) {
	if len(draft.Attachments) == 0 || draft.DraftID == 0 {
		return p.blobs, nil
	}

	if draftRaw == nil {
		msg, err := p.store.FetchMessage(ctx, s, models.FolderDrafts, draft.DraftID)
		if errors.Is(err, mailerr.ErrNotFound) {
			return p.blobs, nil
		}
		if err != nil {
			return nil, err
		}
		draftRaw = msg.Raw
	}

	contents, err := imaputil.AttachmentContents(draftRaw)
	if err != nil {
		return nil, err
	}
	parts := blob.NewMemoryStore()
	for _, ref := range draft.Attachments {
		if data, ok := contents[ref.ID]; ok {
			parts.Put(ref.ID, ref.Filename, ref.ContentType, data)
		}
	}
	return layered{parts, p.blobs}, nil
}

// layered opens from the first store that has the blob.
type layered []blob.Store

func (l layered) Open(ctx context.Context, id string) (rc io.ReadCloser, info *blob.Info, err error) {
	for _, store := range l {
		rc, info, err = store.Open(ctx, id)
		if !errors.Is(err, mailerr.ErrNotFound) {
			return rc, info, err
		}
	}
	return nil, nil, err
}

// deliver relays raw, retrying transient failures per the backoff policy.
func (p *Pipeline) deliver(ctx context.Context, s Session, from string, rcpts []string, raw []byte) error {
	attempt := 0
	op := func() error {
		attempt++
		err := s.Relay(ctx, func(c *smtp.Client) error {
			return relay.Deliver(c, from, rcpts, raw)
		})
		if err == nil {
			return nil
		}
		if ctx.Err() != nil || !mailerr.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	notify := func(err error, wait time.Duration) {
		logrus.WithFields(logrus.Fields{"owner": s.Owner(), "attempt": attempt, "wait": wait}).WithError(err).Warn("Outbox: transient relay failure, retrying")
	}

	return backoff.RetryNotifyWithTimer(op, p.policy(ctx), notify, p.timer)
}

func sender(creds *models.MailboxCredentials, draft *models.OutboundDraft) models.Address {
	if creds != nil && creds.FromAddress != "" {
		return creds.From()
	}
	if draft != nil {
		return draft.From
	}
	return models.Address{}
}

// ValidateDraft checks that draft can be sent: at least one recipient, every
// address well-formed and a non-blank body.
func ValidateDraft(draft *models.OutboundDraft) error {
	if draft == nil {
		return mailerr.InvalidArgument("draft is required")
	}
	if len(draft.To) == 0 {
		return mailerr.InvalidArgument("at least one recipient is required")
	}
	for _, field := range []struct {
		name string
		list []models.Address
	}{
		{"to", draft.To},
		{"cc", draft.Cc},
		{"bcc", draft.Bcc},
	} {
		for _, a := range field.list {
			if !validAddress(a.Address) {
				return mailerr.InvalidArgument("invalid %s address %q", field.name, a.Address)
			}
		}
	}
	if !draft.HasBody() {
		return mailerr.InvalidArgument("message body is required")
	}
	return nil
}

func validate(draft *models.OutboundDraft, from models.Address) error {
	if err := ValidateDraft(draft); err != nil {
		return err
	}
	if !validAddress(from.Address) {
		return mailerr.InvalidArgument("sender address is not configured")
	}
	return nil
}

func validAddress(address string) bool {
	address = strings.TrimSpace(address)
	if address == "" {
		return false
	}
	parsed, err := mail.ParseAddress(address)
	return err == nil && parsed.Address == address
}
