package mailbox

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/textproto"
	"github.com/sirupsen/logrus"
	imaputil "github.com/vdavid/vmail/mailcore/internal/imap"
	"github.com/vdavid/vmail/mailcore/internal/mailerr"
	"github.com/vdavid/vmail/mailcore/internal/models"
)

// FetchPage returns one page of a folder, newest first. A non-empty search
// term keeps messages whose subject, sender name or sender address contains
// it, case-insensitively. A page past the end is empty, not an error.
func (y *Synchronizer) FetchPage(ctx context.Context, s Session, folder string, page, pageSize int, search string) (*models.Page, error) {
	if page < 1 {
		return nil, mailerr.InvalidArgument("page must be at least 1, got %d", page)
	}
	if pageSize < 1 {
		return nil, mailerr.InvalidArgument("page size must be at least 1, got %d", pageSize)
	}
	folder, err := normalize(folder)
	if err != nil {
		return nil, err
	}
	search = strings.TrimSpace(search)

	result := &models.Page{Messages: []*models.Message{}, Page: page, PageSize: pageSize}

	err = s.Do(ctx, "fetch page", func(c *client.Client) error {
		t, err := resolve(c, s, folder, false)
		if err != nil {
			return err
		}
		if t.path == "" {
			return nil
		}

		if _, err := imaputil.SelectMailbox(c, t.path); err != nil {
			return err
		}
		uids, err := imaputil.SortedUIDs(c, imaputil.FolderCriteria(t.starred, search))
		if err != nil {
			return err
		}

		var headers map[uint32]*imap.Message
		if search != "" {
			// The server pre-filter is a superset at best; match locally.
			headers, err = imaputil.FetchHeaders(c, uids)
			if err != nil {
				return err
			}
			matched := uids[:0]
			for _, uid := range uids {
				if m, ok := headers[uid]; ok && imaputil.MatchesTerm(m.Envelope, search) {
					matched = append(matched, uid)
				}
			}
			uids = matched
		}

		start, end, totalPages := imaputil.Paginate(len(uids), page, pageSize)
		result.Total = len(uids)
		result.TotalPages = totalPages
		pageUIDs := uids[start:end]
		if len(pageUIDs) == 0 {
			return nil
		}

		if headers == nil {
			headers, err = imaputil.FetchHeaders(c, pageUIDs)
			if err != nil {
				return err
			}
		}

		key := models.StorageFolder(folder)
		for _, uid := range pageUIDs {
			// Expunged by another client between SEARCH and FETCH.
			m, ok := headers[uid]
			if !ok {
				continue
			}
			result.Messages = append(result.Messages, imaputil.MessageFromHeaders(m, key))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// FetchMessage fetches a complete message without marking it read.
func (y *Synchronizer) FetchMessage(ctx context.Context, s Session, folder string, uid uint32) (*models.Message, error) {
	folder, err := normalize(folder)
	if err != nil {
		return nil, err
	}

	var msg *models.Message
	err = s.Do(ctx, "fetch message", func(c *client.Client) error {
		path, err := selectExisting(c, s, folder, uid)
		if err != nil {
			return err
		}

		header, raw, err := imaputil.FetchFull(c, uid)
		if err != nil {
			return err
		}
		if header == nil {
			return notFound(folder, uid)
		}

		msg = imaputil.MessageFromHeaders(header, models.StorageFolder(folder))
		if err := imaputil.ParseRaw(raw, msg); err != nil {
			logrus.WithFields(logrus.Fields{"owner": s.Owner(), "folder": path, "uid": uid}).WithError(err).Warn("Synchronizer: failed to parse message body")
			msg.Raw = raw
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return msg, nil
}

// SetFlag sets or clears a flag. Setting a flag to its current state writes nothing.
func (y *Synchronizer) SetFlag(ctx context.Context, s Session, folder string, uid uint32, flag models.Flag, value bool) error {
	imapFlag, err := imapFlagFor(flag)
	if err != nil {
		return err
	}
	folder, err = normalize(folder)
	if err != nil {
		return err
	}

	changed := false
	err = s.Do(ctx, "set flag", func(c *client.Client) error {
		if _, err := selectExisting(c, s, folder, uid); err != nil {
			return err
		}

		flags, ok, err := imaputil.FetchFlags(c, uid)
		if err != nil {
			return err
		}
		if !ok {
			return notFound(folder, uid)
		}
		if imaputil.HasFlag(flags, imapFlag) == value {
			return nil
		}

		var op imap.FlagsOp = imap.AddFlags
		if !value {
			op = imap.RemoveFlags
		}
		item := imap.FormatFlagsOp(op, true)
		if err := c.UidStore(uidSet(uid), item, []interface{}{imapFlag}, nil); err != nil {
			return err
		}
		changed = true
		return nil
	})
	if err != nil {
		return err
	}

	if changed {
		y.inv.Invalidate(ctx, s.Owner(), folder, uid)
	}
	return nil
}

func imapFlagFor(flag models.Flag) (string, error) {
	switch flag {
	case models.FlagRead:
		return imap.SeenFlag, nil
	case models.FlagStarred:
		return imap.FlaggedFlag, nil
	default:
		return "", mailerr.InvalidArgument("unknown flag %q", flag)
	}
}

// Move moves a message and returns its UID in the target folder. The new UID
// is 0 when the server gave no way to find it.
func (y *Synchronizer) Move(ctx context.Context, s Session, from string, uid uint32, to string) (uint32, error) {
	from, err := normalize(from)
	if err != nil {
		return 0, err
	}
	to, err = normalize(to)
	if err != nil {
		return 0, err
	}
	if to == models.FolderStarred {
		return 0, mailerr.InvalidArgument("cannot move into the starred view; star the message instead")
	}
	if models.StorageFolder(from) == to {
		return 0, mailerr.InvalidArgument("message is already in %s", to)
	}

	var newUID uint32
	err = s.Do(ctx, "move message", func(c *client.Client) error {
		if _, err := selectExisting(c, s, from, uid); err != nil {
			return err
		}
		headers, err := imaputil.FetchHeaders(c, []uint32{uid})
		if err != nil {
			return err
		}
		m, ok := headers[uid]
		if !ok {
			return notFound(from, uid)
		}
		var messageID string
		if m.Envelope != nil {
			messageID = imaputil.NormalizeMessageID(m.Envelope.MessageId)
		}

		dest, err := resolve(c, s, to, true)
		if err != nil {
			return err
		}
		status, err := imaputil.MailboxCounts(c, dest.path)
		if err != nil {
			return err
		}

		if err := c.UidMove(uidSet(uid), dest.path); err != nil {
			if imaputil.IsConnectionError(err) {
				return err
			}
			logrus.WithFields(logrus.Fields{"owner": s.Owner(), "folder": to, "uid": uid}).WithError(err).Debug("Synchronizer: MOVE refused, copying instead")
			if err := copyAndExpunge(c, uid, dest.path); err != nil {
				return err
			}
		}

		newUID, err = locateNewUID(c, dest.path, status.UidNext, messageID)
		if err != nil {
			return err
		}
		if newUID == 0 {
			logrus.WithFields(logrus.Fields{"owner": s.Owner(), "folder": to, "uid": uid}).Warn("Synchronizer: could not locate moved message")
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	y.inv.Invalidate(ctx, s.Owner(), from, uid)
	y.inv.InvalidateFolder(ctx, s.Owner(), to)
	return newUID, nil
}

// Delete removes a message permanently.
func (y *Synchronizer) Delete(ctx context.Context, s Session, folder string, uid uint32) error {
	folder, err := normalize(folder)
	if err != nil {
		return err
	}

	err = s.Do(ctx, "delete message", func(c *client.Client) error {
		if _, err := selectExisting(c, s, folder, uid); err != nil {
			return err
		}
		if _, ok, err := imaputil.FetchFlags(c, uid); err != nil {
			return err
		} else if !ok {
			return notFound(folder, uid)
		}

		item := imap.FormatFlagsOp(imap.AddFlags, true)
		if err := c.UidStore(uidSet(uid), item, []interface{}{imap.DeletedFlag}, nil); err != nil {
			return err
		}
		return c.Expunge(nil)
	})
	if err != nil {
		return err
	}

	y.inv.Invalidate(ctx, s.Owner(), folder, uid)
	return nil
}

// Append stores raw in folder, creating a missing system folder, and returns
// the new UID, or 0 when it cannot be located.
func (y *Synchronizer) Append(ctx context.Context, s Session, folder string, raw []byte, flags []string, date time.Time) (uint32, error) {
	folder, err := normalize(folder)
	if err != nil {
		return 0, err
	}
	if folder == models.FolderStarred {
		return 0, mailerr.InvalidArgument("cannot append to the starred view")
	}
	if date.IsZero() {
		date = y.now()
	}
	messageID := headerMessageID(raw)

	var uid uint32
	err = s.Do(ctx, "append message", func(c *client.Client) error {
		t, err := resolve(c, s, folder, true)
		if err != nil {
			return err
		}
		status, err := imaputil.MailboxCounts(c, t.path)
		if err != nil {
			return err
		}
		if err := c.Append(t.path, flags, date, bytes.NewReader(raw)); err != nil {
			return err
		}
		uid, err = locateNewUID(c, t.path, status.UidNext, messageID)
		return err
	})
	if err != nil {
		return 0, err
	}

	if uid == 0 {
		logrus.WithFields(logrus.Fields{"owner": s.Owner(), "folder": folder}).Warn("Synchronizer: could not locate appended message")
	}
	y.inv.InvalidateFolder(ctx, s.Owner(), folder)
	return uid, nil
}

// selectExisting resolves and selects folder for an operation on uid.
func selectExisting(c *client.Client, s Session, folder string, uid uint32) (string, error) {
	t, err := resolve(c, s, folder, false)
	if err != nil {
		return "", err
	}
	if t.path == "" {
		return "", notFound(folder, uid)
	}
	if _, err := imaputil.SelectMailbox(c, t.path); err != nil {
		return "", err
	}
	return t.path, nil
}

// copyAndExpunge moves uid out of the selected mailbox without MOVE.
func copyAndExpunge(c *client.Client, uid uint32, path string) error {
	if err := c.UidCopy(uidSet(uid), path); err != nil {
		return err
	}
	item := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.UidStore(uidSet(uid), item, []interface{}{imap.DeletedFlag}, nil); err != nil {
		return err
	}
	return c.Expunge(nil)
}

// locateNewUID selects path and finds the message that arrived at or after
// uidNext, matching messageID when known.
func locateNewUID(c *client.Client, path string, uidNext uint32, messageID string) (uint32, error) {
	if _, err := imaputil.SelectMailbox(c, path); err != nil {
		return 0, err
	}

	criteria := imap.NewSearchCriteria()
	criteria.Uid = new(imap.SeqSet)
	criteria.Uid.AddRange(uidNext, 0)
	if messageID != "" {
		criteria.Header.Add("Message-Id", messageID)
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return 0, fmt.Errorf("failed to locate new message: %w", err)
	}

	var newest uint32
	for _, uid := range uids {
		// "n:*" also matches the highest UID when it is below n.
		if uid >= uidNext && uid > newest {
			newest = uid
		}
	}
	return newest, nil
}

func headerMessageID(raw []byte) string {
	header, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return ""
	}
	return imaputil.NormalizeMessageID(header.Get("Message-Id"))
}

func notFound(folder string, uid uint32) error {
	return mailerr.NotFound("message %d not found in %s", uid, folder)
}
