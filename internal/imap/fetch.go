package imap

import (
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
)

// headerItems are fetched for listings: everything but the body.
var headerItems = []imap.FetchItem{
	imap.FetchEnvelope,
	imap.FetchBodyStructure,
	imap.FetchFlags,
	imap.FetchInternalDate,
	imap.FetchRFC822Size,
	imap.FetchUid,
}

func uidSet(uids []uint32) *imap.SeqSet {
	seqSet := new(imap.SeqSet)
	for _, uid := range uids {
		seqSet.AddNum(uid)
	}
	return seqSet
}

// fetch runs UID FETCH and collects the results keyed by UID.
func fetch(c *client.Client, uids []uint32, items []imap.FetchItem) (map[uint32]*imap.Message, error) {
	if c == nil {
		return nil, fmt.Errorf("client is nil")
	}

	result := make(map[uint32]*imap.Message, len(uids))
	if len(uids) == 0 {
		return result, nil
	}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.UidFetch(uidSet(uids), items, messages)
	}()

	for msg := range messages {
		if msg.Uid != 0 {
			result[msg.Uid] = msg
		}
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	return result, nil
}

// FetchHeaders fetches envelope, flags, dates, size and structure for uids.
// UIDs that no longer exist are absent from the result.
func FetchHeaders(c *client.Client, uids []uint32) (map[uint32]*imap.Message, error) {
	return fetch(c, uids, headerItems)
}

// FetchInternalDates returns the INTERNALDATE of each uid.
func FetchInternalDates(c *client.Client, uids []uint32) (map[uint32]time.Time, error) {
	messages, err := fetch(c, uids, []imap.FetchItem{imap.FetchInternalDate, imap.FetchUid})
	if err != nil {
		return nil, err
	}
	dates := make(map[uint32]time.Time, len(messages))
	for uid, msg := range messages {
		dates[uid] = msg.InternalDate
	}
	return dates, nil
}

// FetchFlags returns the flags of uid. ok is false when the UID does not exist.
func FetchFlags(c *client.Client, uid uint32) (flags []string, ok bool, err error) {
	messages, err := fetch(c, []uint32{uid}, []imap.FetchItem{imap.FetchFlags, imap.FetchUid})
	if err != nil {
		return nil, false, err
	}
	msg, ok := messages[uid]
	if !ok {
		return nil, false, nil
	}
	return msg.Flags, true, nil
}

// FetchFull fetches headers plus the complete raw message without setting \Seen.
// It returns a nil message when the UID does not exist.
func FetchFull(c *client.Client, uid uint32) (*imap.Message, []byte, error) {
	section := &imap.BodySectionName{Peek: true}
	items := append(append([]imap.FetchItem{}, headerItems...), section.FetchItem())

	messages, err := fetch(c, []uint32{uid}, items)
	if err != nil {
		return nil, nil, err
	}
	msg, ok := messages[uid]
	if !ok {
		return nil, nil, nil
	}

	// Only one body section was requested, whatever key the server echoed back.
	for _, literal := range msg.Body {
		if literal == nil {
			continue
		}
		raw, err := io.ReadAll(literal)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read message body: %w", err)
		}
		return msg, raw, nil
	}

	return nil, nil, fmt.Errorf("server returned no body for uid %d", uid)
}
