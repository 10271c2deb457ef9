package imap

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/emersion/go-imap"
	sortthread "github.com/emersion/go-imap-sortthread"
	"github.com/emersion/go-imap/client"
)

// FolderCriteria selects the live messages of a folder view.
// flagged restricts the view to starred messages. A non-empty term adds a
// server-side Subject/From pre-filter when the term is plain ASCII; callers
// still apply MatchesTerm locally since servers differ in how they match.
func FolderCriteria(flagged bool, term string) *imap.SearchCriteria {
	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.DeletedFlag}
	if flagged {
		criteria.WithFlags = []string{imap.FlaggedFlag}
	}

	term = strings.TrimSpace(term)
	if term == "" || !isASCII(term) {
		return criteria
	}

	bySubject := imap.NewSearchCriteria()
	bySubject.Header.Add("Subject", term)
	byFrom := imap.NewSearchCriteria()
	byFrom.Header.Add("From", term)
	criteria.Or = [][2]*imap.SearchCriteria{{bySubject, byFrom}}

	return criteria
}

// MatchesTerm reports whether the envelope's subject or sender contains term,
// case-insensitively. An empty term matches everything.
func MatchesTerm(env *imap.Envelope, term string) bool {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return true
	}
	if env == nil {
		return false
	}

	if strings.Contains(strings.ToLower(env.Subject), term) {
		return true
	}
	for _, from := range env.From {
		if from == nil {
			continue
		}
		if strings.Contains(strings.ToLower(from.PersonalName), term) {
			return true
		}
		address := strings.ToLower(from.MailboxName + "@" + from.HostName)
		if strings.Contains(address, term) {
			return true
		}
	}
	return false
}

// SortedUIDs returns the UIDs matching criteria in the selected mailbox,
// newest first. It uses SORT when the server has it and sorts locally by
// INTERNALDATE otherwise. Ties are broken by the higher UID.
func SortedUIDs(c *client.Client, criteria *imap.SearchCriteria) ([]uint32, error) {
	if supported, err := c.Support("SORT"); err == nil && supported {
		sortClient := sortthread.NewSortClient(c)
		uids, err := sortClient.UidSort([]sortthread.SortCriterion{
			{Field: sortthread.SortArrival, Reverse: true},
		}, criteria)
		if err == nil {
			return uids, nil
		}
		if IsConnectionError(err) {
			return nil, fmt.Errorf("failed to sort messages: %w", err)
		}
		// Some servers advertise SORT but reject our criteria; fall through.
	}

	uids, err := c.UidSearch(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}
	if len(uids) == 0 {
		return uids, nil
	}

	dates, err := FetchInternalDates(c, uids)
	if err != nil {
		return nil, err
	}

	sort.Slice(uids, func(i, j int) bool {
		di, dj := dates[uids[i]], dates[uids[j]]
		if di.Equal(dj) {
			return uids[i] > uids[j]
		}
		return di.After(dj)
	})

	return uids, nil
}

// Paginate returns the slice bounds of a 1-based page and the total page count.
// A page past the end yields start == end.
func Paginate(total, page, pageSize int) (start, end, totalPages int) {
	if total <= 0 || pageSize <= 0 {
		return 0, 0, 0
	}
	totalPages = (total + pageSize - 1) / pageSize
	start = (page - 1) * pageSize
	if start > total {
		start = total
	}
	end = start + pageSize
	if end > total {
		end = total
	}
	return start, end, totalPages
}

func isASCII(s string) bool {
	for _, r := range s {
		if r > unicode.MaxASCII {
			return false
		}
	}
	return true
}
