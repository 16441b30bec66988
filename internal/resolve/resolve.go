// Package resolve maps command-line arguments to conversation ids.
//
// An argument is tried, in order, as a conversation id, a scoped user id,
// the digits of a detected phone number, an exact counterpart name and
// finally a fuzzy counterpart name.
package resolve

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/sahilm/fuzzy"

	"github.com/socialinbox/inbox-cli/internal/api"
)

var (
	ErrEmptyQuery = errors.New("empty search query")
	ErrNoMatch    = errors.New("no match found")
)

// Candidate is a conversation as seen by argument resolution.
type Candidate struct {
	ID           string
	ScopedUserID string
	Name         string
	Phones       []string
}

// Match is a fuzzy name match, best first.
type Match struct {
	ID    string
	Name  string
	Score int
}

// AmbiguousError reports a name that matched several conversations equally
// well.
type AmbiguousError struct {
	Query   string
	Matches []Match
}

func (e *AmbiguousError) Error() string {
	var b strings.Builder
	_, _ = fmt.Fprintf(&b, "ambiguous match for %q", e.Query)
	if len(e.Matches) > 0 {
		b.WriteString(", candidates:")
		for _, m := range e.Matches {
			_, _ = fmt.Fprintf(&b, "\n  %s: %s", m.ID, m.Name)
		}
	}
	return b.String()
}

// FromConversations builds candidates from a conversation page.
func FromConversations(list []api.Conversation) []Candidate {
	out := make([]Candidate, 0, len(list))
	for _, c := range list {
		cand := Candidate{ID: c.ID, ScopedUserID: c.ScopedUserID, Name: c.From.Name}
		for _, p := range c.RecentPhoneNumbers {
			if d := digits(p.PhoneNumber); d != "" {
				cand.Phones = append(cand.Phones, d)
			}
		}
		out = append(out, cand)
	}
	return out
}

// One resolves a single argument.
func One(arg string, cands []Candidate) (string, error) {
	arg = strings.TrimSpace(arg)
	if arg == "" {
		return "", ErrEmptyQuery
	}
	for _, c := range cands {
		if c.ID == arg || (c.ScopedUserID != "" && c.ScopedUserID == arg) {
			return c.ID, nil
		}
	}
	if d := digits(arg); len(d) >= 6 && len(d)*2 >= len(arg) {
		for _, c := range cands {
			for _, p := range c.Phones {
				if strings.HasSuffix(p, d) {
					return c.ID, nil
				}
			}
		}
	}
	for _, c := range cands {
		if strings.EqualFold(c.Name, arg) {
			return c.ID, nil
		}
	}

	matches := Suggest(arg, cands, 5)
	switch {
	case len(matches) == 0:
		return "", fmt.Errorf("%w for %q", ErrNoMatch, arg)
	case len(matches) > 1 && matches[0].Score == matches[1].Score:
		return "", &AmbiguousError{Query: arg, Matches: matches}
	}
	return matches[0].ID, nil
}

// IDs resolves every argument. Arguments naming the same conversation
// collapse to one id.
func IDs(args []string, cands []Candidate) ([]string, error) {
	out := make([]string, 0, len(args))
	seen := make(map[string]bool, len(args))
	for _, arg := range args {
		id, err := One(arg, cands)
		if err != nil {
			return nil, err
		}
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out, nil
}

// Suggest returns up to limit fuzzy counterpart-name matches, best first.
func Suggest(query string, cands []Candidate, limit int) []Match {
	query = strings.ToLower(strings.TrimSpace(query))
	if query == "" || len(cands) == 0 || limit <= 0 {
		return nil
	}
	results := fuzzy.FindFrom(query, names(cands))
	if len(results) > limit {
		results = results[:limit]
	}
	var out []Match
	for _, r := range results {
		out = append(out, Match{ID: cands[r.Index].ID, Name: cands[r.Index].Name, Score: r.Score})
	}
	return out
}

// names adapts candidates to fuzzy.Source with lower-cased names.
type names []Candidate

func (n names) String(i int) string { return strings.ToLower(n[i].Name) }
func (n names) Len() int            { return len(n) }

func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsDigit(r) {
			return r
		}
		return -1
	}, s)
}
