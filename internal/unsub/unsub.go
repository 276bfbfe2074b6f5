// Package unsub parses and executes the unsubscribe methods bulk senders
// advertise.
package unsub

import (
	"net/url"
	"strings"
)

// oneClickValue is the exact List-Unsubscribe-Post value RFC 8058 requires.
const oneClickValue = "List-Unsubscribe=One-Click"

// Method describes how a sender accepts unsubscribe requests, extracted
// from the List-Unsubscribe and List-Unsubscribe-Post headers (RFC 2369,
// RFC 8058).
type Method struct {
	URL         string // https endpoint, when advertised
	MailTo      string // mailto address, when advertised
	MailSubject string // subject from the mailto URI, often a list token
	OneClick    bool   // the URL accepts a bare POST (RFC 8058)
}

// IsZero reports whether no unsubscribe channel was advertised.
func (m Method) IsZero() bool {
	return m.URL == "" && m.MailTo == ""
}

// ParseListUnsubscribe extracts the unsubscribe method from raw header
// values. header is List-Unsubscribe, post is List-Unsubscribe-Post.
// The first http(s) entry and the first mailto entry win; one-click only
// applies when an http(s) URL is present.
func ParseListUnsubscribe(header, post string) Method {
	var m Method
	for _, entry := range splitEntries(header) {
		lower := strings.ToLower(entry)
		switch {
		case strings.HasPrefix(lower, "https://"), strings.HasPrefix(lower, "http://"):
			if m.URL == "" {
				m.URL = entry
			}
		case strings.HasPrefix(lower, "mailto:"):
			if m.MailTo == "" {
				m.MailTo, m.MailSubject = parseMailto(entry)
			}
		}
	}

	if m.URL != "" && strings.EqualFold(strings.TrimSpace(post), oneClickValue) {
		m.OneClick = true
	}
	return m
}

// splitEntries returns the angle-bracketed entries of a List-Unsubscribe
// value. A bracketless value is treated as a single entry; some senders
// omit the brackets.
func splitEntries(header string) []string {
	var entries []string
	rest := header
	for {
		start := strings.IndexByte(rest, '<')
		if start < 0 {
			break
		}
		end := strings.IndexByte(rest[start:], '>')
		if end < 0 {
			break
		}
		if entry := strings.TrimSpace(rest[start+1 : start+end]); entry != "" {
			entries = append(entries, entry)
		}
		rest = rest[start+end+1:]
	}
	if len(entries) == 0 {
		if s := strings.TrimSpace(header); s != "" {
			entries = append(entries, s)
		}
	}
	return entries
}

// parseMailto splits a mailto URI into address and subject. The address
// is kept verbatim: unsubscribe mailtos routinely carry +token aliases
// that must survive.
func parseMailto(uri string) (address, subject string) {
	u, err := url.Parse(uri)
	if err != nil || u.Opaque == "" {
		// Malformed URI; salvage whatever sits between the scheme and
		// the first query separator.
		s := strings.TrimPrefix(uri, "mailto:")
		if idx := strings.IndexByte(s, '?'); idx >= 0 {
			s = s[:idx]
		}
		return strings.TrimSpace(s), ""
	}
	return strings.TrimSpace(u.Opaque), u.Query().Get("subject")
}
