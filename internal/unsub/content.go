package unsub

import (
	"bytes"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/jhillyerd/enmime"
)

// ErrNoUnsubscribeLink indicates the message content carries no
// recognizable unsubscribe link.
var ErrNoUnsubscribeLink = errors.New("no unsubscribe link found")

// ContentParser extracts an unsubscribe URL from raw message content.
// It backs the enrichment path for senders whose messages carry no
// List-Unsubscribe header. Implementations choose their own heuristics;
// BodyParser is the default.
type ContentParser interface {
	ExtractUnsubscribeURL(raw []byte) (string, error)
}

// BodyParser scans HTML anchors, then plain-text URLs, for links whose
// target or label suggests unsubscribing.
type BodyParser struct{}

var (
	anchorRe = regexp.MustCompile(`(?is)<a\s[^>]*href=["']([^"']+)["'][^>]*>(.*?)</a>`)
	tagRe    = regexp.MustCompile(`<[^>]*>`)
	urlRe    = regexp.MustCompile(`https?://[^\s<>"')\]]+`)
)

// linkKeywords mark hrefs or anchor labels that plausibly unsubscribe.
// "unsub" also matches "unsubscribe".
var linkKeywords = []string{"unsub", "opt-out", "opt out", "optout"}

// ExtractUnsubscribeURL implements ContentParser.
func (BodyParser) ExtractUnsubscribeURL(raw []byte) (string, error) {
	env, err := enmime.ReadEnvelope(bytes.NewReader(raw))
	if err != nil {
		return "", fmt.Errorf("parse message: %w", err)
	}

	if u := scanAnchors(env.HTML); u != "" {
		return u, nil
	}
	if u := scanPlainText(env.Text); u != "" {
		return u, nil
	}
	return "", ErrNoUnsubscribeLink
}

// scanAnchors returns the first http(s) anchor whose href or visible
// label contains an unsubscribe keyword.
func scanAnchors(body string) string {
	for _, m := range anchorRe.FindAllStringSubmatch(body, -1) {
		href, label := m[1], m[2]
		lower := strings.ToLower(href)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			continue
		}
		label = strings.TrimSpace(tagRe.ReplaceAllString(label, " "))
		if containsKeyword(href) || containsKeyword(label) {
			// Hrefs come entity-escaped out of HTML (&amp; etc).
			return html.UnescapeString(href)
		}
	}
	return ""
}

// scanPlainText returns the first bare URL containing a keyword.
func scanPlainText(body string) string {
	for _, u := range urlRe.FindAllString(body, -1) {
		if containsKeyword(u) {
			return u
		}
	}
	return ""
}

func containsKeyword(s string) bool {
	s = strings.ToLower(s)
	for _, kw := range linkKeywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}
