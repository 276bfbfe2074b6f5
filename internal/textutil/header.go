package textutil

import (
	"fmt"
	"io"
	"mime"
	"net/mail"
	"strings"
)

// DecodeHeader decodes RFC 2047 encoded-words in a header value and repairs
// any remaining invalid UTF-8. Values without encoded-words pass through.
func DecodeHeader(s string) string {
	if !strings.Contains(s, "=?") {
		return EnsureUTF8(s)
	}
	dec := mime.WordDecoder{
		CharsetReader: func(charset string, input io.Reader) (io.Reader, error) {
			enc := encodingByName(charset)
			if enc == nil {
				return nil, fmt.Errorf("unsupported charset: %s", charset)
			}
			return enc.NewDecoder().Reader(input), nil
		},
	}
	decoded, err := dec.DecodeHeader(s)
	if err != nil {
		return EnsureUTF8(s)
	}
	return EnsureUTF8(decoded)
}

// ParseAddress splits a From header into display name and address. Headers
// that fail RFC 5322 parsing fall back to angle-bracket extraction so a
// malformed sender still yields a usable address.
func ParseAddress(header string) (name, address string) {
	header = DecodeHeader(strings.TrimSpace(header))
	if header == "" {
		return "", ""
	}

	if addr, err := mail.ParseAddress(header); err == nil {
		return strings.TrimSpace(addr.Name), strings.TrimSpace(addr.Address)
	}

	// Crude fallback: take the first angle-bracketed token as the address
	// and whatever precedes it as the name.
	if open := strings.IndexByte(header, '<'); open >= 0 {
		if close := strings.IndexByte(header[open:], '>'); close > 0 {
			address = strings.TrimSpace(header[open+1 : open+close])
			name = strings.Trim(strings.TrimSpace(header[:open]), `"`)
			return name, address
		}
	}

	if strings.Contains(header, "@") {
		return "", strings.Trim(header, `"<> `)
	}
	return header, ""
}

// NormalizeAddress canonicalizes an email address for grouping:
// lowercased, trimmed, with any +alias stripped from the local part.
// Dots in the local part are kept; collapsing them is provider-specific
// and would over-group senders on providers that honor dots.
func NormalizeAddress(address string) string {
	address = strings.ToLower(strings.TrimSpace(address))
	at := strings.LastIndexByte(address, '@')
	if at <= 0 {
		return address
	}
	local := address[:at]
	domain := address[at+1:]
	if plus := strings.IndexByte(local, '+'); plus > -1 {
		local = local[:plus]
	}
	return local + "@" + domain
}

// Domain returns the domain part of an address, or "" when there is none.
func Domain(address string) string {
	at := strings.LastIndexByte(address, '@')
	if at < 0 || at == len(address)-1 {
		return ""
	}
	return strings.ToLower(address[at+1:])
}
