package whatsapp

import (
	"errors"
	"fmt"
	"strings"
)

// JID suffixes recognized by the gateway. The @lid form is the multi-device
// link identifier; @g.us addresses groups.
const (
	suffixUser  = "@c.us"
	suffixLink  = "@lid"
	suffixGroup = "@g.us"

	minPhoneDigits = 10
)

// ErrInvalidJID reports a malformed WhatsApp identifier.
var ErrInvalidJID = errors.New("invalid whatsapp identifier")

// NormalizeJID normalizes a raw identifier into a full JID. Bare numeric
// strings get the default @c.us suffix; strings already carrying a
// recognized suffix (or any other @-form, e.g. groups) pass through.
func NormalizeJID(input string) (string, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return "", fmt.Errorf("%w: empty input", ErrInvalidJID)
	}

	if strings.HasSuffix(trimmed, suffixUser) || strings.HasSuffix(trimmed, suffixLink) {
		return trimmed, nil
	}
	if strings.Contains(trimmed, "@") {
		return trimmed, nil
	}

	digits := digitsOnly(trimmed)
	if len(digits) < minPhoneDigits {
		return "", fmt.Errorf("%w: %s", ErrInvalidJID, input)
	}
	return digits + suffixUser, nil
}

// PhoneFromJID extracts the phone number from a JID, or "" when the JID does
// not carry at least minPhoneDigits digits.
func PhoneFromJID(jid string) string {
	if jid == "" {
		return ""
	}
	cleaned := jid
	for _, suffix := range []string{suffixUser, suffixLink, suffixGroup, "@s.whatsapp.net"} {
		cleaned = strings.TrimSuffix(cleaned, suffix)
	}
	digits := digitsOnly(cleaned)
	if len(digits) < minPhoneDigits {
		return ""
	}
	return digits
}

// IsLinkJID reports whether the JID uses the link-identifier form.
func IsLinkJID(jid string) bool {
	return strings.HasSuffix(jid, suffixLink)
}

// IsGroupJID reports whether the JID addresses a group chat.
func IsGroupJID(jid string) bool {
	return strings.HasSuffix(jid, suffixGroup)
}

// ResolveJID picks the best JID from a primary identifier, a fallback phone,
// and a formatted display name, in that order.
func ResolveJID(primary, fallbackPhone, formattedName string) (string, error) {
	if primary != "" {
		if jid, err := NormalizeJID(primary); err == nil {
			return jid, nil
		}
	}
	if fallbackPhone != "" {
		if jid, err := NormalizeJID(fallbackPhone); err == nil {
			return jid, nil
		}
	}
	if formattedName != "" {
		if digits := digitsOnly(formattedName); len(digits) >= minPhoneDigits {
			return digits + suffixUser, nil
		}
	}
	return "", fmt.Errorf("%w: no resolvable source", ErrInvalidJID)
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
