package core

import (
	"net/mail"
	"net/netip"
	"strings"

	"golang.org/x/net/idna"
)

// MaxValueLength is the longest normalized value the value columns hold
const MaxValueLength = 255

// NormalizeValue returns the canonical form of a trust entry value so that
// the same sender, domain or address always maps to the same key
func NormalizeValue(typ EntryType, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", Invalid("value", "must not be empty")
	}

	var (
		value string
		err   error
	)
	switch typ {
	case EntryEmail:
		value, err = NormalizeEmail(raw)
	case EntryDomain:
		value, err = NormalizeDomain(raw)
	case EntryIP:
		addr, perr := netip.ParseAddr(raw)
		if perr != nil {
			return "", Invalid("value", "%q is not an IP address", raw)
		}
		value = addr.Unmap().String()
	default:
		return "", Invalid("type", "unknown entry type %q", typ)
	}
	if err != nil {
		return "", err
	}
	if len(value) > MaxValueLength {
		return "", Invalid("value", "must be at most %d characters", MaxValueLength)
	}
	return value, nil
}

// NormalizeEmail lower-cases an address and converts its domain to ASCII.
// Display names ("Name <a@b>") are stripped.
func NormalizeEmail(raw string) (string, error) {
	addr := strings.TrimSpace(raw)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}

	at := strings.LastIndex(addr, "@")
	if at <= 0 || at == len(addr)-1 {
		return "", Invalid("value", "%q is not an email address", raw)
	}

	domain, err := NormalizeDomain(addr[at+1:])
	if err != nil {
		return "", Invalid("value", "%q has an invalid domain", raw)
	}
	return strings.ToLower(addr[:at]) + "@" + domain, nil
}

// NormalizeDomain lower-cases a domain and converts IDN labels to punycode
func NormalizeDomain(raw string) (string, error) {
	domain := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(raw)), ".")
	if domain == "" {
		return "", Invalid("value", "domain must not be empty")
	}
	ascii, err := idna.Lookup.ToASCII(domain)
	if err != nil {
		return "", Invalid("value", "%q is not a valid domain", raw)
	}
	return ascii, nil
}

// DomainOf extracts the normalized domain of an email address
func DomainOf(email string) string {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return ""
	}
	domain, err := NormalizeDomain(email[at+1:])
	if err != nil {
		return ""
	}
	return domain
}
