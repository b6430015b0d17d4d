package core

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		name  string
		typ   EntryType
		raw   string
		want  string
		field string
	}{
		{"email lower-cased", EntryEmail, "  Alice@Example.COM ", "alice@example.com", ""},
		{"email display name", EntryEmail, "Alice <alice@example.com>", "alice@example.com", ""},
		{"domain trailing dot", EntryDomain, "Example.COM.", "example.com", ""},
		{"idn domain", EntryDomain, "bücher.example", "xn--bcher-kva.example", ""},
		{"mapped ipv4", EntryIP, "::ffff:192.0.2.1", "192.0.2.1", ""},
		{"empty", EntryEmail, "   ", "", "value"},
		{"not an email", EntryEmail, "nobody", "", "value"},
		{"not an ip", EntryIP, "300.1.1.1", "", "value"},
		{"unknown type", EntryType("asn"), "64500", "", "type"},
		{"email too long", EntryEmail, strings.Repeat("a", 250) + "@example.com", "", "value"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeValue(tt.typ, tt.raw)
			if tt.field != "" {
				var verr *ValidationError
				require.ErrorAs(t, err, &verr)
				assert.Equal(t, tt.field, verr.Field)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNormalizeValueLengthBoundary(t *testing.T) {
	domain := "@example.com"
	fits := strings.Repeat("a", MaxValueLength-len(domain)) + domain

	got, err := NormalizeValue(EntryEmail, fits)
	require.NoError(t, err)
	assert.Len(t, got, MaxValueLength)

	_, err = NormalizeValue(EntryEmail, "a"+fits)
	assert.Error(t, err)
}
