package discovery

import (
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandTargets(t *testing.T) {
	tests := []struct {
		name      string
		target    string
		wantLen   int
		wantFirst string
		wantLast  string
	}{
		{"single", "10.0.0.7", 1, "10.0.0.7", "10.0.0.7"},
		{"octet range", "192.168.1.1-254", 254, "192.168.1.1", "192.168.1.254"},
		{"one-address range", "192.168.1.9-9", 1, "192.168.1.9", "192.168.1.9"},
		{"cidr /24", "10.1.2.0/24", 254, "10.1.2.1", "10.1.2.254"},
		{"cidr unmasked", "10.1.2.77/30", 2, "10.1.2.77", "10.1.2.78"},
		{"cidr /31", "10.1.2.4/31", 2, "10.1.2.4", "10.1.2.5"},
		{"cidr /32", "10.1.2.4/32", 1, "10.1.2.4", "10.1.2.4"},
		{"whitespace", "  10.0.0.7 ", 1, "10.0.0.7", "10.0.0.7"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExpandTargets(tt.target)
			require.NoError(t, err)
			require.Len(t, got, tt.wantLen)
			assert.Equal(t, netip.MustParseAddr(tt.wantFirst), got[0])
			assert.Equal(t, netip.MustParseAddr(tt.wantLast), got[len(got)-1])
		})
	}
}

func TestExpandTargets_Errors(t *testing.T) {
	for _, target := range []string{
		"",
		"stage.local",
		"fe80::1",
		"10.0.0.5-2",
		"10.0.0.1-300",
		"10.0.0.1-x",
		"10.0.0.0/8",
		"10.0.0.0/33",
		"::/120",
	} {
		t.Run(target, func(t *testing.T) {
			_, err := ExpandTargets(target)
			assert.Error(t, err)
		})
	}
}
