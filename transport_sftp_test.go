package bbdl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHostKeyCallback(t *testing.T) {
	t.Parallel()

	knownHosts := filepath.Join(t.TempDir(), "known_hosts")
	require.NoError(t, os.WriteFile(knownHosts, nil, 0o600))

	tests := []struct {
		name       string
		knownHosts string
		skip       bool
		wantErr    bool
	}{
		{"no known_hosts", "", false, true},
		{"no known_hosts, skip set", "", true, false},
		{"known_hosts", knownHosts, false, false},
		{"missing known_hosts", filepath.Join(t.TempDir(), "nope"), true, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s := DefaultSettings()
			s.KnownHosts = tt.knownHosts
			s.InsecureSkipHostKey = tt.skip
			cb, err := hostKeyCallback(s)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				var ve *ValidationError
				require.ErrorAs(t, err, &ve)
				assert.Equal(t, "knownhosts", ve.Field)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, cb)
		})
	}
}

func TestDialSFTP_RequiresKnownHosts(t *testing.T) {
	t.Parallel()

	// 192.0.2.0/24 is reserved for documentation; failing before the dial
	// keeps this from hanging
	s := DefaultSettings()
	s.Hostname = "192.0.2.1"
	_, err := DialSFTP(context.Background(), DialConfig{Settings: s})
	assert.ErrorIs(t, err, ErrValidation)
	assert.ErrorContains(t, err, "insecureskiphostkey")
}
