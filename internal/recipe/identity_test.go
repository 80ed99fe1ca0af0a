package recipe

import (
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var localIDPattern = regexp.MustCompile(`^local_\d+_[0-9a-z]{9}$`)

func TestNewLocalID_Format(t *testing.T) {
	t.Parallel()

	now := time.UnixMilli(1700000000123)

	id, err := NewLocalID(now)
	require.NoError(t, err)

	assert.Equal(t, KindLocal, id.Kind)
	assert.True(t, id.IsLocal())
	assert.Regexp(t, localIDPattern, id.Value)
	assert.Contains(t, id.Value, "_1700000000123_")
	assert.True(t, HasLocalPrefix(id.Value))
}

func TestNewLocalID_Unique(t *testing.T) {
	t.Parallel()

	now := time.Now()
	seen := make(map[string]bool)

	for range 500 {
		id, err := NewLocalID(now)
		require.NoError(t, err)
		require.False(t, seen[id.Value], "duplicate id %s", id.Value)
		seen[id.Value] = true
	}
}

func TestValidateCanonical(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		id      string
		wantErr bool
	}{
		{"uuid", "6f1c7a51-0f55-4c3a-9a3e-1b2f9d46c0aa", false},
		{"opaque", "abc123", false},
		{"empty", "", true},
		{"reserved prefix", "local_123_abc", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := ValidateCanonical(tt.id)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrDataIntegrity))

				return
			}

			require.NoError(t, err)
		})
	}
}

func TestKind_RoundTrip(t *testing.T) {
	t.Parallel()

	for _, k := range []Kind{KindLocal, KindCanonical} {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}

	_, err := ParseKind("synced")
	assert.Error(t, err)
	assert.Equal(t, "kind(7)", Kind(7).String())
}
