package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIdentityFromToken(t *testing.T) {
	t.Parallel()

	a := IdentityFromToken([]byte("token-a"))
	b := IdentityFromToken([]byte("token-b"))

	assert.Len(t, string(a), 2*IdentitySize)
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, IdentityFromToken([]byte("token-a")))

	parsed, err := ParseIdentity(string(a))
	require.NoError(t, err)
	assert.Equal(t, a, parsed)
}

func TestParseIdentity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    Identity
		wantErr bool
	}{
		{in: "abcd", want: "abcd"},
		{in: "0xABCD", want: "abcd"},
		{in: "", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "zz", wantErr: true},
		{in: "ab' OR 1=1 --", wantErr: true},
		{in: "0x", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseIdentity(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidIdentity)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestIdentity_Short(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "0123abcd", Identity("0123abcdef").Short())
	assert.Equal(t, "ab", Identity("ab").Short())
	assert.True(t, Identity("").IsZero())
}
