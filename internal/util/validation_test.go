package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsValidUUID(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"3f2b8c1e-9a4d-4e7b-8c2a-1d5e6f7a8b9c", true},
		{"3F2B8C1E-9A4D-4E7B-8C2A-1D5E6F7A8B9C", false},
		{"3f2b8c1e9a4d4e7b8c2a1d5e6f7a8b9c", false},
		{"{3f2b8c1e-9a4d-4e7b-8c2a-1d5e6f7a8b9c}", false},
		{"urn:uuid:3f2b8c1e-9a4d-4e7b-8c2a-1d5e6f7a8b9c", false},
		{"3f2b8c1e-9a4d-4e7b-8c2a-1d5e6f7a8b9", false},
		{"", false},
	}
	for _, tc := range tests {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, IsValidUUID(tc.input))
		})
	}
}

func TestIsValidEnum(t *testing.T) {
	values := []string{"barcode", "qr", "both"}

	assert.True(t, IsValidEnum("qr", values))
	assert.True(t, IsValidEnum("", values))
	assert.False(t, IsValidEnum("QR", values))
	assert.False(t, IsValidEnum("datamatrix", values))

	type backend string
	assert.True(t, IsValidEnum(backend("sqlite"), []backend{"sqlite", "redis"}))
	assert.False(t, IsValidEnum(backend("bolt"), []backend{"sqlite", "redis"}))
}
