package qrcode

import (
	"bytes"
	"image/png"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const uri = "otpauth://totp/ACME:alice?secret=GEZDGNBVGY3TQOJQGEZDGNBVGY3TQOJQ&issuer=ACME&algorithm=SHA1&digits=6&period=30"

func TestRenderer_PNG(t *testing.T) {
	r := New()

	out, err := r.PNG(uri, 200)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, 200, img.Bounds().Dx())
	assert.Equal(t, 200, img.Bounds().Dy())
}

func TestRenderer_DefaultSize(t *testing.T) {
	out, err := New().PNG(uri, 0)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(out))
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, img.Bounds().Dx())
}

func TestRenderer_RejectsBadSize(t *testing.T) {
	for _, size := range []int{-1, MinSize - 1, MaxSize + 1} {
		_, err := New().PNG(uri, size)
		assert.ErrorIs(t, err, ErrInvalidSize, "size %d", size)
	}
}

func TestRenderer_ContentTooLong(t *testing.T) {
	_, err := New().PNG(strings.Repeat("A", 8000), DefaultSize)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "AAAA")
}
