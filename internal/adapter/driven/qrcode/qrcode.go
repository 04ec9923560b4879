// Package qrcode renders otpauth URIs as PNG QR codes for export to another
// authenticator.
package qrcode

import (
	"fmt"

	goqrcode "github.com/skip2/go-qrcode"

	"github.com/ericfisherdev/authenticator/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.QRRenderer = (*Renderer)(nil)

// Size limits in pixels.
const (
	DefaultSize = 256
	MinSize     = 64
	MaxSize     = 1024
)

// ErrInvalidSize is returned for sizes outside MinSize..MaxSize.
var ErrInvalidSize = driven.ErrInvalidQRSize

// Renderer encodes content at medium error correction, which keeps the
// symbol small for the ~100 character URIs an account exports.
type Renderer struct {
	level goqrcode.RecoveryLevel
}

// New returns a Renderer.
func New() *Renderer {
	return &Renderer{level: goqrcode.Medium}
}

// PNG renders content as a square PNG of size pixels. A size of 0 selects
// DefaultSize.
func (r *Renderer) PNG(content string, size int) ([]byte, error) {
	if size == 0 {
		size = DefaultSize
	}
	if size < MinSize || size > MaxSize {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSize, size)
	}

	png, err := goqrcode.Encode(content, r.level, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr code: %w", err)
	}
	return png, nil
}
