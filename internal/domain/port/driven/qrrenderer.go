package driven

import "errors"

// ErrInvalidQRSize is returned for image sizes the renderer cannot produce.
var ErrInvalidQRSize = errors.New("qr code size out of range")

// QRRenderer encodes text, typically an otpauth URI, as a square PNG image of
// size pixels. A size of 0 selects the renderer's default.
type QRRenderer interface {
	PNG(content string, size int) ([]byte, error)
}
