package share

import (
	"fmt"

	"github.com/skip2/go-qrcode"
)

const (
	minSize     = 64
	maxSize     = 1024
	DefaultSize = 256
)

// QRGenerator renders QR codes pointing voters at a contestant's card
type QRGenerator struct {
	baseURL string
}

func NewQRGenerator(baseURL string) *QRGenerator {
	return &QRGenerator{baseURL: baseURL}
}

// Link is the public URL encoded in the QR code
func (q *QRGenerator) Link(entryID int64) string {
	return fmt.Sprintf("%s/?contestant=%d", q.baseURL, entryID)
}

// PNG encodes Link(entryID) as a size x size PNG. Out of range sizes are clamped.
func (q *QRGenerator) PNG(entryID int64, size int) ([]byte, error) {
	size = max(minSize, min(size, maxSize))
	return qrcode.Encode(q.Link(entryID), qrcode.Medium, size)
}
