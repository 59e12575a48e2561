package document

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// Enhance turns a rendered page into a grayscale, contrast-boosted JPEG.
// contrast is a percentage in -100..100.
func Enhance(page []byte, contrast float64, quality int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(page))
	if err != nil {
		return nil, fmt.Errorf("decode rendered page: %w", err)
	}
	gray := imaging.Grayscale(img)
	if contrast != 0 {
		gray = imaging.AdjustContrast(gray, contrast)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, gray, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
