package pipeline

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

var (
	ErrDecode = errors.New("decode source image")
	ErrEncode = errors.New("encode jpeg output")
)

const DefaultQuality = 85

// Resize decodes src, scales it down so both dimensions fit within
// maxWidth x maxHeight while preserving aspect ratio, and re-encodes as
// JPEG at the given quality. Images already inside the bounds are never
// upscaled. Pure function: same bytes and parameters, same output.
func Resize(src []byte, maxWidth, maxHeight, quality int) ([]byte, error) {
	if maxWidth <= 0 || maxHeight <= 0 {
		return nil, fmt.Errorf("invalid bounds %dx%d", maxWidth, maxHeight)
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}

	img, err := imaging.Decode(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	fitted := imaging.Fit(img, maxWidth, maxHeight, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, fitted, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEncode, err)
	}
	return buf.Bytes(), nil
}
