package screenshot

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	"github.com/nfnt/resize"
)

// Downscale shrinks a PNG to maxWidth, keeping the aspect ratio. Images
// already narrow enough are returned unchanged.
func Downscale(data []byte, maxWidth uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	if uint(img.Bounds().Dx()) <= maxWidth {
		return data, nil
	}

	resized := resize.Resize(maxWidth, 0, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, resized); err != nil {
		return nil, fmt.Errorf("encode screenshot: %w", err)
	}
	return buf.Bytes(), nil
}
