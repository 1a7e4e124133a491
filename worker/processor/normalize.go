package processor

import (
	"bytes"
	"fmt"

	"github.com/disintegration/imaging"
)

// DefaultMaxPageDim caps the longest edge of a page image sent to the
// inference backend. Oversized scans blow up serving memory without improving
// recognition quality.
const DefaultMaxPageDim = 2560

// NormalizePageImage downscales a page image so its longest edge is at most
// maxDim and re-encodes it as JPEG. Images already within bounds are returned
// unchanged.
func NormalizePageImage(data []byte, maxDim int) ([]byte, error) {
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}

	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	if width <= maxDim && height <= maxDim {
		return data, nil
	}

	if width >= height {
		img = imaging.Resize(img, maxDim, 0, imaging.Lanczos)
	} else {
		img = imaging.Resize(img, 0, maxDim, imaging.Lanczos)
	}

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.JPEG, imaging.JPEGQuality(90)); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}
	return buf.Bytes(), nil
}
