package processor

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"testing"
)

func encodeTestImage(t *testing.T, width, height int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, width, height))

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r := uint8((x * 255) / width)
			g := uint8((y * 255) / height)
			img.Set(x, y, color.RGBA{r, g, 128, 255})
		}
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90}); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}

func TestNormalizePageImage_DownscalesWide(t *testing.T) {
	data := encodeTestImage(t, 800, 400)

	out, err := NormalizePageImage(data, 400)
	if err != nil {
		t.Fatalf("NormalizePageImage failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}

	bounds := img.Bounds()
	if bounds.Dx() != 400 {
		t.Errorf("Expected width 400, got %d", bounds.Dx())
	}
	if bounds.Dy() != 200 {
		t.Errorf("Expected proportional height 200, got %d", bounds.Dy())
	}
}

func TestNormalizePageImage_DownscalesTall(t *testing.T) {
	data := encodeTestImage(t, 300, 900)

	out, err := NormalizePageImage(data, 300)
	if err != nil {
		t.Fatalf("NormalizePageImage failed: %v", err)
	}

	img, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("Failed to decode output: %v", err)
	}

	if img.Bounds().Dy() != 300 {
		t.Errorf("Expected height 300, got %d", img.Bounds().Dy())
	}
}

func TestNormalizePageImage_WithinBoundsUnchanged(t *testing.T) {
	data := encodeTestImage(t, 200, 100)

	out, err := NormalizePageImage(data, 400)
	if err != nil {
		t.Fatalf("NormalizePageImage failed: %v", err)
	}

	if !bytes.Equal(out, data) {
		t.Error("In-bounds image must be returned byte-for-byte unchanged")
	}
}

func TestNormalizePageImage_InvalidInput(t *testing.T) {
	if _, err := NormalizePageImage([]byte("not an image"), 400); err == nil {
		t.Error("Expected error for non-image input")
	}
}

func TestIsPageImage(t *testing.T) {
	for key, want := range map[string]bool{
		"docs/scan.PNG": true,
		"docs/page.jpg": true,
		"a/b/c.jpeg":    true,
		"docs/file.pdf": false,
		"docs/file":     false,
	} {
		if got := isPageImage(key); got != want {
			t.Errorf("isPageImage(%q) = %v, want %v", key, got, want)
		}
	}
}
