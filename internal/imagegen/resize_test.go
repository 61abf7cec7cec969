package imagegen

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"
)

func encodedPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	source := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			source.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
		}
	}
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, source); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buffer.Bytes()
}

func TestShrinkKeepsSmallImages(t *testing.T) {
	data := encodedPNG(t, 20, 10)
	out, resized, err := Shrink(data, len(data)+1, 8)
	if err != nil || resized {
		t.Fatalf("expected passthrough, resized=%v err=%v", resized, err)
	}
	if !bytes.Equal(out, data) {
		t.Fatalf("expected identical bytes")
	}
}

func TestShrinkScalesLargeImagesProportionally(t *testing.T) {
	data := encodedPNG(t, 200, 100)
	out, resized, err := Shrink(data, 10, 40)
	if err != nil || !resized {
		t.Fatalf("expected resize, resized=%v err=%v", resized, err)
	}

	decoded, err := jpeg.Decode(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("expected jpeg output: %v", err)
	}
	if decoded.Bounds().Dx() != 40 || decoded.Bounds().Dy() != 20 {
		t.Fatalf("expected 40x20, got %v", decoded.Bounds())
	}
}

func TestShrinkRejectsGarbage(t *testing.T) {
	if _, _, err := Shrink([]byte("definitely not an image"), 4, 10); err == nil {
		t.Fatalf("expected decode error")
	}
}
