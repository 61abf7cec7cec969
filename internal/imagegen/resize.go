package imagegen

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
)

const (
	// MaxPhotoBytes is the largest image sent as is.
	MaxPhotoBytes = 5_500_000
	TargetWidth   = 800
)

// Shrink scales data down to width when it is larger than maxBytes, keeping
// the aspect ratio, and re-encodes it as JPEG. Smaller images are returned
// unchanged with resized=false.
func Shrink(data []byte, maxBytes int, width int) (out []byte, resized bool, err error) {
	if maxBytes <= 0 {
		maxBytes = MaxPhotoBytes
	}
	if width <= 0 {
		width = TargetWidth
	}
	if len(data) <= maxBytes {
		return data, false, nil
	}

	source, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, false, fmt.Errorf("decode image: %w", err)
	}
	bounds := source.Bounds()
	if bounds.Dx() == 0 {
		return nil, false, fmt.Errorf("decode image: zero width")
	}
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}

	target := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.CatmullRom.Scale(target, target.Bounds(), source, bounds, draw.Over, nil)

	var buffer bytes.Buffer
	if err := jpeg.Encode(&buffer, target, &jpeg.Options{Quality: 85}); err != nil {
		return nil, false, fmt.Errorf("encode jpeg: %w", err)
	}
	return buffer.Bytes(), true, nil
}

// Fetcher downloads finished images.
type Fetcher struct {
	httpClient *http.Client
	maxBytes   int64
}

func NewFetcher(httpClient *http.Client) *Fetcher {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Fetcher{httpClient: httpClient, maxBytes: 64 << 20}
}

func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create image request: %w", err)
	}
	response, err := f.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", response.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(response.Body, f.maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read image: %w", err)
	}
	return data, nil
}
