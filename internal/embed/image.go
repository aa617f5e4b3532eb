package embed

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/gif"
	_ "image/png"
	"io"
	"net/http"
	"time"

	"golang.org/x/image/draw"

	serrors "github.com/storefind/storefind/internal/errors"
)

// ImageFetcher downloads product images and prepares them for the image
// encoder: content sniffing, size bounds, and downscaling of oversized
// images before they cross the wire.
type ImageFetcher struct {
	client   *http.Client
	maxBytes int64
	maxDim   int
}

// ImageFetcherConfig configures an ImageFetcher.
type ImageFetcherConfig struct {
	Timeout  time.Duration
	MaxBytes int64
	MaxDim   int
}

// NewImageFetcher creates an image fetcher with the given bounds.
func NewImageFetcher(cfg ImageFetcherConfig) *ImageFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 8 << 20
	}
	if cfg.MaxDim <= 0 {
		cfg.MaxDim = 1024
	}
	return &ImageFetcher{
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxBytes,
		maxDim:   cfg.MaxDim,
	}
}

// Fetch downloads the image at url and returns encoder-ready bytes.
// Oversized images are downscaled so the longest edge is maxDim.
func (f *ImageFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeImageFetch, "build image request", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, serrors.Cancelled()
		}
		return nil, serrors.New(serrors.ErrCodeImageFetch, "fetch product image", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, serrors.New(serrors.ErrCodeImageFetch,
			fmt.Sprintf("image fetch returned %d", resp.StatusCode), nil)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBytes+1))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeImageFetch, "read image body", err)
	}
	if int64(len(data)) > f.maxBytes {
		return nil, serrors.New(serrors.ErrCodeImageFetch,
			fmt.Sprintf("image exceeds %d byte limit", f.maxBytes), nil)
	}

	// Sniff real content; Content-Type headers lie.
	if ct := http.DetectContentType(data); ct != "image/jpeg" && ct != "image/png" && ct != "image/gif" {
		return nil, serrors.New(serrors.ErrCodeImageFetch,
			fmt.Sprintf("unsupported image content type %s", ct), nil)
	}

	return f.Prepare(data)
}

// Prepare downscales raw image bytes when either edge exceeds maxDim.
// Already-small images pass through untouched.
func (f *ImageFetcher) Prepare(data []byte) ([]byte, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeImageFetch, "decode image header", err)
	}
	if cfg.Width <= f.maxDim && cfg.Height <= f.maxDim {
		return data, nil
	}

	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeImageFetch, "decode image", err)
	}

	w, h := scaledDims(cfg.Width, cfg.Height, f.maxDim)
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, dst, &jpeg.Options{Quality: 90}); err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "encode downscaled image", err)
	}
	return buf.Bytes(), nil
}

// scaledDims shrinks (w, h) preserving aspect ratio so the longest edge
// equals maxDim.
func scaledDims(w, h, maxDim int) (int, int) {
	if w >= h {
		return maxDim, max(1, h*maxDim/w)
	}
	return max(1, w*maxDim/h), maxDim
}
