package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

func newTestServer(t *testing.T, dim int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls != nil {
			calls.Add(1)
		}
		require.Equal(t, "/v1/embeddings", r.URL.Path)

		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		vec := make([]float32, dim)
		vec[0] = 1
		resp := map[string]any{
			"data": []map[string]any{{"embedding": vec}},
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestProviderEmbed(t *testing.T) {
	srv := newTestServer(t, 1536, nil)
	defer srv.Close()

	p := NewProvider(ProviderConfig{
		Endpoint: srv.URL,
		Model:    "test-embed",
	})
	defer func() { _ = p.Close() }()

	vec, err := p.Embed(context.Background(), "dark leather boots")
	require.NoError(t, err)
	assert.Len(t, vec, 1536)
	assert.NoError(t, catalog.CheckUnitNorm(vec))
}

func TestProviderRejectsEmptyText(t *testing.T) {
	p := NewProvider(ProviderConfig{Endpoint: "http://unused", Model: "m"})
	_, err := p.Embed(context.Background(), "")
	assert.Equal(t, serrors.ErrCodeInvalidInput, serrors.CodeOf(err))
}

func TestProviderDimensionMismatchIsFatal(t *testing.T) {
	srv := newTestServer(t, 8, nil)
	defer srv.Close()

	p := NewProvider(ProviderConfig{
		Endpoint:   srv.URL,
		Model:      "test-embed",
		Dimensions: 1536,
		MaxRetries: 0,
	})
	_, err := p.Embed(context.Background(), "boots")
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeIntegrity, serrors.CodeOf(err))
	assert.True(t, serrors.IsFatal(err))
}

func TestProviderRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		vec := make([]float32, 4)
		vec[0] = 1
		_ = json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{{"embedding": vec}},
		})
	}))
	defer srv.Close()

	p := NewProvider(ProviderConfig{
		Endpoint:   srv.URL,
		Model:      "test-embed",
		Dimensions: 4,
		MaxRetries: 3,
	})
	p.retry.InitialDelay = 0

	vec, err := p.Embed(context.Background(), "boots")
	require.NoError(t, err)
	assert.Len(t, vec, 4)
	assert.Equal(t, int64(3), calls.Load())
}

func TestProviderThrottledCarriesRetryHint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p := NewProvider(ProviderConfig{
		Endpoint:   srv.URL,
		Model:      "test-embed",
		Dimensions: 4,
		MaxRetries: 0,
	})
	_, err := p.Embed(context.Background(), "boots")
	require.Error(t, err)
	assert.Equal(t, serrors.ErrCodeThrottled, serrors.CodeOf(err))
}

type fakeEmbedder struct {
	calls atomic.Int64
	dim   int
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	f.calls.Add(1)
	vec := make([]float32, f.dim)
	vec[int(len(text))%f.dim] = 1
	return vec, nil
}

func (f *fakeEmbedder) EmbedImage(_ context.Context, image []byte) ([]float32, error) {
	f.calls.Add(1)
	vec := make([]float32, f.dim)
	vec[len(image)%f.dim] = 1
	return vec, nil
}

func (f *fakeEmbedder) Dimensions() int                    { return f.dim }
func (f *fakeEmbedder) ModelName() string                  { return "fake-model" }
func (f *fakeEmbedder) Available(context.Context) error    { return nil }
func (f *fakeEmbedder) Close() error                       { return nil }

func TestCachedEmbedderHitsOnRepeat(t *testing.T) {
	fake := &fakeEmbedder{dim: 8}
	cached, err := NewCachedEmbedder(fake, 16, nil)
	require.NoError(t, err)

	v1, err := cached.Embed(context.Background(), "boots")
	require.NoError(t, err)
	v2, err := cached.Embed(context.Background(), "boots")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), fake.calls.Load(), "second call must be served from cache")

	stats := cached.Stats()
	assert.Equal(t, uint64(1), stats.Hits)
	assert.Equal(t, uint64(1), stats.Misses)
	assert.Equal(t, 0.5, stats.HitRate())
}

func TestCachedEmbedderSeparatesTextAndImageKeys(t *testing.T) {
	fake := &fakeEmbedder{dim: 8}
	cached, err := NewCachedEmbedder(fake, 16, nil)
	require.NoError(t, err)

	_, err = cached.Embed(context.Background(), "abc")
	require.NoError(t, err)
	_, err = cached.EmbedImage(context.Background(), []byte("abc"))
	require.NoError(t, err)

	assert.Equal(t, int64(2), fake.calls.Load(), "text and image inputs must not collide")
}

func TestCachedEmbedderEvictsAtCapacity(t *testing.T) {
	fake := &fakeEmbedder{dim: 8}
	cached, err := NewCachedEmbedder(fake, 2, nil)
	require.NoError(t, err)

	for i := 0; i < 4; i++ {
		_, err := cached.Embed(context.Background(), fmt.Sprintf("query-%d", i))
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, cached.Stats().Size, 2)
}

func TestFetchReturnsEncoderReadyBytes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 64, 16))))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(buf.Bytes())
	}))
	defer srv.Close()

	f := NewImageFetcher(ImageFetcherConfig{MaxDim: 32})
	data, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	require.NoError(t, err)
	assert.LessOrEqual(t, cfg.Width, 32, "fetch output needs no further preparation")
	assert.LessOrEqual(t, cfg.Height, 32)

	again, err := f.Prepare(data)
	require.NoError(t, err)
	assert.Equal(t, data, again, "prepared bytes pass through unchanged")
}

func TestScaledDims(t *testing.T) {
	tests := []struct {
		w, h, maxDim     int
		wantW, wantH int
	}{
		{2048, 1024, 1024, 1024, 512},
		{1024, 2048, 512, 256, 512},
		{3000, 3000, 1024, 1024, 1024},
	}
	for _, tt := range tests {
		gotW, gotH := scaledDims(tt.w, tt.h, tt.maxDim)
		assert.Equal(t, tt.wantW, gotW)
		assert.Equal(t, tt.wantH, gotH)
	}
}
