package embed

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/storefind/storefind/internal/catalog"
	serrors "github.com/storefind/storefind/internal/errors"
)

// Provider is an HTTP client for an embeddings API. It wraps every call in
// the outbound rate limiter, a circuit breaker, and bounded retries, and
// rejects any response whose dimension differs from the configured one.
type Provider struct {
	endpoint   string
	model      string
	imageModel string
	dimensions int
	timeout    time.Duration
	client     *http.Client
	limiter    *rate.Limiter
	breaker    *serrors.CircuitBreaker
	retry      serrors.RetryConfig
	logger     *slog.Logger
}

// ProviderConfig configures a Provider.
type ProviderConfig struct {
	Endpoint   string
	Model      string
	ImageModel string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
	// Limiter throttles outbound provider calls. Nil means unlimited.
	Limiter *rate.Limiter
	Logger  *slog.Logger
}

// NewProvider creates an embeddings API client.
func NewProvider(cfg ProviderConfig) *Provider {
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = catalog.EmbeddingDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	retry := serrors.DefaultRetryConfig()
	if cfg.MaxRetries >= 0 {
		retry.MaxRetries = cfg.MaxRetries
	}

	return &Provider{
		endpoint:   cfg.Endpoint,
		model:      cfg.Model,
		imageModel: cfg.ImageModel,
		dimensions: cfg.Dimensions,
		timeout:    cfg.Timeout,
		client: &http.Client{
			// Per-request contexts carry the timeout; the transport keeps
			// connections warm across calls.
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: cfg.Limiter,
		breaker: serrors.NewCircuitBreaker("embed-provider"),
		retry:   retry,
		logger:  cfg.Logger,
	}
}

type embeddingRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
	// Image carries base64-encoded image bytes for image models.
	Image string `json:"image,omitempty"`
}

type embeddingResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Embed generates a text embedding.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, serrors.InvalidInput("cannot embed empty text")
	}
	return p.call(ctx, embeddingRequest{Model: p.model, Input: text})
}

// EmbedImage generates an image embedding from raw image bytes.
func (p *Provider) EmbedImage(ctx context.Context, image []byte) ([]float32, error) {
	if len(image) == 0 {
		return nil, serrors.InvalidInput("cannot embed empty image")
	}
	return p.call(ctx, embeddingRequest{
		Model: p.imageModel,
		Image: base64.StdEncoding.EncodeToString(image),
	})
}

func (p *Provider) call(ctx context.Context, req embeddingRequest) ([]float32, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, serrors.Cancelled()
			}
			return nil, serrors.Throttled(0)
		}
	}

	return serrors.RetryWithResult(ctx, p.retry, func() ([]float32, error) {
		var vec []float32
		err := p.breaker.Execute(func() error {
			var innerErr error
			vec, innerErr = p.doRequest(ctx, req)
			return innerErr
		})
		if errors.Is(err, serrors.ErrCircuitOpen) {
			return nil, serrors.UpstreamUnavailable(err)
		}
		return vec, err
	})
}

func (p *Provider) doRequest(ctx context.Context, req embeddingRequest) ([]float32, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "marshal embedding request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		p.endpoint+"/v1/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeInternal, "build embedding request", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, serrors.Cancelled()
		}
		if reqCtx.Err() == context.DeadlineExceeded {
			return nil, serrors.New(serrors.ErrCodeUpstreamTimeout, "embedding request timed out", err)
		}
		return nil, serrors.New(serrors.ErrCodeUpstreamUnavailable, "embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return nil, serrors.New(serrors.ErrCodeUpstreamUnavailable, "read embedding response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, serrors.Throttled(retryAfter(resp))
	case resp.StatusCode >= 500:
		return nil, serrors.New(serrors.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("embedding provider returned %d", resp.StatusCode), nil)
	case resp.StatusCode != http.StatusOK:
		return nil, serrors.New(serrors.ErrCodeUpstreamUnavailable,
			fmt.Sprintf("embedding provider returned %d: %s", resp.StatusCode, truncate(respBody, 200)), nil)
	}

	var parsed embeddingResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, serrors.New(serrors.ErrCodeEncodingFailed, "decode embedding response", err)
	}
	if parsed.Error != nil {
		return nil, serrors.New(serrors.ErrCodeUpstreamUnavailable, parsed.Error.Message, nil)
	}
	if len(parsed.Data) == 0 {
		return nil, serrors.New(serrors.ErrCodeUpstreamUnavailable, "embedding response contained no data", nil)
	}

	vec := parsed.Data[0].Embedding
	if len(vec) != p.dimensions {
		// A wrong-dimension vector would silently corrupt the index.
		return nil, serrors.Integrity(fmt.Sprintf(
			"embedding dimension mismatch: got %d, want %d", len(vec), p.dimensions), nil)
	}
	vec = catalog.Normalize(vec)

	p.logger.Debug("embedding_generated",
		slog.String("model", req.Model),
		slog.Duration("duration", time.Since(start)))
	return vec, nil
}

// Dimensions returns the configured embedding dimension.
func (p *Provider) Dimensions() int { return p.dimensions }

// ModelName returns the text model identifier.
func (p *Provider) ModelName() string { return p.model }

// Available probes the provider with a tiny embedding request.
func (p *Provider) Available(ctx context.Context) error {
	_, err := p.Embed(ctx, "ping")
	return err
}

// Close shuts down idle connections.
func (p *Provider) Close() error {
	p.client.CloseIdleConnections()
	return nil
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if d, err := time.ParseDuration(v + "s"); err == nil {
			return d
		}
	}
	return 0
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
