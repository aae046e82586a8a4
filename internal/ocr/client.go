// Package ocr is the client for the text extraction service.
package ocr

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/scriptforge/api/schemas"
	"github.com/xkilldash9x/scriptforge/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	extractPath     = "/ocr"
	defaultLanguage = "ch"
	// Upper bound on the response body we are willing to decode.
	maxResponseBytes = 16 << 20
)

type extractRequest struct {
	Image    string `json:"image"`
	Language string `json:"language"`
}

type extractBlock struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	BBox       []float64 `json:"bbox"`
}

type extractResponse struct {
	Text       string         `json:"text"`
	Confidence float64        `json:"confidence"`
	Blocks     []extractBlock `json:"blocks"`
}

// Client calls the OCR service over HTTP. It is safe for concurrent use.
type Client struct {
	endpoint   string
	language   string
	fallback   float64
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// NewClient builds a client from the ocr config section.
func NewClient(cfg config.OCRConfig, logger *zap.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("ocr.url is required")
	}
	lang := cfg.Language
	if lang == "" {
		lang = defaultLanguage
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	return &Client{
		endpoint:   strings.TrimRight(cfg.URL, "/") + extractPath,
		language:   lang,
		fallback:   cfg.FallbackConfidence,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		limiter:    limiter,
		logger:     logger.Named("ocr"),
	}, nil
}

// Extract sends image to the service. An empty language uses the configured
// default. Errors are returned as-is; callers decide whether to degrade.
func (c *Client) Extract(ctx context.Context, image []byte, language string) (schemas.OCRResult, error) {
	if len(image) == 0 {
		return schemas.OCRResult{}, fmt.Errorf("ocr: empty image")
	}
	if language == "" {
		language = c.language
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return schemas.OCRResult{}, fmt.Errorf("ocr: rate limiter: %w", err)
	}

	body, err := json.Marshal(extractRequest{
		Image:    base64.StdEncoding.EncodeToString(image),
		Language: language,
	})
	if err != nil {
		return schemas.OCRResult{}, fmt.Errorf("ocr: failed to marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return schemas.OCRResult{}, fmt.Errorf("ocr: failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return schemas.OCRResult{}, fmt.Errorf("ocr: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return schemas.OCRResult{}, fmt.Errorf("ocr: failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return schemas.OCRResult{}, fmt.Errorf("ocr: service returned status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var decoded extractResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return schemas.OCRResult{}, fmt.Errorf("ocr: failed to decode response: %w", err)
	}

	result := schemas.OCRResult{
		Text:       decoded.Text,
		Confidence: clamp(decoded.Confidence),
		Regions:    make([]schemas.TextRegion, 0, len(decoded.Blocks)),
	}
	for _, b := range decoded.Blocks {
		result.Regions = append(result.Regions, schemas.TextRegion{
			Text:       b.Text,
			Confidence: clamp(b.Confidence),
			BBox:       toBBox(b.BBox),
		})
	}

	c.logger.Debug("OCR extraction completed.",
		zap.Float64("confidence", result.Confidence),
		zap.Int("regions", len(result.Regions)),
		zap.Duration("duration", time.Since(start)))
	return result, nil
}

// Fallback is the placeholder used when extraction fails.
func (c *Client) Fallback() schemas.OCRResult {
	return Fallback(c.fallback)
}

// Fallback builds the degraded placeholder with the given confidence.
func Fallback(confidence float64) schemas.OCRResult {
	return schemas.OCRResult{Confidence: clamp(confidence), Degraded: true}
}

// toBBox converts the service's [x1, y1, x2, y2] corners.
func toBBox(corners []float64) schemas.BBox {
	if len(corners) != 4 {
		return schemas.BBox{}
	}
	return schemas.BBox{
		X:      corners[0],
		Y:      corners[1],
		Width:  corners[2] - corners[0],
		Height: corners[3] - corners[1],
	}
}

func clamp(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
