// Package recognition reads plates from camera images through the
// recognition service.
package recognition

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"parkly/internal/models"

	"github.com/redis/go-redis/v9"
)

// Client posts images to the recognition service.
type Client struct {
	baseURL    string
	httpClient *http.Client

	redis    redis.UniversalClient
	cacheTTL time.Duration
}

type processImageResponse struct {
	Result string `json:"result"`
}

// NewClient constructs a client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// UseRedisCache caches plates by image hash, so a camera retrying the same
// frame does not hit the service twice.
func (c *Client) UseRedisCache(redisClient redis.UniversalClient, ttl time.Duration) {
	c.redis = redisClient
	c.cacheTTL = ttl
}

// Recognize returns the plate found in image. Every failure wraps
// models.ErrRecognitionFailed.
func (c *Client) Recognize(ctx context.Context, image []byte) (string, error) {
	if len(image) == 0 {
		return "", fmt.Errorf("%w: empty image", models.ErrRecognitionFailed)
	}

	sum := sha256.Sum256(image)
	cacheKey := "recognition:" + hex.EncodeToString(sum[:])
	if plate, ok := c.readCache(ctx, cacheKey); ok {
		return plate, nil
	}

	var resp processImageResponse
	if err := c.postImage(ctx, c.baseURL+"/process_image", image, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", models.ErrRecognitionFailed, err)
	}
	plate := strings.TrimSpace(resp.Result)
	if plate == "" {
		return "", fmt.Errorf("%w: no plate in image", models.ErrRecognitionFailed)
	}

	c.writeCache(ctx, cacheKey, plate)
	return plate, nil
}

func (c *Client) readCache(ctx context.Context, key string) (string, bool) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return "", false
	}
	val, err := c.redis.Get(ctx, key).Result()
	if err != nil {
		return "", false
	}
	return val, true
}

func (c *Client) writeCache(ctx context.Context, key, plate string) {
	if c.redis == nil || c.cacheTTL <= 0 {
		return
	}
	_ = c.redis.Set(ctx, key, plate, c.cacheTTL).Err()
}

func (c *Client) postImage(ctx context.Context, endpoint string, image []byte, out any) error {
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("img_file", "image.jpg")
	if err != nil {
		return err
	}
	if _, err := part.Write(image); err != nil {
		return err
	}
	if err := w.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
