// Package inference talks to a pose detector exposed as an HTTP sidecar.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/saddle-fit/internal/logging"
	"github.com/example/saddle-fit/internal/pose"
)

// Client posts frames to the sidecar's detection URL.
type Client struct {
	url    string
	http   *http.Client
	logger *zap.Logger
}

// NewClient builds a detector for url. A nil httpClient gets a 30s default.
func NewClient(url string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		url:    strings.TrimRight(url, "/"),
		http:   httpClient,
		logger: logger.Named("inference"),
	}
}

type detectResponse struct {
	Landmarks []pose.Point `json:"landmarks"`
	Error     string       `json:"error,omitempty"`
}

// Detect sends the packed frame as multipart form data.
func (c *Client) Detect(ctx context.Context, frame *pose.Frame) (pose.Landmarks, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("width", strconv.Itoa(frame.Width)); err != nil {
		return nil, fmt.Errorf("write width: %w", err)
	}
	if err := writer.WriteField("height", strconv.Itoa(frame.Height)); err != nil {
		return nil, fmt.Errorf("write height: %w", err)
	}
	part, err := writer.CreateFormFile("frame", "frame.rgb")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(frame.RGB); err != nil {
		return nil, fmt.Errorf("copy frame data: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		wrapped := logging.NewOperationError("inference.detect", "", err)
		c.logger.Error("pose detector request failed", zap.Error(wrapped), zap.String("url", c.url))
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("inference failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
		return nil, logging.NewOperationError("inference.detect", "", err)
	}

	var result detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, logging.NewOperationError("inference.decode", "", err)
	}
	if len(result.Landmarks) == 0 {
		return nil, pose.ErrNoLandmarks
	}
	return pose.Landmarks(result.Landmarks), nil
}

// CheckHealth probes <url>/health.
func (c *Client) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("pose detector unhealthy: %d", resp.StatusCode)
	}
	return nil
}
