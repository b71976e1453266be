package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dermashare/backend/pkg/logger"
)

// SegmentationClient submits image keys to the external segmentation
// processor. The processor only acknowledges the request; the derived image
// appears later in its own bucket.
type SegmentationClient struct {
	url        string
	httpClient *http.Client
}

func NewSegmentationClient(url string) *SegmentationClient {
	return &SegmentationClient{
		url:        url,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type segmentationRequest struct {
	ImgPath string `json:"img_path"`
}

func (c *SegmentationClient) Submit(ctx context.Context, imageKey string) error {
	payload, err := json.Marshal(segmentationRequest{ImgPath: imageKey})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("submitting %s to processor: %w", imageKey, err)
	}
	defer resp.Body.Close()

	// Drain the acknowledgement; the body carries nothing we consume.
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return fmt.Errorf("processor rejected %s: status %d", imageKey, resp.StatusCode)
	}

	logger.Info("segmentation_submitted", map[string]interface{}{
		"key":    imageKey,
		"status": resp.StatusCode,
	})
	return nil
}
