// Package provider implements the AI-recommendation collaborator client.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"tiller/internal/decision"
	"tiller/internal/logger"
)

// HTTPRecommender talks to the recommendation service over JSON/HTTP with a
// small retry loop for 429/5xx, matching the service's published contract
// {recommendation, confidence 0-100, risk_assessment, analysis, cost}.
type HTTPRecommender struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
	Client     *http.Client
}

func NewHTTPRecommender(baseURL, apiKey string, timeout time.Duration) *HTTPRecommender {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPRecommender{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		Timeout: timeout,
		Client:  &http.Client{Timeout: timeout},
	}
}

func (r *HTTPRecommender) Recommend(ctx context.Context, req decision.RecommendRequest) (decision.Recommendation, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return decision.Recommendation{}, err
	}
	url := r.BaseURL + "/v1/recommendations"

	maxRetries := r.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return decision.Recommendation{}, ctx.Err()
			case <-time.After(time.Duration(attempt) * time.Second):
			}
		}
		raw, retryable, err := r.post(ctx, url, body)
		if err != nil {
			lastErr = err
			if !retryable {
				break
			}
			logger.Warnf("recommender: attempt %d failed: %v", attempt+1, err)
			continue
		}
		rec, err := parseRecommendation(raw)
		if err != nil {
			// A malformed body will not improve on retry.
			return decision.Recommendation{}, err
		}
		return rec, nil
	}
	return decision.Recommendation{}, decision.Transient("recommendation service", lastErr)
}

func (r *HTTPRecommender) post(ctx context.Context, url string, body []byte) (raw []byte, retryable bool, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, false, err
	}
	req.Header.Set("Content-Type", "application/json")
	if r.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.APIKey)
	}
	resp, err := r.Client.Do(req)
	if err != nil {
		return nil, true, err
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode/100 == 5 {
		return nil, true, fmt.Errorf("recommendation service status=%d", resp.StatusCode)
	}
	if resp.StatusCode/100 != 2 {
		return nil, false, fmt.Errorf("recommendation service status=%d", resp.StatusCode)
	}
	raw, err = io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return raw, false, err
}
