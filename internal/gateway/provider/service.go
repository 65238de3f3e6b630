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
)

// HTTPDomainService calls one remote domain service (market data, strategy,
// credit, risk) over the platform's shared JSON contract.
type HTTPDomainService struct {
	BaseURL string
	Key     string
	APIKey  string
	Client  *http.Client
}

func NewHTTPDomainService(baseURL, key, apiKey string, timeout time.Duration) *HTTPDomainService {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPDomainService{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Key:     key,
		APIKey:  apiKey,
		Client:  &http.Client{Timeout: timeout},
	}
}

type domainServiceRequest struct {
	UserID string         `json:"user_id"`
	Args   map[string]any `json:"args,omitempty"`
}

func (s *HTTPDomainService) Handle(ctx context.Context, userID string, args map[string]any) (map[string]any, error) {
	body, err := json.Marshal(domainServiceRequest{UserID: userID, Args: args})
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/v1/services/%s", s.BaseURL, s.Key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.APIKey)
	}
	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, decision.Transient(s.Key+" service", err)
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode/100 != 2 {
		return nil, decision.Transient(s.Key+" service", fmt.Errorf("status=%d", resp.StatusCode))
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("%s service returned malformed JSON: %w", s.Key, err)
	}
	return out, nil
}
