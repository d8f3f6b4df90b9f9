package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	defaultCallbackTimeout = 10 * time.Second
	callbackTokenTTL       = 5 * time.Minute
	callbackSubject        = "workflow-worker"
)

// CallbackClient delivers run results to the gateway's completion webhook.
// When a signing secret is configured every request carries a short-lived
// HS256 bearer token accepted by the admin JWT middleware.
type CallbackClient struct {
	url        string
	secret     []byte
	httpClient *http.Client
	now        func() time.Time
}

var _ Deliverer = (*CallbackClient)(nil)

// NewCallbackClient targets url, signing with secret when non-empty.
func NewCallbackClient(url, secret string, timeout time.Duration) (*CallbackClient, error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return nil, errors.New("workflow: callback url is required")
	}
	if timeout <= 0 {
		timeout = defaultCallbackTimeout
	}
	return &CallbackClient{
		url:        url,
		secret:     []byte(secret),
		httpClient: &http.Client{Timeout: timeout},
		now:        time.Now,
	}, nil
}

// Deliver posts res as JSON.
func (c *CallbackClient) Deliver(ctx context.Context, res Result) error {
	body, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("workflow: encode callback: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workflow: build callback request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if len(c.secret) > 0 {
		token, err := c.sign()
		if err != nil {
			return err
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: callback request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("workflow: callback returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	return nil
}

func (c *CallbackClient) sign() (string, error) {
	now := c.now()
	claims := jwt.RegisteredClaims{
		Subject:   callbackSubject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(callbackTokenTTL)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", fmt.Errorf("workflow: sign callback token: %w", err)
	}
	return token, nil
}
