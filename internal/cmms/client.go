package cmms

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	DefaultBaseURL       = "http://localhost:8000/api/"
	defaultReadTimeout   = 5 * time.Second
	defaultSubmitTimeout = 10 * time.Second
	maxErrorBody         = 300 // runes
)

// LatencyObserver records how long backend calls take.
type LatencyObserver interface {
	ObserveRecordCall(operation, status string, seconds float64)
}

// Client talks to the maintenance backend REST API.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	readTimeout   time.Duration
	submitTimeout time.Duration
	observer      LatencyObserver
	logger        *logging.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithTimeouts overrides the read and submit timeouts.
func WithTimeouts(read, submit time.Duration) Option {
	return func(c *Client) {
		if read > 0 {
			c.readTimeout = read
		}
		if submit > 0 {
			c.submitTimeout = submit
		}
	}
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithLatencyObserver records call latency per operation.
func WithLatencyObserver(observer LatencyObserver) Option {
	return func(c *Client) {
		c.observer = observer
	}
}

// NewClient builds a client rooted at baseURL (e.g. http://cmms:8000/api/).
func NewClient(baseURL string, logger *logging.Logger, opts ...Option) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = logging.Default()
	}
	c := &Client{
		httpClient:    &http.Client{},
		baseURL:       strings.TrimRight(baseURL, "/") + "/",
		readTimeout:   defaultReadTimeout,
		submitTimeout: defaultSubmitTimeout,
		logger:        logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListEquipment returns the full equipment catalog in backend order.
func (c *Client) ListEquipment(ctx context.Context) ([]Equipment, error) {
	var equipment []Equipment
	if err := c.getList(ctx, "list_equipment", "equipos/", &equipment); err != nil {
		return nil, fmt.Errorf("list equipment: %w", err)
	}
	return equipment, nil
}

// FindEquipment returns the first catalog entry whose name or internal code
// contains term, ignoring case. A miss returns nil with no error.
func (c *Client) FindEquipment(ctx context.Context, term string) (*Equipment, error) {
	catalog, err := c.ListEquipment(ctx)
	if err != nil {
		return nil, err
	}
	return MatchEquipment(catalog, term), nil
}

// MatchEquipment applies the catalog match policy: case-insensitive substring
// on name or code, first entry in catalog order wins.
func MatchEquipment(catalog []Equipment, term string) *Equipment {
	needle := strings.ToLower(strings.TrimSpace(term))
	if needle == "" {
		return nil
	}
	for i := range catalog {
		name := strings.ToLower(catalog[i].Name)
		code := strings.ToLower(catalog[i].Code.String())
		if strings.Contains(name, needle) || strings.Contains(code, needle) {
			eq := catalog[i]
			return &eq
		}
	}
	return nil
}

// GetWorkOrder finds an order by number, ignoring case. A miss returns nil with no error.
func (c *Client) GetWorkOrder(ctx context.Context, number string) (*WorkOrder, error) {
	var orders []WorkOrder
	if err := c.getList(ctx, "get_work_order", "ordenes-trabajo/", &orders); err != nil {
		return nil, fmt.Errorf("get work order: %w", err)
	}
	for i := range orders {
		if strings.EqualFold(orders[i].Number, number) {
			order := orders[i]
			return &order, nil
		}
	}
	return nil, nil
}

// ListUsers returns backend accounts.
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var users []User
	if err := c.getList(ctx, "list_users", "users/", &users); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// SubmitFaultReport creates a corrective work order. The first backend user
// acts as requester.
func (c *Client) SubmitFaultReport(ctx context.Context, equipmentID int, description, priority string) (*WorkOrder, error) {
	users, err := c.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUserLookup, err)
	}
	if len(users) == 0 {
		return nil, ErrNoUsers
	}

	report := FaultReport{
		EquipmentID: equipmentID,
		Description: description,
		Priority:    priority,
		RequesterID: users[0].ID,
	}

	ctx, cancel := context.WithTimeout(ctx, c.submitTimeout)
	defer cancel()

	var order WorkOrder
	if err := c.do(ctx, "submit_fault_report", http.MethodPost, "ordenes-trabajo/reportar-falla/", report, &order); err != nil {
		return nil, fmt.Errorf("submit fault report: %w", err)
	}
	c.logger.Info("fault report submitted", "work_order", order.Number, "equipment_id", equipmentID, "priority", priority)
	return &order, nil
}

// getList decodes either a bare JSON array or a paginated {"results": [...]} body.
func (c *Client) getList(ctx context.Context, op, path string, out any) error {
	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	var raw json.RawMessage
	if err := c.do(ctx, op, http.MethodGet, path, nil, &raw); err != nil {
		return err
	}
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil
	}
	if trimmed[0] == '{' {
		var page struct {
			Results json.RawMessage `json:"results"`
		}
		if err := json.Unmarshal(trimmed, &page); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		trimmed = page.Results
		if len(trimmed) == 0 {
			return nil
		}
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, op, method, path string, body any, out any) (err error) {
	start := time.Now()
	defer func() {
		if c.observer != nil {
			c.observer.ObserveRecordCall(op, callStatus(err), time.Since(start).Seconds())
		}
	}()

	var bodyReader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(ctx, err) {
			c.logger.Warn("cmms request timed out", "path", path, "error", err)
			return fmt.Errorf("%w: %s", ErrTimeout, path)
		}
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, err) {
			return fmt.Errorf("%w: %s", ErrTimeout, path)
		}
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := strings.TrimSpace(string(respBody))
		msg = truncateRunes(msg, maxErrorBody)
		c.logger.Warn("cmms API non-2xx response", "status", resp.StatusCode, "path", path, "body", msg)
		return &APIError{Status: resp.StatusCode, Path: path, Body: msg}
	}

	if len(respBody) == 0 || out == nil {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// truncateRunes keeps at most n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func isTimeout(ctx context.Context, err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func callStatus(err error) string {
	var apiErr *APIError
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.As(err, &apiErr):
		return "api_error"
	default:
		return "error"
	}
}
