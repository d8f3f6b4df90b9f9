package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/wolfman30/cmms-omnibot/pkg/logging"
)

const (
	defaultAirflowTimeout = 10 * time.Second
	maxAirflowErrorBody   = 300
)

// AirflowTrigger starts DAG runs through the Airflow stable REST API. The
// correlation id is used as dag_run_id so a retried trigger hits 409.
type AirflowTrigger struct {
	baseURL    string
	username   string
	password   string
	httpClient *http.Client
	logger     *logging.Logger
}

// AirflowConfig holds connection details for the Airflow webserver.
type AirflowConfig struct {
	BaseURL  string
	Username string
	Password string
	Timeout  time.Duration
}

// NewAirflowTrigger validates cfg and builds a trigger.
func NewAirflowTrigger(cfg AirflowConfig, logger *logging.Logger) (*AirflowTrigger, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("workflow: airflow base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("workflow: invalid airflow base url: %w", err)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultAirflowTimeout
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &AirflowTrigger{
		baseURL:    base,
		username:   cfg.Username,
		password:   cfg.Password,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}, nil
}

type dagRunRequest struct {
	DagRunID string  `json:"dag_run_id"`
	Conf     Payload `json:"conf"`
}

// Trigger posts a dagRun for rec.WorkflowID.
func (t *AirflowTrigger) Trigger(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	body, err := json.Marshal(dagRunRequest{DagRunID: rec.CorrelationID, Conf: rec.Payload})
	if err != nil {
		return fmt.Errorf("workflow: encode dag run: %w", err)
	}

	endpoint := fmt.Sprintf("%s/api/v1/dags/%s/dagRuns", t.baseURL, url.PathEscape(rec.WorkflowID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("workflow: build airflow request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if t.username != "" {
		req.SetBasicAuth(t.username, t.password)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("workflow: airflow request: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		t.logger.Info("airflow dag run created", "workflow_id", rec.WorkflowID, "correlation_id", rec.CorrelationID)
		return nil
	case http.StatusConflict:
		t.logger.Info("airflow dag run already exists", "workflow_id", rec.WorkflowID, "correlation_id", rec.CorrelationID)
		return nil
	}

	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxAirflowErrorBody))
	return fmt.Errorf("%w: %s returned %d: %s", ErrRejected, rec.WorkflowID, resp.StatusCode, strings.TrimSpace(string(snippet)))
}
