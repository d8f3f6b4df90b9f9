package workflow

import (
	"testing"
	"time"

	"github.com/wolfman30/cmms-omnibot/internal/session"
)

func testRecord(correlationID string) Record {
	return Record{
		WorkflowID:    "report_fault_workflow",
		CorrelationID: correlationID,
		Payload: Payload{
			UserID:      "whatsapp:+56911111111",
			Channel:     "gateway",
			Message:     "reportar falla",
			Session:     session.New("whatsapp:+56911111111"),
			RequestedAt: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		},
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}
