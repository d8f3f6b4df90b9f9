package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/cmms-omnibot/internal/workflow"
)

func TestServiceForChannel(t *testing.T) {
	cases := map[string]string{
		"whatsapp": "whatsapp",
		"WhatsApp": "whatsapp",
		"gateway":  "webchat",
		"webchat":  "webchat",
		"":         "webchat",
		"sms":      "sms",
		"telegram": "telegram",
	}
	for channel, want := range cases {
		assert.Equal(t, want, ServiceForChannel(channel), channel)
	}
}

func TestWorkflowDeliverer_RoutesByChannel(t *testing.T) {
	d := NewDispatcher(nil, nil)
	var got []string
	d.Register("webchat", SenderFunc(func(ctx context.Context, userID, message string) error {
		got = append(got, userID+"|"+message)
		return nil
	}))

	deliverer, err := NewWorkflowDeliverer(d)
	require.NoError(t, err)

	require.NoError(t, deliverer.Deliver(context.Background(), workflow.Result{
		CorrelationID: "manual__1",
		UserID:        "web_user_abc",
		Channel:       "gateway",
		Message:       "📋 Equipos disponibles",
	}))
	assert.Equal(t, []string{"web_user_abc|📋 Equipos disponibles"}, got)

	err = deliverer.Deliver(context.Background(), workflow.Result{UserID: "u", Channel: "whatsapp", Message: "x"})
	assert.ErrorIs(t, err, ErrUnknownService)
}

func TestNewWorkflowDeliverer_RequiresDispatcher(t *testing.T) {
	_, err := NewWorkflowDeliverer(nil)
	assert.Error(t, err)
}
