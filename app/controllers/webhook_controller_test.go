package controllers

import (
	"errors"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"

	"github.com/guildworks/membergate/internal/pkg/billing"
)

func TestWebhookFailureResponse(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		result  *billing.IngestResult
		wantErr string
	}{
		{
			name:    "invalid signature",
			err:     billing.ErrInvalidSignature,
			wantErr: "invalid_signature",
		},
		{
			name:    "unparseable payload",
			err:     errors.New("webhook payload parse failed"),
			wantErr: "invalid_payload",
		},
		{
			name:    "dispatch failure",
			err:     errors.New("deadlock"),
			result:  &billing.IngestResult{EventID: "evt_1"},
			wantErr: "event_processing_failed",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			status, body := webhookFailureResponse(tc.err, tc.result)
			// Every failure answers 400 so the provider schedules a redelivery.
			assert.Equal(t, fiber.StatusBadRequest, status)
			assert.Equal(t, tc.wantErr, body["error"])
		})
	}
}
