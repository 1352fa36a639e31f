package pipeline_test

import (
	"context"
	"testing"
	"time"

	"github.com/illmade-knight/go-dataflow/pkg/messagepipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinywideclouds/go-push-broadcast-service/internal/pipeline"
)

func TestCommandTransformer(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	testCases := []struct {
		name                  string
		payload               string
		expectError           bool
		expectedErrorContains string
		expectedKind          string
	}{
		{
			name:         "Happy Path - Send",
			payload:      `{"kind":"send","recipientId":"dev-1","notification":{"title":"Hi"}}`,
			expectedKind: pipeline.KindSend,
		},
		{
			name:         "Happy Path - Broadcast",
			payload:      `{"kind":"broadcast","excludeId":"dev-1","notification":{"title":"Hi","data":{"k":1}}}`,
			expectedKind: pipeline.KindBroadcast,
		},
		{
			name:                  "Failure - Malformed JSON",
			payload:               "not-json",
			expectError:           true,
			expectedErrorContains: "failed to unmarshal command",
		},
		{
			name:                  "Failure - Unknown kind",
			payload:               `{"kind":"shout","notification":{"title":"Hi"}}`,
			expectError:           true,
			expectedErrorContains: "unknown command kind",
		},
		{
			name:                  "Failure - Send without recipient",
			payload:               `{"kind":"send","notification":{"title":"Hi"}}`,
			expectError:           true,
			expectedErrorContains: "has no recipientId",
		},
		{
			name:                  "Failure - Missing title",
			payload:               `{"kind":"broadcast","notification":{"body":"no title"}}`,
			expectError:           true,
			expectedErrorContains: "invalid notification",
		},
	}

	for i, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			msg := &messagepipeline.Message{
				MessageData: messagepipeline.MessageData{ID: string(rune('a' + i)), Payload: []byte(tc.payload)},
			}
			cmd, skip, err := pipeline.CommandTransformer(ctx, msg)

			if tc.expectError {
				require.Error(t, err)
				assert.True(t, skip)
				assert.Contains(t, err.Error(), tc.expectedErrorContains)
			} else {
				require.NoError(t, err)
				assert.False(t, skip)
				assert.Equal(t, tc.expectedKind, cmd.Kind)
			}
		})
	}
}
