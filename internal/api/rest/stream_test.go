package rest

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianid/audit-ledger-backend/internal/infrastructure/config"
	"github.com/meridianid/audit-ledger-backend/internal/service/ingest"
)

// TestStreamDeliversBatchCommits tests that a websocket subscriber receives
// the activity feed for committed batches
func TestStreamDeliversBatchCommits(t *testing.T) {
	f := newAPIFixture(t, config.SecurityConfig{})

	wsURL := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/api/v1/audit/stream"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	// Registration happens after the upgrade handshake returns to the
	// dialer; wait for the hub to see the subscriber before publishing
	require.Eventually(t, func() bool {
		return f.handler.stream.Subscribers() > 0
	}, time.Second, 5*time.Millisecond)

	postResp := f.post(t, "/api/v1/audit/batch", batchBody(2))
	postResp.Body.Close()
	require.Equal(t, http.StatusCreated, postResp.StatusCode)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)

	var message struct {
		Type    string             `json:"type"`
		Payload ingest.BatchResult `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(raw, &message))
	assert.Equal(t, "batch_committed", message.Type)
	assert.Equal(t, "primary", message.Payload.ChainID)
	assert.Equal(t, 2, message.Payload.EventsWritten)
}
