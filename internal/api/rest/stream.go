package rest

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/meridianid/audit-ledger-backend/internal/domain/ledger"
	"github.com/meridianid/audit-ledger-backend/internal/service/ingest"
)

const (
	streamWriteTimeout = 10 * time.Second
	streamSendBuffer   = 32
)

// streamMessage is the envelope for every feed entry
type streamMessage struct {
	Type      string      `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

// Stream fans ledger activity out to websocket subscribers: committed
// batches, completed verification runs and offline merges. Slow consumers
// are disconnected rather than allowed to block the feed.
type Stream struct {
	mu       sync.Mutex
	clients  map[*streamClient]struct{}
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
}

// NewStream creates an empty feed
func NewStream(logger *slog.Logger) *Stream {
	return &Stream{
		clients: make(map[*streamClient]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve upgrades the request and streams feed entries until the client
// disconnects
func (s *Stream) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}
	s.mu.Lock()
	s.clients[client] = struct{}{}
	s.mu.Unlock()

	go s.writeLoop(client)
	s.readLoop(client)
}

func (s *Stream) writeLoop(client *streamClient) {
	for message := range client.send {
		_ = client.conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			break
		}
	}
	_ = client.conn.Close()
}

// readLoop drains control frames and detects disconnects; the feed is
// one-directional
func (s *Stream) readLoop(client *streamClient) {
	defer s.drop(client)
	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (s *Stream) drop(client *streamClient) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.clients[client]; ok {
		delete(s.clients, client)
		close(client.send)
	}
}

func (s *Stream) broadcast(messageType string, payload interface{}) {
	message, err := json.Marshal(streamMessage{
		Type:      messageType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	})
	if err != nil {
		s.logger.Error("failed to encode stream message", "error", err)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for client := range s.clients {
		select {
		case client.send <- message:
		default:
			delete(s.clients, client)
			close(client.send)
		}
	}
}

// PublishBatch announces a committed batch
func (s *Stream) PublishBatch(result *ingest.BatchResult) {
	s.broadcast("batch_committed", result)
}

// PublishRun announces a completed verification run
func (s *Stream) PublishRun(run *ledger.VerificationRun) {
	s.broadcast("verification_completed", run)
}

// PublishMerge announces a completed offline merge
func (s *Stream) PublishMerge(record *ledger.MergeRecord) {
	s.broadcast("offline_merge_completed", record)
}

// Subscribers returns the current subscriber count
func (s *Stream) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}
