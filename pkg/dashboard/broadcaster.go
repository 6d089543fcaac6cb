// Package dashboard pushes this worker's live state to connected
// WebSocket clients for local observation. Grounded on the teacher's
// pkg/router/broadcast.go Broadcaster, narrowed from a multi-worker
// cluster state push to a single WorkerState — there is no routing
// distribution to report since there is nothing to route between.
package dashboard

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/kunal/embedserve/pkg/gpu"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Broadcaster pushes this worker's state to connected dashboard clients.
type Broadcaster struct {
	mu      sync.RWMutex
	clients map[*websocket.Conn]bool
	log     zerolog.Logger
}

func NewBroadcaster(log zerolog.Logger) *Broadcaster {
	return &Broadcaster{
		clients: make(map[*websocket.Conn]bool),
		log:     log,
	}
}

// HandleWS is the WebSocket upgrade handler mounted at /ws.
func (b *Broadcaster) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn().Err(err).Msg("⚠️ websocket upgrade failed")
		return
	}

	b.mu.Lock()
	b.clients[conn] = true
	n := len(b.clients)
	b.mu.Unlock()

	b.log.Info().Int("clients", n).Msg("📊 dashboard client connected")

	go func() {
		defer func() {
			b.mu.Lock()
			delete(b.clients, conn)
			remaining := len(b.clients)
			b.mu.Unlock()
			conn.Close()
			b.log.Info().Int("clients", remaining).Msg("📊 dashboard client disconnected")
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

// WorkerState is the JSON payload pushed to dashboard clients each tick.
// GPU is nil on machines without an NVIDIA device, mirroring the
// teacher's dashboard which simply had nothing to plot in that case.
type WorkerState struct {
	ID            string    `json:"id"`
	State         string    `json:"state"`
	Score         float64   `json:"score"`
	QueueDepth    int       `json:"queue_depth"`
	QueueCapacity int       `json:"queue_capacity"`
	AvgLatencyMs  float64   `json:"avg_latency_ms"`
	LastBatchSize int       `json:"last_batch_size"`
	TotalBatches  int64     `json:"total_batches"`
	TotalRequests int64     `json:"total_requests"`
	Healthy       bool      `json:"healthy"`
	GPU           *gpu.Info `json:"gpu,omitempty"`
}

// Broadcast sends the current WorkerState to every connected client,
// dropping (and forgetting) any connection that errors on write.
func (b *Broadcaster) Broadcast(state WorkerState) {
	data, err := json.Marshal(state)
	if err != nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for conn := range b.clients {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(b.clients, conn)
		}
	}
}
