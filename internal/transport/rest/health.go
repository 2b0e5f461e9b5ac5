package rest

import (
	"net/http"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AMQPConn is the slice of *amqp.Connection the health check needs.
type AMQPConn interface {
	IsClosed() bool
}

// HealthHandler reports liveness of the bus and the claim store.
type HealthHandler struct {
	amqp  AMQPConn
	redis *redis.Client

	mu       sync.Mutex
	lastBeat time.Time
}

func NewHealthHandler(conn AMQPConn, rdb *redis.Client) *HealthHandler {
	return &HealthHandler{
		amqp:     conn,
		redis:    rdb,
		lastBeat: time.Now(),
	}
}

type dependencyStatus struct {
	Connection             string   `json:"connection"`
	TimeSinceLastHeartbeat *float64 `json:"time_since_last_heartbeat,omitempty"`
	ResponseTime           *float64 `json:"response_time,omitempty"`
}

type healthResponse struct {
	Status string            `json:"status"`
	AMQP   dependencyStatus  `json:"amqp"`
	Redis  *dependencyStatus `json:"redis,omitempty"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}

	up := h.amqp != nil && !h.amqp.IsClosed()
	h.mu.Lock()
	if up {
		h.lastBeat = time.Now()
	}
	sinceBeat := time.Since(h.lastBeat).Seconds()
	h.mu.Unlock()

	resp.AMQP = dependencyStatus{
		Connection:             "up",
		TimeSinceLastHeartbeat: &sinceBeat,
	}
	if !up {
		resp.AMQP.Connection = "down"
		resp.Status = "down"
	}

	if h.redis != nil {
		start := time.Now()
		err := h.redis.Ping(r.Context()).Err()
		elapsed := time.Since(start).Seconds()
		status := &dependencyStatus{
			Connection:   "up",
			ResponseTime: &elapsed,
		}
		if err != nil {
			status.Connection = "down"
			resp.Status = "down"
		}
		resp.Redis = status
	}

	code := http.StatusOK
	if resp.Status != "ok" {
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, resp)
}
