package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"nhooyr.io/websocket"

	"lendoracle/core/events"
	"lendoracle/core/types"
)

const (
	wsWriteTimeout   = 10 * time.Second
	subscriberBuffer = 64
)

type eventWithPayload interface {
	Event() *types.Event
}

type subscriber struct {
	asset string
	ch    chan *types.Event
}

// Hub fans emitted oracle events out to websocket subscribers. Slow
// subscribers drop events rather than block the emitter.
type Hub struct {
	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]*subscriber
}

var _ events.Emitter = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{subs: make(map[uint64]*subscriber)}
}

// Subscribe registers a listener. An empty asset receives every event.
func (h *Hub) Subscribe(asset string) (<-chan *types.Event, func()) {
	sub := &subscriber{asset: strings.ToLower(asset), ch: make(chan *types.Event, subscriberBuffer)}
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subs[id] = sub
	h.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

// Emit implements events.Emitter.
func (h *Hub) Emit(evt events.Event) {
	if h == nil || evt == nil {
		return
	}
	payload, ok := evt.(eventWithPayload)
	if !ok {
		return
	}
	event := payload.Event()
	if event == nil {
		return
	}
	asset := strings.ToLower(event.Attribute("asset"))
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, sub := range h.subs {
		if sub.asset != "" && sub.asset != asset {
			continue
		}
		select {
		case sub.ch <- event:
		default:
		}
	}
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		http.NotFound(w, r)
		return
	}
	filter := ""
	if raw := strings.TrimSpace(r.URL.Query().Get("asset")); raw != "" {
		if !common.IsHexAddress(raw) {
			writeError(w, http.StatusBadRequest, "invalid asset address")
			return
		}
		filter = common.HexToAddress(raw).Hex()
	}
	updates, unsubscribe := s.hub.Subscribe(filter)
	defer unsubscribe()

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-updates:
			if err := writeStreamEvent(ctx, conn, event); err != nil {
				if websocket.CloseStatus(err) == -1 {
					s.logger.Debug("stream write failed", "error", err)
					_ = conn.Close(websocket.StatusInternalError, "stream error")
				}
				return
			}
		}
	}
}

func writeStreamEvent(ctx context.Context, conn *websocket.Conn, event *types.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
