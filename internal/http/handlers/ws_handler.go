package handlers

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/x402-escrow/backend/internal/auth"
	"github.com/x402-escrow/backend/internal/config"
	"github.com/x402-escrow/backend/internal/events"
	"go.uber.org/zap"
)

// wsSendBuffer is how many events a slow client may lag behind before
// further events to it are dropped.
const wsSendBuffer = 32

// wsClient is one connection's outbound queue. Only the connection's
// writer goroutine writes to the socket.
type wsClient struct {
	identity string
	send     chan []byte
}

// WSHub streams escrow events to the connected identities they concern.
type WSHub struct {
	cfg        *config.Config
	subscriber events.Subscriber
	log        *zap.Logger
	mu         sync.RWMutex
	clients    map[string]map[*wsClient]struct{}
}

func NewWSHub(cfg *config.Config, subscriber events.Subscriber, log *zap.Logger) *WSHub {
	return &WSHub{
		cfg:        cfg,
		subscriber: subscriber,
		log:        log,
		clients:    make(map[string]map[*wsClient]struct{}),
	}
}

func (h *WSHub) Start(ctx context.Context) error {
	if h.subscriber == nil {
		return nil
	}
	return h.subscriber.Subscribe(ctx, events.StreamEscrow, h.Dispatch)
}

// Dispatch queues event for every connection of each of its recipients.
// It never blocks: a client whose queue is full misses the event.
func (h *WSHub) Dispatch(event events.Event) {
	if len(event.Recipients) == 0 {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, identity := range event.Recipients {
		for c := range h.clients[identity] {
			select {
			case c.send <- data:
			default:
				h.log.Warn("ws client lagging, dropping event", zap.String("identity", identity), zap.String("type", event.Type))
			}
		}
	}
}

// Connected returns the number of open connections of identity.
func (h *WSHub) Connected(identity string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[identity])
}

func (h *WSHub) register(identity string) *wsClient {
	c := &wsClient{identity: identity, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[identity] == nil {
		h.clients[identity] = make(map[*wsClient]struct{})
	}
	h.clients[identity][c] = struct{}{}
	return c
}

// unregister removes c and closes its queue. Dispatch holds the read lock
// while sending, so no send can race the close.
func (h *WSHub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns := h.clients[c.identity]
	if _, ok := conns[c]; !ok {
		return
	}
	delete(conns, c)
	if len(conns) == 0 {
		delete(h.clients, c.identity)
	}
	close(c.send)
}

// WSUpgradeMiddleware rejects plain HTTP requests to the websocket route.
func WSUpgradeMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	}
}

func (h *WSHub) HandleWS(conn *websocket.Conn) {
	defer conn.Close()

	tokenStr := conn.Query("token")
	if tokenStr == "" {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"missing token"}`))
		return
	}

	claims, err := auth.ParseJWT(h.cfg.JWTSecret, tokenStr)
	if err != nil {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"error":"invalid token"}`))
		return
	}

	client := h.register(claims.Identity)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range client.send {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				h.log.Debug("ws write failed", zap.String("identity", client.identity), zap.Error(err))
				// keep draining until unregister closes the queue
				for range client.send {
				}
				return
			}
		}
	}()

	// read until the client goes away; pings are answered by the library
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	h.unregister(client)
	<-writerDone
}
