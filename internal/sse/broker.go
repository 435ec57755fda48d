package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/storeline/scan-station/internal/redis"
)

const (
	HeartbeatInterval = 15 * time.Second
	clientBufferSize  = 64
)

// Event types pushed to scanner UIs.
const (
	EventConnected = "connected"
	EventDetection = "detection"
	EventStatus    = "status"
	EventClosed    = "closed"
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func NewEvent(eventType string, data any) (Event, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return Event{}, err
	}
	return Event{Type: eventType, Data: raw}, nil
}

type Client struct {
	StationID string
	Events    chan Event
	Done      chan struct{}
}

// Broker fans station events out to SSE clients. With Redis configured,
// events travel through pub/sub so every daemon replica serving the station
// sees them; without it they are delivered in-process.
type Broker struct {
	redis   *redisclient.Client
	clients map[string]map[*Client]bool // stationID -> set of clients
	// One station listener runs while the station has at least one client.
	listen    func(ctx context.Context, stationID string)
	listeners map[string]context.CancelFunc
	mu        sync.RWMutex
	ctx       context.Context
	cancel    context.CancelFunc
}

func NewBroker(redisClient *redisclient.Client) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Broker{
		redis:     redisClient,
		clients:   make(map[string]map[*Client]bool),
		listeners: make(map[string]context.CancelFunc),
		ctx:       ctx,
		cancel:    cancel,
	}
	if redisClient != nil {
		b.listen = b.subscribeToRedis
	}
	return b
}

func (b *Broker) Subscribe(stationID string) *Client {
	client := &Client{
		StationID: stationID,
		Events:    make(chan Event, clientBufferSize),
		Done:      make(chan struct{}),
	}

	b.mu.Lock()
	if b.clients[stationID] == nil {
		b.clients[stationID] = make(map[*Client]bool)
		if b.listen != nil {
			listenCtx, stop := context.WithCancel(b.ctx)
			b.listeners[stationID] = stop
			go b.listen(listenCtx, stationID)
		}
	}
	b.clients[stationID][client] = true
	clientCount := len(b.clients[stationID])
	b.mu.Unlock()

	log.Info().
		Str("stationId", stationID).
		Int("clientCount", clientCount).
		Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if clients, ok := b.clients[client.StationID]; ok {
		if !clients[client] {
			return
		}
		delete(clients, client)
		close(client.Done)

		if len(clients) == 0 {
			delete(b.clients, client.StationID)
			if stop, ok := b.listeners[client.StationID]; ok {
				stop()
				delete(b.listeners, client.StationID)
			}
		}

		log.Info().
			Str("stationId", client.StationID).
			Int("clientCount", len(clients)).
			Msg("sse client unsubscribed")
	}
}

func (b *Broker) Publish(ctx context.Context, stationID string, event Event) error {
	if b.redis == nil {
		b.broadcast(stationID, event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	channel := redisclient.StationChannel(stationID)
	return b.redis.Publish(ctx, channel, data).Err()
}

func (b *Broker) subscribeToRedis(ctx context.Context, stationID string) {
	channel := redisclient.StationChannel(stationID)
	pubsub := b.redis.Subscribe(ctx, channel)
	defer pubsub.Close()

	log.Debug().
		Str("stationId", stationID).
		Str("channel", channel).
		Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			log.Debug().
				Str("stationId", stationID).
				Str("channel", channel).
				Msg("redis pubsub unsubscribed")
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}
			// A newer listener may already serve the station.
			if ctx.Err() != nil {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(stationID, event)
		}
	}
}

func (b *Broker) broadcast(stationID string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients[stationID] {
		select {
		case client.Events <- event:
		default:
			log.Warn().
				Str("stationId", stationID).
				Str("eventType", event.Type).
				Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, clients := range b.clients {
		for client := range clients {
			close(client.Done)
		}
	}
	b.clients = make(map[string]map[*Client]bool)
	b.listeners = make(map[string]context.CancelFunc)
}

func (b *Broker) ClientCount(stationID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients[stationID])
}

func (b *Broker) TotalClients() int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	total := 0
	for _, clients := range b.clients {
		total += len(clients)
	}
	return total
}
