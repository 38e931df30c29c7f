// Package websocket streams executed trades and top-of-book quotes to
// subscribed clients. Channels are "trades:<TICKER>" and "quotes:<TICKER>".
package websocket

import (
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/openalpha/stockex/metrics"
)

// HubConfig tunes the hub.
type HubConfig struct {
	QuoteInterval    time.Duration // coalescing window for quote updates
	MaxSubscriptions int
	MessageRateLimit int // client messages per second
}

// DefaultHubConfig returns the production defaults.
func DefaultHubConfig() *HubConfig {
	return &HubConfig{
		QuoteInterval:    100 * time.Millisecond,
		MaxSubscriptions: 50,
		MessageRateLimit: 20,
	}
}

// SubscriptionRequest asks the hub to (un)subscribe a client.
type SubscriptionRequest struct {
	Client  *Client
	Channel string
}

// Hub owns the client set and fans out feed messages.
type Hub struct {
	config *HubConfig

	clients  map[*Client]bool
	channels map[string]map[*Client]bool

	broadcastCh chan channelMessage
	register    chan *Client
	unregister  chan *Client
	subscribe   chan *SubscriptionRequest
	unsubscribe chan *SubscriptionRequest

	// Latest quote per ticker, flushed every QuoteInterval.
	quoteBuffer map[string]*QuoteMessage

	mu sync.RWMutex
}

type channelMessage struct {
	channel string
	payload []byte
}

// NewHub creates a hub; call Run in a goroutine to start it.
func NewHub(config *HubConfig) *Hub {
	if config == nil {
		config = DefaultHubConfig()
	}
	return &Hub{
		config:      config,
		clients:     make(map[*Client]bool),
		channels:    make(map[string]map[*Client]bool),
		broadcastCh: make(chan channelMessage, 256),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		subscribe:   make(chan *SubscriptionRequest, 64),
		unsubscribe: make(chan *SubscriptionRequest, 64),
		quoteBuffer: make(map[string]*QuoteMessage),
	}
}

// Run is the hub's main loop.
func (h *Hub) Run() {
	quoteTicker := time.NewTicker(h.config.QuoteInterval)
	defer quoteTicker.Stop()

	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			metrics.GetCollector().WSClientsActive.Inc()

		case client := <-h.unregister:
			h.removeClient(client)

		case req := <-h.subscribe:
			h.addSubscription(req.Client, req.Channel)

		case req := <-h.unsubscribe:
			h.removeSubscription(req.Client, req.Channel)

		case msg := <-h.broadcastCh:
			h.fanOut(msg.channel, msg.payload)

		case <-quoteTicker.C:
			h.flushQuotes()
		}
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	for channel, clients := range h.channels {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	close(client.send)
	metrics.GetCollector().WSClientsActive.Dec()
}

func (h *Hub) addSubscription(client *Client, channel string) {
	h.mu.Lock()
	if _, ok := h.channels[channel]; !ok {
		h.channels[channel] = make(map[*Client]bool)
	}
	h.channels[channel][client] = true
	h.mu.Unlock()

	client.sendJSON(&Message{Type: "subscribed", Channel: channel})
}

func (h *Hub) removeSubscription(client *Client, channel string) {
	h.mu.Lock()
	if clients, ok := h.channels[channel]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.channels, channel)
		}
	}
	h.mu.Unlock()

	client.sendJSON(&Message{Type: "unsubscribed", Channel: channel})
}

func (h *Hub) fanOut(channel string, payload []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.channels[channel]))
	for client := range h.channels[channel] {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		select {
		case client.send <- payload:
		default:
			// Slow consumer, drop the message.
		}
	}
}

// Broadcast marshals a message onto a channel.
func (h *Hub) Broadcast(channel string, msg *Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case h.broadcastCh <- channelMessage{channel: channel, payload: payload}:
	default:
	}
}

// BroadcastTrade pushes an executed trade to its ticker channel.
func (h *Hub) BroadcastTrade(trade *TradeMessage) {
	h.Broadcast("trades:"+trade.Ticker, &Message{
		Type:    "trade",
		Channel: "trades:" + trade.Ticker,
		Data:    trade,
	})
}

// UpdateQuote buffers the latest top-of-book for a ticker; the hub flushes
// buffered quotes on its coalescing interval.
func (h *Hub) UpdateQuote(quote *QuoteMessage) {
	h.mu.Lock()
	h.quoteBuffer[quote.Ticker] = quote
	h.mu.Unlock()
}

func (h *Hub) flushQuotes() {
	h.mu.Lock()
	pending := h.quoteBuffer
	h.quoteBuffer = make(map[string]*QuoteMessage)
	h.mu.Unlock()

	for ticker, quote := range pending {
		channel := "quotes:" + ticker
		payload, err := json.Marshal(&Message{Type: "quote", Channel: channel, Data: quote})
		if err != nil {
			continue
		}
		h.fanOut(channel, payload)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ============ Message types ============

// Message is the wire envelope of every feed frame.
type Message struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`
	Data    any    `json:"data,omitempty"`
}

// TradeMessage is one executed trade on the feed.
type TradeMessage struct {
	TradeID   string `json:"trade_id"`
	Ticker    string `json:"ticker"`
	Price     string `json:"price"`
	Quantity  int64  `json:"quantity"`
	Timestamp int64  `json:"timestamp"`
}

// QuoteMessage is the coalesced top-of-book for a ticker. Empty strings
// mean that side of the book is empty.
type QuoteMessage struct {
	Ticker    string `json:"ticker"`
	BidPrice  string `json:"bid_price,omitempty"`
	BidQty    int64  `json:"bid_quantity,omitempty"`
	AskPrice  string `json:"ask_price,omitempty"`
	AskQty    int64  `json:"ask_quantity,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

func validChannel(channel string) bool {
	for _, prefix := range []string{"trades:", "quotes:"} {
		if len(channel) > len(prefix) && channel[:len(prefix)] == prefix {
			return true
		}
	}
	return false
}

func generateClientID() string {
	return strconv.FormatInt(time.Now().UnixNano(), 36)
}

func nowMilli() int64 {
	return time.Now().UnixMilli()
}
