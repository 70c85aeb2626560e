package httpapi

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ent0n29/taskpulse/internal/observability"
	"github.com/ent0n29/taskpulse/internal/reminder"
	"github.com/ent0n29/taskpulse/internal/tasks"
)

const (
	MessageSnapshot          = "snapshot"
	MessageTaskEvent         = "task_event"
	MessageReminder          = "reminder"
	MessageReminderWithdrawn = "reminder_withdrawn"
)

var (
	ErrHubClosed = errors.New("event hub closed")
	ErrNoClients = errors.New("no connected event clients")
)

// HubMessage is the JSON frame written to websocket clients.
type HubMessage struct {
	Type     string             `json:"type"`
	Event    *tasks.Event       `json:"event,omitempty"`
	Reminder *reminder.Reminder `json:"reminder,omitempty"`
	Tasks    []tasks.Task       `json:"tasks,omitempty"`
	At       time.Time          `json:"at"`
}

// Hub fans task events and reminders out to websocket clients. It doubles as
// a reminder Notifier. Slow clients lose messages rather than block.
type Hub struct {
	metrics *observability.Metrics

	mu      sync.Mutex
	closed  bool
	clients map[*hubClient]struct{}
}

type hubClient struct {
	hub       *Hub
	send      chan HubMessage
	closeOnce sync.Once
}

func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		metrics: metrics,
		clients: make(map[*hubClient]struct{}),
	}
}

func (h *Hub) Register() (*hubClient, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, nil, ErrHubClosed
	}
	c := &hubClient{hub: h, send: make(chan HubMessage, 64)}
	h.clients[c] = struct{}{}
	h.setClientGaugeLocked()
	return c, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			h.setClientGaugeLocked()
		}
		c.close()
	}, nil
}

func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Run forwards manager events until the channel closes or ctx ends.
func (h *Hub) Run(ctx context.Context, events <-chan tasks.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			h.broadcast(HubMessage{Type: MessageTaskEvent, Event: &evt, At: evt.At})
		}
	}
}

func (h *Hub) Init(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrHubClosed
	}
	return nil
}

func (h *Hub) Deliver(_ context.Context, r reminder.Reminder) error {
	if h.broadcast(HubMessage{Type: MessageReminder, Reminder: &r, At: time.Now().UTC()}) == 0 {
		return ErrNoClients
	}
	return nil
}

func (h *Hub) Withdraw(_ context.Context, r reminder.Reminder) error {
	h.broadcast(HubMessage{Type: MessageReminderWithdrawn, Reminder: &r, At: time.Now().UTC()})
	return nil
}

func (h *Hub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	h.setClientGaugeLocked()
	return nil
}

// sendTo queues msg for one registered client.
func (h *Hub) sendTo(c *hubClient, msg HubMessage) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return false
	}
	return c.enqueue(msg)
}

// broadcast returns how many clients accepted the message.
func (h *Hub) broadcast(msg HubMessage) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return 0
	}
	delivered := 0
	for c := range h.clients {
		if c.enqueue(msg) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) setClientGaugeLocked() {
	if h.metrics == nil {
		return
	}
	h.metrics.WSClients.Set(float64(len(h.clients)))
}

func (c *hubClient) enqueue(msg HubMessage) bool {
	select {
	case c.send <- msg:
		c.hub.metrics.ObserveOutboundMessage(msg.Type, "queued")
		return true
	default:
		c.hub.metrics.ObserveOutboundMessage(msg.Type, "drop_full")
		return false
	}
}

func (c *hubClient) close() {
	c.closeOnce.Do(func() { close(c.send) })
}
