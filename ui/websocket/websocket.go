package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
	"github.com/kinopsis/agensalud-mvp-sub003/channels"
	"github.com/kinopsis/agensalud-mvp-sub003/channels/domain/instance"
	"github.com/kinopsis/agensalud-mvp-sub003/ui/rest/middleware"
	"github.com/sirupsen/logrus"
)

const (
	CodeSnapshot      = "instance.snapshot"
	CodeStatusChanged = "instance.status_changed"
	CodeQRUpdated     = "instance.qr_updated"
	CodeDeleted       = "instance.deleted"

	broadcastChannel = "ws:instances"
)

// BroadcastMessage is what subscribers of an instance receive.
type BroadcastMessage struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	TenantID   string `json:"tenant_id"`
	InstanceID string `json:"instance_id"`
	Result     any    `json:"result,omitempty"`
	SenderID   string `json:"sender_id,omitempty"`
}

// Conn is the part of a websocket connection the hub writes to.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Broker fans events out to the hubs of other nodes.
type Broker interface {
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string, fn func(payload string)) error
}

type topic struct {
	tenantID   string
	instanceID string
}

type subscription struct {
	topic topic
	conn  Conn
}

// Hub pushes instance lifecycle changes to websocket subscribers. It
// implements application.Notifier.
type Hub struct {
	register   chan subscription
	unregister chan subscription
	broadcast  chan BroadcastMessage
	clients    map[topic]map[Conn]struct{}
	done       chan struct{}

	broker   Broker
	serverID string

	mu      sync.Mutex
	running bool
}

type Option func(*Hub)

// WithBroker relays every local event through broker and delivers events
// published by other nodes. serverID tells our own echoes apart.
func WithBroker(broker Broker, serverID string) Option {
	return func(h *Hub) {
		h.broker = broker
		h.serverID = serverID
	}
}

func NewHub(opts ...Option) *Hub {
	h := &Hub{
		register:   make(chan subscription),
		unregister: make(chan subscription),
		broadcast:  make(chan BroadcastMessage, 256),
		clients:    make(map[topic]map[Conn]struct{}),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run serves the hub until ctx ends. Subscribers still connected at that
// point are closed.
func (h *Hub) Run(ctx context.Context) {
	h.mu.Lock()
	if h.running {
		h.mu.Unlock()
		return
	}
	h.running = true
	h.mu.Unlock()

	remote := make(chan BroadcastMessage, 64)
	if h.broker != nil {
		go h.subscribe(ctx, remote)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for t, conns := range h.clients {
				for conn := range conns {
					_ = conn.Close()
				}
				delete(h.clients, t)
			}
			return
		case sub := <-h.register:
			if h.clients[sub.topic] == nil {
				h.clients[sub.topic] = make(map[Conn]struct{})
			}
			h.clients[sub.topic][sub.conn] = struct{}{}
			logrus.WithField("instance_id", sub.topic.instanceID).Debug("[WS] Subscriber registered")
		case sub := <-h.unregister:
			h.drop(sub.topic, sub.conn)
		case msg := <-h.broadcast:
			h.deliver(msg)
			if h.broker != nil {
				h.publish(ctx, msg)
			}
		case msg := <-remote:
			h.deliver(msg)
		}
	}
}

func (h *Hub) drop(t topic, conn Conn) {
	conns := h.clients[t]
	if conns == nil {
		return
	}
	delete(conns, conn)
	if len(conns) == 0 {
		delete(h.clients, t)
	}
}

func (h *Hub) deliver(msg BroadcastMessage) {
	t := topic{tenantID: msg.TenantID, instanceID: msg.InstanceID}
	conns := h.clients[t]
	if len(conns) == 0 {
		return
	}
	msg.SenderID = ""
	data, err := json.Marshal(msg)
	if err != nil {
		logrus.Errorf("[WS] Marshal error: %v", err)
		return
	}
	for conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			logrus.Debugf("[WS] Write error, dropping subscriber: %v", err)
			_ = conn.Close()
			h.drop(t, conn)
		}
	}
	if msg.Code == CodeDeleted {
		for conn := range h.clients[t] {
			_ = conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "instance deleted"))
			_ = conn.Close()
		}
		delete(h.clients, t)
	}
}

func (h *Hub) publish(ctx context.Context, msg BroadcastMessage) {
	msg.SenderID = h.serverID
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := h.broker.Publish(ctx, broadcastChannel, string(data)); err != nil {
		logrus.Errorf("[WS] Failed to publish to Valkey: %v", err)
	}
}

func (h *Hub) subscribe(ctx context.Context, out chan<- BroadcastMessage) {
	logrus.Info("[WS] Starting Valkey Pub/Sub subscriber for instance events")
	err := h.broker.Subscribe(ctx, broadcastChannel, func(payload string) {
		var msg BroadcastMessage
		if err := json.Unmarshal([]byte(payload), &msg); err != nil {
			return
		}
		if msg.SenderID == h.serverID {
			return
		}
		select {
		case out <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil && ctx.Err() == nil {
		logrus.Errorf("[WS] Valkey subscriber failed: %v", err)
	}
}

// Subscribe attaches conn to one instance of one tenant.
// A hub that has stopped closes conn instead.
func (h *Hub) Subscribe(tenantID, instanceID string, conn Conn) {
	select {
	case h.register <- subscription{topic: topic{tenantID: tenantID, instanceID: instanceID}, conn: conn}:
	case <-h.done:
		_ = conn.Close()
	}
}

func (h *Hub) Unsubscribe(tenantID, instanceID string, conn Conn) {
	select {
	case h.unregister <- subscription{topic: topic{tenantID: tenantID, instanceID: instanceID}, conn: conn}:
	case <-h.done:
	}
}

// Send queues msg. Notifier callbacks run under instance locks, so a full
// queue drops the event rather than block.
func (h *Hub) Send(msg BroadcastMessage) {
	select {
	case h.broadcast <- msg:
	default:
		logrus.WithFields(logrus.Fields{
			"instance_id": msg.InstanceID,
			"code":        msg.Code,
		}).Warn("[WS] Broadcast queue full, event dropped")
	}
}

func (h *Hub) StatusChanged(inst instance.ChannelInstance, from instance.Status) {
	h.Send(BroadcastMessage{
		Code:       CodeStatusChanged,
		Message:    string(from) + " -> " + string(inst.Status),
		TenantID:   inst.TenantID,
		InstanceID: inst.ID,
		Result: fiber.Map{
			"from":          from,
			"status":        inst.Status,
			"error_message": inst.ErrorMessage,
			"updated_at":    inst.UpdatedAt,
		},
	})
}

func (h *Hub) QRUpdated(tenantID, instanceID string, qr instance.QRCode) {
	h.Send(BroadcastMessage{
		Code:       CodeQRUpdated,
		Message:    "QR code updated",
		TenantID:   tenantID,
		InstanceID: instanceID,
		Result:     qr,
	})
}

func (h *Hub) Deleted(tenantID, instanceID string) {
	h.Send(BroadcastMessage{
		Code:       CodeDeleted,
		Message:    "Instance deleted",
		TenantID:   tenantID,
		InstanceID: instanceID,
	})
}

// RegisterRoutes mounts /ws/instances/:id. The instance must exist for the
// caller's tenant; the first frame is a snapshot of its current status.
func RegisterRoutes(app fiber.Router, hub *Hub, manager *channels.Manager) {
	app.Use("/ws/instances/:id", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return c.SendStatus(fiber.StatusUpgradeRequired)
		}
		_, inst, err := manager.ServiceForInstance(c.UserContext(), middleware.TenantID(c), c.Params("id"))
		if err != nil {
			return err
		}
		c.Locals("instance", inst)
		return c.Next()
	})

	app.Get("/ws/instances/:id", websocket.New(func(conn *websocket.Conn) {
		tenantID, _ := conn.Locals(middleware.TenantLocalKey).(string)
		inst, _ := conn.Locals("instance").(*instance.ChannelInstance)
		if inst == nil {
			_ = conn.Close()
			return
		}

		if snapshot, err := json.Marshal(BroadcastMessage{
			Code:       CodeSnapshot,
			Message:    "Current status",
			TenantID:   tenantID,
			InstanceID: inst.ID,
			Result:     fiber.Map{"status": inst.Status, "error_message": inst.ErrorMessage},
		}); err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, snapshot)
		}

		hub.Subscribe(tenantID, inst.ID, conn)
		defer func() {
			hub.Unsubscribe(tenantID, inst.ID, conn)
			_ = conn.Close()
		}()

		// Subscribers only listen; reading detects the close.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logrus.Debugf("[WS] read error: %v", err)
				}
				return
			}
		}
	}))
}
