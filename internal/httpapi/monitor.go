package httpapi

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/antoniostano/storageagent/internal/conversation"
	"github.com/antoniostano/storageagent/internal/observability"
	"github.com/antoniostano/storageagent/internal/protocol"
)

const (
	monitorQueueSize  = 64
	monitorWriteWait  = 10 * time.Second
	monitorPongWait   = 60 * time.Second
	monitorPingPeriod = monitorPongWait * 9 / 10
)

// Monitor fans conversation events out to supervisor websocket clients.
// Slow clients lose events instead of stalling the publisher.
type Monitor struct {
	mu      sync.RWMutex
	clients map[*monitorClient]struct{}
	metrics *observability.Metrics
	logger  *zap.Logger
}

type monitorClient struct {
	send chan any

	mu        sync.Mutex
	sessionID string
}

func (c *monitorClient) wants(msg any) bool {
	c.mu.Lock()
	filter := c.sessionID
	c.mu.Unlock()
	if filter == "" {
		return true
	}
	sid := protocol.SessionOf(msg)
	return sid == "" || sid == filter
}

func (c *monitorClient) subscribe(sessionID string) {
	c.mu.Lock()
	c.sessionID = strings.TrimSpace(sessionID)
	c.mu.Unlock()
}

func NewMonitor(metrics *observability.Metrics, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monitor{
		clients: make(map[*monitorClient]struct{}),
		metrics: metrics,
		logger:  logger.Named("monitor"),
	}
}

func (m *Monitor) Publish(msg any) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for c := range m.clients {
		if !c.wants(msg) {
			continue
		}
		select {
		case c.send <- msg:
		default:
			m.logger.Debug("monitor client queue full, event dropped")
		}
	}
}

func (m *Monitor) Clients() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

func (m *Monitor) add(sessionID string) *monitorClient {
	c := &monitorClient{send: make(chan any, monitorQueueSize)}
	c.subscribe(sessionID)
	m.mu.Lock()
	m.clients[c] = struct{}{}
	n := len(m.clients)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.MonitorClients.Set(float64(n))
	}
	return c
}

func (m *Monitor) remove(c *monitorClient) {
	m.mu.Lock()
	delete(m.clients, c)
	n := len(m.clients)
	m.mu.Unlock()
	if m.metrics != nil {
		m.metrics.MonitorClients.Set(float64(n))
	}
}

// OnTurn is a conversation turn hook.
func (m *Monitor) OnTurn(ev conversation.TurnEvent) {
	m.Publish(TurnProcessedEvent(ev))
}

// OnEvict is a conversation eviction hook.
func (m *Monitor) OnEvict(c conversation.Context, reason conversation.EvictReason) {
	m.Publish(protocol.ConversationEnded{
		Type:      protocol.TypeConversationEnd,
		SessionID: c.SessionID,
		Reason:    string(reason),
		Turns:     c.TurnCount,
		TSMs:      protocol.Millis(time.Now()),
	})
}

func TurnProcessedEvent(ev conversation.TurnEvent) protocol.TurnProcessed {
	views := make([]protocol.EntityView, 0, len(ev.Entities))
	for _, e := range ev.Entities {
		views = append(views, protocol.EntityView{Type: e.Type(), Value: e.Value(), Confidence: e.Confidence()})
	}
	return protocol.TurnProcessed{
		Type:       protocol.TypeTurnProcessed,
		SessionID:  ev.SessionID,
		Turn:       ev.Turn,
		Intent:     ev.Intent.String(),
		Confidence: ev.Confidence,
		Entities:   views,
		Prompt:     ev.Prompt,
		Degraded:   ev.LookupErr != nil,
		LatencyMS:  float64(ev.Latency.Microseconds()) / 1000,
		TSMs:       protocol.Millis(ev.At),
	}
}

func (s *Server) handleMonitorWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	client := s.monitor.add(r.URL.Query().Get("session_id"))
	defer s.monitor.remove(client)

	done := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		ticker := time.NewTicker(monitorPingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case msg := <-client.send:
				_ = conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
				if err := conn.WriteJSON(msg); err != nil {
					_ = conn.Close()
					return
				}
			case <-ticker.C:
				_ = conn.SetWriteDeadline(time.Now().Add(monitorWriteWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					_ = conn.Close()
					return
				}
			}
		}
	}()

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(monitorPongWait))
		return nil
	})

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		if msgType != websocket.TextMessage {
			continue
		}
		parsed, err := protocol.ParseClientMessage(data)
		if err != nil {
			s.enqueue(client, protocol.ErrorEvent{
				Type:      protocol.TypeErrorEvent,
				Code:      "invalid_client_message",
				Source:    "monitor",
				Retryable: false,
				Detail:    err.Error(),
			})
			continue
		}
		switch m := parsed.(type) {
		case protocol.Subscribe:
			client.subscribe(m.SessionID)
			s.enqueue(client, protocol.SystemEvent{
				Type:      protocol.TypeSystemEvent,
				SessionID: strings.TrimSpace(m.SessionID),
				Code:      "subscribed",
			})
		case protocol.Ping:
			s.enqueue(client, protocol.SystemEvent{Type: protocol.TypeSystemEvent, Code: "pong"})
		}
	}

	close(done)
	<-writerDone
}

// enqueue keeps websocket writes on the writer goroutine.
func (s *Server) enqueue(c *monitorClient, msg any) {
	select {
	case c.send <- msg:
	default:
	}
}
