package broadcaster

import (
	"context"
	"encoding/json"
	"sync/atomic"

	"moby-monitor/internal/models"

	"go.uber.org/zap"
)

// Frame 推送给订阅端的消息帧
type Frame struct {
	Type    string      `json:"type"` // reading / alert / alert_update
	Payload interface{} `json:"payload"`
}

// Hub 实时广播中心：维护订阅端集合并向全体扇出
// 订阅端集合只在 Run goroutine 内变更，扇出绝不阻塞摄入路径
type Hub struct {
	logger     *zap.Logger
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	dropped     int64 // 因订阅端队列溢出而丢弃的帧数
	subscribers int64
}

// NewHub 创建广播中心
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		logger:     logger,
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, 256),
	}
}

// Run 运行广播循环，阻塞直到 ctx 取消
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				close(client.send)
				delete(h.clients, client)
			}
			return

		case client := <-h.register:
			h.clients[client] = true
			atomic.StoreInt64(&h.subscribers, int64(len(h.clients)))
			h.logger.Info("Subscriber registered",
				zap.Int("subscriber_count", len(h.clients)),
			)

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
				atomic.StoreInt64(&h.subscribers, int64(len(h.clients)))
				h.logger.Info("Subscriber unregistered",
					zap.Int("subscriber_count", len(h.clients)),
				)
			}

		case message := <-h.broadcast:
			for client := range h.clients {
				client.enqueue(message, h)
			}
		}
	}
}

// BroadcastReading 推送归一化读数
func (h *Hub) BroadcastReading(reading models.Reading) {
	h.send(Frame{Type: "reading", Payload: reading})
}

// BroadcastAlert 推送报警生命周期帧
// frameType: "alert"（新开/恢复）或 "alert_update"（analysis 补写）
func (h *Hub) BroadcastAlert(frameType string, event *models.AlertEvent) {
	h.send(Frame{Type: frameType, Payload: event})
}

// Dropped 因溢出丢弃的帧总数（运维指标）
func (h *Hub) Dropped() int64 {
	return atomic.LoadInt64(&h.dropped)
}

// Subscribers 当前在线订阅端数量
func (h *Hub) Subscribers() int64 {
	return atomic.LoadInt64(&h.subscribers)
}

func (h *Hub) send(frame Frame) {
	message, err := json.Marshal(frame)
	if err != nil {
		h.logger.Error("Failed to marshal broadcast frame",
			zap.String("frame_type", frame.Type),
			zap.Error(err),
		)
		return
	}
	// 广播队列满时丢帧，不阻塞调用方
	select {
	case h.broadcast <- message:
	default:
		atomic.AddInt64(&h.dropped, 1)
	}
}

// enqueue 入队到订阅端队列，满时丢最旧一帧腾位
func (c *Client) enqueue(message []byte, h *Hub) {
	for {
		select {
		case c.send <- message:
			return
		default:
			select {
			case <-c.send:
				atomic.AddInt64(&h.dropped, 1)
			default:
			}
		}
	}
}
