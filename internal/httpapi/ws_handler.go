package httpapi

import (
	"net/http"

	"moby-monitor/internal/broadcaster"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// WSHandler WebSocket 订阅处理器
type WSHandler struct {
	hub      *broadcaster.Hub
	upgrader websocket.Upgrader
	logger   *zap.Logger
}

// NewWSHandler 创建 WebSocket 订阅处理器
func NewWSHandler(hub *broadcaster.Hub, logger *zap.Logger) *WSHandler {
	return &WSHandler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 本服务面向内网监控面板，不做 Origin 校验
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
	}
}

// Serve GET /ws/sensor
func (h *WSHandler) Serve(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed",
			zap.String("remote", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	client := broadcaster.NewClient(h.hub, conn, h.logger)
	go client.WritePump()
	go client.ReadPump()
}
