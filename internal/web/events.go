package web

import (
	"net/http"
	"time"

	"cdpmock/pkg/model"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Message 推送给管理界面的事件帧
type Message struct {
	Type      string      `json:"type"`
	Data      model.Event `json:"data"`
	Timestamp int64       `json:"timestamp"`
}

// handleEvents 升级为 WebSocket 并持续推送拦截事件
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("WebSocket 升级失败", "error", err)
		return
	}
	events, cancel := s.svc.SubscribeEvents()
	s.log.Info("事件订阅者已连接", "remote", r.RemoteAddr)

	go s.readPump(conn, cancel)
	s.writePump(conn, events)
	s.log.Info("事件订阅者已断开", "remote", r.RemoteAddr)
}

// readPump 丢弃客户端消息，连接断开时取消订阅
func (s *Server) readPump(conn *websocket.Conn, cancel func()) {
	defer cancel()
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump 订阅关闭时发送关闭帧
func (s *Server) writePump(conn *websocket.Conn, events <-chan model.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case evt, ok := <-events:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			msg := Message{Type: "event", Data: evt, Timestamp: time.Now().UnixMilli()}
			if err := conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
