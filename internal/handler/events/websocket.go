package events

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	chatmodel "github.com/zhouzirui/companion/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/companion/backend/internal/service/chat"
	"github.com/zhouzirui/companion/backend/pkg/utils"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	subscribeDepth = 64
)

// Subscriber 提供已提交变更的事件流
type Subscriber interface {
	Ready() bool
	Subscribe(buffer int) (<-chan chatmodel.Event, func())
}

// WebSocketHandler 将会话变更事件推送给界面
type WebSocketHandler struct {
	chatSvc  Subscriber
	upgrader websocket.Upgrader
	log      zerolog.Logger
}

// NewWebSocketHandler 创建事件推送处理器
func NewWebSocketHandler(chatSvc Subscriber, log zerolog.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		chatSvc: chatSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
		log: log.With().Str("component", "websocket").Logger(),
	}
}

// RegisterRoutes 注册WebSocket路由
func (h *WebSocketHandler) RegisterRoutes(r chi.Router) {
	r.Get("/ws/events", h.handleWebSocket)
}

type outgoingMessage struct {
	Type      string           `json:"type"`
	Event     *chatmodel.Event `json:"event,omitempty"`
	Timestamp int64            `json:"timestamp"`
}

var _ Subscriber = (*chatservice.Service)(nil)

// handleWebSocket 处理WebSocket连接。先订阅再升级，握手完成后的变更都不会丢失。
func (h *WebSocketHandler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !h.chatSvc.Ready() {
		utils.RespondError(w, http.StatusServiceUnavailable, chatservice.ErrNotReady.Error())
		return
	}

	events, cancelSub := h.chatSvc.Subscribe(subscribeDepth)
	defer cancelSub()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade failed")
		return
	}
	defer conn.Close()

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("new event connection")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.writeLoop(ctx, conn, events)
	}()

	// 客户端只发送控制帧，读循环用于感知断开
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Debug().Err(err).Msg("read error")
			}
			break
		}
	}
	cancel()
	<-done
}

// writeLoop 是连接上唯一的写入者
func (h *WebSocketHandler) writeLoop(ctx context.Context, conn *websocket.Conn, events <-chan chatmodel.Event) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	if err := h.write(conn, outgoingMessage{Type: "connected"}); err != nil {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				// 会话已关闭
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "session closed"),
					time.Now().Add(writeWait))
				return
			}
			if err := h.write(conn, outgoingMessage{Type: "event", Event: &ev}); err != nil {
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

func (h *WebSocketHandler) write(conn *websocket.Conn, msg outgoingMessage) error {
	msg.Timestamp = time.Now().UnixMilli()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(msg); err != nil {
		h.log.Debug().Err(err).Str("type", msg.Type).Msg("write failed")
		return err
	}
	return nil
}
