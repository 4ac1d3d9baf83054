package websocket

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/wfunc/sensorlight/internal/models"
	"go.uber.org/zap"
)

// WebSocket配置
const (
	// 写超时
	writeWait = 10 * time.Second

	// 读取pong超时
	pongWait = 60 * time.Second

	// ping发送周期（必须小于pongWait）
	pingPeriod = (pongWait * 9) / 10

	// 只读取控制帧，客户端消息不需要很大
	maxMessageSize = 4 * 1024

	// 每个客户端的订阅缓冲
	sendBuffer = 256
)

// FrameSource 实时帧日志来源
type FrameSource interface {
	Subscribe(buffer int) (string, <-chan *models.FrameLog)
	Unsubscribe(id string)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// 管理端口默认只监听本机
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client 订阅实时帧日志的WebSocket客户端
type Client struct {
	ID     string
	conn   *websocket.Conn
	source FrameSource
	subID  string
	frames <-chan *models.FrameLog
	logger *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient 创建新客户端并订阅帧日志
func NewClient(conn *websocket.Conn, source FrameSource, logger *zap.Logger) *Client {
	subID, frames := source.Subscribe(sendBuffer)
	return &Client{
		ID:     uuid.New().String(),
		conn:   conn,
		source: source,
		subID:  subID,
		frames: frames,
		logger: logger,
		done:   make(chan struct{}),
	}
}

// Handler 返回升级连接并推送帧日志的gin处理器
func Handler(source FrameSource, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("WebSocket升级失败", zap.Error(err))
			return
		}

		client := NewClient(conn, source, logger)
		logger.Info("帧日志订阅已连接",
			zap.String("client_id", client.ID),
			zap.String("remote", c.ClientIP()))

		go client.WritePump()
		client.ReadPump()
	}
}

// ReadPump 读取消息，只用于感知断开和处理pong
func (c *Client) ReadPump() {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket读取错误",
					zap.String("client_id", c.ID),
					zap.Error(err))
			}
			return
		}
	}
}

// WritePump 推送帧日志
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case log, ok := <-c.frames:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// 服务停止，订阅已关闭
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutdown"))
				return
			}

			data, err := json.Marshal(log)
			if err != nil {
				c.logger.Error("序列化帧日志失败", zap.Error(err))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			return
		}
	}
}

// Close 取消订阅并关闭连接，可重复调用
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.source.Unsubscribe(c.subID)
		c.conn.Close()
		c.logger.Info("帧日志订阅已断开", zap.String("client_id", c.ID))
	})
}
