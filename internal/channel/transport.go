// transport.go — WebSocket 传输层: 连接、读循环、心跳、按需重连退避。
package channel

import (
	"net"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gen-studio/go-session-v2/internal/protocol"
	"github.com/gen-studio/go-session-v2/internal/session"
	apperrors "github.com/gen-studio/go-session-v2/pkg/errors"
	"github.com/gen-studio/go-session-v2/pkg/logger"
	"github.com/gen-studio/go-session-v2/pkg/util"
)

// connect 建立连接并启动 readLoop / pingLoop。
func (c *Controller) connect() error {
	c.setConnStatus(session.ConnConnecting)
	conn, err := c.dialWS()
	if err != nil {
		c.setConnStatus(session.ConnDisconnected)
		return err
	}

	done := make(chan struct{})
	c.replaceWSConn(conn, done)
	c.setConnStatus(session.ConnConnected)

	util.SafeGo(func() { c.readLoop(conn, done) })
	util.SafeGo(func() { c.pingLoop(conn, done) })
	logger.Info("channel: connected",
		logger.FieldProject, c.sess.ProjectID(),
		logger.FieldURL, c.url,
	)
	return nil
}

func (c *Controller) dialWS() (*websocket.Conn, error) {
	handshake := time.Duration(c.cfg.WSHandshakeTimeoutSec) * time.Second
	dialer := websocket.Dialer{
		HandshakeTimeout: handshake,
		NetDialContext:   (&net.Dialer{Timeout: handshake}).DialContext,
	}

	conn, _, err := dialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return nil, err
	}
	if conn == nil {
		return nil, apperrors.New("Controller.dialWS", "dial returned nil websocket connection")
	}
	idle := c.readIdleTimeout()
	_ = conn.SetReadDeadline(time.Now().Add(idle))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(idle))
		return nil
	})
	return conn, nil
}

// replaceWSConn 替换当前连接, 关闭旧连接。
func (c *Controller) replaceWSConn(conn *websocket.Conn, done chan struct{}) {
	c.wsMu.Lock()
	prev := c.ws
	c.ws = conn
	c.wsDone = done
	c.wsMu.Unlock()
	if prev != nil && prev != conn {
		_ = prev.Close()
	}
}

// writeMessage 向当前连接写出一条文本消息。失败时连接作废。
func (c *Controller) writeMessage(data []byte) error {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	if c.ws == nil {
		return apperrors.Wrap(apperrors.ErrChannelClosed, "Controller.writeMessage", "ws not connected")
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout()))
	if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
		_ = c.ws.Close()
		c.ws = nil
		return apperrors.Wrap(err, "Controller.writeMessage", "ws write")
	}
	return nil
}

// readLoop 入站事件读循环。
//
// 畸形事件记录日志后丢弃, 流不中断; 合法事件按到达顺序喂给会话聚合,
// 产生的状态变更发布到总线。读错误只标记 disconnected, 不在读侧重连。
func (c *Controller) readLoop(conn *websocket.Conn, done chan struct{}) {
	defer func() {
		_ = conn.Close()
		close(done)

		c.wsMu.Lock()
		if c.ws == conn {
			c.ws = nil
		}
		stillCurrent := c.wsDone == done
		c.wsMu.Unlock()

		if stillCurrent && !c.stopped.Load() {
			c.setConnStatus(session.ConnDisconnected)
		}
	}()

	idle := c.readIdleTimeout()
	for !c.stopped.Load() {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if !c.stopped.Load() {
				logger.Warn("channel: read loop terminated",
					logger.FieldProject, c.sess.ProjectID(),
					logger.FieldError, err,
				)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(idle))

		ev, err := protocol.Parse(raw)
		if err != nil {
			// 畸形事件: 记录并丢弃, 不影响后续事件
			logger.Warn("channel: malformed event discarded",
				logger.FieldProject, c.sess.ProjectID(),
				logger.FieldRaw, util.TruncateString(string(raw), 200),
				logger.FieldError, err,
			)
			continue
		}
		c.publishUpdates(c.sess.Apply(ev))
	}
}

// pingLoop 心跳循环。连接被替换或写失败时退出。
func (c *Controller) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(time.Duration(c.cfg.WSPingIntervalSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			c.wsMu.Lock()
			if c.ws != conn {
				c.wsMu.Unlock()
				return
			}
			err := conn.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(c.writeTimeout()))
			if err != nil {
				_ = conn.Close()
				c.ws = nil
				c.wsMu.Unlock()
				return
			}
			c.wsMu.Unlock()
		}
	}
}

// reconnectDelay 指数退避: 首次立即, 之后 base×2^(n-2), 封顶 max。
func (c *Controller) reconnectDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}
	base := time.Duration(c.cfg.ReconnectBaseDelayMS) * time.Millisecond
	max := time.Duration(c.cfg.ReconnectMaxDelayMS) * time.Millisecond
	delay := base
	for i := 2; i < attempt; i++ {
		delay *= 2
		if delay >= max {
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}

func (c *Controller) sleepWithContext(delay time.Duration) bool {
	if delay <= 0 {
		return true
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Controller) readIdleTimeout() time.Duration {
	return time.Duration(c.cfg.WSReadIdleTimeoutSec) * time.Second
}

func (c *Controller) writeTimeout() time.Duration {
	return time.Duration(c.cfg.WSWriteTimeoutSec) * time.Second
}
