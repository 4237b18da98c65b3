// Package channel 实现会话通道控制器: 持有到生成后端的 WebSocket 连接,
// 把入站事件按到达顺序喂给会话聚合, 并将产生的状态变更发布到消息总线。
//
// 重连策略是按需的: 只有断线后的出站发送会触发重连 (指数退避, 有上限),
// 纯读侧断开只把会话标记为 disconnected — 已生成的状态继续可查。
package channel

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gen-studio/go-session-v2/internal/bus"
	"github.com/gen-studio/go-session-v2/internal/config"
	"github.com/gen-studio/go-session-v2/internal/diff"
	"github.com/gen-studio/go-session-v2/internal/protocol"
	"github.com/gen-studio/go-session-v2/internal/session"
	apperrors "github.com/gen-studio/go-session-v2/pkg/errors"
	"github.com/gen-studio/go-session-v2/pkg/logger"
)

// Controller 会话通道控制器。
//
// 单写者分发: 只有 readLoop 调用 session.Apply, 事件绝不重排。
// sendMu 串行化出站发送与按需重连, wsMu 只保护连接指针本身。
type Controller struct {
	cfg  *config.Config
	sess *session.Session
	b    *bus.MessageBus
	url  string

	ctx     context.Context
	cancel  context.CancelFunc
	stopped atomic.Bool

	wsMu   sync.Mutex
	ws     *websocket.Conn
	wsDone chan struct{} // 当前连接 readLoop 的结束信号

	sendMu sync.Mutex
}

// New 创建通道控制器。WebSocket 端点为 {BackendWSURL}/{projectID}。
func New(parent context.Context, cfg *config.Config, sess *session.Session, b *bus.MessageBus) *Controller {
	ctx, cancel := context.WithCancel(parent)
	return &Controller{
		cfg:    cfg,
		sess:   sess,
		b:      b,
		url:    strings.TrimRight(cfg.BackendWSURL, "/") + "/" + sess.ProjectID(),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Connect 建立初始连接并启动读循环。
func (c *Controller) Connect() error {
	if c.stopped.Load() {
		return apperrors.Wrap(apperrors.ErrChannelClosed, "Controller.Connect", "controller closed")
	}
	if err := c.connect(); err != nil {
		return apperrors.Wrap(err, "Controller.Connect", "initial connect")
	}
	return nil
}

// Connected 返回当前是否持有活跃连接。
func (c *Controller) Connected() bool {
	c.wsMu.Lock()
	defer c.wsMu.Unlock()
	return c.ws != nil
}

// SendChat 在既有会话内发送追加消息。
//
// 连接断开时触发按需重连: 指数退避最多 ReconnectMaxAttempts 次,
// 每次重连成功后重试发送。重连耗尽返回错误, 会话保持 disconnected。
func (c *Controller) SendChat(message string) error {
	if c.stopped.Load() {
		return apperrors.Wrap(apperrors.ErrChannelClosed, "Controller.SendChat", "controller closed")
	}
	data, err := protocol.EncodeChat(message)
	if err != nil {
		return apperrors.Wrap(err, "Controller.SendChat", "encode chat")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	lastErr := c.writeMessage(data)
	if lastErr == nil {
		c.recordChatSent(message)
		return nil
	}

	maxAttempts := c.cfg.ReconnectMaxAttempts
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if c.stopped.Load() {
			return apperrors.Wrap(apperrors.ErrChannelClosed, "Controller.SendChat", "controller closed")
		}
		if !c.sleepWithContext(c.reconnectDelay(attempt)) {
			return apperrors.Wrap(c.ctx.Err(), "Controller.SendChat", "send cancelled")
		}
		if err := c.connect(); err != nil {
			lastErr = err
			logger.Warn("channel: reconnect attempt failed",
				logger.FieldProject, c.sess.ProjectID(),
				logger.FieldAttempt, attempt,
				logger.FieldError, err,
			)
			continue
		}
		if err := c.writeMessage(data); err != nil {
			lastErr = err
			continue
		}
		logger.Info("channel: reconnected on send",
			logger.FieldProject, c.sess.ProjectID(),
			logger.FieldAttempt, attempt,
		)
		c.recordChatSent(message)
		return nil
	}

	return apperrors.Wrapf(lastErr, "Controller.SendChat", "reconnect exhausted after %d attempts", maxAttempts)
}

// recordChatSent 出站 chat 不会被后端回显, 本地记账并广播。
func (c *Controller) recordChatSent(message string) {
	c.sess.RecordUserChat(message)
	payload, _ := json.Marshal(updatePayload{Text: message})
	c.b.Publish(bus.Message{
		Topic:   bus.SessionTopic(c.sess.ProjectID(), "chat"),
		Project: c.sess.ProjectID(),
		Type:    bus.MsgChat,
		Payload: payload,
	})
}

// Close 关闭通道: 取消上下文, 关闭连接, 等待读循环退出。
func (c *Controller) Close() error {
	if c.stopped.Swap(true) {
		return nil
	}
	c.cancel()

	c.wsMu.Lock()
	ws := c.ws
	done := c.wsDone
	c.ws = nil
	c.wsMu.Unlock()
	if ws != nil {
		_ = ws.Close()
	}

	if done != nil {
		select {
		case <-done:
		case <-time.After(3 * time.Second):
		}
	}
	return nil
}

// ========================================
// 总线发布
// ========================================

// updatePayload 总线消息载荷 (会话状态变更的序列化形式)。
type updatePayload struct {
	Step         string `json:"step,omitempty"`
	File         string `json:"file,omitempty"`
	Text         string `json:"text,omitempty"`
	GenStatus    string `json:"gen_status,omitempty"`
	Diff         string `json:"diff,omitempty"` // 渲染后的 +/- 行文本
	DiffFallback bool   `json:"diff_fallback,omitempty"`
}

// publishUpdates 把 Apply 产生的状态变更转换为总线消息。
func (c *Controller) publishUpdates(ups []session.Update) {
	for _, up := range ups {
		sub, typ := topicFor(up.Kind)
		payload, err := json.Marshal(updatePayload{
			Step:         up.Step,
			File:         up.File,
			Text:         up.Text,
			GenStatus:    string(up.GenStatus),
			Diff:         diff.Render(up.Diff),
			DiffFallback: up.DiffFallback,
		})
		if err != nil {
			logger.Warn("channel: update payload marshal failed",
				logger.FieldProject, c.sess.ProjectID(),
				logger.FieldError, err,
			)
			continue
		}
		c.b.Publish(bus.Message{
			Topic:   bus.SessionTopic(c.sess.ProjectID(), sub),
			Project: c.sess.ProjectID(),
			Type:    typ,
			Payload: payload,
		})
	}
}

// topicFor 将变更种类映射到 (topic 子段, 消息类型)。
func topicFor(kind session.UpdateKind) (sub, typ string) {
	switch kind {
	case session.UpdateStatus:
		return "status", bus.MsgGenStatus
	case session.UpdateComplete:
		return "status", bus.MsgComplete
	case session.UpdateAlert:
		return "alert", bus.MsgAlert
	case session.UpdateChat:
		return "chat", bus.MsgChat
	case session.UpdateStepStart:
		return "update", bus.MsgStepStart
	case session.UpdateStepDone:
		return "update", bus.MsgStepDone
	case session.UpdateTranscript:
		return "update", bus.MsgTranscript
	case session.UpdateFile:
		return "update", bus.MsgFile
	default:
		return "update", string(kind)
	}
}

// setConnStatus 更新会话连接状态并广播。
func (c *Controller) setConnStatus(status session.ConnStatus) {
	c.sess.SetConnStatus(status)
	payload, _ := json.Marshal(updatePayload{Text: string(status)})
	c.b.Publish(bus.Message{
		Topic:   bus.SessionTopic(c.sess.ProjectID(), "status"),
		Project: c.sess.ProjectID(),
		Type:    bus.MsgConnStatus,
		Payload: payload,
	})
}
