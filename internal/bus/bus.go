// Package bus 提供进程内消息总线: 会话状态变更 fan-out 给多个观察者
// (终端渲染循环 / 测试探针 / 未来的 UI 桥)。
//
// 发布方是通道分发循环 (单写者), 订阅方各自持有带缓冲通道,
// 消费慢的订阅者丢消息而不是阻塞发布 — 展示层永远可以用快照兜底。
package bus

import (
	"encoding/json"
	"sync"
	"time"
)

// ========================================
// 消息类型
// ========================================

// Message 总线消息。
type Message struct {
	Topic     string          `json:"topic"`   // session.{id}.update / session.{id}.alert
	Project   string          `json:"project"` // 来源项目 ID
	Type      string          `json:"type"`    // 消息类型 (step_start / file / alert / ...)
	Payload   json.RawMessage `json:"payload"` // 具体数据
	Timestamp time.Time       `json:"timestamp"`
	Seq       int64           `json:"seq"` // 全局序列号
}

// 消息类型常量。
const (
	// MsgConnStatus 连接状态变化 (connecting / connected / disconnected)。
	MsgConnStatus = "conn_status"
	// MsgGenStatus 生成状态变化 (processing / completed / failed)。
	MsgGenStatus = "gen_status"
	// MsgStepStart 步骤开启。
	MsgStepStart = "step_start"
	// MsgStepDone 步骤关闭。
	MsgStepDone = "step_done"
	// MsgTranscript 流式片段追加。
	MsgTranscript = "transcript"
	// MsgFile 文件内容变更 (含可选 diff)。
	MsgFile = "file"
	// MsgChat 会话消息 (用户/助手)。
	MsgChat = "chat"
	// MsgAlert 高优先级告警。
	MsgAlert = "alert"
	// MsgComplete 生成完成。
	MsgComplete = "complete"
)

// Topic 模式常量。
const (
	// TopicSessionPrefix 会话消息前缀: session.{id}.{subtopic}。
	TopicSessionPrefix = "session."
	// TopicAll 广播 (所有订阅者收到)。
	TopicAll = "*"
)

// SessionTopic 构造 session.{id}.{sub} 形式的 topic。
func SessionTopic(projectID, sub string) string {
	return TopicSessionPrefix + projectID + "." + sub
}

// ========================================
// Subscriber
// ========================================

// Subscriber 订阅者。
type Subscriber struct {
	ID     string       // 唯一标识
	Filter string       // topic 前缀过滤 ("session.p1" / "*")
	Ch     chan Message // 消息通道
}

// ========================================
// MessageBus — topic pub/sub
// ========================================

// MessageBus 进程内消息总线。
//
// 支持 topic 前缀匹配和广播:
//   - 订阅 "session.p1" → 收到 session.p1.update, session.p1.alert 等
//   - 订阅 "*" → 收到所有消息
//   - 发布 session.p1.update → 匹配 "session.p1" 和 "*" 的订阅者
type MessageBus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscriber // key = subscriber ID
	seq         int64
	onPublish   func(Message) // 可选: 每条消息的全局回调 (用于桥接日志/录制)
}

// NewMessageBus 创建消息总线。
func NewMessageBus() *MessageBus {
	return &MessageBus{
		subscribers: make(map[string]*Subscriber),
	}
}

// SetOnPublish 设置全局发布回调。
func (b *MessageBus) SetOnPublish(fn func(Message)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onPublish = fn
}

// Publish 发布消息到匹配的订阅者。
//
// seq 递增和 fan-out 在同一把锁下执行, 保证消息到达顺序与 seq 一致。
func (b *MessageBus) Publish(msg Message) {
	b.mu.Lock()
	b.seq++
	msg.Seq = b.seq
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	onPub := b.onPublish

	// 在同一把锁下完成 fan-out, 保证 seq 顺序
	for _, sub := range b.subscribers {
		if matchTopic(sub.Filter, msg.Topic) {
			select {
			case sub.Ch <- msg:
			default:
				// 通道满, 丢弃 (避免阻塞发布者)
			}
		}
	}
	b.mu.Unlock()

	// 全局回调在锁外执行 (回调可能耗时, 避免持锁太久)
	if onPub != nil {
		onPub(msg)
	}
}

// Subscribe 订阅消息。filter 为 topic 前缀 ("session.p1" / "*")。
func (b *MessageBus) Subscribe(id, filter string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscriber{
		ID:     id,
		Filter: filter,
		Ch:     make(chan Message, 64),
	}
	b.subscribers[id] = sub
	return sub
}

// Unsubscribe 取消订阅。
func (b *MessageBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if sub, ok := b.subscribers[id]; ok {
		close(sub.Ch)
		delete(b.subscribers, id)
	}
}

// SubscriberCount 返回当前订阅者数量。
func (b *MessageBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Seq 返回当前序列号。
func (b *MessageBus) Seq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.seq
}

// ========================================
// Topic 匹配
// ========================================

// matchTopic 检查 topic 是否匹配 filter。
//
// 规则:
//   - filter "*" 匹配所有 topic
//   - filter "session.p1" 匹配 "session.p1", "session.p1.update", "session.p1.xxx"
func matchTopic(filter, topic string) bool {
	if filter == TopicAll {
		return true
	}
	if topic == filter {
		return true
	}
	// 前缀匹配: filter="session.p1" 匹配 topic="session.p1.update"
	if len(topic) > len(filter) && topic[:len(filter)] == filter && topic[len(filter)] == '.' {
		return true
	}
	return false
}
