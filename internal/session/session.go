// Package session 实现会话聚合: 消费解析后的生成事件流,
// 维护 Step 状态机、token 累积与文件状态的一致视图。
//
// 单写者模型: 只有通道分发循环调用 Apply, 事件严格按到达顺序处理,
// 绝不重排或合批 — File/Step 正确性依赖因果顺序 (step_start 先于其管辖的
// token)。锁只为保护展示层的并发读快照; 读者需容忍两次读取之间状态变化。
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gen-studio/go-session-v2/internal/diff"
	"github.com/gen-studio/go-session-v2/internal/filestore"
)

// ========================================
// 状态枚举
// ========================================

// ConnStatus 通道连接状态。
type ConnStatus string

const (
	ConnDisconnected ConnStatus = "disconnected"
	ConnConnecting   ConnStatus = "connecting"
	ConnConnected    ConnStatus = "connected"
)

// GenStatus 生成状态。
type GenStatus string

const (
	GenPending    GenStatus = "pending"
	GenProcessing GenStatus = "processing"
	GenCompleted  GenStatus = "completed"
	GenFailed     GenStatus = "failed"
)

// StepState Step 生命周期: idle → open → (completed|errored) → idle。
type StepState string

const (
	StepOpen      StepState = "open"
	StepCompleted StepState = "completed"
	StepErrored   StepState = "errored"
)

// ========================================
// 聚合内部记录
// ========================================

// stepRecord 一个命名生成步骤的累积状态。
type stepRecord struct {
	name       string
	transcript string
	state      StepState
	targetFile string
	startedAt  time.Time
	endedAt    time.Time
	// tokenEstimate 在步骤关闭时计算 (cl100k 估算), 开放中按需估算。
	tokenEstimate int
}

// Alert 高优先级告警条目 (协议异常 / 生成失败)。
type Alert struct {
	ID      string `json:"id"`
	Time    string `json:"time"`
	Level   string `json:"level"` // "error" | "warning"
	Message string `json:"message"`
}

// ChatEntry 会话消息记录 (初始 prompt / 用户追加 / 后端回复)。
type ChatEntry struct {
	Role string `json:"role"` // "user" | "assistant" | "system"
	Text string `json:"text"`
	Ts   string `json:"ts"`
}

// Session 会话聚合。"当前开放步骤"和"当前目标文件"是显式字段,
// 不是散落的全局量 — 所有 handler 都经由同一个聚合实例。
type Session struct {
	mu sync.RWMutex

	projectID  string
	connStatus ConnStatus
	genStatus  GenStatus

	steps       []*stepRecord
	currentStep *stepRecord
	targetFile  string

	files *filestore.Store

	chat    []ChatEntry
	alerts  []Alert
	project []byte // project_info 原样保留的元信息

	diffOpts diff.Options
}

// Options 会话配置。
type Options struct {
	// DiffOptions 传给 diff 引擎 (窗口/上限来自 internal/config)。
	DiffOptions diff.Options
	// FileHistoryMax 每文件版本历史上限, <=0 不设限。
	FileHistoryMax int
}

// New 创建会话聚合。
func New(projectID string, opts Options) *Session {
	return &Session{
		projectID:  projectID,
		connStatus: ConnDisconnected,
		genStatus:  GenPending,
		files:      filestore.New(opts.FileHistoryMax),
		diffOpts:   opts.DiffOptions,
	}
}

// ProjectID 返回项目标识。
func (s *Session) ProjectID() string { return s.projectID }

// SetConnStatus 由通道控制器更新连接状态。
func (s *Session) SetConnStatus(status ConnStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connStatus = status
}

// ConnStatus 返回当前连接状态。
func (s *Session) ConnStatus() ConnStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connStatus
}

// GenStatus 返回当前生成状态。
func (s *Session) GenStatus() GenStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.genStatus
}

// Files 返回底层文件存储 (只读用途; 突变权属于 Apply 分发)。
func (s *Session) Files() *filestore.Store { return s.files }

// FileTree 按需重算文件树投影 (非权威, 不缓存)。
func (s *Session) FileTree() []*filestore.Node {
	return filestore.Tree(s.files.List())
}

// FileDiff 计算 path 最近两个版本之间的行级 diff。
// 版本不足两个或 diff 被截断时返回 nil (调用方直接展示当前内容)。
func (s *Session) FileDiff(path string) []diff.Line {
	hist := s.files.History(path)
	if len(hist) < 2 {
		return nil
	}
	lines, truncated := diff.Compute(hist[len(hist)-2].Content, hist[len(hist)-1].Content, s.diffOpts)
	if truncated {
		return nil
	}
	return lines
}

// addAlertLocked 追加一条告警。调用方须持有写锁。
func (s *Session) addAlertLocked(level, message string) Alert {
	a := Alert{
		ID:      uuid.NewString(),
		Time:    time.Now().UTC().Format(time.RFC3339),
		Level:   level,
		Message: message,
	}
	s.alerts = append(s.alerts, a)
	return a
}

// RecordUserChat 记录一条本端发出的用户消息 (后端不回显出站 chat)。
func (s *Session) RecordUserChat(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendChatLocked("user", text)
}

// appendChatLocked 追加一条会话消息。调用方须持有写锁。
func (s *Session) appendChatLocked(role, text string) {
	s.chat = append(s.chat, ChatEntry{
		Role: role,
		Text: text,
		Ts:   time.Now().UTC().Format(time.RFC3339),
	})
}

// ========================================
// 快照 (深拷贝, 供展示层读取)
// ========================================

// StepView 步骤快照。
type StepView struct {
	Name          string    `json:"name"`
	Transcript    string    `json:"transcript"`
	State         StepState `json:"state"`
	TargetFile    string    `json:"targetFile,omitempty"`
	TokenEstimate int       `json:"tokenEstimate"`
}

// Snapshot 会话全量快照。
type Snapshot struct {
	ProjectID   string      `json:"projectId"`
	ConnStatus  ConnStatus  `json:"connStatus"`
	GenStatus   GenStatus   `json:"genStatus"`
	CurrentStep string      `json:"currentStep,omitempty"`
	TargetFile  string      `json:"targetFile,omitempty"`
	Steps       []StepView  `json:"steps"`
	Chat        []ChatEntry `json:"chat"`
	Files       []string    `json:"files"`
	Alerts      []Alert     `json:"alerts"`
	TotalTokens int         `json:"totalTokens"`
}

// Snapshot 返回深拷贝的会话快照。
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ProjectID:  s.projectID,
		ConnStatus: s.connStatus,
		GenStatus:  s.genStatus,
		TargetFile: s.targetFile,
		Steps:      make([]StepView, 0, len(s.steps)),
		Chat:       append([]ChatEntry(nil), s.chat...),
		Files:      s.files.List(),
		Alerts:     append([]Alert(nil), s.alerts...),
	}
	if s.currentStep != nil {
		snap.CurrentStep = s.currentStep.name
	}

	total := 0
	for _, st := range s.steps {
		estimate := st.tokenEstimate
		if st.state == StepOpen {
			// 开放步骤尚未缓存估算值
			estimate = estimateTokens(st.transcript)
		}
		total += estimate
		snap.Steps = append(snap.Steps, StepView{
			Name:          st.name,
			Transcript:    st.transcript,
			State:         st.state,
			TargetFile:    st.targetFile,
			TokenEstimate: estimate,
		})
	}
	snap.TotalTokens = total
	return snap
}
