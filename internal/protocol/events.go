// Package protocol 封装生成后端 WebSocket 事件协议。
//
// 入站: status / prompt / token / file_update / step_start / step_complete /
// complete / error / chat_response / project_info, 未识别类型作为
// KindUnrecognized 透传 (前向兼容, 不报错)。
// 出站: chat (用户追加请求)。
package protocol

import "encoding/json"

// Kind 事件类型判别值。
type Kind string

const (
	KindStatus       Kind = "status"
	KindPrompt       Kind = "prompt"
	KindToken        Kind = "token"
	KindFileUpdate   Kind = "file_update"
	KindStepStart    Kind = "step_start"
	KindStepComplete Kind = "step_complete"
	KindComplete     Kind = "complete"
	KindError        Kind = "error"
	KindChatResponse Kind = "chat_response"
	KindProjectInfo  Kind = "project_info"

	// KindUnrecognized 未知 type 值 — 按协议前向兼容要求当作 no-op, 不算错误。
	KindUnrecognized Kind = "unrecognized"
)

// Event 解析后的入站事件。Kind 决定哪个 payload 指针非 nil。
type Event struct {
	Kind Kind
	// RawType 原始 type 字段值 (KindUnrecognized 时用于日志)。
	RawType string

	Status       *StatusPayload
	Prompt       *PromptPayload
	Token        *TokenPayload
	FileUpdate   *FileUpdatePayload
	StepStart    *StepStartPayload
	StepComplete *StepCompletePayload
	Complete     *CompletePayload
	Error        *ErrorPayload
	ChatResponse *ChatResponsePayload
	ProjectInfo  *ProjectInfoPayload
}

// ========================================
// 入站 payload 类型 (字段名 = 线上契约, 勿改 tag)
// ========================================

// StatusPayload 后端状态广播。status: connected|processing|completed|failed。
type StatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// PromptPayload 后端回显的初始需求描述。
type PromptPayload struct {
	Prompt string `json:"prompt"`
}

// TokenPayload 流式文本片段。IsCode=true 时同时计入当前目标文件。
type TokenPayload struct {
	Step   string `json:"step"`
	Token  string `json:"token"`
	IsCode bool   `json:"is_code"`
}

// FileUpdatePayload 单文件全量内容更新 (对该路径具有权威性)。
type FileUpdatePayload struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// StepStartPayload 命名生成步骤开始。
type StepStartPayload struct {
	Step string `json:"step"`
}

// StepCompletePayload 生成步骤结束, content 为该步骤最终文本 (可选)。
type StepCompletePayload struct {
	Step    string `json:"step"`
	Content string `json:"content,omitempty"`
}

// CompleteFile 最终文件清单中的一项。
type CompleteFile struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// CompletePayload 生成完成, 携带最终文件清单。
type CompletePayload struct {
	Files []CompleteFile `json:"files"`
}

// ErrorPayload 后端上报的生成失败。
type ErrorPayload struct {
	Message string `json:"message"`
}

// ChatFileUpdate chat_response 附带的文件更新。
type ChatFileUpdate struct {
	File    string `json:"file"`
	Content string `json:"content"`
}

// ChatResponsePayload 对用户追加请求的回复。
type ChatResponsePayload struct {
	Message     string           `json:"message"`
	FileUpdates []ChatFileUpdate `json:"file_updates,omitempty"`
}

// ProjectInfoPayload 连接建立后后端推送的项目元信息 (结构由后端定义, 原样保留)。
type ProjectInfoPayload struct {
	Project json.RawMessage `json:"project"`
}

// ========================================
// 出站消息
// ========================================

// ChatMessage 用户在既有会话内的追加请求。
type ChatMessage struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// EncodeChat 序列化出站 chat 消息。
func EncodeChat(message string) ([]byte, error) {
	return json.Marshal(ChatMessage{Type: "chat", Message: message})
}
