// parse.go — 入站事件信封解析。
package protocol

import (
	"encoding/json"
	"strings"

	pkgerr "github.com/gen-studio/go-session-v2/pkg/errors"
)

// envelope 仅用于提取判别字段。type 必须是非空字符串。
type envelope struct {
	Type json.RawMessage `json:"type"`
}

// Parse 解析一条入站原始消息。
//
// 失败返回包装 ErrMalformedEvent 的错误, 调用方记录日志并丢弃该消息 —
// 单条坏消息绝不允许中断会话或污染 File/Step 状态。
// 未知 type 返回 KindUnrecognized 事件 (前向兼容 no-op), 不是错误。
func Parse(raw []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Event{}, pkgerr.Wrap(pkgerr.ErrMalformedEvent, "Protocol.Parse", "not a JSON object: "+err.Error())
	}
	if len(env.Type) == 0 {
		return Event{}, pkgerr.Wrap(pkgerr.ErrMalformedEvent, "Protocol.Parse", "missing type field")
	}

	var typ string
	if err := json.Unmarshal(env.Type, &typ); err != nil {
		return Event{}, pkgerr.Wrap(pkgerr.ErrMalformedEvent, "Protocol.Parse", "type is not a string")
	}
	if strings.TrimSpace(typ) == "" {
		return Event{}, pkgerr.Wrap(pkgerr.ErrMalformedEvent, "Protocol.Parse", "empty type field")
	}

	ev := Event{RawType: typ}

	// 每种已知类型将整个载荷按类型化结构二次解析。
	// 载荷字段缺失按零值处理 (后端对可选字段不做保证), 类型不匹配视为 malformed。
	switch Kind(typ) {
	case KindStatus:
		ev.Kind = KindStatus
		ev.Status = &StatusPayload{}
		return decodeInto(ev, raw, ev.Status)
	case KindPrompt:
		ev.Kind = KindPrompt
		ev.Prompt = &PromptPayload{}
		return decodeInto(ev, raw, ev.Prompt)
	case KindToken:
		ev.Kind = KindToken
		ev.Token = &TokenPayload{}
		return decodeInto(ev, raw, ev.Token)
	case KindFileUpdate:
		ev.Kind = KindFileUpdate
		ev.FileUpdate = &FileUpdatePayload{}
		return decodeInto(ev, raw, ev.FileUpdate)
	case KindStepStart:
		ev.Kind = KindStepStart
		ev.StepStart = &StepStartPayload{}
		return decodeInto(ev, raw, ev.StepStart)
	case KindStepComplete:
		ev.Kind = KindStepComplete
		ev.StepComplete = &StepCompletePayload{}
		return decodeInto(ev, raw, ev.StepComplete)
	case KindComplete:
		ev.Kind = KindComplete
		ev.Complete = &CompletePayload{}
		return decodeInto(ev, raw, ev.Complete)
	case KindError:
		ev.Kind = KindError
		ev.Error = &ErrorPayload{}
		return decodeInto(ev, raw, ev.Error)
	case KindChatResponse:
		ev.Kind = KindChatResponse
		ev.ChatResponse = &ChatResponsePayload{}
		return decodeInto(ev, raw, ev.ChatResponse)
	case KindProjectInfo:
		ev.Kind = KindProjectInfo
		ev.ProjectInfo = &ProjectInfoPayload{}
		return decodeInto(ev, raw, ev.ProjectInfo)
	default:
		ev.Kind = KindUnrecognized
		return ev, nil
	}
}

func decodeInto(ev Event, raw []byte, dst any) (Event, error) {
	if err := json.Unmarshal(raw, dst); err != nil {
		return Event{}, pkgerr.Wrapf(pkgerr.ErrMalformedEvent, "Protocol.Parse", "decode %s payload: %v", ev.RawType, err)
	}
	return ev, nil
}
