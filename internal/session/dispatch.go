// dispatch.go — 事件分发: 每个入站事件恰好路由到一个 handler。
package session

import (
	"github.com/gen-studio/go-session-v2/internal/diff"
	"github.com/gen-studio/go-session-v2/internal/protocol"
	"github.com/gen-studio/go-session-v2/pkg/logger"
)

// UpdateKind 一次状态变更的种类 (供观察者渲染)。
type UpdateKind string

const (
	UpdateStatus     UpdateKind = "status"
	UpdateStepStart  UpdateKind = "step_start"
	UpdateStepDone   UpdateKind = "step_done"
	UpdateTranscript UpdateKind = "transcript"
	UpdateFile       UpdateKind = "file"
	UpdateChat       UpdateKind = "chat"
	UpdateAlert      UpdateKind = "alert"
	UpdateComplete   UpdateKind = "complete"
)

// Update 描述 Apply 产生的一次可见状态变更。
// Diff 非空时为该文件 旧→新 的行级编辑脚本; DiffFallback=true 表示
// diff 被安全上限截断, 观察者应直接展示 Text (新内容全文)。
type Update struct {
	Kind         UpdateKind
	Step         string
	File         string
	Text         string
	GenStatus    GenStatus
	Diff         []diff.Line
	DiffFallback bool
}

// Apply 按到达顺序应用一个已解析事件, 返回产生的可见变更列表。
//
// 未识别事件是前向兼容 no-op。所有 handler 在同一把写锁内完成,
// file upsert 与配套 diff 计算对外部观察者而言是原子的。
func (s *Session) Apply(ev protocol.Event) []Update {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case protocol.KindStatus:
		return s.handleStatusLocked(ev.Status)
	case protocol.KindPrompt:
		return s.handlePromptLocked(ev.Prompt)
	case protocol.KindToken:
		return s.handleTokenLocked(ev.Token)
	case protocol.KindFileUpdate:
		return s.handleFileUpdateLocked(ev.FileUpdate.File, ev.FileUpdate.Content, true)
	case protocol.KindStepStart:
		return s.handleStepStartLocked(ev.StepStart)
	case protocol.KindStepComplete:
		return s.handleStepCompleteLocked(ev.StepComplete)
	case protocol.KindComplete:
		return s.handleCompleteLocked(ev.Complete)
	case protocol.KindError:
		return s.handleErrorLocked(ev.Error)
	case protocol.KindChatResponse:
		return s.handleChatResponseLocked(ev.ChatResponse)
	case protocol.KindProjectInfo:
		s.project = append([]byte(nil), ev.ProjectInfo.Project...)
		return nil
	case protocol.KindUnrecognized:
		logger.Debug("unrecognized event ignored",
			logger.FieldProject, s.projectID,
			logger.FieldEventType, ev.RawType,
		)
		return nil
	default:
		return nil
	}
}

// handleStatusLocked 将后端状态映射到生成状态。
func (s *Session) handleStatusLocked(p *protocol.StatusPayload) []Update {
	switch p.Status {
	case "connected":
		// 连接确认不改变生成状态 (连接状态由通道控制器维护)
		logger.Debug("backend status: connected", logger.FieldProject, s.projectID)
		return nil
	case "processing":
		s.genStatus = GenProcessing
	case "completed":
		s.genStatus = GenCompleted
	case "failed":
		s.genStatus = GenFailed
	default:
		logger.Warn("unknown backend status",
			logger.FieldProject, s.projectID,
			logger.FieldStatus, p.Status,
		)
		return nil
	}
	return []Update{{Kind: UpdateStatus, GenStatus: s.genStatus, Text: p.Message}}
}

func (s *Session) handlePromptLocked(p *protocol.PromptPayload) []Update {
	s.appendChatLocked("user", p.Prompt)
	if s.genStatus == GenPending {
		s.genStatus = GenProcessing
	}
	return []Update{{Kind: UpdateChat, Text: p.Prompt}}
}

func (s *Session) handleTokenLocked(p *protocol.TokenPayload) []Update {
	st, fileTouched := s.appendTokenLocked(p.Step, p.Token, p.IsCode)
	up := Update{Kind: UpdateTranscript, Step: st.name, Text: p.Token}
	if fileTouched != "" {
		up.File = fileTouched
	}
	return []Update{up}
}

// handleFileUpdateLocked 全量文件更新 — 对该路径具有权威性,
// 覆盖本步骤内已累积的任何 token 内容 (replace wins)。
func (s *Session) handleFileUpdateLocked(path, content string, bindTarget bool) []Update {
	if bindTarget && content == "" {
		if _, known := s.files.Get(path); !known {
			// 空内容且文件未知 = 后端宣告文件并开始流式生成:
			// 只建档并绑定目标, 不产生权威版本, 后续 is_code token 对其累积。
			s.files.Append(path, "")
			s.targetFile = path
			if s.currentStep != nil {
				s.currentStep.targetFile = path
			}
			return []Update{{Kind: UpdateFile, File: path}}
		}
	}

	prev, changed := s.files.Upsert(path, content)

	if bindTarget {
		// 绑定"当前目标文件": 后续 is_code token 对它累积
		s.targetFile = path
		if s.currentStep != nil {
			s.currentStep.targetFile = path
		}
	}

	up := Update{Kind: UpdateFile, File: path, Text: content}
	if changed && prev != "" && prev != content {
		// 已展示过的文件被中途改写 → 给出行级 diff;
		// 截断时降级为展示新内容全文 (diff 失败不抛错)。
		lines, truncated := diff.Compute(prev, content, s.diffOpts)
		if truncated {
			up.DiffFallback = true
		} else {
			up.Diff = lines
		}
	}

	logger.Debug("file update applied",
		logger.FieldProject, s.projectID,
		logger.FieldFile, path,
		logger.FieldLen, len(content),
	)
	return []Update{up}
}

func (s *Session) handleStepStartLocked(p *protocol.StepStartPayload) []Update {
	st := s.openStepLocked(p.Step)
	if s.genStatus == GenPending {
		s.genStatus = GenProcessing
	}
	logger.Info("step started",
		logger.FieldProject, s.projectID,
		logger.FieldStep, st.name,
	)
	return []Update{{Kind: UpdateStepStart, Step: st.name}}
}

func (s *Session) handleStepCompleteLocked(p *protocol.StepCompletePayload) []Update {
	st := s.currentStep
	if st == nil {
		// 没有开放步骤却收到 step_complete: 尽力而为, 只告警。
		a := s.addAlertLocked("warning", "step_complete with no open step: "+p.Step)
		logger.Warn("protocol anomaly: step_complete with no open step",
			logger.FieldProject, s.projectID,
			logger.FieldStep, p.Step,
		)
		return []Update{{Kind: UpdateAlert, Text: a.Message}}
	}
	if p.Step != "" && p.Step != st.name {
		s.addAlertLocked("warning", "step_complete name mismatch: got "+p.Step+", open "+st.name)
		logger.Warn("protocol anomaly: step_complete name mismatch",
			logger.FieldProject, s.projectID,
			logger.FieldStep, p.Step,
			"open_step", st.name,
		)
	}
	s.closeStepLocked(st, p.Content)
	logger.Info("step completed",
		logger.FieldProject, s.projectID,
		logger.FieldStep, st.name,
	)
	return []Update{{Kind: UpdateStepDone, Step: st.name, Text: st.transcript}}
}

// handleCompleteLocked 生成完成: 应用最终文件清单并关闭会话生成状态。
func (s *Session) handleCompleteLocked(p *protocol.CompletePayload) []Update {
	var updates []Update
	for _, f := range p.Files {
		if f.Name == "" {
			continue
		}
		// 最终清单不改变目标文件绑定 (生成已结束)
		updates = append(updates, s.handleFileUpdateLocked(f.Name, f.Content, false)...)
	}

	if s.currentStep != nil {
		s.forceCompleteLocked(s.currentStep)
		s.currentStep = nil
	}
	s.targetFile = ""
	s.genStatus = GenCompleted

	logger.Info("generation complete",
		logger.FieldProject, s.projectID,
		logger.FieldCount, len(p.Files),
	)
	return append(updates, Update{Kind: UpdateComplete, GenStatus: GenCompleted})
}

// handleErrorLocked 生成失败: 标记 failed, 开放步骤保持原样 (后端可能
// 继续也可能终止), 已累积的 File/Step 状态完整保留供检查。
func (s *Session) handleErrorLocked(p *protocol.ErrorPayload) []Update {
	s.genStatus = GenFailed
	a := s.addAlertLocked("error", p.Message)
	logger.Error("generation failed",
		logger.FieldProject, s.projectID,
		logger.FieldError, p.Message,
	)
	return []Update{
		{Kind: UpdateStatus, GenStatus: GenFailed, Text: p.Message},
		{Kind: UpdateAlert, Text: a.Message},
	}
}

func (s *Session) handleChatResponseLocked(p *protocol.ChatResponsePayload) []Update {
	s.appendChatLocked("assistant", p.Message)
	updates := []Update{{Kind: UpdateChat, Text: p.Message}}
	for _, fu := range p.FileUpdates {
		if fu.File == "" {
			continue
		}
		updates = append(updates, s.handleFileUpdateLocked(fu.File, fu.Content, false)...)
	}
	return updates
}
