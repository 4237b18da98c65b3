// steps.go — Step 状态机与 token 累积 (持锁 helper)。
//
// 硬不变量: 任一时刻至多一个步骤开放。新的 step_start 隐式强制关闭
// 前一个开放步骤 — 这是预期的协议行为, 不是故障, 不上报告警。
package session

import (
	"time"

	"github.com/gen-studio/go-session-v2/pkg/logger"
)

// openStepLocked 开启命名步骤, 先强制关闭已开放的步骤。
func (s *Session) openStepLocked(name string) *stepRecord {
	if s.currentStep != nil {
		s.forceCompleteLocked(s.currentStep)
	}
	st := &stepRecord{
		name:      name,
		state:     StepOpen,
		startedAt: time.Now(),
	}
	s.steps = append(s.steps, st)
	s.currentStep = st
	return st
}

// forceCompleteLocked 隐式关闭一个开放步骤 (step_start 抢占或 complete 收尾时)。
// 会话已标记失败的步骤从未正常收尾, 按 errored 记账。
func (s *Session) forceCompleteLocked(st *stepRecord) {
	if s.genStatus == GenFailed {
		st.state = StepErrored
	} else {
		st.state = StepCompleted
	}
	st.endedAt = time.Now()
	st.tokenEstimate = estimateTokens(st.transcript)
	logger.Debug("step force-completed by next step_start",
		logger.FieldProject, s.projectID,
		logger.FieldStep, st.name,
	)
}

// closeStepLocked 正常关闭当前步骤 (step_complete), 清除目标文件绑定。
// finalContent 非空时作为该步骤的权威最终文本替换累积 transcript。
func (s *Session) closeStepLocked(st *stepRecord, finalContent string) {
	if finalContent != "" {
		st.transcript = finalContent
	}
	st.state = StepCompleted
	st.endedAt = time.Now()
	st.tokenEstimate = estimateTokens(st.transcript)
	if s.currentStep == st {
		s.currentStep = nil
	}
	// step_complete 清除"当前目标文件"绑定
	s.targetFile = ""
}

// appendTokenLocked 累积一个流式片段。
//
// transcript 无条件追加; isCode 且已知目标文件时同时写入文件存储
// (首见即建, 空内容起步)。isCode 但目标未知时只留在 transcript —
// 绝不孤儿化进任何文件, 直到 file_update 给出路径后继续按路径累积。
// 返回实际承接片段的步骤与是否产生了文件内容变更。
func (s *Session) appendTokenLocked(stepName, text string, isCode bool) (st *stepRecord, fileTouched string) {
	st = s.currentStep
	if st == nil {
		// 协议异常: 无开放步骤时到达 token。不丢数据 — 按片段声明的
		// 步骤名隐式开启, 并记录告警。
		st = s.openStepLocked(stepName)
		s.addAlertLocked("warning", "token arrived with no open step: "+stepName)
		logger.Warn("protocol anomaly: token with no open step",
			logger.FieldProject, s.projectID,
			logger.FieldStep, stepName,
		)
	} else if stepName != "" && stepName != st.name {
		// 步骤名不匹配: 后端对 step 关联可能不精确 — 仍然追加, 只告警。
		s.addAlertLocked("warning", "token step mismatch: got "+stepName+", open "+st.name)
		logger.Warn("protocol anomaly: token step mismatch",
			logger.FieldProject, s.projectID,
			logger.FieldStep, stepName,
			"open_step", st.name,
		)
	}

	st.transcript += text

	// 全量 file_update 对路径具有权威性: 已存在权威版本的文件不再接受
	// 流式追加 (快照已包含这些片段), 否则尾随 token 会污染最终内容。
	if isCode && s.targetFile != "" && s.files.HistoryLen(s.targetFile) == 0 {
		s.files.Append(s.targetFile, text)
		fileTouched = s.targetFile
	}
	return st, fileTouched
}
