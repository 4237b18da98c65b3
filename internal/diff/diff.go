// Package diff 提供行级 diff 引擎。
//
// 算法: 贪心 LCS 式双游标扫描 + 有界前瞻 —
// 两边行相等时同步前进 (unchanged); 不等时在新序列中向前最多 Window 行
// 寻找与当前旧行相等的行, 途中跳过的新行记为 added; 找不到则各前进一行,
// 记一条 removed + 一条 added。
//
// 这是偏向线性时间的启发式, 不保证最小编辑脚本; 文件大段重排时输出会偏长,
// 属于接受的权衡, Window 与输出上限作为显式配置保留 (internal/config)。
// 输出总长度受 CapFactor × max(旧行数, 新行数) 约束, 超限即截断,
// 调用方降级为直接展示新内容全文。
package diff

import "strings"

// Op diff 行的操作类型。
type Op int

const (
	Unchanged Op = iota
	Added
	Removed
)

// String 返回操作的显示前缀。
func (op Op) String() string {
	switch op {
	case Added:
		return "+"
	case Removed:
		return "-"
	default:
		return " "
	}
}

// Line 一条 diff 输出行。
type Line struct {
	Op   Op
	Text string
}

// Options diff 引擎配置。
type Options struct {
	// Window 前瞻窗口 (行数), <=0 时取 DefaultWindow。
	Window int
	// CapFactor 输出上限系数, <=0 时取 DefaultCapFactor。
	// 上限 = CapFactor × max(旧行数, 新行数), 至少为 1。
	CapFactor int
}

const (
	DefaultWindow    = 5
	DefaultCapFactor = 2
)

// Compute 计算 old → new 的行级编辑脚本。
//
// truncated=true 表示输出达到安全上限被截断, 调用方应放弃该 diff
// 并直接展示新内容 (diff 失败降级, 不抛错)。
// 基线情形: old 为空 → 全 Added; new 为空 → 全 Removed; 相等 → 全 Unchanged。
func Compute(oldContent, newContent string, opts Options) (lines []Line, truncated bool) {
	window := opts.Window
	if window <= 0 {
		window = DefaultWindow
	}
	capFactor := opts.CapFactor
	if capFactor <= 0 {
		capFactor = DefaultCapFactor
	}

	oldLines := SplitLines(oldContent)
	newLines := SplitLines(newContent)

	maxLen := len(oldLines)
	if len(newLines) > maxLen {
		maxLen = len(newLines)
	}
	limit := capFactor * maxLen
	if limit < 1 {
		limit = 1
	}

	out := make([]Line, 0, maxLen)
	push := func(op Op, text string) bool {
		if len(out) >= limit {
			return false
		}
		out = append(out, Line{Op: op, Text: text})
		return true
	}

	i, j := 0, 0
	for i < len(oldLines) && j < len(newLines) {
		if oldLines[i] == newLines[j] {
			if !push(Unchanged, oldLines[i]) {
				return out, true
			}
			i++
			j++
			continue
		}

		// 前瞻: 新序列中最多 window 行内找当前旧行
		matched := -1
		for k := j + 1; k < len(newLines) && k <= j+window; k++ {
			if newLines[k] == oldLines[i] {
				matched = k
				break
			}
		}

		if matched >= 0 {
			// 跳过的新行全部记为新增, 然后旧行与匹配行对齐
			for k := j; k < matched; k++ {
				if !push(Added, newLines[k]) {
					return out, true
				}
			}
			if !push(Unchanged, oldLines[i]) {
				return out, true
			}
			i++
			j = matched + 1
			continue
		}

		// 窗口内无匹配: 视为单行替换
		if !push(Removed, oldLines[i]) {
			return out, true
		}
		if !push(Added, newLines[j]) {
			return out, true
		}
		i++
		j++
	}

	for ; i < len(oldLines); i++ {
		if !push(Removed, oldLines[i]) {
			return out, true
		}
	}
	for ; j < len(newLines); j++ {
		if !push(Added, newLines[j]) {
			return out, true
		}
	}

	return out, false
}

// SplitLines 按 \n 拆分为行序列。空串拆出 0 行; 结尾换行不产生空尾行。
func SplitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}

// Render 将 diff 行渲染为带 +/-/空格前缀的文本 (调试与终端展示用)。
func Render(lines []Line) string {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l.Op.String())
		b.WriteByte(' ')
		b.WriteString(l.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
