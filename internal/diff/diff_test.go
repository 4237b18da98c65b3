// diff_test.go — diff 引擎基线情形、前瞻窗口与安全上限测试。
package diff

import (
	"fmt"
	"strings"
	"testing"
)

func countOps(lines []Line) (unchanged, added, removed int) {
	for _, l := range lines {
		switch l.Op {
		case Unchanged:
			unchanged++
		case Added:
			added++
		case Removed:
			removed++
		}
	}
	return
}

// TestEmptyOldIsAllAdded diff("", X) → 全 Added, 行数与 X 一致。
func TestEmptyOldIsAllAdded(t *testing.T) {
	newContent := "a\nb\nc"
	lines, truncated := Compute("", newContent, Options{})
	if truncated {
		t.Fatal("unexpected truncation")
	}
	unchanged, added, removed := countOps(lines)
	if unchanged != 0 || removed != 0 || added != 3 {
		t.Fatalf("ops = (%d,%d,%d), want (0,3,0)", unchanged, added, removed)
	}
	for i, want := range []string{"a", "b", "c"} {
		if lines[i].Text != want {
			t.Errorf("lines[%d] = %q, want %q", i, lines[i].Text, want)
		}
	}
}

// TestEmptyNewIsAllRemoved diff(X, "") → 全 Removed。
func TestEmptyNewIsAllRemoved(t *testing.T) {
	lines, truncated := Compute("a\nb", "", Options{})
	if truncated {
		t.Fatal("unexpected truncation")
	}
	unchanged, added, removed := countOps(lines)
	if unchanged != 0 || added != 0 || removed != 2 {
		t.Fatalf("ops = (%d,%d,%d), want (0,0,2)", unchanged, added, removed)
	}
}

// TestIdenticalIsAllUnchanged diff(X, X) → 全 Unchanged。
func TestIdenticalIsAllUnchanged(t *testing.T) {
	content := "line1\nline2\nline3\n"
	lines, truncated := Compute(content, content, Options{})
	if truncated {
		t.Fatal("unexpected truncation")
	}
	unchanged, added, removed := countOps(lines)
	if unchanged != 3 || added != 0 || removed != 0 {
		t.Fatalf("ops = (%d,%d,%d), want (3,0,0)", unchanged, added, removed)
	}
}

func TestBothEmpty(t *testing.T) {
	lines, truncated := Compute("", "", Options{})
	if truncated || len(lines) != 0 {
		t.Fatalf("lines = %v, truncated = %v", lines, truncated)
	}
}

// TestInsertionWithinWindow 窗口内插入被识别为纯新增, 周围行保持 unchanged。
func TestInsertionWithinWindow(t *testing.T) {
	old := "a\nb\nc"
	updated := "a\nx\ny\nb\nc"
	lines, truncated := Compute(old, updated, Options{Window: 5})
	if truncated {
		t.Fatal("unexpected truncation")
	}
	got := Render(lines)
	want := "  a\n+ x\n+ y\n  b\n  c\n"
	if got != want {
		t.Errorf("diff:\n%s\nwant:\n%s", got, want)
	}
}

// TestReplacementOutsideWindow 窗口外的对齐不被发现, 逐行替换。
func TestReplacementOutsideWindow(t *testing.T) {
	old := "a\nb"
	updated := "x1\nx2\nx3\na\nb"
	// 窗口 2: 旧行 "a" 在新序列中的匹配位于 3 行之外, 找不到
	lines, truncated := Compute(old, updated, Options{Window: 2})
	if truncated {
		t.Fatal("unexpected truncation")
	}
	unchanged, _, removed := countOps(lines)
	if unchanged != 0 || removed != 2 {
		t.Errorf("ops unchanged=%d removed=%d, want 0/2", unchanged, removed)
	}

	// 窗口足够大时应找到对齐
	lines, _ = Compute(old, updated, Options{Window: 5})
	unchanged, added, removed := countOps(lines)
	if unchanged != 2 || added != 3 || removed != 0 {
		t.Errorf("ops = (%d,%d,%d), want (2,3,0)", unchanged, added, removed)
	}
}

// TestSingleLineEdit 单行修改 → 一条 removed + 一条 added。
func TestSingleLineEdit(t *testing.T) {
	old := "def f():\n    return 1\n"
	updated := "def f():\n    return 2\n"
	lines, _ := Compute(old, updated, Options{})
	got := Render(lines)
	want := "  def f():\n-     return 1\n+     return 2\n"
	if got != want {
		t.Errorf("diff:\n%s\nwant:\n%s", got, want)
	}
}

// TestOutputNeverExceedsCap 任意输入下输出长度不超过 CapFactor × max(行数)。
func TestOutputNeverExceedsCap(t *testing.T) {
	mk := func(n int, prefix string) string {
		var b strings.Builder
		for i := 0; i < n; i++ {
			fmt.Fprintf(&b, "%s%d\n", prefix, i)
		}
		return b.String()
	}

	cases := []struct{ old, new string }{
		{mk(100, "a"), mk(100, "b")},         // 完全不同
		{mk(50, "x"), mk(200, "x")},          // 纯增长
		{mk(200, "y"), mk(10, "y")},          // 纯收缩
		{mk(80, "l"), mk(80, "l") + mk(5, "t")}, // 尾部追加
	}
	for idx, c := range cases {
		for _, capFactor := range []int{1, 2, 3} {
			lines, _ := Compute(c.old, c.new, Options{CapFactor: capFactor})
			oldN := len(SplitLines(c.old))
			newN := len(SplitLines(c.new))
			maxN := oldN
			if newN > maxN {
				maxN = newN
			}
			limit := capFactor * maxN
			if len(lines) > limit {
				t.Errorf("case %d capFactor %d: output %d exceeds cap %d", idx, capFactor, len(lines), limit)
			}
		}
	}
}

// TestTruncationReported 达到上限时 truncated 必须为 true。
func TestTruncationReported(t *testing.T) {
	// 交错内容迫使每个旧行产生 removed+added, 再配 CapFactor=1 逼出截断
	var oldB, newB strings.Builder
	for i := 0; i < 20; i++ {
		fmt.Fprintf(&oldB, "old%d\n", i)
		fmt.Fprintf(&newB, "new%d\n", i)
	}
	lines, truncated := Compute(oldB.String(), newB.String(), Options{CapFactor: 1})
	if !truncated {
		t.Fatal("want truncated = true")
	}
	if len(lines) > 20 {
		t.Errorf("len = %d, want <= cap 20", len(lines))
	}
}

func TestSplitLines(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"a\n", 1},
		{"a\nb", 2},
		{"a\nb\n", 2},
		{"\n", 1}, // 一个空行
	}
	for _, tt := range tests {
		if got := SplitLines(tt.in); len(got) != tt.want {
			t.Errorf("SplitLines(%q) = %d lines, want %d", tt.in, len(got), tt.want)
		}
	}
}
