// Package filestore 维护"项目当前长什么样"的唯一权威状态:
// path → 当前内容 + 有界版本历史。
//
// 单写者模型 (会话分发循环), 锁只为保护展示层的并发读快照。
package filestore

import (
	"sync"
	"time"
)

// Version 一个历史快照。
type Version struct {
	Content string
	Ts      time.Time
}

// Store 文件状态存储。路径为正斜杠分隔, 可含多级目录。
type Store struct {
	mu sync.RWMutex

	files map[string]*fileEntry
	// order 记录首次出现顺序, List() 按此返回 (协议不要求字典序)。
	order []string

	// historyMax 每文件历史上限, <=0 表示不设限。
	historyMax int

	// lastTs 保证时间戳单调不减 (同一毫秒内多次 upsert 时人工递增)。
	lastTs time.Time
}

type fileEntry struct {
	content string
	history []Version
}

// New 创建空存储。historyMax 为每文件版本历史上限 (<=0 不设限)。
func New(historyMax int) *Store {
	return &Store{
		files:      make(map[string]*fileEntry),
		historyMax: historyMax,
	}
}

// monotonicNow 返回严格单调不减的时间戳。
func (s *Store) monotonicNow() time.Time {
	now := time.Now()
	if !now.After(s.lastTs) {
		now = s.lastTs.Add(time.Nanosecond)
	}
	s.lastTs = now
	return now
}

// Upsert 替换 path 的当前内容并追加历史快照。
//
// 返回值 prev 是写入前的内容 (新文件为空串), 与写入在同一临界区内取得 —
// 这是 diff 计算的"before"输入, 外部观察者不可能看到中间态。
// changed=false 表示内容与当前一致, 此时不追加重复历史 (重复抑制是
// 质量目标而非硬不变量, 后端合法地可能重发相同内容)。
func (s *Store) Upsert(path, content string) (prev string, changed bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.files[path]
	if !ok {
		entry = &fileEntry{}
		s.files[path] = entry
		s.order = append(s.order, path)
	} else {
		prev = entry.content
	}

	if ok && entry.content == content && len(entry.history) > 0 {
		return prev, false
	}

	entry.content = content
	entry.history = append(entry.history, Version{Content: content, Ts: s.monotonicNow()})
	if s.historyMax > 0 && len(entry.history) > s.historyMax {
		// 淘汰最旧快照, 保持 len <= historyMax
		over := len(entry.history) - s.historyMax
		entry.history = append([]Version(nil), entry.history[over:]...)
	}
	return prev, true
}

// Append 向 path 的当前内容追加文本 (token 累积路径), 文件不存在则创建。
//
// 语义同 Upsert 但不产生新的历史快照 — 流式追加属于"进行中"内容,
// 只有 file_update / complete 的全量内容才构成一个版本。
// 返回追加后的完整内容。
func (s *Store) Append(path, text string) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.files[path]
	if !ok {
		entry = &fileEntry{}
		s.files[path] = entry
		s.order = append(s.order, path)
	}
	entry.content += text
	return entry.content
}

// Get 返回当前内容。第二返回值 false 表示路径未知。
func (s *Store) Get(path string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.files[path]
	if !ok {
		return "", false
	}
	return entry.content, true
}

// List 返回已知路径, 按首次出现顺序。
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.order))
	copy(out, s.order)
	return out
}

// History 返回 path 的版本历史副本 (旧 → 新)。未知路径返回 nil。
func (s *Store) History(path string) []Version {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.files[path]
	if !ok {
		return nil
	}
	out := make([]Version, len(entry.history))
	copy(out, entry.history)
	return out
}

// HistoryLen 返回 path 的版本数 (0 表示尚无权威版本或路径未知)。
func (s *Store) HistoryLen(path string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.files[path]
	if !ok {
		return 0
	}
	return len(entry.history)
}

// Len 返回已知文件数。
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.files)
}

// Contents 返回 path → 当前内容的副本快照 (按 List 顺序无关的 map)。
func (s *Store) Contents() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]string, len(s.files))
	for path, entry := range s.files {
		out[path] = entry.content
	}
	return out
}
