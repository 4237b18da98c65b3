// tree.go — 文件树投影: 把扁平路径集合投影为嵌套目录结构。
//
// 纯展示产物, 每次按需从 Store 的 key 集重新计算, 自身不持有状态,
// 绝不作为权威数据回写。排序约定: 目录在前, 同层按字典序。
package filestore

import (
	"sort"
	"strings"
)

// Node 文件树节点。
type Node struct {
	Name     string  `json:"name"`
	Path     string  `json:"path"`
	IsDir    bool    `json:"isDir"`
	Children []*Node `json:"children,omitempty"`
}

// Tree 从路径集合构建文件树。根节点不显式存在, 返回顶层节点列表。
func Tree(paths []string) []*Node {
	root := &Node{IsDir: true}
	index := map[string]*Node{"": root}

	for _, path := range paths {
		trimmed := strings.Trim(path, "/")
		if trimmed == "" {
			continue
		}
		segments := strings.Split(trimmed, "/")
		parentKey := ""
		for i, seg := range segments {
			key := strings.Join(segments[:i+1], "/")
			node, ok := index[key]
			if !ok {
				node = &Node{
					Name:  seg,
					Path:  key,
					IsDir: i < len(segments)-1,
				}
				parent := index[parentKey]
				parent.Children = append(parent.Children, node)
				index[key] = node
			} else if i < len(segments)-1 && !node.IsDir {
				// 同名文件先于目录出现: 提升为目录 (保守处理, 不丢节点)
				node.IsDir = true
			}
			parentKey = key
		}
	}

	sortTree(root)
	return root.Children
}

// sortTree 递归排序: 目录在前, 同层字典序。
func sortTree(n *Node) {
	sort.SliceStable(n.Children, func(i, j int) bool {
		a, b := n.Children[i], n.Children[j]
		if a.IsDir != b.IsDir {
			return a.IsDir
		}
		return a.Name < b.Name
	})
	for _, c := range n.Children {
		if c.IsDir {
			sortTree(c)
		}
	}
}
