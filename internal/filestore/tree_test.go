// tree_test.go — 文件树投影排序与嵌套测试。
package filestore

import "testing"

func TestTreeNestingAndOrder(t *testing.T) {
	paths := []string{
		"readme.md",
		"src/app/main.py",
		"src/util.py",
		"assets/logo.svg",
		"src/app/views.py",
	}

	top := Tree(paths)

	// 顶层: 目录在前按字典序 (assets, src), 然后文件 (readme.md)
	if len(top) != 3 {
		t.Fatalf("top level = %d nodes, want 3", len(top))
	}
	wantTop := []struct {
		name  string
		isDir bool
	}{
		{"assets", true},
		{"src", true},
		{"readme.md", false},
	}
	for i, w := range wantTop {
		if top[i].Name != w.name || top[i].IsDir != w.isDir {
			t.Errorf("top[%d] = %s/%v, want %s/%v", i, top[i].Name, top[i].IsDir, w.name, w.isDir)
		}
	}

	// src 下: app 目录在 util.py 之前
	var src *Node
	for _, n := range top {
		if n.Name == "src" {
			src = n
		}
	}
	if src == nil || len(src.Children) != 2 {
		t.Fatalf("src children = %+v", src)
	}
	if src.Children[0].Name != "app" || !src.Children[0].IsDir {
		t.Errorf("src[0] = %+v, want dir app", src.Children[0])
	}
	if src.Children[1].Name != "util.py" || src.Children[1].IsDir {
		t.Errorf("src[1] = %+v, want file util.py", src.Children[1])
	}

	// app 下两个文件按字典序
	app := src.Children[0]
	if len(app.Children) != 2 || app.Children[0].Name != "main.py" || app.Children[1].Name != "views.py" {
		t.Errorf("app children = %+v", app.Children)
	}

	// Path 字段携带完整路径
	if app.Children[0].Path != "src/app/main.py" {
		t.Errorf("path = %q", app.Children[0].Path)
	}
}

func TestTreeEmptyAndDegenerate(t *testing.T) {
	if nodes := Tree(nil); len(nodes) != 0 {
		t.Errorf("Tree(nil) = %v", nodes)
	}
	// 空路径与纯斜杠被忽略
	if nodes := Tree([]string{"", "/", "///"}); len(nodes) != 0 {
		t.Errorf("Tree(degenerate) = %v", nodes)
	}
	// 前导斜杠被归一化
	nodes := Tree([]string{"/etc/conf.yaml"})
	if len(nodes) != 1 || nodes[0].Name != "etc" || !nodes[0].IsDir {
		t.Fatalf("nodes = %+v", nodes)
	}
	if nodes[0].Children[0].Path != "etc/conf.yaml" {
		t.Errorf("path = %q", nodes[0].Children[0].Path)
	}
}

// TestTreeRecomputedNotAuthoritative 同一输入重复投影结果一致 (无内部状态)。
func TestTreeRecomputedNotAuthoritative(t *testing.T) {
	paths := []string{"b/x.txt", "a.txt"}
	first := Tree(paths)
	second := Tree(paths)
	if len(first) != len(second) {
		t.Fatal("projection is not deterministic")
	}
	for i := range first {
		if first[i].Name != second[i].Name || first[i].IsDir != second[i].IsDir {
			t.Errorf("node %d differs between projections", i)
		}
	}
}
