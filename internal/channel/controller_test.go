// controller_test.go — 通道控制器测试: 事件分发、畸形事件丢弃、按需重连。
package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gen-studio/go-session-v2/internal/bus"
	"github.com/gen-studio/go-session-v2/internal/config"
	"github.com/gen-studio/go-session-v2/internal/diff"
	"github.com/gen-studio/go-session-v2/internal/session"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

func testConfig(wsURL string) *config.Config {
	return &config.Config{
		BackendWSURL:          wsURL,
		WSHandshakeTimeoutSec: 2,
		WSReadIdleTimeoutSec:  30,
		WSWriteTimeoutSec:     2,
		WSPingIntervalSec:     30,
		ReconnectBaseDelayMS:  10,
		ReconnectMaxDelayMS:   50,
		ReconnectMaxAttempts:  3,
	}
}

func testSession() *session.Session {
	return session.New("p1", session.Options{
		DiffOptions:    diff.Options{Window: diff.DefaultWindow, CapFactor: diff.DefaultCapFactor},
		FileHistoryMax: 10,
	})
}

// fakeBackend 起一个只服务 /ws/p1 的测试后端, 每次连接调用 serve。
func fakeBackend(t *testing.T, serve func(conn *websocket.Conn, nth int)) (*httptest.Server, string) {
	t.Helper()
	var nth atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ws/p1" {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serve(conn, int(nth.Add(1)))
	}))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	return srv, wsURL
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before timeout")
}

// 入站事件按到达顺序喂给会话, 状态变更出现在总线上。
func TestReadLoopDispatchesEvents(t *testing.T) {
	script := []string{
		`{"type":"status","status":"connected"}`,
		`{"type":"step_start","step":"gen_code"}`,
		`{"type":"token","step":"gen_code","token":"x = 1","is_code":false}`,
		`{"type":"file_update","file":"main.py","content":"x = 1\n"}`,
		`{"type":"step_complete","step":"gen_code"}`,
	}
	srv, wsURL := fakeBackend(t, func(conn *websocket.Conn, _ int) {
		defer conn.Close()
		for _, line := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	sess := testSession()
	b := bus.NewMessageBus()
	sub := b.Subscribe("probe", "session.p1.update")

	c := New(context.Background(), testConfig(wsURL), sess, b)
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	waitFor(t, 2*time.Second, func() bool {
		snap := sess.Snapshot()
		return len(snap.Steps) == 1 && snap.Steps[0].State == session.StepCompleted
	})

	if got, _ := sess.Files().Get("main.py"); got != "x = 1\n" {
		t.Fatalf("main.py = %q", got)
	}
	if sess.ConnStatus() != session.ConnConnected {
		t.Fatalf("connStatus = %v", sess.ConnStatus())
	}

	// update topic 应至少收到 step_start / transcript / file / step_done
	types := map[string]bool{}
	for len(sub.Ch) > 0 {
		types[(<-sub.Ch).Type] = true
	}
	for _, want := range []string{bus.MsgStepStart, bus.MsgTranscript, bus.MsgFile, bus.MsgStepDone} {
		if !types[want] {
			t.Fatalf("bus missing %q, got %v", want, types)
		}
	}
}

// 畸形事件记录并丢弃, 后续事件正常处理。
func TestMalformedEventDiscarded(t *testing.T) {
	script := []string{
		`{"type":"step_start","step":"plan"}`,
		`this is not json`,
		`{"type":123}`,
		`{"type":"token","step":"plan","token":"ok","is_code":false}`,
	}
	srv, wsURL := fakeBackend(t, func(conn *websocket.Conn, _ int) {
		defer conn.Close()
		for _, line := range script {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
				return
			}
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	sess := testSession()
	c := New(context.Background(), testConfig(wsURL), sess, bus.NewMessageBus())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	waitFor(t, 2*time.Second, func() bool {
		snap := sess.Snapshot()
		return len(snap.Steps) == 1 && snap.Steps[0].Transcript == "ok"
	})
}

// 出站 chat 到达后端, 并计入本地会话记录。
func TestSendChat(t *testing.T) {
	received := make(chan string, 1)
	srv, wsURL := fakeBackend(t, func(conn *websocket.Conn, _ int) {
		defer conn.Close()
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
	})
	defer srv.Close()

	sess := testSession()
	c := New(context.Background(), testConfig(wsURL), sess, bus.NewMessageBus())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	if err := c.SendChat("add dark mode"); err != nil {
		t.Fatalf("SendChat: %v", err)
	}

	select {
	case msg := <-received:
		want := `{"type":"chat","message":"add dark mode"}`
		if msg != want {
			t.Fatalf("backend received %q, want %q", msg, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("backend did not receive chat")
	}

	snap := sess.Snapshot()
	if len(snap.Chat) != 1 || snap.Chat[0].Role != "user" {
		t.Fatalf("chat log = %+v", snap.Chat)
	}
}

// 断线后发送触发按需重连: 第二次连接承接消息。
func TestSendChatReconnectsOnDemand(t *testing.T) {
	received := make(chan string, 1)
	srv, wsURL := fakeBackend(t, func(conn *websocket.Conn, nth int) {
		defer conn.Close()
		if nth == 1 {
			// 首连立即断开, 制造断线
			return
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- string(msg)
		// 保持连接直到客户端关闭
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	sess := testSession()
	c := New(context.Background(), testConfig(wsURL), sess, bus.NewMessageBus())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()

	// 等读循环发现断线
	waitFor(t, 2*time.Second, func() bool { return !c.Connected() })
	if sess.ConnStatus() != session.ConnDisconnected {
		t.Fatalf("connStatus = %v, want disconnected", sess.ConnStatus())
	}

	if err := c.SendChat("retry me"); err != nil {
		t.Fatalf("SendChat after disconnect: %v", err)
	}
	select {
	case msg := <-received:
		if !strings.Contains(msg, "retry me") {
			t.Fatalf("backend received %q", msg)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("reconnected send never arrived")
	}
	if sess.ConnStatus() != session.ConnConnected {
		t.Fatalf("connStatus = %v, want connected after reconnect", sess.ConnStatus())
	}
}

// 后端不可达时重连耗尽, 返回错误且会话保持 disconnected。
func TestSendChatReconnectExhausted(t *testing.T) {
	srv, wsURL := fakeBackend(t, func(conn *websocket.Conn, _ int) {
		conn.Close()
	})

	sess := testSession()
	c := New(context.Background(), testConfig(wsURL), sess, bus.NewMessageBus())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer c.Close()
	waitFor(t, 2*time.Second, func() bool { return !c.Connected() })

	// 后端下线 → 所有重连尝试失败
	srv.Close()

	if err := c.SendChat("into the void"); err == nil {
		t.Fatal("SendChat should fail after reconnect exhausted")
	}
	if sess.ConnStatus() != session.ConnDisconnected {
		t.Fatalf("connStatus = %v, want disconnected", sess.ConnStatus())
	}
}

func TestCloseIdempotent(t *testing.T) {
	srv, wsURL := fakeBackend(t, func(conn *websocket.Conn, _ int) {
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer srv.Close()

	c := New(context.Background(), testConfig(wsURL), testSession(), bus.NewMessageBus())
	if err := c.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := c.SendChat("after close"); err == nil {
		t.Fatal("SendChat after Close should fail")
	}
}
