// cmd/session-viewer — 会话查看器主入口。
//
// 用法:
//
//	session-viewer -prompt "build a todo app"     发起新项目并跟踪生成
//	session-viewer -project p123                  附着到既有项目
//	session-viewer -project p123 -chat "..."      生成完成后发送追加消息
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"

	"github.com/gen-studio/go-session-v2/internal/backend"
	"github.com/gen-studio/go-session-v2/internal/bus"
	"github.com/gen-studio/go-session-v2/internal/channel"
	"github.com/gen-studio/go-session-v2/internal/config"
	"github.com/gen-studio/go-session-v2/internal/diff"
	"github.com/gen-studio/go-session-v2/internal/filestore"
	"github.com/gen-studio/go-session-v2/internal/session"
	"github.com/gen-studio/go-session-v2/pkg/logger"
	"github.com/gen-studio/go-session-v2/pkg/util"
)

func main() {
	prompt := flag.String("prompt", "", "发起新项目的生成提示词")
	project := flag.String("project", "", "附着到既有项目 ID")
	chat := flag.String("chat", "", "生成完成后发送的追加消息")
	logDir := flag.String("log-dir", "", "日志文件目录 (默认仅输出到终端)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg := config.Load()
	logger.Init(cfg.LogEnv)
	if *logDir != "" {
		if err := logger.InitWithFile(*logDir); err != nil {
			logger.Fatal("log file init failed", logger.FieldError, err)
		}
		defer logger.ShutdownFileHandler()
	}

	client := backend.NewClient(cfg)

	projectID := util.FirstNonEmpty(*project)
	if projectID == "" {
		if strings.TrimSpace(*prompt) == "" {
			fmt.Fprintln(os.Stderr, "usage: session-viewer -prompt <text> | -project <id> [-chat <text>]")
			os.Exit(2)
		}
		resp, err := client.CreateProject(ctx, backend.CreateProjectRequest{
			Prompt:      *prompt,
			Model:       cfg.LLMModel,
			Temperature: cfg.LLMTemperature,
		})
		if err != nil {
			logger.Fatal("create project failed", logger.FieldError, err)
		}
		projectID = resp.ProjectID
		fmt.Printf("project created: %s\n", projectID)
	}

	sess := session.New(projectID, session.Options{
		DiffOptions: diff.Options{
			Window:    cfg.DiffLookaheadWindow,
			CapFactor: cfg.DiffOutputCapFactor,
		},
		FileHistoryMax: cfg.FileHistoryMax,
	})

	b := bus.NewMessageBus()
	subID := "viewer-" + uuid.NewString()
	sub := b.Subscribe(subID, bus.TopicSessionPrefix+projectID)
	defer b.Unsubscribe(subID)

	ctrl := channel.New(ctx, cfg, sess, b)
	if err := ctrl.Connect(); err != nil {
		logger.Fatal("channel connect failed", logger.FieldError, err)
	}
	defer ctrl.Close()

	util.SafeGo(func() {
		render(ctx, sub, sess, ctrl, *chat)
	})

	<-ctx.Done()
	printSummary(sess)
	logger.Info("shutting down", logger.FieldProject, projectID)
}

// render 消费总线消息并打印到终端; 生成完成后按需发送追加消息。
func render(ctx context.Context, sub *bus.Subscriber, sess *session.Session, ctrl *channel.Controller, chat string) {
	chatSent := false
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-sub.Ch:
			if !ok {
				return
			}
			printMessage(msg)

			if msg.Type == bus.MsgComplete && chat != "" && !chatSent {
				chatSent = true
				if err := ctrl.SendChat(chat); err != nil {
					logger.Error("follow-up chat failed", logger.FieldError, err)
				}
			}
		}
	}
}

// payloadView 与 channel 发布的载荷字段对应。
type payloadView struct {
	Step         string `json:"step"`
	File         string `json:"file"`
	Text         string `json:"text"`
	GenStatus    string `json:"gen_status"`
	Diff         string `json:"diff"`
	DiffFallback bool   `json:"diff_fallback"`
}

func printMessage(msg bus.Message) {
	var p payloadView
	if len(msg.Payload) > 0 {
		_ = json.Unmarshal(msg.Payload, &p)
	}

	switch msg.Type {
	case bus.MsgStepStart:
		fmt.Printf("\n── step %s\n", p.Step)
	case bus.MsgStepDone:
		fmt.Printf("\n── step %s done\n", p.Step)
	case bus.MsgTranscript:
		fmt.Print(p.Text)
	case bus.MsgFile:
		fmt.Printf("\n## %s\n", p.File)
		switch {
		case p.Diff != "":
			fmt.Print(p.Diff)
		case p.DiffFallback || p.Text != "":
			fmt.Print(p.Text)
		}
	case bus.MsgChat:
		fmt.Printf("\n> %s\n", p.Text)
	case bus.MsgAlert:
		fmt.Printf("\n!! %s\n", p.Text)
	case bus.MsgGenStatus, bus.MsgConnStatus:
		fmt.Printf("\n[%s] %s %s\n", msg.Type, p.GenStatus, p.Text)
	case bus.MsgComplete:
		fmt.Printf("\n== generation complete ==\n")
	}
}

// printSummary 退出前打印文件树与会话统计。
func printSummary(sess *session.Session) {
	snap := sess.Snapshot()
	fmt.Printf("\nsession %s  gen=%s  steps=%d  files=%d  tokens~%d\n",
		snap.ProjectID, snap.GenStatus, len(snap.Steps), len(snap.Files), snap.TotalTokens)
	printTree(sess.FileTree(), "")
}

func printTree(nodes []*filestore.Node, indent string) {
	for _, n := range nodes {
		if n.IsDir {
			fmt.Printf("%s%s/\n", indent, n.Name)
			printTree(n.Children, indent+"  ")
		} else {
			fmt.Printf("%s%s\n", indent, n.Name)
		}
	}
}
