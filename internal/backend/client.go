// Package backend 封装生成后端的 HTTP 协作面:
// 创建项目、读取项目元信息与单个文件。流式事件走 internal/channel。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gen-studio/go-session-v2/internal/config"
	apperrors "github.com/gen-studio/go-session-v2/pkg/errors"
	"github.com/gen-studio/go-session-v2/pkg/logger"
	"github.com/gen-studio/go-session-v2/pkg/util"
)

// Client 生成后端 HTTP 客户端。
type Client struct {
	baseURL string
	wsURL   string
	http    *http.Client
}

// NewClient 创建客户端。超时由配置统一控制。
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL: strings.TrimRight(cfg.BackendBaseURL, "/"),
		wsURL:   strings.TrimRight(cfg.BackendWSURL, "/"),
		http: &http.Client{
			Timeout: time.Duration(cfg.HTTPTimeoutSec) * time.Second,
		},
	}
}

// WSURL 返回项目事件通道的 WebSocket 地址。
func (c *Client) WSURL(projectID string) string {
	return c.wsURL + "/" + projectID
}

// ========================================
// 请求/响应类型
// ========================================

// CreateProjectRequest 发起一次生成。
type CreateProjectRequest struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature,omitempty"`
}

// CreateProjectResponse 生成已受理, 后续进度走事件通道。
type CreateProjectResponse struct {
	ProjectID string `json:"project_id"`
}

// Project 项目元信息 (后端返回的原样字段)。
type Project struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Status    string `json:"status,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// ========================================
// API 方法
// ========================================

// CreateProject 创建项目并发起生成。
func (c *Client) CreateProject(ctx context.Context, req CreateProjectRequest) (*CreateProjectResponse, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, apperrors.Wrap(apperrors.ErrInvalidInput, "Client.CreateProject", "empty prompt")
	}

	var resp CreateProjectResponse
	if err := c.postJSON(ctx, "/api/project/generate", req, &resp); err != nil {
		return nil, err
	}
	if resp.ProjectID == "" {
		return nil, apperrors.New("Client.CreateProject", "backend returned empty project_id")
	}
	logger.Info("backend: project created",
		logger.FieldProject, resp.ProjectID,
	)
	return &resp, nil
}

// GetProject 读取项目元信息。
func (c *Client) GetProject(ctx context.Context, projectID string) (*Project, error) {
	var p Project
	if err := c.getJSON(ctx, "/api/project/"+url.PathEscape(projectID), &p); err != nil {
		return nil, err
	}
	if p.ID == "" {
		p.ID = projectID
	}
	return &p, nil
}

// GetFile 读取项目内单个文件的当前内容。
func (c *Client) GetFile(ctx context.Context, projectID, path string) (string, error) {
	endpoint := "/api/project/" + url.PathEscape(projectID) + "/file?path=" + url.QueryEscape(path)

	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", apperrors.Wrap(err, "Client.GetFile", "request")
	}
	switch {
	case status == http.StatusNotFound:
		return "", apperrors.Wrapf(apperrors.ErrNotFound, "Client.GetFile", "file %s", path)
	case status != http.StatusOK:
		return "", apperrors.Newf("Client.GetFile", "unexpected status %d", status)
	}
	return string(body), nil
}

// ========================================
// HTTP 基础设施
// ========================================

func (c *Client) do(ctx context.Context, method, endpoint string, payload []byte) (body []byte, status int, err error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, 0, err
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, err = io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, err
	}
	return body, resp.StatusCode, nil
}

func (c *Client) postJSON(ctx context.Context, endpoint string, in, out any) error {
	op := fmt.Sprintf("Client.POST %s", endpoint)
	payload, err := json.Marshal(in)
	if err != nil {
		return apperrors.Wrap(err, op, "marshal request")
	}
	body, status, err := c.do(ctx, http.MethodPost, endpoint, payload)
	if err != nil {
		return apperrors.Wrap(err, op, "request")
	}
	if status < 200 || status >= 300 {
		return apperrors.Newf(op, "unexpected status %d: %s", status, util.TruncateString(string(body), 200))
	}
	if out != nil {
		if err := json.Unmarshal(body, out); err != nil {
			return apperrors.Wrap(err, op, "decode response")
		}
	}
	return nil
}

func (c *Client) getJSON(ctx context.Context, endpoint string, out any) error {
	op := fmt.Sprintf("Client.GET %s", endpoint)
	body, status, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return apperrors.Wrap(err, op, "request")
	}
	switch {
	case status == http.StatusNotFound:
		return apperrors.Wrap(apperrors.ErrNotFound, op, "not found")
	case status < 200 || status >= 300:
		return apperrors.Newf(op, "unexpected status %d: %s", status, util.TruncateString(string(body), 200))
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.Wrap(err, op, "decode response")
	}
	return nil
}
