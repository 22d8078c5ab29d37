package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"kusheet/internal/model"
)

// ChatAPI 是 ChatView 使用的 REST 能力，REST 拉取、REST 发送、SSE 回退流。
type ChatAPI interface {
	FetchChat(ctx context.Context, groupID string) (model.ChatSnapshot, error)
	PostMessage(ctx context.Context, groupID string, req model.SendRequest) (*model.Message, error)
	OpenStream(groupID string, onMessage func(model.Message)) Stream
}

// APIClient 通过 HTTP 访问聊天接口，请求头携带 Bearer token。
type APIClient struct {
	base string
	http *http.Client // SSE 长连接共用，不设整体超时，单次请求用 ctx 控制

	mu    sync.RWMutex
	token string
}

func NewAPIClient(base, token string, httpClient *http.Client) *APIClient {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &APIClient{base: strings.TrimRight(base, "/"), token: token, http: httpClient}
}

// SetToken 替换后续请求使用的 token。
func (c *APIClient) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *APIClient) currentToken() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

func (c *APIClient) chatURL(groupID, suffix string) string {
	return c.base + "/api/groups/" + url.PathEscape(groupID) + "/chat" + suffix
}

// StreamURL 返回 SSE 地址；EventSource 类客户端无法设置请求头，因此 token 放在查询参数中。
func (c *APIClient) StreamURL(groupID string) string {
	u := c.chatURL(groupID, "/stream")
	if token := c.currentToken(); token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

func (c *APIClient) do(ctx context.Context, method, target string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.currentToken(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusForbidden {
		return ErrForbidden
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb model.ErrorBody
		_ = json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&eb)
		return fmt.Errorf("%s %s: status %d: %s", method, target, resp.StatusCode, eb.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// FetchChat 拉取频道和最近消息，非成员返回 ErrForbidden。不合法的消息被丢弃。
func (c *APIClient) FetchChat(ctx context.Context, groupID string) (model.ChatSnapshot, error) {
	var env model.DataEnvelope[model.ChatSnapshot]
	if err := c.do(ctx, http.MethodGet, c.chatURL(groupID, ""), nil, &env); err != nil {
		return model.ChatSnapshot{}, err
	}
	snap := env.Data
	valid := snap.Messages[:0]
	for _, m := range snap.Messages {
		if err := m.Validate(); err != nil {
			log.Printf("丢弃不合法的历史消息: %v", err)
			continue
		}
		valid = append(valid, m)
	}
	snap.Messages = valid
	return snap, nil
}

// PostMessage 通过 REST 发送一条消息，返回服务端确认的消息。
func (c *APIClient) PostMessage(ctx context.Context, groupID string, req model.SendRequest) (*model.Message, error) {
	var env model.DataEnvelope[model.Message]
	if err := c.do(ctx, http.MethodPost, c.chatURL(groupID, "/messages"), req, &env); err != nil {
		return nil, err
	}
	if err := env.Data.Validate(); err != nil {
		return nil, err
	}
	return &env.Data, nil
}

// History 拉取 afterSeq 之后的消息。
func (c *APIClient) History(ctx context.Context, groupID string, afterSeq uint64, limit int) (model.HistoryPage, error) {
	q := url.Values{}
	q.Set("after_seq", fmt.Sprint(afterSeq))
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	var env model.DataEnvelope[model.HistoryPage]
	err := c.do(ctx, http.MethodGet, c.chatURL(groupID, "/messages")+"?"+q.Encode(), nil, &env)
	return env.Data, err
}

func (c *APIClient) OpenStream(groupID string, onMessage func(model.Message)) Stream {
	return OpenSSE(c.http, c.StreamURL(groupID), onMessage)
}
