package realtime

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"kusheet/internal/model"
)

const (
	sseRetry     = 3 * time.Second
	sseMaxLine   = 1 << 20
	sseEventName = "message"
)

// Stream 是一个可关闭的推送流。
type Stream interface {
	Close()
}

// SSEStream 订阅服务端 text/event-stream，断开后按 retry 间隔重连，直到 Close 或服务端返回 403。
type SSEStream struct {
	cancel    context.CancelFunc
	closeOnce sync.Once
	done      chan struct{}
}

// OpenSSE 立即返回，连接在后台建立。onMessage 只会收到通过校验的消息。
func OpenSSE(client *http.Client, streamURL string, onMessage func(model.Message)) *SSEStream {
	if client == nil {
		client = http.DefaultClient
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &SSEStream{cancel: cancel, done: make(chan struct{})}
	go s.run(ctx, client, streamURL, onMessage)
	return s
}

// Close 关闭流，可重复调用。不会等待后台协程退出。
func (s *SSEStream) Close() {
	s.closeOnce.Do(s.cancel)
}

// Done 在后台协程退出后关闭。
func (s *SSEStream) Done() <-chan struct{} {
	return s.done
}

func (s *SSEStream) run(ctx context.Context, client *http.Client, streamURL string, onMessage func(model.Message)) {
	defer close(s.done)
	for {
		err := s.consume(ctx, client, streamURL, onMessage)
		if ctx.Err() != nil {
			return
		}
		if errors.Is(err, ErrForbidden) {
			log.Printf("SSE 订阅被拒绝，停止重连")
			return
		}
		if err != nil {
			log.Printf("SSE 连接中断，%s 后重连: %v", sseRetry, err)
		}
		t := time.NewTimer(sseRetry)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func (s *SSEStream) consume(ctx context.Context, client *http.Client, streamURL string, onMessage func(model.Message)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, streamURL, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusUnauthorized:
		return ErrForbidden
	case resp.StatusCode != http.StatusOK:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	return parseSSE(resp.Body, func(event, data string) {
		if event != sseEventName {
			return
		}
		var msg model.Message
		if err := json.Unmarshal([]byte(data), &msg); err != nil {
			log.Printf("SSE 消息解析失败，丢弃: %v", err)
			return
		}
		if err := msg.Validate(); err != nil {
			log.Printf("SSE 消息不合法，丢弃: %v", err)
			return
		}
		if ctx.Err() != nil {
			return
		}
		onMessage(msg)
	})
}

// parseSSE 按 text/event-stream 规则切分事件：空行分隔，字段名后的一个空格可选，
// 多个 data 行以换行拼接，冒号开头的行是注释。
func parseSSE(r io.Reader, dispatch func(event, data string)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), sseMaxLine)

	var event string
	var data []string
	flush := func() {
		if len(data) > 0 {
			name := event
			if name == "" {
				name = sseEventName
			}
			dispatch(name, strings.Join(data, "\n"))
		}
		event = ""
		data = data[:0]
	}

	for sc.Scan() {
		line := strings.TrimSuffix(sc.Text(), "\r")
		if line == "" {
			flush()
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}
	return io.EOF
}
