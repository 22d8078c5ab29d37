package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"kusheet/internal/config"
	"kusheet/internal/model"
	"kusheet/internal/realtime"
)

func newChatCmd(loadConfig func() (*config.Config, error)) *cobra.Command {
	var groupID, token, apiBase, socketURL string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "进入小组聊天，逐行输入消息，/quit 退出",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cc := cfg.Client
			if token != "" {
				cc.Token = token
			}
			if apiBase != "" {
				cc.APIBase = apiBase
			}
			if socketURL != "" {
				cc.SocketURL = socketURL
			}
			if cc.Token == "" {
				return errors.New("token required (--token or KUSHEET_CLIENT_TOKEN)")
			}
			return runChat(cmd.Context(), cc, groupID, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVarP(&groupID, "group", "g", "", "小组 ID")
	cmd.Flags().StringVar(&token, "token", "", "登录 token，覆盖配置")
	cmd.Flags().StringVar(&apiBase, "api", "", "REST 地址，覆盖配置")
	cmd.Flags().StringVar(&socketURL, "socket", "", "WebSocket 地址，覆盖配置")
	_ = cmd.MarkFlagRequired("group")
	return cmd
}

// printer 只打印尚未输出过的消息。
type printer struct {
	mu   sync.Mutex
	out  io.Writer
	seen map[string]struct{}
}

func (p *printer) print(items []model.Message) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, m := range items {
		if _, ok := p.seen[m.ID]; ok {
			continue
		}
		p.seen[m.ID] = struct{}{}
		name := m.User.FullName
		if name == "" {
			name = m.User.ID
		}
		fmt.Fprintf(p.out, "[%s] %s: %s\n", m.CreatedAt.Local().Format("15:04"), name, m.Content)
	}
}

func runChat(ctx context.Context, cc config.ClientConfig, groupID string, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	p := &printer{out: out, seen: make(map[string]struct{})}

	sock := realtime.GetConnection(realtime.SocketOptions{URL: cc.SocketURL, Token: cc.Token})
	defer realtime.TeardownConnection()

	api := realtime.NewAPIClient(cc.APIBase, cc.Token, nil)
	view := realtime.NewChatView(groupID, sock, api, realtime.ViewOptions{
		AckTimeout:  cc.AckTimeout,
		RESTTimeout: cc.RESTTimeout,
		OnChange:    p.print,
	})
	if err := view.Mount(ctx); err != nil {
		return err
	}
	defer view.Unmount()

	if view.Restricted() {
		fmt.Fprintln(out, "你不是该小组成员，聊天不可用")
		return realtime.ErrForbidden
	}

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		switch line {
		case "":
			continue
		case "/quit":
			return nil
		}
		if _, err := view.Send(ctx, line); err != nil {
			fmt.Fprintf(out, "发送失败: %v\n", err)
			if errors.Is(err, realtime.ErrForbidden) || view.Restricted() {
				return realtime.ErrForbidden
			}
		}
	}
	return sc.Err()
}
