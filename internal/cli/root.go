package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"kusheet/internal/config"
)

// NewRootCmd 构建完整的命令树，每次调用返回新的实例，便于测试。
func NewRootCmd(version string) *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "kusheet",
		Short:         "KU Sheet 工具：PromptPay 付款码与小组聊天客户端",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "配置文件路径（可选，支持 yaml/json/toml）")

	loadConfig := func() (*config.Config, error) {
		return config.Load(configPath)
	}

	root.AddCommand(newPromptPayCmd())
	root.AddCommand(newChatCmd(loadConfig))
	return root
}

// Execute 运行根命令，错误输出到 stderr。
func Execute(version string) error {
	if err := NewRootCmd(version).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}
