package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"kusheet/internal/promptpay"
)

// ErrInvalidPayload validate 子命令校验失败时返回，进程以非零状态退出。
var ErrInvalidPayload = errors.New("payload is not valid")

type payloadFlags struct {
	mobile   string
	amount   string
	merchant string
	city     string
}

func (f *payloadFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.mobile, "mobile", "m", "", "收款手机号，例如 0812345678")
	cmd.Flags().StringVarP(&f.amount, "amount", "a", "", "金额（泰铢），例如 99 或 150.50")
	cmd.Flags().StringVar(&f.merchant, "merchant", "", "商户名（最多 25 个字符，缺省 KU SHEET）")
	cmd.Flags().StringVar(&f.city, "city", "", "城市（最多 15 个字符，缺省 BANGKOK）")
	_ = cmd.MarkFlagRequired("mobile")
	_ = cmd.MarkFlagRequired("amount")
}

func (f *payloadFlags) build() (string, error) {
	amount, err := decimal.NewFromString(f.amount)
	if err != nil {
		return "", fmt.Errorf("%w: amount %q", promptpay.ErrInvalidInput, f.amount)
	}
	return promptpay.BuildPayload(promptpay.PayloadInput{
		MobileNumber: f.mobile,
		Amount:       amount,
		MerchantName: f.merchant,
		City:         f.city,
	})
}

func newPromptPayCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "promptpay",
		Short: "生成、校验与解析 PromptPay 动态付款码",
	}
	cmd.AddCommand(newPromptPayBuildCmd(), newPromptPayValidateCmd(), newPromptPayDebugCmd(), newPromptPayQRCmd())
	return cmd
}

func newPromptPayBuildCmd() *cobra.Command {
	var f payloadFlags
	var withURL bool
	var size int
	cmd := &cobra.Command{
		Use:   "build",
		Short: "生成 EMVCo payload",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := f.build()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, payload)
			if withURL {
				fmt.Fprintln(out, promptpay.QRImageURL(payload, size))
			}
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().BoolVar(&withURL, "url", false, "同时输出二维码图片地址")
	cmd.Flags().IntVar(&size, "size", promptpay.DefaultQRSize, "二维码边长（像素）")
	return cmd
}

func newPromptPayValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <payload>",
		Short: "校验 payload 的格式与 CRC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !promptpay.ValidatePayload(args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), "invalid")
				return ErrInvalidPayload
			}
			fmt.Fprintln(cmd.OutOrStdout(), "valid")
			return nil
		},
	}
}

func newPromptPayDebugCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "debug <payload>",
		Short: "逐字段列出 payload 并检查 CRC",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(promptpay.DebugPayload(args[0]))
		},
	}
}

func newPromptPayQRCmd() *cobra.Command {
	var f payloadFlags
	var out string
	var size int
	cmd := &cobra.Command{
		Use:   "qr",
		Short: "生成付款码 PNG（--out）或外部渲染地址",
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := f.build()
			if err != nil {
				return err
			}
			if out == "" {
				fmt.Fprintln(cmd.OutOrStdout(), promptpay.QRImageURL(payload, size))
				return nil
			}
			png, err := promptpay.RenderPNG(payload, size)
			if err != nil {
				return err
			}
			if err := os.WriteFile(out, png, 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "已写入 %s (%d bytes)\n", out, len(png))
			return nil
		},
	}
	f.register(cmd)
	cmd.Flags().StringVarP(&out, "out", "o", "", "PNG 输出路径；为空时只打印图片地址")
	cmd.Flags().IntVar(&size, "size", promptpay.DefaultQRSize, "二维码边长（像素）")
	return cmd
}
