package handler

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"kusheet/internal/model"
	"kusheet/internal/promptpay"
)

// PromptPayHandler 生成/校验 PromptPay 付款码。
type PromptPayHandler struct {
	qrServiceURL string
}

func NewPromptPayHandler(qrServiceURL string) *PromptPayHandler {
	if qrServiceURL == "" {
		qrServiceURL = promptpay.DefaultQRServiceURL
	}
	return &PromptPayHandler{qrServiceURL: qrServiceURL}
}

func (h *PromptPayHandler) Register(group *gin.RouterGroup) {
	group.GET("/promptpay/payload", h.Payload)
	group.GET("/promptpay/qr.png", h.QRImage)
	group.POST("/promptpay/validate", h.Validate)
}

// PayloadResponse 是 /promptpay/payload 的返回。
type PayloadResponse struct {
	Payload string `json:"payload"`
	QRURL   string `json:"qrUrl"`
	Valid   bool   `json:"valid"`
}

// ValidateRequest 是 /promptpay/validate 的请求体。
type ValidateRequest struct {
	Payload string `json:"payload" binding:"required"`
}

// ValidateResponse 是 valid 加上展开的诊断字段（fields、crc、crcCheck、problem），仅供展示。
type ValidateResponse struct {
	Valid bool `json:"valid"`
	promptpay.DebugReport
}

func parsePayloadQuery(c *gin.Context) (string, int, error) {
	amount := decimal.Zero
	if raw := c.Query("amount"); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return "", 0, promptpay.ErrInvalidInput
		}
		amount = parsed
	}
	size := 0
	if raw := c.Query("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 || parsed > promptpay.MaxQRSize {
			return "", 0, fmt.Errorf("%w: size must be 0..%d", promptpay.ErrInvalidInput, promptpay.MaxQRSize)
		}
		size = parsed
	}
	payload, err := promptpay.BuildPayload(promptpay.PayloadInput{
		MobileNumber: c.Query("mobile"),
		Amount:       amount,
		MerchantName: c.Query("merchant"),
		City:         c.Query("city"),
	})
	return payload, size, err
}

func writePromptPayError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, promptpay.ErrInvalidInput) || errors.Is(err, promptpay.ErrInvalidFormat) {
		status = http.StatusBadRequest
	}
	c.JSON(status, model.ErrorBody{Error: "cannot generate QR: " + err.Error()})
}

// Payload GET /promptpay/payload?mobile=&amount=&size=
func (h *PromptPayHandler) Payload(c *gin.Context) {
	payload, size, err := parsePayloadQuery(c)
	if err != nil {
		writePromptPayError(c, err)
		return
	}
	c.JSON(http.StatusOK, PayloadResponse{
		Payload: payload,
		QRURL:   promptpay.QRImageURLFrom(h.qrServiceURL, payload, size),
		Valid:   promptpay.ValidatePayload(payload),
	})
}

// QRImage GET /promptpay/qr.png?mobile=&amount=&size= 本地渲染 PNG。
func (h *PromptPayHandler) QRImage(c *gin.Context) {
	payload, size, err := parsePayloadQuery(c)
	if err != nil {
		writePromptPayError(c, err)
		return
	}
	png, err := promptpay.RenderPNG(payload, size)
	if err != nil {
		writePromptPayError(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, "image/png", png)
}

// Validate POST /promptpay/validate
func (h *PromptPayHandler) Validate(c *gin.Context) {
	var req ValidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorBody{Error: "payload required"})
		return
	}
	c.JSON(http.StatusOK, ValidateResponse{
		Valid:       promptpay.ValidatePayload(req.Payload),
		DebugReport: promptpay.DebugPayload(req.Payload),
	})
}
