package promptpay

import (
	"errors"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
)

func TestDebugPayloadWalksFields(t *testing.T) {
	report := DebugPayload(samplePayload)
	if !report.CRCCheck {
		t.Fatalf("expected crc check to pass")
	}
	if report.Problem != "" {
		t.Fatalf("unexpected problem: %s", report.Problem)
	}
	wantTags := []string{"00", "01", "29", "53", "54", "58", "59", "60", "63"}
	if len(report.Fields) != len(wantTags) {
		t.Fatalf("expected %d fields, got %d: %+v", len(wantTags), len(report.Fields), report.Fields)
	}
	for i, tag := range wantTags {
		if report.Fields[i].Tag != tag {
			t.Fatalf("field %d: tag %s, want %s", i, report.Fields[i].Tag, tag)
		}
	}
	if report.Fields[4].Value != "99.00" || report.Fields[4].Length != 5 {
		t.Fatalf("unexpected amount field: %+v", report.Fields[4])
	}
}

func TestDebugPayloadNeverPanicsOnGarbage(t *testing.T) {
	inputs := []string{"", "00", "0002", "009901ABCD", "00AB01", "0002015499" + "1234", strings.Repeat("9", 60)}
	for _, in := range inputs {
		report := DebugPayload(in)
		if in != "" && len(in) >= 8 && report.Problem == "" && len(report.Fields) == 0 {
			t.Fatalf("expected either fields or a problem for %q", in)
		}
	}
	report := DebugPayload("000201" + "5499" + "12" + "ABCD")
	if report.Problem == "" {
		t.Fatalf("overrun should be reported")
	}
	if len(report.Fields) != 1 || report.Fields[0].Tag != "00" {
		t.Fatalf("fields before the overrun should be kept: %+v", report.Fields)
	}
}

func TestDecodeRejectsTamperedPayload(t *testing.T) {
	tampered := strings.Replace(samplePayload, "99.00", "10.00", 1)
	if _, err := Decode(tampered); !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestDecodeFields(t *testing.T) {
	p, err := Decode(samplePayload)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Currency != CurrencyTHB || p.Country != CountryTH || p.MerchantName != DefaultMerchantName || p.City != DefaultCity {
		t.Fatalf("unexpected decoded payload: %+v", p)
	}
	if p.CRC != "6DC9" {
		t.Fatalf("unexpected crc %s", p.CRC)
	}
}

func TestQRImageURL(t *testing.T) {
	raw := QRImageURL(samplePayload, 0)
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	if !strings.HasPrefix(raw, DefaultQRServiceURL+"?") {
		t.Fatalf("unexpected base: %s", raw)
	}
	q := u.Query()
	if q.Get("data") != samplePayload {
		t.Fatalf("payload not round-tripped through query: %q", q.Get("data"))
	}
	if q.Get("size") != "300x300" || q.Get("format") != "png" || q.Get("ecc") != "M" || q.Get("margin") == "" {
		t.Fatalf("unexpected query: %v", q)
	}
	if strings.Contains(u.RawQuery, " ") {
		t.Fatalf("payload must be percent-encoded: %s", u.RawQuery)
	}
}

func TestPromptPayQRPropagatesBuilderError(t *testing.T) {
	raw, err := PromptPayQR("123456", decimal.NewFromInt(100), 200)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
	if raw != "" {
		t.Fatalf("no url expected on error")
	}

	raw, err = PromptPayQR("0812345678", decimal.NewFromInt(99), 200)
	if err != nil {
		t.Fatalf("PromptPayQR: %v", err)
	}
	if !strings.Contains(raw, "size=200x200") {
		t.Fatalf("size not applied: %s", raw)
	}
}

func TestRenderPNGRejectsOversize(t *testing.T) {
	if _, err := RenderPNG(samplePayload, MaxQRSize+1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for oversized QR, got %v", err)
	}
	if _, err := RenderPNG(samplePayload, MaxQRSize); err != nil {
		t.Fatalf("RenderPNG at max size: %v", err)
	}
}

func TestRenderPNG(t *testing.T) {
	png, err := RenderPNG(samplePayload, 128)
	if err != nil {
		t.Fatalf("RenderPNG: %v", err)
	}
	if len(png) < 8 || string(png[1:4]) != "PNG" {
		t.Fatalf("output is not a PNG")
	}
}
