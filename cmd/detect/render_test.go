package main

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

func klaviyoResult(t *testing.T) *domain.DetectionResult {
	t.Helper()
	var result domain.DetectionResult
	raw := `{"storeUrl":"https://example.myshopify.com","isShopifyStore":true,"theme":{"name":"Dawn","version":"15.0.0","id":887},` +
		`"scanDate":"2026-10-19T12:00:00Z","detectedApps":[` +
		`{"detectedAppName":"Klaviyo","confidence":87,"app":{"id":"k1","appName":"Klaviyo","rating":4.6,"reviewCount":2400,"pricing":"free plan"}},` +
		`{"detectedAppName":"Mystery Upsell","confidence":41,"app":null}]}`
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		t.Fatalf("unmarshal fixture: %v", err)
	}
	return &result
}

func TestResolveFormat(t *testing.T) {
	cases := []struct {
		flag     string
		terminal bool
		want     outputFormat
	}{
		{flag: "", terminal: true, want: formatText},
		{flag: "", terminal: false, want: formatJSON},
		{flag: "YAML", terminal: true, want: formatYAML},
		{flag: "json", terminal: true, want: formatJSON},
	}
	for _, tc := range cases {
		got, err := resolveFormat(tc.flag, tc.terminal)
		if err != nil || got != tc.want {
			t.Fatalf("resolveFormat(%q, %v) = %q, %v; want %q", tc.flag, tc.terminal, got, err, tc.want)
		}
	}
	if _, err := resolveFormat("xml", true); err == nil {
		t.Fatalf("expected error for unknown format")
	}
}

func TestRenderTextMarksUnlistedApps(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, formatText, klaviyoResult(t)); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"https://example.myshopify.com", "Dawn 15.0.0", "Klaviyo (rating 4.6, 2400 reviews)", "unlisted", "87%", "1 of 2 apps"} {
		if !strings.Contains(out, want) {
			t.Fatalf("text output missing %q:\n%s", want, out)
		}
	}
}

func TestRenderJSONKeepsCatalogFields(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, formatJSON, klaviyoResult(t)); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if !strings.Contains(buf.String(), `"pricing": "free plan"`) || !strings.Contains(buf.String(), `"app": null`) {
		t.Fatalf("json output lost fields:\n%s", buf.String())
	}
}

func TestRenderYAMLUsesWireNames(t *testing.T) {
	var buf bytes.Buffer
	if err := render(&buf, formatYAML, klaviyoResult(t)); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"storeUrl: https://example.myshopify.com", "detectedAppName: Mystery Upsell", "app: null", "pricing: free plan"} {
		if !strings.Contains(out, want) {
			t.Fatalf("yaml output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "{") {
		t.Fatalf("expected block style yaml:\n%s", out)
	}
}

func TestRenderTextWithoutApps(t *testing.T) {
	var buf bytes.Buffer
	result := &domain.DetectionResult{StoreURL: "https://empty.myshopify.com", IsShopifyStore: true, ScanDate: time.Now()}
	if err := render(&buf, formatText, result); err != nil {
		t.Fatalf("render() error = %v", err)
	}
	if !strings.Contains(buf.String(), "No apps detected.") {
		t.Fatalf("unexpected output:\n%s", buf.String())
	}
}
