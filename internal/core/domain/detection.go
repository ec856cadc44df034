package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// SessionID correlates the phases of one detection run on the remote service. It is opaque.
type SessionID string

func (id SessionID) String() string { return string(id) }

type Phase string

const (
	PhaseStart          Phase = "start"
	PhaseExtractAnalyze Phase = "extract-analyze"
	PhaseSearch         Phase = "search"
	PhaseFinalize       Phase = "finalize"
	PhaseDetectApps     Phase = "detect-apps"
	PhaseHealth         Phase = "health"
)

// Theme is the storefront theme resolved by the start phase. A decoded Theme re-encodes to the
// exact bytes it was decoded from so it can be forwarded to later phases unchanged.
type Theme struct {
	Name    string          `json:"name,omitempty"`
	Version string          `json:"version,omitempty"`
	ID      json.RawMessage `json:"id,omitempty"`

	raw json.RawMessage
}

func (t *Theme) UnmarshalJSON(data []byte) error {
	type plain Theme
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*t = Theme(p)
	t.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (t Theme) MarshalJSON() ([]byte, error) {
	if len(t.raw) > 0 {
		return t.raw, nil
	}
	type plain Theme
	return json.Marshal(plain(t))
}

type StoreInfo struct {
	URL       string `json:"url"`
	IsShopify bool   `json:"isShopify"`
	Theme     *Theme `json:"theme,omitempty"`
	Error     string `json:"error,omitempty"`
}

// CatalogApp is a catalog record. Like Theme it keeps its original encoding, so fields this
// package does not model survive the round trip to the finalize phase. ID is kept raw because
// the catalog may key records by number or by string.
type CatalogApp struct {
	ID          json.RawMessage `json:"id"`
	AppName     string          `json:"appName"`
	AppURL      string          `json:"appUrl,omitempty"`
	ShopifyURL  string          `json:"shopifyUrl,omitempty"`
	ImageURL    string          `json:"imageUrl,omitempty"`
	Rating      float64         `json:"rating,omitempty"`
	ReviewCount int             `json:"reviewCount,omitempty"`
	Categories  []string        `json:"categories,omitempty"`

	raw json.RawMessage
}

func (a *CatalogApp) UnmarshalJSON(data []byte) error {
	type plain CatalogApp
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = CatalogApp(p)
	a.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (a CatalogApp) MarshalJSON() ([]byte, error) {
	if len(a.raw) > 0 {
		return a.raw, nil
	}
	type plain CatalogApp
	return json.Marshal(plain(a))
}

// DetectedApp is one name extracted by the remote AI step. Confidence is the overall detection
// confidence in [0,100]; App is nil when the catalog has no confident match.
//
// A decoded DetectedApp re-encodes to the bytes the service sent, so per-app fields produced by
// one phase reach the next phase as they were. Values built in code encode from their fields.
type DetectedApp struct {
	DetectedAppName string      `json:"detectedAppName"`
	Confidence      float64     `json:"confidence"`
	App             *CatalogApp `json:"app"`

	raw json.RawMessage
}

func (a *DetectedApp) UnmarshalJSON(data []byte) error {
	type plain DetectedApp
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = DetectedApp(p)
	a.raw = append(json.RawMessage(nil), data...)
	return nil
}

func (a DetectedApp) MarshalJSON() ([]byte, error) {
	if len(a.raw) > 0 {
		return a.raw, nil
	}
	type plain DetectedApp
	return json.Marshal(plain(a))
}

func (a DetectedApp) Validate() error {
	if strings.TrimSpace(a.DetectedAppName) == "" {
		return fmt.Errorf("detected app name is empty")
	}
	if a.Confidence < 0 || a.Confidence > 100 {
		return fmt.Errorf("confidence %v for %q is outside [0,100]", a.Confidence, a.DetectedAppName)
	}
	return nil
}

// DisplayName is the catalog name when matched, the raw detected name otherwise.
func (a DetectedApp) DisplayName() string {
	if a.App != nil && strings.TrimSpace(a.App.AppName) != "" {
		return a.App.AppName
	}
	return a.DetectedAppName
}

func ValidateDetectedApps(apps []DetectedApp) error {
	for i, app := range apps {
		if err := app.Validate(); err != nil {
			return fmt.Errorf("detected app #%d: %w", i, err)
		}
	}
	return nil
}

type DetectionResult struct {
	StoreURL       string        `json:"storeUrl"`
	IsShopifyStore bool          `json:"isShopifyStore"`
	DetectedApps   []DetectedApp `json:"detectedApps"`
	Theme          *Theme        `json:"theme,omitempty"`
	ScanDate       time.Time     `json:"scanDate"`
	Error          string        `json:"error,omitempty"`
}

// UnmatchedCount is the number of detected apps without a catalog match.
func (r *DetectionResult) UnmatchedCount() int {
	if r == nil {
		return 0
	}
	n := 0
	for _, app := range r.DetectedApps {
		if app.App == nil {
			n++
		}
	}
	return n
}

type StartResult struct {
	SessionID SessionID `json:"sessionId"`
	StoreInfo StoreInfo `json:"storeInfo"`
}

type ExtractAnalyzeRequest struct {
	SessionID SessionID `json:"sessionId"`
	StoreURL  string    `json:"storeUrl"`
	Theme     *Theme    `json:"theme,omitempty"`
}

type ExtractAnalyzeResult struct {
	DetectedApps []DetectedApp `json:"detectedApps"`
	AppsFound    int           `json:"appsFound"`
}

type SearchRequest struct {
	SessionID    SessionID     `json:"sessionId"`
	DetectedApps []DetectedApp `json:"detectedApps"`
}

type SearchResult struct {
	DetectedApps    []DetectedApp `json:"detectedApps"`
	AppsWithDetails int           `json:"appsWithDetails"`
}

type FinalizeRequest struct {
	SessionID    SessionID     `json:"sessionId"`
	StoreURL     string        `json:"storeUrl"`
	DetectedApps []DetectedApp `json:"detectedApps"`
	Theme        *Theme        `json:"theme,omitempty"`
}

type FinalizeResult struct {
	DetectionResult *DetectionResult `json:"detectionResult"`
	IsComplete      bool             `json:"isComplete"`
}
