package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/kirillkom/store-app-detector/internal/core/domain"
)

type outputFormat string

const (
	formatText outputFormat = "text"
	formatJSON outputFormat = "json"
	formatYAML outputFormat = "yaml"
)

func resolveFormat(flag string, stdoutIsTerminal bool) (outputFormat, error) {
	switch strings.ToLower(strings.TrimSpace(flag)) {
	case "":
		if stdoutIsTerminal {
			return formatText, nil
		}
		return formatJSON, nil
	case "text":
		return formatText, nil
	case "json":
		return formatJSON, nil
	case "yaml", "yml":
		return formatYAML, nil
	default:
		return "", fmt.Errorf("unknown output format %q (want text, json or yaml)", flag)
	}
}

func render(w io.Writer, format outputFormat, result *domain.DetectionResult) error {
	switch format {
	case formatJSON:
		payload, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return fmt.Errorf("encode json: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", payload)
		return err
	case formatYAML:
		return renderYAML(w, result)
	default:
		return renderText(w, result)
	}
}

// renderYAML goes through the JSON encoding so theme and catalog fields keep the service's
// names and any fields this binary does not model.
func renderYAML(w io.Writer, result *domain.DetectionResult) error {
	payload, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(payload, &doc); err != nil {
		return fmt.Errorf("decode result as yaml: %w", err)
	}
	blockStyle(&doc)

	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return fmt.Errorf("encode yaml: %w", err)
	}
	return enc.Close()
}

func blockStyle(node *yaml.Node) {
	node.Style = 0
	for _, child := range node.Content {
		blockStyle(child)
	}
}

func renderText(w io.Writer, result *domain.DetectionResult) error {
	r := lipgloss.NewRenderer(w)
	label := r.NewStyle().Bold(true)
	muted := r.NewStyle().Faint(true)
	header := r.NewStyle().Bold(true).Underline(true)

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", label.Render("Store:"), result.StoreURL)
	fmt.Fprintf(&b, "%s %s\n", label.Render("Shopify:"), yesNo(result.IsShopifyStore))
	if result.Theme != nil && result.Theme.Name != "" {
		theme := result.Theme.Name
		if result.Theme.Version != "" {
			theme += " " + result.Theme.Version
		}
		fmt.Fprintf(&b, "%s %s\n", label.Render("Theme:"), theme)
	}
	if !result.ScanDate.IsZero() {
		fmt.Fprintf(&b, "%s %s\n", label.Render("Scanned:"), result.ScanDate.Format("2006-01-02 15:04:05 MST"))
	}
	b.WriteString("\n")

	if len(result.DetectedApps) == 0 {
		b.WriteString(muted.Render("No apps detected."))
		b.WriteString("\n")
		_, err := io.WriteString(w, b.String())
		return err
	}

	nameWidth := len("APP")
	for _, app := range result.DetectedApps {
		nameWidth = max(nameWidth, lipgloss.Width(app.DetectedAppName))
	}
	nameCol := r.NewStyle().Width(nameWidth + 2)
	confCol := r.NewStyle().Width(len("CONFIDENCE") + 2)

	b.WriteString(nameCol.Render(header.Render("APP")))
	b.WriteString(confCol.Render(header.Render("CONFIDENCE")))
	b.WriteString(header.Render("CATALOG MATCH"))
	b.WriteString("\n")
	for _, app := range result.DetectedApps {
		b.WriteString(nameCol.Render(app.DetectedAppName))
		b.WriteString(confCol.Render(strconv.FormatFloat(app.Confidence, 'f', -1, 64) + "%"))
		b.WriteString(catalogMatch(app, muted))
		b.WriteString("\n")
	}
	if unmatched := result.UnmatchedCount(); unmatched > 0 {
		fmt.Fprintf(&b, "\n%s\n", muted.Render(fmt.Sprintf("%d of %d apps are not listed in the app catalog.", unmatched, len(result.DetectedApps))))
	}

	_, err := io.WriteString(w, b.String())
	return err
}

func catalogMatch(app domain.DetectedApp, muted lipgloss.Style) string {
	if app.App == nil {
		return muted.Render("unlisted")
	}
	match := app.App.AppName
	if app.App.Rating > 0 {
		match += fmt.Sprintf(" (rating %.1f", app.App.Rating)
		if app.App.ReviewCount > 0 {
			match += fmt.Sprintf(", %d reviews", app.App.ReviewCount)
		}
		match += ")"
	}
	return match
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}
