// Package cli provides output helpers for the Kotae command line.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/chatstack/kotae/internal/models"
	"github.com/chatstack/kotae/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseFormat maps a flag value to an OutputFormat.
func ParseFormat(s string) (OutputFormat, error) {
	switch s {
	case "", "text":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteChatResponse writes a chat reply to w in the given format.
func WriteChatResponse(w io.Writer, resp *models.ChatResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}
	fmt.Fprintf(w, "%s\n", resp.Reply)
	if resp.FlowStep != "" {
		fmt.Fprintf(w, "  [%s / %s, step %s]\n", resp.Type, resp.Session, resp.FlowStep)
	} else {
		fmt.Fprintf(w, "  [%s]\n", resp.Type)
	}
	return nil
}

// WriteResolution writes an intent resolution to w in the given format.
func WriteResolution(w io.Writer, result *models.ResolutionResult, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	fmt.Fprintf(w, "intent:     %s\n", result.Intent)
	fmt.Fprintf(w, "confidence: %.2f\n", result.Confidence)
	fmt.Fprintf(w, "source:     %s\n", result.Source)
	if result.FlowID != "" {
		fmt.Fprintf(w, "flow:       %s\n", result.FlowID)
	}
	return nil
}

// WriteHistory writes a session transcript to w in the given format.
func WriteHistory(w io.Writer, history *models.SessionHistoryResponse, format OutputFormat) error {
	if format == OutputJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(history)
	}
	fmt.Fprintf(w, "session %s (%d messages)\n", history.SessionID, history.Count)
	for _, msg := range history.Messages {
		fmt.Fprintf(w, "  %-9s %s\n", msg.Role+":", utils.Truncate(msg.Content, 120))
	}
	return nil
}
