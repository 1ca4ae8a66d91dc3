package output

import (
	"fmt"
	"strings"

	"github.com/pulsegate/pulsegate/internal/core"
)

// Format represents an output format.
type Format string

const (
	FormatTable    Format = "table"
	FormatJSON     Format = "json"
	FormatMarkdown Format = "markdown"
	FormatYAML     Format = "yaml"
)

// Formatter renders domain results.
type Formatter interface {
	FormatInsights(snapshot *core.InsightsSnapshot) (string, error)
	FormatRepositories(repos []core.Repository) (string, error)
	FormatBoards(boards []core.Board) (string, error)
	FormatLists(lists []core.List) (string, error)
	FormatCards(cards []core.Card) (string, error)
	FormatBoardAggregate(aggregate *core.BoardAggregate) (string, error)
	FormatQuota(observations []core.QuotaObservation) (string, error)
	FormatSnapshots(snapshots []core.SnapshotInfo) (string, error)
}

// ParseFormat validates and normalizes a format string.
func ParseFormat(value string) (Format, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case "", string(FormatTable):
		return FormatTable, nil
	case string(FormatJSON):
		return FormatJSON, nil
	case string(FormatMarkdown), "md":
		return FormatMarkdown, nil
	case string(FormatYAML), "yml":
		return FormatYAML, nil
	default:
		return "", fmt.Errorf("unsupported output format: %s", value)
	}
}

// NewFormatter returns a formatter for the requested format.
func NewFormatter(format Format) Formatter {
	switch format {
	case FormatJSON:
		return &JSONFormatter{Indent: true}
	case FormatMarkdown:
		return &MarkdownFormatter{}
	case FormatYAML:
		return &YAMLFormatter{}
	default:
		return &TableFormatter{}
	}
}
