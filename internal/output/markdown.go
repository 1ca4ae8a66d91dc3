package output

import (
	"fmt"
	"strings"

	"github.com/pulsegate/pulsegate/internal/core"
)

// MarkdownFormatter renders results as markdown tables.
type MarkdownFormatter struct{}

func (f *MarkdownFormatter) FormatInsights(snapshot *core.InsightsSnapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	return renderMarkdown(insightsSection(snapshot)), nil
}

func (f *MarkdownFormatter) FormatRepositories(repos []core.Repository) (string, error) {
	return renderMarkdown(repositoriesSection(repos)), nil
}

func (f *MarkdownFormatter) FormatBoards(boards []core.Board) (string, error) {
	return renderMarkdown(boardsSection(boards)), nil
}

func (f *MarkdownFormatter) FormatLists(lists []core.List) (string, error) {
	return renderMarkdown(listsSection(lists)), nil
}

func (f *MarkdownFormatter) FormatCards(cards []core.Card) (string, error) {
	return renderMarkdown(cardsSection(cards)), nil
}

func (f *MarkdownFormatter) FormatBoardAggregate(aggregate *core.BoardAggregate) (string, error) {
	if aggregate == nil {
		return "", nil
	}
	return renderMarkdown(aggregateSection(aggregate)), nil
}

func (f *MarkdownFormatter) FormatQuota(observations []core.QuotaObservation) (string, error) {
	return renderMarkdown(quotaSection(observations)), nil
}

func (f *MarkdownFormatter) FormatSnapshots(snapshots []core.SnapshotInfo) (string, error) {
	return renderMarkdown(snapshotsSection(snapshots)), nil
}

func renderMarkdown(s section) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("## %s\n\n", escapeMarkdownCell(s.title)))

	sb.WriteString("|")
	for _, header := range s.headers {
		sb.WriteString(fmt.Sprintf(" %s |", escapeMarkdownCell(header)))
	}
	sb.WriteString("\n|")
	for range s.headers {
		sb.WriteString("------|")
	}
	sb.WriteString("\n")

	for _, row := range s.rows {
		sb.WriteString("|")
		for _, cell := range row {
			sb.WriteString(fmt.Sprintf(" %s |", escapeMarkdownCell(cell)))
		}
		sb.WriteString("\n")
	}

	if s.footer != "" {
		sb.WriteString(fmt.Sprintf("\n_%s_\n", s.footer))
	}
	return sb.String()
}

func escapeMarkdownCell(value string) string {
	value = strings.ReplaceAll(value, "\n", " ")
	return strings.ReplaceAll(value, "|", "\\|")
}
