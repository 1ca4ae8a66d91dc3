package output

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/pulsegate/pulsegate/internal/core"
)

// TableFormatter renders results as an ASCII table.
type TableFormatter struct{}

func (f *TableFormatter) FormatInsights(snapshot *core.InsightsSnapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	return renderTable(insightsSection(snapshot)), nil
}

func (f *TableFormatter) FormatRepositories(repos []core.Repository) (string, error) {
	return renderTable(repositoriesSection(repos)), nil
}

func (f *TableFormatter) FormatBoards(boards []core.Board) (string, error) {
	return renderTable(boardsSection(boards)), nil
}

func (f *TableFormatter) FormatLists(lists []core.List) (string, error) {
	return renderTable(listsSection(lists)), nil
}

func (f *TableFormatter) FormatCards(cards []core.Card) (string, error) {
	return renderTable(cardsSection(cards)), nil
}

func (f *TableFormatter) FormatBoardAggregate(aggregate *core.BoardAggregate) (string, error) {
	if aggregate == nil {
		return "", nil
	}
	return renderTable(aggregateSection(aggregate)), nil
}

func (f *TableFormatter) FormatQuota(observations []core.QuotaObservation) (string, error) {
	return renderTable(quotaSection(observations)), nil
}

func (f *TableFormatter) FormatSnapshots(snapshots []core.SnapshotInfo) (string, error) {
	return renderTable(snapshotsSection(snapshots)), nil
}

func renderTable(s section) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.Style().Format.Footer = text.FormatDefault
	t.SetTitle(s.title)
	t.AppendHeader(toRow(s.headers))

	for _, row := range s.rows {
		t.AppendRow(toRow(row))
	}

	if s.footer != "" {
		footer := make(table.Row, len(s.headers))
		footer[0] = s.footer
		for i := 1; i < len(footer); i++ {
			footer[i] = ""
		}
		t.AppendFooter(footer, table.RowConfig{AutoMerge: true})
	}

	return strings.TrimRight(t.Render(), "\n")
}

func toRow(values []string) table.Row {
	row := make(table.Row, len(values))
	for i, value := range values {
		row[i] = value
	}
	return row
}
