package output

import (
	"encoding/json"

	"github.com/pulsegate/pulsegate/internal/core"
)

// JSONFormatter renders results as JSON, using the same shape as the HTTP API.
type JSONFormatter struct {
	Indent bool
}

func (f *JSONFormatter) FormatInsights(snapshot *core.InsightsSnapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	return f.encode(snapshot)
}

func (f *JSONFormatter) FormatRepositories(repos []core.Repository) (string, error) {
	return f.encode(nonNil(repos))
}

func (f *JSONFormatter) FormatBoards(boards []core.Board) (string, error) {
	return f.encode(nonNil(boards))
}

func (f *JSONFormatter) FormatLists(lists []core.List) (string, error) {
	return f.encode(nonNil(lists))
}

func (f *JSONFormatter) FormatCards(cards []core.Card) (string, error) {
	return f.encode(nonNil(cards))
}

func (f *JSONFormatter) FormatBoardAggregate(aggregate *core.BoardAggregate) (string, error) {
	if aggregate == nil {
		return "", nil
	}
	return f.encode(aggregate)
}

func (f *JSONFormatter) FormatQuota(observations []core.QuotaObservation) (string, error) {
	return f.encode(nonNil(observations))
}

func (f *JSONFormatter) FormatSnapshots(snapshots []core.SnapshotInfo) (string, error) {
	return f.encode(nonNil(snapshots))
}

func (f *JSONFormatter) encode(value any) (string, error) {
	var (
		data []byte
		err  error
	)

	if f.Indent {
		data, err = json.MarshalIndent(value, "", "  ")
	} else {
		data, err = json.Marshal(value)
	}
	if err != nil {
		return "", err
	}

	return string(data), nil
}

// nonNil keeps empty results rendering as [] rather than null.
func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
