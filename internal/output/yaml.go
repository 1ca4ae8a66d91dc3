package output

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/pulsegate/pulsegate/internal/core"
)

// YAMLFormatter renders results as YAML. Keys and their order follow the JSON
// shape so both formats describe the same document.
type YAMLFormatter struct{}

func (f *YAMLFormatter) FormatInsights(snapshot *core.InsightsSnapshot) (string, error) {
	if snapshot == nil {
		return "", nil
	}
	return toYAML(snapshot)
}

func (f *YAMLFormatter) FormatRepositories(repos []core.Repository) (string, error) {
	return toYAML(nonNil(repos))
}

func (f *YAMLFormatter) FormatBoards(boards []core.Board) (string, error) {
	return toYAML(nonNil(boards))
}

func (f *YAMLFormatter) FormatLists(lists []core.List) (string, error) {
	return toYAML(nonNil(lists))
}

func (f *YAMLFormatter) FormatCards(cards []core.Card) (string, error) {
	return toYAML(nonNil(cards))
}

func (f *YAMLFormatter) FormatBoardAggregate(aggregate *core.BoardAggregate) (string, error) {
	if aggregate == nil {
		return "", nil
	}
	return toYAML(aggregate)
}

func (f *YAMLFormatter) FormatQuota(observations []core.QuotaObservation) (string, error) {
	return toYAML(nonNil(observations))
}

func (f *YAMLFormatter) FormatSnapshots(snapshots []core.SnapshotInfo) (string, error) {
	return toYAML(nonNil(snapshots))
}

func toYAML(value any) (string, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return "", err
	}

	var node yaml.Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return "", fmt.Errorf("convert to yaml: %w", err)
	}
	blockStyle(&node)

	out, err := yaml.Marshal(&node)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// blockStyle clears the flow and quoting styles the JSON input carries.
func blockStyle(node *yaml.Node) {
	if node.Kind == yaml.ScalarNode && node.Tag == "!!str" {
		node.Style = 0
		if needsQuoting(node.Value) {
			node.Style = yaml.DoubleQuotedStyle
		}
	} else {
		node.Style = 0
	}
	for _, child := range node.Content {
		blockStyle(child)
	}
}

// needsQuoting reports whether a plain scalar would resolve to a non-string.
func needsQuoting(value string) bool {
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(value), &doc); err != nil || len(doc.Content) != 1 {
		return true
	}
	scalar := doc.Content[0]
	return scalar.Kind != yaml.ScalarNode || scalar.Tag != "!!str" || scalar.Value != value
}
