package output

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/pulsegate/pulsegate/internal/core"
)

var fixedNow = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func sampleSnapshot() *core.InsightsSnapshot {
	return &core.InsightsSnapshot{
		Username:       "octocat",
		RepoCount:      8,
		TotalStars:     42,
		OpenIssues:     3,
		ClosedIssues:   18,
		MostActiveRepo: "alpha",
		ProfileURL:     "https://github.com/octocat",
		FetchedAt:      fixedNow,
		Provenance: core.Provenance{
			Source: core.SourceLive,
			Fields: map[string]core.FieldSource{
				core.FieldRecentCommits: {State: core.FieldDefaulted, Error: "boom"},
				core.FieldRepoCount:     {State: core.FieldLive},
			},
		},
	}
}

func sampleAggregate() *core.BoardAggregate {
	return &core.BoardAggregate{
		BoardID: "b1",
		Lists: []core.ListAggregate{
			{ID: "l1", Name: "Doing", Status: core.TaskInProgress, Cards: []core.TaskCard{
				{ID: "c1", Name: "Ship it", Labels: []string{"p1", "api"}, MemberIDs: []string{"m1"}},
			}},
			{ID: "l2", Name: "Done", Status: core.TaskDone, Cards: []core.TaskCard{}},
		},
		FetchedAt:  fixedNow,
		Provenance: core.Provenance{Source: core.SourceCache},
	}
}

func TestParseFormat(t *testing.T) {
	format, err := ParseFormat("table")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("JSON")
	require.NoError(t, err)
	require.Equal(t, FormatJSON, format)

	format, err = ParseFormat("")
	require.NoError(t, err)
	require.Equal(t, FormatTable, format)

	format, err = ParseFormat("yml")
	require.NoError(t, err)
	require.Equal(t, FormatYAML, format)

	format, err = ParseFormat("md")
	require.NoError(t, err)
	require.Equal(t, FormatMarkdown, format)

	_, err = ParseFormat("csv")
	require.Error(t, err)
}

func TestInsightsTable(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatInsights(sampleSnapshot())
	require.NoError(t, err)
	require.Contains(t, rendered, "octocat insights")
	require.Contains(t, rendered, "METRIC")
	require.Contains(t, rendered, "Most active repo")
	require.Contains(t, rendered, "alpha")
	require.Contains(t, rendered, "source: live")
	require.Contains(t, rendered, "defaulted: recent_commits")
}

func TestInsightsJSONOmitsProvenance(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatInsights(sampleSnapshot())
	require.NoError(t, err)

	var body map[string]any
	require.NoError(t, json.Unmarshal([]byte(rendered), &body))
	require.Equal(t, "octocat", body["username"])
	require.EqualValues(t, 18, body["closed_issues"])
	require.NotContains(t, rendered, "defaulted")
}

func TestInsightsYAMLUsesJSONKeys(t *testing.T) {
	rendered, err := NewFormatter(FormatYAML).FormatInsights(sampleSnapshot())
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(rendered, "username: octocat\n"))
	require.Contains(t, rendered, "closed_issues: 18\n")
	require.NotContains(t, rendered, "{")

	var decoded map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &decoded))
	require.Equal(t, "https://github.com/octocat", decoded["profile_url"])
	// timestamps stay strings so the document round-trips through JSON consumers
	require.Equal(t, "2025-01-01T00:00:00Z", decoded["fetched_at"])
}

func TestYAMLQuotesAmbiguousScalars(t *testing.T) {
	rendered, err := NewFormatter(FormatYAML).FormatBoards([]core.Board{
		{ID: "123", Name: "true"},
		{ID: "b2", Name: ""},
	})
	require.NoError(t, err)

	var decoded []map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(rendered), &decoded))
	require.Len(t, decoded, 2)
	require.Equal(t, "123", decoded[0]["id"])
	require.Equal(t, "true", decoded[0]["name"])
	require.Equal(t, false, decoded[0]["closed"])
	require.Equal(t, "", decoded[1]["name"])
}

func TestEmptyListsRenderAsArrays(t *testing.T) {
	rendered, err := NewFormatter(FormatJSON).FormatRepositories(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)

	rendered, err = NewFormatter(FormatYAML).FormatQuota(nil)
	require.NoError(t, err)
	require.Equal(t, "[]\n", rendered)
}

func TestRepositoriesFormatters(t *testing.T) {
	repos := []core.Repository{
		{FullName: "octocat/alpha", Language: "Go", Stars: 10, Forks: 2, UpdatedAt: fixedNow},
		{FullName: "octocat/secret", Private: true},
	}

	tableRendered, err := NewFormatter(FormatTable).FormatRepositories(repos)
	require.NoError(t, err)
	require.Contains(t, tableRendered, "octocat/alpha")
	require.Contains(t, tableRendered, "private")
	require.Contains(t, tableRendered, "2 repositories")

	markdownRendered, err := NewFormatter(FormatMarkdown).FormatRepositories(repos)
	require.NoError(t, err)
	require.Contains(t, markdownRendered, "| Repository | Language | Stars | Forks | Visibility | Updated |")
	require.Contains(t, markdownRendered, "| octocat/alpha | Go | 10 | 2 | public | 2025-01-01T00:00:00Z |")
}

func TestBoardAggregateFormatters(t *testing.T) {
	tableRendered, err := NewFormatter(FormatTable).FormatBoardAggregate(sampleAggregate())
	require.NoError(t, err)
	require.Contains(t, tableRendered, "Ship it")
	require.Contains(t, tableRendered, "IN_PROGRESS")
	require.Contains(t, tableRendered, "1 cards across 2 lists")
	require.Contains(t, tableRendered, "source: cache")

	markdownRendered, err := NewFormatter(FormatMarkdown).FormatBoardAggregate(sampleAggregate())
	require.NoError(t, err)
	require.Contains(t, markdownRendered, "## Board b1")
	require.Contains(t, markdownRendered, "| Doing | IN_PROGRESS | Ship it | p1, api |")
	require.Contains(t, markdownRendered, "| Done | DONE | - | - |")
}

func TestListsDeriveStatus(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown).FormatLists([]core.List{
		{ID: "l1", Name: "Code Review"},
		{ID: "l2", Name: "Backlog", Closed: true},
	})
	require.NoError(t, err)
	require.Contains(t, rendered, "| l1 | Code Review | REVIEW | open |")
	require.Contains(t, rendered, "| l2 | Backlog | TODO | closed |")
}

func TestCardsTable(t *testing.T) {
	rendered, err := NewFormatter(FormatTable).FormatCards([]core.Card{
		{ID: "c1", Name: "Fix login", Labels: []core.Label{{Name: "bug"}, {Name: ""}}, IDMembers: []string{"m1", "m2"}},
	})
	require.NoError(t, err)
	require.Contains(t, rendered, "Fix login")
	require.Contains(t, rendered, "bug")
}

func TestQuotaFormatters(t *testing.T) {
	observations := []core.QuotaObservation{
		{Upstream: "github", Remaining: 0, ResetAt: fixedNow.Add(time.Hour), Throttled: true, StatusCode: 403, ObservedAt: fixedNow},
	}

	rendered, err := NewFormatter(FormatMarkdown).FormatQuota(observations)
	require.NoError(t, err)
	require.Contains(t, rendered, "| github | 0 | 2025-01-01T01:00:00Z | true | 403 | 2025-01-01T00:00:00Z |")

	rendered, err = NewFormatter(FormatJSON).FormatQuota(observations)
	require.NoError(t, err)
	require.Contains(t, rendered, "\"status_code\": 403")
}

func TestMarkdownEscaping(t *testing.T) {
	rendered, err := NewFormatter(FormatMarkdown).FormatBoards([]core.Board{{ID: "b1", Name: "pipe|test\nnext"}})
	require.NoError(t, err)
	require.Contains(t, rendered, "pipe\\|test next")
}

func TestNilResultsRenderEmpty(t *testing.T) {
	for _, format := range []Format{FormatTable, FormatJSON, FormatMarkdown, FormatYAML} {
		formatter := NewFormatter(format)
		rendered, err := formatter.FormatInsights(nil)
		require.NoError(t, err)
		require.Empty(t, rendered)

		rendered, err = formatter.FormatBoardAggregate(nil)
		require.NoError(t, err)
		require.Empty(t, rendered)
	}
}

func TestSnapshotsFormatters(t *testing.T) {
	snapshots := []core.SnapshotInfo{
		{Kind: "github_insights", Key: "octocat", Size: 512, StoredAt: fixedNow},
	}

	rendered, err := NewFormatter(FormatMarkdown).FormatSnapshots(snapshots)
	require.NoError(t, err)
	require.Contains(t, rendered, "| github_insights | octocat | 512 | 2025-01-01T00:00:00Z |")
	require.Contains(t, rendered, "_1 snapshots_")

	rendered, err = NewFormatter(FormatJSON).FormatSnapshots(nil)
	require.NoError(t, err)
	require.Equal(t, "[]", rendered)
}
