package output

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/pulsegate/pulsegate/internal/core"
	"github.com/pulsegate/pulsegate/internal/core/trello"
)

// section is a titled grid shared by the table and markdown renderers.
type section struct {
	title   string
	headers []string
	rows    [][]string
	footer  string
}

func insightsSection(s *core.InsightsSnapshot) section {
	rows := [][]string{
		{"Repositories", strconv.Itoa(s.RepoCount)},
		{"Stars", strconv.Itoa(s.TotalStars)},
		{"Pull requests", strconv.Itoa(s.TotalPullRequests)},
		{"Recent pull requests", strconv.Itoa(s.RecentPRs)},
		{"Issues", strconv.Itoa(s.TotalIssues)},
		{"Open issues", strconv.Itoa(s.OpenIssues)},
		{"Closed issues", strconv.Itoa(s.ClosedIssues)},
		{"Recent issues", strconv.Itoa(s.RecentIssues)},
		{"Recent commits", strconv.Itoa(s.RecentCommits)},
		{"Most active repo", dash(s.MostActiveRepo)},
		{"Followers", strconv.Itoa(s.Followers)},
		{"Following", strconv.Itoa(s.Following)},
		{"Public gists", strconv.Itoa(s.PublicGists)},
		{"Profile", dash(s.ProfileURL)},
	}

	return section{
		title:   fmt.Sprintf("%s insights", s.Username),
		headers: []string{"Metric", "Value"},
		rows:    rows,
		footer:  provenanceSummary(s.Provenance, s.FetchedAt),
	}
}

func repositoriesSection(repos []core.Repository) section {
	rows := make([][]string, 0, len(repos))
	for _, repo := range repos {
		visibility := "public"
		if repo.Private {
			visibility = "private"
		}
		rows = append(rows, []string{
			dash(repo.FullName),
			dash(repo.Language),
			strconv.Itoa(repo.Stars),
			strconv.Itoa(repo.Forks),
			visibility,
			formatTime(repo.UpdatedAt),
		})
	}
	return section{
		title:   "Repositories",
		headers: []string{"Repository", "Language", "Stars", "Forks", "Visibility", "Updated"},
		rows:    rows,
		footer:  fmt.Sprintf("%d repositories", len(repos)),
	}
}

func boardsSection(boards []core.Board) section {
	rows := make([][]string, 0, len(boards))
	for _, board := range boards {
		rows = append(rows, []string{board.ID, board.Name, closedLabel(board.Closed)})
	}
	return section{
		title:   "Boards",
		headers: []string{"ID", "Name", "State"},
		rows:    rows,
	}
}

func listsSection(lists []core.List) section {
	rows := make([][]string, 0, len(lists))
	for _, list := range lists {
		rows = append(rows, []string{
			list.ID,
			list.Name,
			string(trello.StatusForList(list.Name)),
			closedLabel(list.Closed),
		})
	}
	return section{
		title:   "Lists",
		headers: []string{"ID", "Name", "Status", "State"},
		rows:    rows,
	}
}

func cardsSection(cards []core.Card) section {
	rows := make([][]string, 0, len(cards))
	for _, card := range cards {
		rows = append(rows, []string{
			card.ID,
			card.Name,
			dash(strings.Join(card.LabelNames(), ", ")),
			strconv.Itoa(len(card.IDMembers)),
		})
	}
	return section{
		title:   "Cards",
		headers: []string{"ID", "Name", "Labels", "Members"},
		rows:    rows,
	}
}

func aggregateSection(aggregate *core.BoardAggregate) section {
	rows := make([][]string, 0, aggregate.CardCount())
	for _, list := range aggregate.Lists {
		if len(list.Cards) == 0 {
			rows = append(rows, []string{list.Name, string(list.Status), "-", "-"})
			continue
		}
		for _, card := range list.Cards {
			rows = append(rows, []string{
				list.Name,
				string(list.Status),
				card.Name,
				dash(strings.Join(card.Labels, ", ")),
			})
		}
	}

	footer := fmt.Sprintf("%d cards across %d lists", aggregate.CardCount(), len(aggregate.Lists))
	if summary := provenanceSummary(aggregate.Provenance, aggregate.FetchedAt); summary != "" {
		footer += "; " + summary
	}

	return section{
		title:   fmt.Sprintf("Board %s", aggregate.BoardID),
		headers: []string{"List", "Status", "Card", "Labels"},
		rows:    rows,
		footer:  footer,
	}
}

func quotaSection(observations []core.QuotaObservation) section {
	rows := make([][]string, 0, len(observations))
	for _, obs := range observations {
		status := "-"
		if obs.StatusCode > 0 {
			status = strconv.Itoa(obs.StatusCode)
		}
		rows = append(rows, []string{
			obs.Upstream,
			strconv.Itoa(obs.Remaining),
			formatTime(obs.ResetAt),
			strconv.FormatBool(obs.Throttled),
			status,
			formatTime(obs.ObservedAt),
		})
	}
	return section{
		title:   "Quota observations",
		headers: []string{"Upstream", "Remaining", "Resets", "Throttled", "Status", "Observed"},
		rows:    rows,
	}
}

func snapshotsSection(snapshots []core.SnapshotInfo) section {
	rows := make([][]string, 0, len(snapshots))
	for _, info := range snapshots {
		rows = append(rows, []string{info.Kind, info.Key, strconv.Itoa(info.Size), formatTime(info.StoredAt)})
	}
	return section{
		title:   "Archived snapshots",
		headers: []string{"Kind", "Key", "Bytes", "Stored"},
		rows:    rows,
		footer:  fmt.Sprintf("%d snapshots", len(snapshots)),
	}
}

func provenanceSummary(p core.Provenance, fetchedAt time.Time) string {
	parts := make([]string, 0, 3)
	if p.Source != "" {
		parts = append(parts, "source: "+string(p.Source))
	}
	if !fetchedAt.IsZero() {
		parts = append(parts, "fetched: "+formatTime(fetchedAt))
	}
	if defaulted := p.Defaulted(); len(defaulted) > 0 {
		parts = append(parts, "defaulted: "+strings.Join(defaulted, ", "))
	}
	return strings.Join(parts, "; ")
}

func closedLabel(closed bool) string {
	if closed {
		return "closed"
	}
	return "open"
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(time.RFC3339)
}

func dash(value string) string {
	if strings.TrimSpace(value) == "" {
		return "-"
	}
	return value
}
