package github

import (
	"encoding/json"
	"time"

	gogithub "github.com/google/go-github/v57/github"
)

const pushEventType = "PushEvent"

// Activity is the subset of a public event used for activity metrics.
type Activity struct {
	Type      string
	Repo      string
	CreatedAt time.Time
	// Size is the commit count of a push event.
	Size int
}

func toActivity(events []*gogithub.Event) []Activity {
	out := make([]Activity, 0, len(events))
	for _, event := range events {
		if event == nil {
			continue
		}
		activity := Activity{
			Type:      event.GetType(),
			Repo:      event.GetRepo().GetName(),
			CreatedAt: event.GetCreatedAt().Time,
		}
		if activity.Type == pushEventType && event.RawPayload != nil {
			var payload struct {
				Size int `json:"size"`
			}
			if err := json.Unmarshal(*event.RawPayload, &payload); err == nil {
				activity.Size = payload.Size
			}
		}
		out = append(out, activity)
	}
	return out
}

// RecentCommits sums push sizes for events strictly after since.
func RecentCommits(events []Activity, since time.Time) int {
	total := 0
	for _, event := range events {
		if event.Type != pushEventType || !event.CreatedAt.After(since) {
			continue
		}
		total += event.Size
	}
	return total
}

// MostActiveRepo returns the repository with the most events strictly after
// since. Ties go to the repository that appears first in events.
func MostActiveRepo(events []Activity, since time.Time) string {
	counts := make(map[string]int)
	firstSeen := make(map[string]int)
	for i, event := range events {
		if event.Repo == "" || !event.CreatedAt.After(since) {
			continue
		}
		if _, ok := firstSeen[event.Repo]; !ok {
			firstSeen[event.Repo] = i
		}
		counts[event.Repo]++
	}

	best := ""
	for repo, count := range counts {
		switch {
		case best == "":
			best = repo
		case count > counts[best]:
			best = repo
		case count == counts[best] && firstSeen[repo] < firstSeen[best]:
			best = repo
		}
	}
	return best
}
