package core

import (
	"slices"
	"time"
)

// Source identifies where a result was served from.
type Source string

const (
	SourceLive     Source = "live"
	SourceCache    Source = "cache"
	SourceArchive  Source = "archive"
	SourceDegraded Source = "degraded"
)

// FieldState marks whether a snapshot field came from a successful upstream call.
type FieldState string

const (
	FieldLive      FieldState = "live"
	FieldDefaulted FieldState = "defaulted"
)

// FieldSource records the provenance of a single snapshot field.
type FieldSource struct {
	State FieldState `json:"state"`
	Error string     `json:"error,omitempty"`
}

// Provenance captures metadata about how a result was resolved.
type Provenance struct {
	CheckID     string                 `json:"check_id"`
	RequestedAt time.Time              `json:"requested_at"`
	ResolvedAt  time.Time              `json:"resolved_at"`
	Source      Source                 `json:"source"`
	Server      string                 `json:"server,omitempty"`
	Fields      map[string]FieldSource `json:"fields,omitempty"`
}

// Defaulted returns the names of fields that fell back to zero values.
func (p Provenance) Defaulted() []string {
	names := make([]string, 0)
	for name, field := range p.Fields {
		if field.State == FieldDefaulted {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names
}

func (p Provenance) clone() Provenance {
	out := p
	if p.Fields != nil {
		out.Fields = make(map[string]FieldSource, len(p.Fields))
		for k, v := range p.Fields {
			out.Fields[k] = v
		}
	}
	return out
}

// Snapshot field names used in provenance markers.
const (
	FieldRepoCount         = "repo_count"
	FieldTotalStars        = "total_stars"
	FieldTotalPullRequests = "total_pull_requests"
	FieldTotalIssues       = "total_issues"
	FieldOpenIssues        = "open_issues"
	FieldClosedIssues      = "closed_issues"
	FieldRecentPRs         = "recent_prs"
	FieldRecentIssues      = "recent_issues"
	FieldRecentCommits     = "recent_commits"
	FieldMostActiveRepo    = "most_active_repo"
	FieldFollowers         = "followers"
	FieldFollowing         = "following"
	FieldPublicGists       = "public_gists"
	FieldAvatarURL         = "avatar_url"
)

// InsightFields lists every field tracked in snapshot provenance.
var InsightFields = []string{
	FieldRepoCount,
	FieldTotalStars,
	FieldTotalPullRequests,
	FieldTotalIssues,
	FieldOpenIssues,
	FieldClosedIssues,
	FieldRecentPRs,
	FieldRecentIssues,
	FieldRecentCommits,
	FieldMostActiveRepo,
	FieldFollowers,
	FieldFollowing,
	FieldPublicGists,
	FieldAvatarURL,
}

// InsightsSnapshot is the aggregated activity view for one developer identity.
type InsightsSnapshot struct {
	Username          string    `json:"username"`
	RepoCount         int       `json:"repo_count"`
	TotalPullRequests int       `json:"total_pull_requests"`
	RecentCommits     int       `json:"recent_commits"`
	TotalIssues       int       `json:"total_issues"`
	OpenIssues        int       `json:"open_issues"`
	ClosedIssues      int       `json:"closed_issues"`
	TotalStars        int       `json:"total_stars"`
	Followers         int       `json:"followers"`
	Following         int       `json:"following"`
	PublicGists       int       `json:"public_gists"`
	RecentPRs         int       `json:"recent_prs"`
	RecentIssues      int       `json:"recent_issues"`
	MostActiveRepo    string    `json:"most_active_repo"`
	AvatarURL         string    `json:"avatar_url"`
	ProfileURL        string    `json:"profile_url"`
	FetchedAt         time.Time `json:"fetched_at"`

	// Provenance is internal bookkeeping and never part of the external shape.
	Provenance Provenance `json:"-"`
}

// Clone returns a deep copy of the snapshot.
func (s *InsightsSnapshot) Clone() *InsightsSnapshot {
	if s == nil {
		return nil
	}
	out := *s
	out.Provenance = s.Provenance.clone()
	return &out
}

// Repository describes one repository accessible to a credential.
type Repository struct {
	ID            int64     `json:"id"`
	Name          string    `json:"name"`
	FullName      string    `json:"full_name"`
	Description   string    `json:"description,omitempty"`
	HTMLURL       string    `json:"html_url"`
	Language      string    `json:"language,omitempty"`
	Stars         int       `json:"stargazers_count"`
	Forks         int       `json:"forks_count"`
	OpenIssues    int       `json:"open_issues_count"`
	Private       bool      `json:"private"`
	DefaultBranch string    `json:"default_branch,omitempty"`
	Topics        []string  `json:"topics,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// RepositoryList is the repository listing for a credential.
type RepositoryList struct {
	Repositories []Repository `json:"repositories"`
	FetchedAt    time.Time    `json:"fetched_at"`

	Provenance Provenance `json:"-"`
}

// Clone returns a deep copy of the list.
func (l *RepositoryList) Clone() *RepositoryList {
	if l == nil {
		return nil
	}
	out := *l
	out.Repositories = make([]Repository, len(l.Repositories))
	for i, repo := range l.Repositories {
		repo.Topics = slices.Clone(repo.Topics)
		out.Repositories[i] = repo
	}
	out.Provenance = l.Provenance.clone()
	return &out
}

// TaskStatus is the workflow state derived from a kanban list name.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "TODO"
	TaskInProgress TaskStatus = "IN_PROGRESS"
	TaskReview     TaskStatus = "REVIEW"
	TaskBlocked    TaskStatus = "BLOCKED"
	TaskDone       TaskStatus = "DONE"
)

// Board is a kanban board visible to the configured member.
type Board struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Desc   string `json:"desc,omitempty"`
	URL    string `json:"url,omitempty"`
	Closed bool   `json:"closed"`
}

// List is a column on a kanban board.
type List struct {
	ID      string  `json:"id"`
	Name    string  `json:"name"`
	Closed  bool    `json:"closed"`
	Pos     float64 `json:"pos"`
	IDBoard string  `json:"idBoard,omitempty"`
}

// Label is a card label.
type Label struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Card is a single kanban card.
type Card struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Desc      string   `json:"desc"`
	IDList    string   `json:"idList,omitempty"`
	IDMembers []string `json:"idMembers"`
	Labels    []Label  `json:"labels"`
	URL       string   `json:"url,omitempty"`
}

// LabelNames returns the non-empty label names on the card.
func (c Card) LabelNames() []string {
	names := make([]string, 0, len(c.Labels))
	for _, label := range c.Labels {
		if label.Name != "" {
			names = append(names, label.Name)
		}
	}
	return names
}

// TaskCard is a card as presented inside a board aggregate.
type TaskCard struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Desc      string   `json:"desc"`
	Labels    []string `json:"labels"`
	MemberIDs []string `json:"member_ids"`
}

// ListAggregate is one list with its derived status and cards.
type ListAggregate struct {
	ID     string     `json:"id"`
	Name   string     `json:"name"`
	Status TaskStatus `json:"status"`
	Cards  []TaskCard `json:"cards"`
}

// BoardAggregate joins a board's lists and cards.
type BoardAggregate struct {
	BoardID   string          `json:"board_id"`
	Lists     []ListAggregate `json:"lists"`
	FetchedAt time.Time       `json:"fetched_at"`

	Provenance Provenance `json:"-"`
}

// CardCount returns the total number of cards across all lists.
func (b *BoardAggregate) CardCount() int {
	if b == nil {
		return 0
	}
	total := 0
	for _, list := range b.Lists {
		total += len(list.Cards)
	}
	return total
}

// Clone returns a deep copy of the aggregate.
func (b *BoardAggregate) Clone() *BoardAggregate {
	if b == nil {
		return nil
	}
	out := *b
	out.Lists = make([]ListAggregate, len(b.Lists))
	for i, list := range b.Lists {
		cards := make([]TaskCard, len(list.Cards))
		for j, card := range list.Cards {
			card.Labels = slices.Clone(card.Labels)
			card.MemberIDs = slices.Clone(card.MemberIDs)
			cards[j] = card
		}
		list.Cards = cards
		out.Lists[i] = list
	}
	out.Provenance = b.Provenance.clone()
	return &out
}

// SnapshotInfo describes an archived payload without decoding it.
type SnapshotInfo struct {
	Kind     string    `json:"kind"`
	Key      string    `json:"key"`
	Size     int       `json:"size"`
	StoredAt time.Time `json:"stored_at"`
}
