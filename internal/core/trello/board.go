package trello

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/pulsegate/pulsegate/internal/core"
)

// BoardSource is the subset of Client used to build aggregates.
type BoardSource interface {
	GetLists(ctx context.Context, boardID string) ([]core.List, error)
	GetCards(ctx context.Context, listID string) ([]core.Card, error)
}

type statusRule struct {
	needles []string
	status  core.TaskStatus
}

// Rules are checked in order; the first match wins.
var statusRules = []statusRule{
	{needles: []string{"done", "complete"}, status: core.TaskDone},
	{needles: []string{"block"}, status: core.TaskBlocked},
	{needles: []string{"review"}, status: core.TaskReview},
	{needles: []string{"doing", "progress"}, status: core.TaskInProgress},
}

// StatusForList derives a task status from a list name.
func StatusForList(name string) core.TaskStatus {
	lower := strings.ToLower(name)
	for _, rule := range statusRules {
		for _, needle := range rule.needles {
			if strings.Contains(lower, needle) {
				return rule.status
			}
		}
	}
	return core.TaskTodo
}

// BuildBoardAggregate fetches the lists of boardID and then the cards of each
// list, in board order. Any failure aborts the build.
func BuildBoardAggregate(ctx context.Context, source BoardSource, boardID string, now time.Time) (*core.BoardAggregate, error) {
	lists, err := source.GetLists(ctx, boardID)
	if err != nil {
		return nil, err
	}

	aggregate := &core.BoardAggregate{
		BoardID:   boardID,
		Lists:     make([]core.ListAggregate, 0, len(lists)),
		FetchedAt: now,
		Provenance: core.Provenance{
			CheckID:     uuid.New().String(),
			RequestedAt: now,
			Source:      core.SourceLive,
		},
	}

	for _, list := range lists {
		cards, err := source.GetCards(ctx, list.ID)
		if err != nil {
			return nil, err
		}
		entry := core.ListAggregate{
			ID:     list.ID,
			Name:   list.Name,
			Status: StatusForList(list.Name),
			Cards:  make([]core.TaskCard, 0, len(cards)),
		}
		for _, card := range cards {
			members := card.IDMembers
			if members == nil {
				members = []string{}
			}
			entry.Cards = append(entry.Cards, core.TaskCard{
				ID:        card.ID,
				Name:      card.Name,
				Desc:      card.Desc,
				Labels:    card.LabelNames(),
				MemberIDs: members,
			})
		}
		aggregate.Lists = append(aggregate.Lists, entry)
	}

	aggregate.Provenance.ResolvedAt = now
	return aggregate, nil
}
