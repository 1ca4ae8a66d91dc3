package trello

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pulsegate/pulsegate/internal/core"
)

type fakeBoardSource struct {
	lists    []core.List
	cards    map[string][]core.Card
	listsErr error
	cardsErr error
	visited  []string
}

func (f *fakeBoardSource) GetLists(_ context.Context, _ string) ([]core.List, error) {
	return f.lists, f.listsErr
}

func (f *fakeBoardSource) GetCards(_ context.Context, listID string) ([]core.Card, error) {
	f.visited = append(f.visited, listID)
	if f.cardsErr != nil {
		return nil, f.cardsErr
	}
	return f.cards[listID], nil
}

func TestStatusForList(t *testing.T) {
	cases := map[string]core.TaskStatus{
		"Done":                  core.TaskDone,
		"Completed this sprint": core.TaskDone,
		"Blocked":               core.TaskBlocked,
		"Code Review":           core.TaskReview,
		"Doing":                 core.TaskInProgress,
		"IN PROGRESS":           core.TaskInProgress,
		"Backlog":               core.TaskTodo,
		"":                      core.TaskTodo,
		"Review done":           core.TaskDone,
		"Blocked in review":     core.TaskBlocked,
	}
	for name, want := range cases {
		require.Equal(t, want, StatusForList(name), name)
	}
}

func TestBuildBoardAggregate(t *testing.T) {
	source := &fakeBoardSource{
		lists: []core.List{
			{ID: "l1", Name: "To Do"},
			{ID: "l2", Name: "Doing"},
			{ID: "l3", Name: "Done"},
		},
		cards: map[string][]core.Card{
			"l1": {{ID: "c1", Name: "Write docs", Desc: "readme", Labels: []core.Label{{Name: "docs"}, {Name: ""}}}},
			"l2": {{ID: "c2", Name: "Ship it", IDMembers: []string{"m1", "m2"}}},
		},
	}

	aggregate, err := BuildBoardAggregate(context.Background(), source, "b1", fixedNow)
	require.NoError(t, err)
	require.Equal(t, []string{"l1", "l2", "l3"}, source.visited)
	require.Equal(t, "b1", aggregate.BoardID)
	require.Equal(t, fixedNow, aggregate.FetchedAt)
	require.Equal(t, core.SourceLive, aggregate.Provenance.Source)
	require.Equal(t, 2, aggregate.CardCount())

	require.Len(t, aggregate.Lists, 3)
	require.Equal(t, core.TaskTodo, aggregate.Lists[0].Status)
	require.Equal(t, core.TaskInProgress, aggregate.Lists[1].Status)
	require.Equal(t, core.TaskDone, aggregate.Lists[2].Status)

	require.Equal(t, core.TaskCard{
		ID: "c1", Name: "Write docs", Desc: "readme", Labels: []string{"docs"}, MemberIDs: []string{},
	}, aggregate.Lists[0].Cards[0])
	require.Equal(t, []string{"m1", "m2"}, aggregate.Lists[1].Cards[0].MemberIDs)
	require.Empty(t, aggregate.Lists[2].Cards)
}

func TestBuildBoardAggregateFailures(t *testing.T) {
	listsErr := errors.New("lists down")
	_, err := BuildBoardAggregate(context.Background(), &fakeBoardSource{listsErr: listsErr}, "b1", fixedNow)
	require.ErrorIs(t, err, listsErr)

	cardsErr := errors.New("cards down")
	source := &fakeBoardSource{lists: []core.List{{ID: "l1", Name: "Done"}}, cardsErr: cardsErr}
	_, err = BuildBoardAggregate(context.Background(), source, "b1", fixedNow)
	require.ErrorIs(t, err, cardsErr)
}
