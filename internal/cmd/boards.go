package cmd

import (
	"time"

	"github.com/spf13/cobra"

	apperrors "github.com/pulsegate/pulsegate/internal/errors"
	"github.com/pulsegate/pulsegate/internal/observability"
	"github.com/pulsegate/pulsegate/internal/output"
)

var boardsCmd = &cobra.Command{
	Use:   "boards",
	Short: "Query kanban boards, lists and cards",
}

var boardsListCmd = &cobra.Command{
	Use:   "list [memberID]",
	Short: "List boards of a member (default: the token owner)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		memberID := "me"
		if len(args) == 1 {
			memberID = args[0]
		}
		return withBoards(cmd, func(rt *appRuntime) error {
			client, err := rt.boards()
			if err != nil {
				return err
			}
			boards, err := client.GetBoards(cmd.Context(), memberID)
			if err != nil {
				return apperrors.FromDomain(cmd.Context(), err)
			}
			return writeOutput(cmd, "boards-"+memberID, func(f output.Formatter) (string, error) {
				return f.FormatBoards(boards)
			})
		})
	},
}

var boardsListsCmd = &cobra.Command{
	Use:   "lists <boardID>",
	Short: "List the columns of a board",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoards(cmd, func(rt *appRuntime) error {
			client, err := rt.boards()
			if err != nil {
				return err
			}
			lists, err := client.GetLists(cmd.Context(), args[0])
			if err != nil {
				return apperrors.FromDomain(cmd.Context(), err)
			}
			return writeOutput(cmd, "lists-"+args[0], func(f output.Formatter) (string, error) {
				return f.FormatLists(lists)
			})
		})
	},
}

var boardsCardsCmd = &cobra.Command{
	Use:   "cards <listID>",
	Short: "List the cards in a list",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoards(cmd, func(rt *appRuntime) error {
			client, err := rt.boards()
			if err != nil {
				return err
			}
			cards, err := client.GetCards(cmd.Context(), args[0])
			if err != nil {
				return apperrors.FromDomain(cmd.Context(), err)
			}
			return writeOutput(cmd, "cards-"+args[0], func(f output.Formatter) (string, error) {
				return f.FormatCards(cards)
			})
		})
	},
}

var boardsAggregateCmd = &cobra.Command{
	Use:   "aggregate <boardID>",
	Short: "Join a board's lists and cards with derived task status",
	Long: `Fetch every list of a board and its cards, deriving a task status from
each list name. Falls back to the last stored aggregate when the upstream
is throttled or unreachable.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBoards(cmd, func(rt *appRuntime) error {
			startedAt := time.Now()
			aggregate, err := rt.orchestrator.FetchBoardWithFallback(cmd.Context(), args[0])
			if err != nil {
				return apperrors.FromDomain(cmd.Context(), err)
			}
			logServed(observability.CLILogger, "board_aggregate", aggregate.Provenance, startedAt)
			return writeOutput(cmd, "board-"+args[0], func(f output.Formatter) (string, error) {
				return f.FormatBoardAggregate(aggregate)
			})
		})
	},
}

func init() {
	for _, sub := range []*cobra.Command{boardsListCmd, boardsListsCmd, boardsCardsCmd, boardsAggregateCmd} {
		addOutputFlags(sub)
		boardsCmd.AddCommand(sub)
	}
	rootCmd.AddCommand(boardsCmd)
}

func withBoards(cmd *cobra.Command, run func(rt *appRuntime) error) error {
	rt, err := buildRuntime(cmd.Context(), observability.CLILogger)
	if err != nil {
		return err
	}
	defer rt.Close() // nolint:errcheck // best-effort cleanup
	return run(rt)
}
