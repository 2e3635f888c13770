package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/abelbrown/recall/internal/assistant"
)

func newAskCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Ask about saved pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, done, err := openAssistant()
			if err != nil {
				return err
			}
			defer done()

			ans, err := a.Ask(cmd.Context(), assistant.AskRequest{
				Query: strings.Join(args, " "),
				Limit: limit,
			})
			if err != nil {
				return err
			}
			printAnswer(ans)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "max pages considered (default retrieval.limit)")
	return cmd
}

func printAnswer(ans assistant.Answer) {
	if ans.Message != "" {
		fmt.Println(styleWarn.Render(ans.Message))
	}
	if ans.ConversationalResponse != "" {
		fmt.Println(styleAnswer.Render(ans.ConversationalResponse))
	}
	if len(ans.Items) == 0 {
		return
	}
	fmt.Println()
	for _, it := range ans.Items {
		label := it.Title
		if label == "" {
			label = it.URL
		}
		if it.PageID > 0 {
			label = styleDim.Render(fmt.Sprintf("[%d] ", it.PageID)) + styleTitle.Render(label)
		}
		fmt.Println(label)
		fmt.Println("    " + styleURL.Render(it.URL))
		if it.Snippet != "" {
			fmt.Println("    " + styleDim.Render(it.Snippet))
		}
	}
}
