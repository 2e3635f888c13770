package main

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/abelbrown/recall/internal/store"
)

func newSaveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "save <url>...",
		Short: "Fetch and save pages",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, _, done, err := openAssistant()
			if err != nil {
				return err
			}
			defer done()

			var (
				mu     sync.Mutex
				failed int
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			g.SetLimit(4)
			for _, url := range args {
				g.Go(func() error {
					p, err := a.SaveURL(ctx, url)
					mu.Lock()
					defer mu.Unlock()
					if err != nil {
						failed++
						fmt.Println(styleError.Render("✗ "+url) + " " + styleDim.Render(err.Error()))
						return nil
					}
					fmt.Printf("%s %s %s\n", styleSuccess.Render("✓"), styleDim.Render(fmt.Sprintf("[%d]", p.ID)), p.Title)
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d pages failed", failed, len(args))
			}
			return nil
		},
	}
}

func newPagesCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "pages",
		Short: "List recently saved pages",
		RunE: func(_ *cobra.Command, _ []string) error {
			a, _, done, err := openAssistant()
			if err != nil {
				return err
			}
			defer done()

			pages, err := a.Pages(limit)
			if err != nil {
				return err
			}
			if len(pages) == 0 {
				fmt.Println(styleDim.Render("No pages saved yet."))
				return nil
			}
			for _, p := range pages {
				printPage(p)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of pages")
	return cmd
}

func printPage(p store.Page) {
	fmt.Printf("%s %s\n", styleDim.Render(fmt.Sprintf("%4d", p.ID)), styleTitle.Render(p.Title))
	fmt.Printf("     %s %s\n", styleURL.Render(p.URL), styleDim.Render(p.CapturedAt.Local().Format("2006-01-02 15:04")))
}

func parsePageID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid page id %q", s)
	}
	return id, nil
}
