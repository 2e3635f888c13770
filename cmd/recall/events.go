package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/abelbrown/recall/internal/assistant"
	"github.com/abelbrown/recall/internal/dispatch"
	"github.com/abelbrown/recall/internal/temporal"
)

func newDatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dates <page-id>",
		Short: "Show dates found on a page",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			id, err := parsePageID(args[0])
			if err != nil {
				return err
			}
			a, _, done, err := openAssistant()
			if err != nil {
				return err
			}
			defer done()

			matches, err := a.Dates(id)
			if err != nil {
				return err
			}
			if len(matches) == 0 {
				fmt.Println(styleDim.Render("No dates found."))
				return nil
			}
			for _, m := range matches {
				printMatch(m)
			}
			return nil
		},
	}
}

func printMatch(m temporal.Match) {
	fmt.Printf("%s  %s  %s\n",
		styleTitle.Render(m.Time.Format("Mon 2006-01-02 15:04 MST")),
		styleDim.Render(fmt.Sprintf("%.2f %-14s", m.Confidence, m.Kind)),
		fmt.Sprintf("%q", m.Text),
	)
	if m.Context != "" {
		fmt.Println("    " + styleDim.Render(m.Context))
	}
}

func newEventCmd() *cobra.Command {
	var (
		title    string
		attendee string
		policy   string
		start    string
	)
	cmd := &cobra.Command{
		Use:   "event <page-id>",
		Short: "Create a calendar event (or emailed invitation) from a page's date",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parsePageID(args[0])
			if err != nil {
				return err
			}
			addr, err := assistant.NormalizeAttendee(attendee)
			if err != nil {
				return fmt.Errorf("--attendee: %w", err)
			}
			opts := assistant.EventOptions{Title: title, Attendee: addr}
			if policy != "" {
				if opts.Policy, err = temporal.ParsePolicy(policy); err != nil {
					return err
				}
			}
			if start != "" {
				if opts.Start, err = time.Parse(time.RFC3339, start); err != nil {
					return fmt.Errorf("--start: %w", err)
				}
			}

			a, _, done, err := openAssistant()
			if err != nil {
				return err
			}
			defer done()

			sched, err := a.Schedule(cmd.Context(), id, opts)
			var failed *dispatch.FailedError
			if errors.As(err, &failed) {
				fmt.Println(styleError.Render("Could not create the event."))
				fmt.Println("  calendar: " + styleDim.Render(fmt.Sprint(failed.CalendarErr)))
				fmt.Println("  email:    " + styleDim.Render(fmt.Sprint(failed.EmailErr)))
				return err
			}
			if err != nil {
				return err
			}

			printMatch(sched.Match)
			res := sched.Result
			switch {
			case res.Existing:
				fmt.Println(styleSuccess.Render("Event already on the calendar") + " " + styleDim.Render(res.ID))
			case res.Channel == dispatch.ChannelCalendar:
				fmt.Println(styleSuccess.Render("Calendar event created") + " " + styleDim.Render(res.ID))
			default:
				fmt.Println(styleWarn.Render("Calendar unavailable, invitation emailed") + " " + styleDim.Render(res.ID))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "event title (default page title)")
	cmd.Flags().StringVar(&attendee, "attendee", "", "invite this address")
	cmd.Flags().StringVar(&policy, "policy", "", "date choice: highest-confidence or soonest-future")
	cmd.Flags().StringVar(&start, "start", "", "explicit RFC 3339 start time, skipping date extraction")
	return cmd
}
