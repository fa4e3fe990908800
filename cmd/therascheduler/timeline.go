package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/gabeliss/therascheduler-sub001/internal/config"
	"github.com/gabeliss/therascheduler-sub001/internal/domain/scheduling"
)

func timelineCmd() *cobra.Command {
	var therapist, date string

	cmd := &cobra.Command{
		Use:   "timeline",
		Short: "Print a therapist's resolved timeline for one date",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(therapist)
			if err != nil {
				return fmt.Errorf("--therapist: %w", err)
			}

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			loc, err := cfg.Location()
			if err != nil {
				return err
			}
			day, err := timelineDate(date, time.Now().In(loc))
			if err != nil {
				return err
			}

			logger := newLogger(cfg.IsDev())
			ctx := context.Background()
			d, err := connect(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer d.Close()

			svc, err := newService(cfg, d, nil, logger)
			if err != nil {
				return err
			}
			blocks, err := svc.Timeline(ctx, id, day)
			if err != nil {
				return err
			}
			writeTimeline(cmd.OutOrStdout(), day, blocks)
			return nil
		},
	}
	cmd.Flags().StringVar(&therapist, "therapist", "", "therapist id (uuid)")
	cmd.Flags().StringVar(&date, "date", "", "date as YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("therapist")
	return cmd
}

func timelineDate(s string, now time.Time) (scheduling.Date, error) {
	if s == "" {
		return scheduling.DateOf(now), nil
	}
	d, err := scheduling.ParseDate(s)
	if err != nil {
		return scheduling.Date{}, fmt.Errorf("--date: %w", err)
	}
	return d, nil
}

func writeTimeline(w io.Writer, day scheduling.Date, blocks []scheduling.TimeBlock) {
	fmt.Fprintf(w, "%s (%s)\n", day, day.Weekday())
	if len(blocks) == 0 {
		fmt.Fprintln(w, "no blocks")
		return
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "START\tEND\tTYPE\tDETAIL\tID")
	for _, b := range blocks {
		start, end := b.StartTime, b.EndTime
		if b.IsAllDay {
			start, end = "all day", ""
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", start, end, b.Type, blockDetail(b), b.ID)
	}
	tw.Flush()
}

func blockDetail(b scheduling.TimeBlock) string {
	switch {
	case b.ClientName != "" && b.Status != "":
		return fmt.Sprintf("%s [%s]", b.ClientName, b.Status)
	case b.ClientName != "":
		return b.ClientName
	case b.Reason != "":
		return b.Reason
	case b.Recurring:
		return "recurring"
	}
	return ""
}
