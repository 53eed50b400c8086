package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/example/courtres/internal/reservation"
)

const defaultTimezone = "Asia/Tokyo"

func newReservationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "reservation",
		Aliases: []string{"res"},
		Short:   "Manage scheduled reservations",
	}
	cmd.AddCommand(newReservationCreateCmd())
	cmd.AddCommand(newReservationListCmd())
	cmd.AddCommand(newReservationGetCmd())
	cmd.AddCommand(newReservationDeleteCmd())
	return cmd
}

// parseExecuteAt accepts RFC3339 or "YYYY-MM-DD HH:MM[:SS]" in tz.
func parseExecuteAt(s, tz string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --timezone: %w", err)
	}
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid --execute-at %q (want RFC3339 or YYYY-MM-DD HH:MM)", s)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id < 1 {
		return 0, fmt.Errorf("invalid reservation id %q", s)
	}
	return id, nil
}

func newReservationCreateCmd() *cobra.Command {
	var (
		p         reservation.Params
		rawParams string
		executeAt string
		timezone  string
		validate  bool
	)

	c := &cobra.Command{
		Use:   "create",
		Short: "Schedule a booking attempt for one court slot",
		RunE: func(cmd *cobra.Command, args []string) error {
			at, err := parseExecuteAt(executeAt, timezone)
			if err != nil {
				return err
			}

			payload := json.RawMessage(rawParams)
			if rawParams == "" {
				if payload, err = json.Marshal(p); err != nil {
					return err
				}
			}
			if validate {
				if _, err := reservation.DecodeParams(payload); err != nil {
					return err
				}
			}

			ctx := cmdContext(cmd)
			a, err := openApp(ctx, appOptions{migrate: true})
			if err != nil {
				return err
			}
			defer a.Close()

			row, err := a.svc.Create(ctx, payload, at)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), row)
		},
	}

	c.Flags().IntVar(&p.FacilityID, "facility", 1, "facility id")
	c.Flags().IntVar(&p.CourtNo, "court", 0, "court number")
	c.Flags().StringVar(&p.Date, "date", "", "play date YYYY-MM-DD")
	c.Flags().StringVar(&p.StartTime, "start", "", "start time HH:MM")
	c.Flags().StringVar(&p.EndTime, "end", "", "end time HH:MM")
	c.Flags().StringVar(&rawParams, "params", "", "raw JSON payload (replaces --facility/--court/--date/--start/--end)")
	c.Flags().StringVar(&executeAt, "execute-at", "", "when the booking window opens (RFC3339 or YYYY-MM-DD HH:MM)")
	c.Flags().StringVar(&timezone, "timezone", defaultTimezone, "timezone for --execute-at without offset")
	c.Flags().BoolVar(&validate, "validate", true, "reject payloads that would fail at wake time")

	_ = c.MarkFlagRequired("execute-at")
	return c
}

func newReservationListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List reservations, latest execute time first",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmdContext(cmd)
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			rows, err := a.svc.List(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, r := range rows {
				fmt.Fprintf(out, "id=%d status=%s execute_at=%s actor=%s params=%s\n",
					r.ID, r.Status, r.ExecuteAt.Format(time.RFC3339), r.ActorID, r.Params)
			}
			return nil
		},
	}
}

func newReservationGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a reservation with its actor state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			d, err := a.svc.Get(ctx, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), d)
		},
	}
}

func newReservationDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a reservation and cancel its pending wake",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmdContext(cmd)
			a, err := openApp(ctx, appOptions{})
			if err != nil {
				return err
			}
			defer a.Close()

			removed, err := a.svc.Delete(ctx, id)
			if err != nil {
				return err
			}
			if !removed {
				return fmt.Errorf("reservation %d not found", id)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted reservation id=%d\n", id)
			return nil
		},
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
