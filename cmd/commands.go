package main

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"eventsync/internal/caldav"
	"eventsync/internal/maintenance"
	"eventsync/internal/reminder"
	"eventsync/internal/server"
	"eventsync/internal/store"

	"github.com/urfave/cli/v2"
)

func serveCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the Google Calendar webhook and run the reminder scheduler.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "no-reminders", Usage: "Do not run the reminder scheduler."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			gClient, err := rt.googleClient(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			s := rt.newSyncer(gClient)

			ctx, cancel := context.WithCancel(c.Context)
			defer cancel()

			schedulerDone := make(chan struct{})
			if c.Bool("no-reminders") {
				close(schedulerDone)
			} else {
				scheduler := reminder.NewScheduler(rt.logger, rt.store, rt.sender(), rt.cfg.ReminderInterval, rt.cfg.ReminderWindow)
				go func() {
					defer close(schedulerDone)
					_ = scheduler.Run(ctx)
				}()
			}

			srv := server.New(rt.logger, s, rt.store, rt.cfg.CronSecret)
			err = srv.Run(ctx, rt.cfg.Addr())
			cancel()
			<-schedulerDone
			return err
		},
	}
}

func syncCommand() *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Pull changes from Google Calendar into the event store.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run the sync cycle once and exit."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Poll interval in `SECONDS`. Ignored with --once."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			gClient, err := rt.googleClient(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			s := rt.newSyncer(gClient)

			interval, poll, err := pollInterval(c.Bool("once"), c.Int("watch"))
			if err != nil {
				return err
			}
			if poll {
				rt.logger.Info("Starting watcher.", "interval", interval)
				if err := s.Poll(c.Context, interval); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			rt.logger.Info("Running a single sync cycle.")
			report, err := s.Sync(c.Context)
			if err != nil {
				return fmt.Errorf("single sync cycle failed: %w", err)
			}
			for _, item := range report.Items {
				if item.Err != nil {
					fmt.Fprintf(c.App.Writer, "%s\t%s\tFAILED: %v\n", item.GoogleID, item.Action, item.Err)
					continue
				}
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", item.GoogleID, item.Action)
			}
			if n := report.Failed(); n > 0 {
				return fmt.Errorf("%d changes failed to reconcile", n)
			}
			return nil
		},
	}
}

// pollInterval decides between a single sync cycle and a poll loop. Polling
// is the default; once disables it.
func pollInterval(once bool, watchSeconds int) (time.Duration, bool, error) {
	if once {
		return 0, false, nil
	}
	if watchSeconds <= 0 {
		return 0, false, fmt.Errorf("--watch must be positive, got %d", watchSeconds)
	}
	return time.Duration(watchSeconds) * time.Second, true, nil
}

func watchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Register a new Google Calendar watch channel and stop the previous one.",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			gClient, err := rt.googleClient(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			ch, err := rt.newSyncer(gClient).RenewWatch(c.Context)
			if err != nil {
				return err
			}
			fmt.Fprintf(c.App.Writer, "channel %s (resource %s) expires %s\n", ch.ID, ch.ResourceID, ch.Expiration.Format(time.RFC3339))
			return nil
		},
	}
}

func remindCommand() *cli.Command {
	return &cli.Command{
		Name:  "remind",
		Usage: "Send organizer reminders for events starting soon.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "once", Usage: "Run one sweep and exit."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			scheduler := reminder.NewScheduler(rt.logger, rt.store, rt.sender(), rt.cfg.ReminderInterval, rt.cfg.ReminderWindow)
			if !c.Bool("once") {
				if err := scheduler.Run(c.Context); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			}

			report, err := scheduler.Sweep(c.Context, time.Now())
			if err != nil {
				return err
			}
			if n := report.Count(reminder.OutcomeFailed); n > 0 {
				return fmt.Errorf("%d reminders failed", n)
			}
			return nil
		},
	}
}

func exportCommand() *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Push local events that are not linked yet to Google Calendar.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "update", Usage: "Also overwrite the Google copy of linked events."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			gClient, err := rt.googleClient(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			res, err := maintenance.New(rt.logger, gClient, rt.store).Export(c.Context, c.Bool("update"))
			if err != nil {
				return err
			}
			rt.logger.Info("Export finished", "processed", res.Processed, "failed", res.Failed)
			if res.Failed > 0 {
				return fmt.Errorf("%d events failed to export", res.Failed)
			}
			return nil
		},
	}
}

func mirrorCommand() *cli.Command {
	return &cli.Command{
		Name:  "mirror",
		Usage: "Mirror published events into a CalDAV calendar.",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if rt.cfg.CalDAVCalendarName == "" {
				return errors.New("CALDAV_CALENDAR_NAME must be set")
			}
			client, err := caldav.NewClient(c.Context, rt.logger, caldav.Config{
				Endpoint:     rt.cfg.CalDAVEndpoint,
				Username:     rt.cfg.CalDAVUsername,
				Password:     rt.cfg.CalDAVPassword,
				CalendarName: rt.cfg.CalDAVCalendarName,
			})
			if err != nil {
				return fmt.Errorf("failed to create caldav client: %w", err)
			}

			events, err := rt.store.ListEvents(c.Context, store.ListOptions{})
			if err != nil {
				return err
			}
			_, err = client.Mirror(c.Context, events)
			return err
		},
	}
}

func cleanupCommand() *cli.Command {
	return &cli.Command{
		Name:  "cleanup",
		Usage: "Delete events whose title matches a pattern.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "pattern", Value: "not-good", Usage: "Case-insensitive regular expression matched against titles."},
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be deleted without making changes."},
		},
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			if c.Bool("dry-run") {
				rt.logger.Info("Performing a dry run. No changes will be made.")
			}

			var cal maintenance.Calendar
			if rt.cfg.HasGoogleCredentials() {
				gClient, err := rt.googleClient(c.Context)
				if err != nil {
					return fmt.Errorf("failed to create google client: %w", err)
				}
				cal = gClient
			}

			res, err := maintenance.New(rt.logger, cal, rt.store).Cleanup(c.Context, c.String("pattern"), c.Bool("dry-run"))
			if err != nil {
				return err
			}
			rt.logger.Info("Cleanup finished", "matched", res.Processed, "failed", res.Failed)
			return nil
		},
	}
}

func calendarsCommand() *cli.Command {
	return &cli.Command{
		Name:  "calendars",
		Usage: "List the calendars the service account can access.",
		Action: func(c *cli.Context) error {
			rt, err := newRuntime(c)
			if err != nil {
				return err
			}
			defer rt.Close()

			gClient, err := rt.googleClient(c.Context)
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			calendars, err := gClient.ListCalendars(c.Context)
			if err != nil {
				return err
			}
			ids := make([]string, 0, len(calendars))
			for id := range calendars {
				ids = append(ids, id)
			}
			sort.Strings(ids)
			for _, id := range ids {
				fmt.Fprintf(c.App.Writer, "%s\t%s\n", id, calendars[id])
			}
			return nil
		},
	}
}
