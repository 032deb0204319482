package cli

import (
	"database/sql"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/candleclock"
	"github.com/nextlevelbuilder/candleclock/cluster"
	"github.com/nextlevelbuilder/candleclock/internal/config"
)

var (
	listLimit  int
	cancelID   string
	cancelName string
)

var timersCmd = &cobra.Command{
	Use:   "timers",
	Short: "Inspect and cancel persisted timers",
}

var timersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List outstanding timers ordered by next expiry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		timers, err := store.List(cmd.Context(), listLimit)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 2, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tCALLABLE\tNEXT EXPIRY\tSCHEDULE\tCALLS\tNAME")
		for _, t := range timers {
			fmt.Fprintf(w, "%s\t%s.%s\t%s\t%s\t%s\t%s\n",
				t.ID, t.Module, t.Function,
				t.ExpiresAt.Format(time.RFC3339),
				describeSchedule(t), describeCalls(t), orDash(t.Name))
		}
		return w.Flush()
	},
}

var timersCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel a timer by id or name",
	RunE: func(cmd *cobra.Command, _ []string) error {
		if (cancelID == "") == (cancelName == "") {
			return fmt.Errorf("exactly one of --id or --name is required")
		}
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		store, db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		sched := candleclock.NewScheduler(store,
			candleclock.WithBroadcaster(newBroadcaster(cfg, db)))
		if cancelID != "" {
			id, err := uuid.Parse(cancelID)
			if err != nil {
				return fmt.Errorf("invalid timer id %q: %w", cancelID, err)
			}
			if err := sched.CancelByID(cmd.Context(), id); err != nil {
				return err
			}
		} else if err := sched.CancelByName(cmd.Context(), cancelName); err != nil {
			return err
		}
		fmt.Println("cancelled")
		return nil
	},
}

func init() {
	timersListCmd.Flags().IntVar(&listLimit, "limit", 100, "maximum rows to print")
	timersCancelCmd.Flags().StringVar(&cancelID, "id", "", "timer id")
	timersCancelCmd.Flags().StringVar(&cancelName, "name", "", "timer name")
	timersCmd.AddCommand(timersListCmd, timersCancelCmd)
	rootCmd.AddCommand(timersCmd)
}

// newBroadcaster builds the hint fan-out for one-off commands so running
// dispatchers hear about the mutation. Errors degrade to no hints; the
// sleeping workers still recover on their own schedule.
func newBroadcaster(cfg *config.Config, db *sql.DB) candleclock.Broadcaster {
	switch cfg.Cluster.Transport {
	case "postgres":
		b, err := cluster.NewPostgres(db, cfg.Database.URL, cfg.Cluster.PGChannel)
		if err == nil {
			return b
		}
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.Cluster.RedisAddr})
		b, err := cluster.NewRedis(client, cfg.Cluster.RedisChannel)
		if err == nil {
			return b
		}
	}
	return candleclock.NopBroadcaster{}
}

func describeSchedule(t *candleclock.Timer) string {
	switch {
	case t.Crontab != "":
		if t.CrontabTimezone != "" {
			return fmt.Sprintf("cron %s (%s)", t.Crontab, t.CrontabTimezone)
		}
		return "cron " + t.Crontab
	case t.Interval != nil:
		return fmt.Sprintf("every %s", time.Duration(*t.Interval)*time.Millisecond)
	case t.Duration != nil:
		return fmt.Sprintf("after %s", time.Duration(*t.Duration)*time.Millisecond)
	}
	return "at"
}

func describeCalls(t *candleclock.Timer) string {
	if t.MaxCalls != nil {
		return fmt.Sprintf("%d/%d", t.Calls, *t.MaxCalls)
	}
	return fmt.Sprintf("%d", t.Calls)
}

func orDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
