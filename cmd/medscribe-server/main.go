package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/medscribe/medscribe/internal/aiclient"
	"github.com/medscribe/medscribe/internal/config"
	"github.com/medscribe/medscribe/internal/platform/db"
	"github.com/medscribe/medscribe/internal/platform/poller"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "medscribe-server",
		Short: "Clinical documentation API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(taskCmd())
	rootCmd.AddCommand(transcribeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run PostgreSQL migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			count, err := migrator.Up(cmd.Context())
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}
			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			migrator, closePool, err := openMigrator(cmd)
			if err != nil {
				return err
			}
			defer closePool()

			statuses, err := migrator.Status(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (defaults to MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func openMigrator(cmd *cobra.Command) (*db.Migrator, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if cfg.StoreDriver != config.DriverPostgres {
		return nil, nil, fmt.Errorf("migrations apply to the %q driver only; the %q store migrates itself on open",
			config.DriverPostgres, cfg.StoreDriver)
	}
	dir, _ := cmd.Flags().GetString("dir")
	if dir == "" {
		dir = cfg.MigrationsDir
	}

	pool, err := db.NewPool(cmd.Context(), cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return db.NewMigrator(pool, dir), pool.Close, nil
}

// newAIClient builds a client for the one-shot CLI commands.
func newAIClient(cfg *config.Config) *aiclient.Client {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger().Level(zerolog.WarnLevel)
	return aiclient.New(aiClientConfig(cfg), logger, nil)
}

func aiClientConfig(cfg *config.Config) aiclient.Config {
	return aiclient.Config{
		BaseURL: cfg.AIServiceURL,
		ASRURL:  cfg.AIASRURL,
		Timeout: cfg.AIRequestTimeout,
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Inspect tasks on the AI service",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status <task-id>",
		Short: "Print the normalized status of a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			st, err := newAIClient(cfg).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(st)
		},
	})

	waitCmd := &cobra.Command{
		Use:   "wait <task-id>",
		Short: "Poll a task until it settles and print its result",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			interval, _ := cmd.Flags().GetDuration("interval")
			attempts, _ := cmd.Flags().GetInt("attempts")
			if interval <= 0 {
				interval = cfg.NotePollInterval
			}
			if attempts <= 0 {
				attempts = cfg.NoteMaxAttempts
			}

			p := poller.Poller{
				Interval:    interval,
				MaxAttempts: attempts,
				OnCheck: func(attempt int, st aiclient.TaskStatus) {
					fmt.Fprintf(os.Stderr, "check %d: %s\n", attempt, st.State)
				},
			}
			result, err := p.Wait(cmd.Context(), newAIClient(cfg), args[0])
			if err != nil {
				return err
			}
			fmt.Println(result)
			return nil
		},
	}
	waitCmd.Flags().Duration("interval", 0, "Delay before each status check (defaults to NOTE_POLL_INTERVAL)")
	waitCmd.Flags().Int("attempts", 0, "Maximum status checks (defaults to NOTE_MAX_ATTEMPTS)")
	cmd.AddCommand(waitCmd)

	return cmd
}

func transcribeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transcribe <audio-file>",
		Short: "Send an audio file to the speech service and print the transcript",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.AIRequestTimeout+time.Minute)
			defer cancel()
			text, err := newAIClient(cfg).Transcribe(ctx, aiclient.Attachment{Name: filepath.Base(args[0]), Content: f})
			if err != nil {
				return err
			}
			fmt.Println(text)
			return nil
		},
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
