package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pbaille/jot/internal/api"
	"github.com/pbaille/jot/internal/classifier"
	"github.com/pbaille/jot/internal/config"
	"github.com/pbaille/jot/internal/domain"
	"github.com/pbaille/jot/internal/fetcher"
	"github.com/pbaille/jot/internal/health"
	"github.com/pbaille/jot/internal/ingress"
	"github.com/pbaille/jot/internal/ledger"
	"github.com/pbaille/jot/internal/logging"
	"github.com/pbaille/jot/internal/metrics"
	"github.com/pbaille/jot/internal/pipeline"
	"github.com/pbaille/jot/internal/router"
	"github.com/pbaille/jot/internal/store"
)

var (
	configPath string
	homeDir    string
	logLevel   string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "jot",
		Short:         "Capture thoughts now, classify and file them later",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $XDG_CONFIG_HOME/jot/config.toml)")
	rootCmd.PersistentFlags().StringVar(&homeDir, "home", "", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(addCmd())
	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(findCmd())
	rootCmd.AddCommand(showCmd())
	rootCmd.AddCommand(doneCmd())
	rootCmd.AddCommand(retypeCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(rmCmd())
	rootCmd.AddCommand(reviewCmd())
	rootCmd.AddCommand(statsCmd())
	rootCmd.AddCommand(tagsCmd())
	rootCmd.AddCommand(healthCmd())
	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func getConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if homeDir != "" {
		cfg.Home = homeDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getLogger(cfg *config.Config) (*zap.Logger, error) {
	return logging.New(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.Output)
}

// setup loads config and builds the logger every command needs.
func setup() (*config.Config, *zap.Logger, error) {
	cfg, err := getConfig()
	if err != nil {
		return nil, nil, err
	}
	logger, err := getLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func getStore(cfg *config.Config) (*store.Store, error) {
	return store.New(cfg.DBPath())
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func addCmd() *cobra.Command {
	var source string

	cmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Capture a thought (reads stdin for \"-\" or when piped)",
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := captureText(args, cmd.InOrStdin())
			if err != nil {
				return err
			}

			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			id, err := ingress.New(cfg.InboxPath(), logger).Append(text, source)
			if errors.Is(err, ingress.ErrEmptyCapture) {
				return fmt.Errorf("nothing to capture")
			}
			if err != nil {
				return err
			}

			fmt.Printf("Captured %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVarP(&source, "source", "s", "cli", "capture source")
	return cmd
}

func captureText(args []string, stdin io.Reader) (string, error) {
	if (len(args) == 1 && args[0] == "-") || (len(args) == 0 && stdinPiped()) {
		b, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("read stdin: %w", err)
		}
		return strings.TrimRight(string(b), "\n"), nil
	}
	if len(args) == 0 {
		return "", fmt.Errorf("nothing to capture")
	}
	return strings.Join(args, " "), nil
}

func stdinPiped() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice == 0
}

func processCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "process",
		Short: "Classify and route pending captures",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			metrics.Init()

			provider, err := classifier.NewProvider(cfg.LLM)
			if err != nil {
				return fmt.Errorf("classifier: %w", err)
			}

			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			l, err := ledger.Open(cfg.LedgerPath(), logger)
			if err != nil {
				return err
			}

			var pages pipeline.PageFetcher
			if cfg.Fetch.Enabled {
				pages = fetcher.New(cfg.Fetch.Timeout)
			}

			p := pipeline.New(
				ingress.New(cfg.InboxPath(), logger),
				l,
				classifier.New(provider, cfg.LLM, logger),
				router.New(cfg, s, l, router.NewNotifier(cfg.Notify), logger),
				pages,
				os.Stdout,
				logger,
			)

			ctx, cancel := signalContext()
			defer cancel()

			_, err = p.Run(ctx)
			return err
		},
	}
}

func listCmd() *cobra.Command {
	var (
		typ     string
		project string
		all     bool
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List entries, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := store.ListFilter{Project: project, All: all, Limit: limit}
			if typ != "" {
				t, ok := domain.ParseEntryType(typ)
				if !ok {
					return fmt.Errorf("unknown type %q", typ)
				}
				f.Type = t
			}

			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.ListEntries(f)
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("No entries.")
				return nil
			}
			for _, e := range entries {
				printEntryLine(e)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&typ, "type", "t", "", "filter by type (task, thought, person, event)")
	cmd.Flags().StringVarP(&project, "project", "p", "", "filter by project")
	cmd.Flags().BoolVarP(&all, "all", "a", false, "include completed tasks")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum entries")
	return cmd
}

func printEntryLine(e domain.Entry) {
	mark := " "
	switch {
	case e.Completed():
		mark = "✓"
	case e.NeedsReclassification:
		mark = "?"
	}
	fmt.Printf("%4d %s %-8s %s\n", e.Seq, mark, e.Type, truncate(e.Title, 60))
}

func findCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "find [query]",
		Short: "Full-text search over titles and bodies",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			hits, err := s.Search(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}

			if len(hits) == 0 {
				fmt.Println("No matching entries found.")
				return nil
			}
			for _, h := range hits {
				printEntryLine(h.Entry)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum results")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [ref]",
		Short: "Show an entry and its classification history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Resolve(args[0])
			if err != nil {
				return err
			}
			e, err := s.GetEntry(id)
			if err != nil {
				return err
			}

			fmt.Printf("ID:         %s (#%d)\n", e.ID, e.Seq)
			fmt.Printf("Type:       %s (confidence %.2f)\n", e.Type, e.Confidence)
			fmt.Printf("Title:      %s\n", e.Title)
			fmt.Printf("Created:    %s\n", e.CreatedAt.Local().Format("2006-01-02 15:04"))
			fmt.Printf("Source:     %s\n", e.Source)
			if e.Priority != "" {
				fmt.Printf("Priority:   %s\n", e.Priority)
			}
			if e.DueDate != "" {
				fmt.Printf("Due:        %s\n", e.DueDate)
			}
			if e.CompletedAt != nil {
				fmt.Printf("Completed:  %s\n", e.CompletedAt.Local().Format("2006-01-02 15:04"))
			}
			if e.Project != "" {
				fmt.Printf("Project:    %s\n", e.Project)
			}
			if len(e.Tags) > 0 {
				fmt.Printf("Tags:       %s\n", strings.Join(e.Tags, ", "))
			}
			if len(e.People) > 0 {
				fmt.Printf("People:     %s\n", strings.Join(e.People, ", "))
			}
			if e.DocumentPath != "" {
				fmt.Printf("Document:   %s\n", e.DocumentPath)
			}
			if e.NeedsReclassification {
				fmt.Println("Review:     needs reclassification")
			}
			if e.Body != "" {
				fmt.Printf("\n%s\n", e.Body)
			}
			fmt.Printf("\nRaw input:\n%s\n", e.RawInput)

			logs, err := s.ClassifierLogs(id)
			if err != nil {
				return err
			}
			if len(logs) > 0 {
				fmt.Println("\nHistory:")
			}
			for _, l := range logs {
				line := fmt.Sprintf("  %s  %s  %.2f  %s  %dms",
					l.Timestamp.Local().Format("2006-01-02 15:04"), l.Status, l.Confidence, l.Model, l.LatencyMS)
				if l.FailureKind != "" {
					line += fmt.Sprintf("  [%s: %s]", l.FailureKind, truncate(l.FailureReason, 60))
				}
				fmt.Println(line)
			}
			return nil
		},
	}
}

func doneCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "done [ref]",
		Short: "Mark a task as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Resolve(args[0])
			if err != nil {
				return err
			}
			done, err := s.CompleteTask(id)
			if err != nil {
				return err
			}

			if done {
				fmt.Printf("Completed %s\n", id)
			} else {
				fmt.Printf("%s is not an open task\n", id)
			}
			return nil
		},
	}
}

func retypeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "retype [ref] [type]",
		Short: "Change an entry's type and clear its review flag",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			typ, ok := domain.ParseEntryType(args[1])
			if !ok {
				return fmt.Errorf("type must be one of task, thought, person, event")
			}

			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Resolve(args[0])
			if err != nil {
				return err
			}
			if _, err := s.UpdateEntryType(id, typ); err != nil {
				return err
			}

			fmt.Printf("%s is now a %s\n", id, typ)
			return nil
		},
	}
}

func editCmd() *cobra.Command {
	var (
		title string
		body  string
	)

	cmd := &cobra.Command{
		Use:   "edit [ref]",
		Short: "Change an entry's title or body",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("title") && !cmd.Flags().Changed("body") {
				return fmt.Errorf("nothing to change: pass --title or --body")
			}

			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Resolve(args[0])
			if err != nil {
				return err
			}
			e, err := s.GetEntry(id)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("title") {
				e.Title = strings.TrimSpace(title)
			}
			if cmd.Flags().Changed("body") {
				e.Body = body
			}
			if e.Title == "" {
				return fmt.Errorf("title must not be empty")
			}

			if _, err := s.UpdateEntryText(id, e.Title, e.Body); err != nil {
				return err
			}
			fmt.Printf("Updated %s\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&title, "title", "", "new title")
	cmd.Flags().StringVar(&body, "body", "", "new body")
	return cmd
}

func rmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rm [ref]",
		Short: "Delete an entry (its classification history is kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			id, err := s.Resolve(args[0])
			if err != nil {
				return err
			}
			if _, err := s.DeleteEntry(id); err != nil {
				return err
			}
			fmt.Printf("Deleted %s\n", id)
			return nil
		},
	}
}

func reviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review",
		Short: "List entries waiting for manual review",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			entries, err := s.PendingReview()
			if err != nil {
				return err
			}

			if len(entries) == 0 {
				fmt.Println("Manual review queue is empty.")
				return nil
			}
			for _, e := range entries {
				fmt.Printf("%4d  %.2f  %s\n", e.Seq, e.Confidence, truncate(e.RawInput, 60))
			}
			fmt.Printf("\nFix with: jot retype <ref> <type>\n")
			return nil
		},
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show entry counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			stats, err := s.Stats()
			if err != nil {
				return err
			}

			fmt.Printf("Total:          %d\n", stats.Total)
			types := make([]string, 0, len(stats.ByType))
			for t := range stats.ByType {
				types = append(types, string(t))
			}
			sort.Strings(types)
			for _, t := range types {
				fmt.Printf("  %-12s  %d\n", t, stats.ByType[domain.EntryType(t)])
			}
			fmt.Printf("Open tasks:     %d\n", stats.OpenTasks)
			fmt.Printf("Pending review: %d\n", stats.PendingReview)
			return nil
		},
	}
}

func tagsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tags",
		Short: "List tags by usage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := getConfig()
			if err != nil {
				return err
			}
			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			tags, err := s.ListTags()
			if err != nil {
				return err
			}

			if len(tags) == 0 {
				fmt.Println("No tags yet.")
				return nil
			}
			for _, t := range tags {
				fmt.Printf("%-24s %d\n", t.Name, t.Count)
			}
			return nil
		},
	}
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check every component",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()

			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			report := health.NewChecker(cfg, s, ingress.New(cfg.InboxPath(), logger), logger).Check()
			for _, c := range report.Checks {
				fmt.Printf("%s %-14s %s\n", c.Status.Symbol(), c.Name, c.Detail)
			}

			if !report.Healthy() {
				return fmt.Errorf("unhealthy")
			}
			return nil
		},
	}
}

func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the REST API server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := setup()
			if err != nil {
				return err
			}
			defer logger.Sync()
			metrics.Init()

			if addr == "" {
				addr = cfg.Server.Addr
			}

			s, err := getStore(cfg)
			if err != nil {
				return err
			}
			defer s.Close()

			inbox := ingress.New(cfg.InboxPath(), logger)
			server := api.New(s, inbox, health.NewChecker(cfg, s, inbox, logger), addr, logger)

			ctx, cancel := signalContext()
			defer cancel()
			return server.Run(ctx)
		},
	}

	cmd.Flags().StringVarP(&addr, "addr", "a", "", "server address (default from config)")
	return cmd
}
