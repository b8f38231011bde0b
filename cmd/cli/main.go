package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-issue-worker/internal/app"
	"github.com/kurihiro0119/github-issue-worker/internal/broker"
	"github.com/kurihiro0119/github-issue-worker/internal/config"
	"github.com/kurihiro0119/github-issue-worker/internal/logger"
	"github.com/kurihiro0119/github-issue-worker/internal/pipeline"
	"github.com/kurihiro0119/github-issue-worker/internal/queue"
	"github.com/kurihiro0119/github-issue-worker/internal/storage"
	"github.com/kurihiro0119/github-issue-worker/internal/worker"
	"github.com/kurihiro0119/github-issue-worker/pkg/client"
)

var (
	outputJSON bool
	verbose    bool
	notify     bool
)

var rootCmd = &cobra.Command{
	Use:   "github-issue-worker",
	Short: "GitHub issue collector",
	Long: `A CLI tool for collecting GitHub issues into a relational store.

Issues are stored together with their events, comments, labels and assignees.
Contributors are created on first reference and keys stay stable across runs,
so collecting the same repository again only adds what is new.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger.SetVerbose(verbose)
	},
}

var collectCmd = &cobra.Command{
	Use:   "collect [git_url]",
	Short: "Collect the issues of one repository",
	Long:  `Register the repository if needed, collect its issues once and exit.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runCollect,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Collect every known repository",
	Long:  `Queue every repository in the store and process them one by one, then exit.`,
	Args:  cobra.NoArgs,
	RunE:  runAll,
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the database schema",
	Args:  cobra.NoArgs,
	RunE:  runMigrate,
}

var reposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Show collected repositories",
	Long:  `Display the row counts collected for each repository.`,
	Args:  cobra.NoArgs,
	RunE:  runRepos,
}

var addRepoCmd = &cobra.Command{
	Use:   "add-repo [git_url]",
	Short: "Register a repository",
	Args:  cobra.ExactArgs(1),
	RunE:  runAddRepo,
}

var enqueueCmd = &cobra.Command{
	Use:   "enqueue [git_url]",
	Short: "Queue a repository on a running worker",
	Args:  cobra.ExactArgs(1),
	RunE:  runEnqueue,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of a running worker",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&outputJSON, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	collectCmd.Flags().BoolVar(&notify, "notify", false, "send completion notifications to the broker")
	runCmd.Flags().BoolVar(&notify, "notify", false, "send completion notifications to the broker")

	rootCmd.AddCommand(collectCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(reposCmd)
	rootCmd.AddCommand(addRepoCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(statusCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig loads the configuration, requiring a GitHub token only when asked to
func loadConfig(needsGitHub bool) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if verbose {
		cfg.Verbose = true
	}
	logger.SetVerbose(cfg.Verbose)

	if needsGitHub {
		err = cfg.Validate()
	} else {
		err = cfg.ValidateStorage()
	}
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func openStorage(cfg *config.Config) (storage.Storage, error) {
	store, err := app.OpenStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return store, nil
}

func notifier(cfg *config.Config) pipeline.Notifier {
	if !notify {
		return nil
	}
	return broker.NewClient(cfg.BrokerURL, cfg.WorkerID)
}

func runCollect(cmd *cobra.Command, args []string) error {
	gitURL := args[0]

	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	task, err := store.SaveRepository(ctx, gitURL)
	if err != nil {
		return fmt.Errorf("failed to register repository: %w", err)
	}

	ing, err := app.NewIngestion(ctx, cfg, store, notifier(cfg))
	if err != nil {
		return err
	}

	fmt.Printf("Collecting issues for %s (repo_id %d)\n", task.RepoGit, task.RepoID)
	summary, err := ing.Pipeline.ProcessRepository(ctx, task)
	if summary != nil {
		printSummary(summary)
	}
	if err != nil {
		return fmt.Errorf("collection failed: %w", err)
	}

	q := ing.Collector.Gate().Quota()
	fmt.Printf("\nGitHub quota: %d/%d remaining\n", q.Remaining, q.Limit)
	return nil
}

func runAll(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(true)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()
	ing, err := app.NewIngestion(ctx, cfg, store, notifier(cfg))
	if err != nil {
		return err
	}

	q := queue.New()
	n, err := worker.Seed(ctx, store, q)
	if err != nil {
		return fmt.Errorf("failed to load repositories: %w", err)
	}
	if n == 0 {
		fmt.Println("No repositories registered. Use add-repo first.")
		return nil
	}
	q.Push(queue.Message{Type: queue.TypeExit})

	w := worker.New(q, ing.Pipeline)
	if err := w.Run(ctx); err != nil {
		return err
	}

	status := w.Status()
	fmt.Printf("\nProcessed %d repositories, %d failed\n", status.Processed, status.Failed)
	return nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.Migrate(context.Background()); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	fmt.Printf("Schema is up to date (%s)\n", cfg.StorageType)
	return nil
}

func runRepos(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	stats, err := store.GetRepositoryStats(context.Background())
	if err != nil {
		return fmt.Errorf("failed to get repository stats: %w", err)
	}

	if outputJSON {
		return printJSON(stats)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Repo ID", "Repository", "Issues", "Messages", "Events", "Labels", "Assignees"})
	for _, s := range stats {
		table.Append([]string{
			fmt.Sprintf("%d", s.RepoID),
			s.RepoGit,
			fmt.Sprintf("%d", s.Issues),
			fmt.Sprintf("%d", s.Messages),
			fmt.Sprintf("%d", s.Events),
			fmt.Sprintf("%d", s.Labels),
			fmt.Sprintf("%d", s.Assignees),
		})
	}
	table.Render()
	return nil
}

func runAddRepo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	store, err := openStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	task, err := store.SaveRepository(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to register repository: %w", err)
	}
	fmt.Printf("Registered %s as repo_id %d\n", task.RepoGit, task.RepoID)
	return nil
}

func runEnqueue(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	task, err := client.NewClient(cfg.APIEndpoint).Enqueue(args[0])
	if err != nil {
		return fmt.Errorf("failed to enqueue: %w", err)
	}
	fmt.Printf("Queued %s (repo_id %d)\n", task.RepoGit, task.RepoID)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	status, err := client.NewClient(cfg.APIEndpoint).GetStatus()
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}

	if outputJSON {
		return printJSON(status)
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Field", "Value"})
	table.Append([]string{"Worker ID", status.WorkerID})
	table.Append([]string{"Queue Length", fmt.Sprintf("%d", status.QueueLength)})
	if status.Worker != nil {
		table.Append([]string{"Busy", fmt.Sprintf("%t", status.Worker.Busy)})
		table.Append([]string{"Processed", fmt.Sprintf("%d", status.Worker.Processed)})
		table.Append([]string{"Failed", fmt.Sprintf("%d", status.Worker.Failed)})
	}
	if status.RateLimit != nil {
		table.Append([]string{"Quota", fmt.Sprintf("%d/%d", status.RateLimit.Remaining, status.RateLimit.Limit)})
		table.Append([]string{"Quota Reset", status.RateLimit.Reset})
	}
	table.Render()
	return nil
}

func printSummary(s *pipeline.Summary) {
	if outputJSON {
		_ = printJSON(s)
		return
	}

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Metric", "Value"})
	table.Append([]string{"Contributors", fmt.Sprintf("%d", s.Contributors)})
	table.Append([]string{"Issues", fmt.Sprintf("%d", s.Issues)})
	table.Append([]string{"Issues Already Stored", fmt.Sprintf("%d", s.IssuesSkipped)})
	table.Append([]string{"Issues Malformed", fmt.Sprintf("%d", s.IssuesMalformed)})
	table.Append([]string{"Issues Failed", fmt.Sprintf("%d", s.IssuesFailed)})
	table.Append([]string{"Events", fmt.Sprintf("%d", s.Events)})
	table.Append([]string{"Messages", fmt.Sprintf("%d", s.Messages)})
	table.Append([]string{"Labels", fmt.Sprintf("%d", s.Labels)})
	table.Append([]string{"Assignees", fmt.Sprintf("%d", s.Assignees)})
	table.Append([]string{"Records Skipped", fmt.Sprintf("%d", s.RecordsSkipped)})
	table.Render()
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
