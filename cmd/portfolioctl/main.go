// Command portfolioctl operates on a portfolio database directly: list
// projects, apply action files, undo actions and move portfolios in and out.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/p-blackswan/portfolio-agent/internal/config"
	"github.com/p-blackswan/portfolio-agent/internal/domain"
	"github.com/p-blackswan/portfolio-agent/internal/executor"
	"github.com/p-blackswan/portfolio-agent/internal/ledger"
	"github.com/p-blackswan/portfolio-agent/internal/orchestrator"
	"github.com/p-blackswan/portfolio-agent/internal/store"
	"github.com/p-blackswan/portfolio-agent/internal/validate"
)

var (
	dbPath     string
	jsonOutput bool
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:           "portfolioctl",
	Short:         "Operate on a portfolio database",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	defaultDB := "portfolio.db"
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		defaultDB = v
	}
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", defaultDB, "path to the portfolio database")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log at debug level")

	rootCmd.AddCommand(projectsCmd())
	rootCmd.AddCommand(applyCmd())
	rootCmd.AddCommand(undoCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(importCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// portfolio is an orchestrator bound to the database for one command.
type portfolio struct {
	db   *store.Store
	orch *orchestrator.Orchestrator
}

func withPortfolio(ctx context.Context, fn func(ctx context.Context, p *portfolio) error) error {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := store.New(dbPath, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	g, err := db.LoadGraph(ctx)
	if err != nil {
		return err
	}
	led := ledger.New(db, logger)
	if err := led.Load(ctx); err != nil {
		return err
	}

	ex := executor.New(executor.Config{
		TaskDueDays:    cfg.TaskDueDays,
		SubtaskDueDays: cfg.SubtaskDueDays,
	}, logger)
	orch := orchestrator.New(validate.New(), ex, led, logger)
	orch.SetPersister(db)
	orch.AddObserver(store.NewAuditObserver(db, logger))
	orch.Load(g)

	return fn(ctx, &portfolio{db: db, orch: orch})
}

func projectsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "projects",
		Short: "List projects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortfolio(cmd.Context(), func(ctx context.Context, p *portfolio) error {
				g := p.orch.Snapshot()
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), g.Projects)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(cmd.OutOrStdout())
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Priority", "Progress", "Tasks", "Open", "Activity"})
				for _, pr := range g.Projects {
					tw.AppendRow(table.Row{pr.ID, pr.Name, pr.Status, pr.Priority, fmt.Sprintf("%d%%", pr.Progress), len(pr.Plan), openTasks(pr), len(pr.RecentActivity)})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func applyCmd() *cobra.Command {
	var author, turnID, reply string
	var strict bool
	cmd := &cobra.Command{
		Use:   "apply <file>",
		Short: "Validate and execute an action list (JSON array, or {\"actions\": [...]}); - reads stdin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			raws, err := parseActions(data)
			if err != nil {
				return err
			}
			if turnID == "" {
				turnID = uuid.New().String()
			}
			return withPortfolio(cmd.Context(), func(ctx context.Context, p *portfolio) error {
				rep, err := p.orch.Submit(ctx, turnID, author, raws, strict)
				if err != nil {
					return err
				}
				if rep.Status == orchestrator.BatchSuspended {
					// A CLI run cannot wait for an answer.
					if reply != "" {
						rep, err = p.orch.Resume(ctx, turnID, reply)
					} else {
						printQuestion(cmd.ErrOrStderr(), rep.Question)
						rep, err = p.orch.Abandon(ctx, turnID)
					}
					if err != nil {
						return err
					}
				}
				return printReport(cmd.OutOrStdout(), rep)
			})
		},
	}
	cmd.Flags().StringVar(&author, "author", "You", "author recorded on comments")
	cmd.Flags().StringVar(&turnID, "turn", "", "turn id (generated when empty)")
	cmd.Flags().StringVar(&reply, "reply", "", "answer to an ask_user action in the list")
	cmd.Flags().BoolVar(&strict, "strict", false, "reject the whole list when any action is invalid")
	return cmd
}

func undoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "undo <turn> <index>",
		Short: "Undo one applied action",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := strconv.Atoi(args[1])
			if err != nil || index < 0 {
				return fmt.Errorf("index must be a non-negative integer: %q", args[1])
			}
			return withPortfolio(cmd.Context(), func(ctx context.Context, p *portfolio) error {
				res, err := p.orch.Undo(ctx, args[0], index)
				if err != nil {
					return err
				}
				if jsonOutput {
					return printJSON(cmd.OutOrStdout(), res)
				}
				if res.AlreadyUndone {
					fmt.Fprintf(cmd.OutOrStdout(), "%s #%d was already undone\n", args[0], index)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "undone: %s\n", res.Entry.Delta.Describe())
				return nil
			})
		},
	}
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export [file]",
		Short: "Write the portfolio as JSON",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPortfolio(cmd.Context(), func(ctx context.Context, p *portfolio) error {
				g := p.orch.Snapshot()
				if len(args) == 0 || args[0] == "-" {
					return printJSON(cmd.OutOrStdout(), g)
				}
				f, err := os.Create(args[0])
				if err != nil {
					return err
				}
				defer f.Close()
				if err := printJSON(f, g); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "exported %d projects to %s\n", len(g.Projects), args[0])
				return nil
			})
		},
	}
}

func importCmd() *cobra.Command {
	var mode string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Load a portfolio JSON document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := orchestrator.ParseImportMode(mode)
			if err != nil {
				return err
			}
			data, err := readInput(cmd.InOrStdin(), args[0])
			if err != nil {
				return err
			}
			var g domain.Graph
			if err := json.Unmarshal(data, &g); err != nil {
				return fmt.Errorf("parse portfolio: %w", err)
			}
			return withPortfolio(cmd.Context(), func(ctx context.Context, p *portfolio) error {
				next, err := p.orch.Import(ctx, g, m)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported (%s): %d projects, %d people\n", m, len(next.Projects), len(next.People))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(orchestrator.ImportMerge), "replace or merge")
	return cmd
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// parseActions accepts a bare array or an object with an "actions" array.
func parseActions(data []byte) ([]json.RawMessage, error) {
	var list []json.RawMessage
	if err := json.Unmarshal(data, &list); err == nil {
		if len(list) == 0 {
			return nil, fmt.Errorf("no actions in input")
		}
		return list, nil
	}
	var doc struct {
		Actions []json.RawMessage `json:"actions"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse actions: %w", err)
	}
	if len(doc.Actions) == 0 {
		return nil, fmt.Errorf("no actions in input")
	}
	return doc.Actions, nil
}

func openTasks(p domain.Project) int {
	n := 0
	for _, t := range p.Plan {
		if t.Status != domain.StatusCompleted {
			n++
		}
	}
	return n
}

func printReport(w io.Writer, rep orchestrator.Report) error {
	if jsonOutput {
		return printJSON(w, rep)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(w)
	tw.SetTitle(fmt.Sprintf("turn %s: %s", rep.TurnID, rep.Status))
	tw.AppendHeader(table.Row{"#", "Type", "Status", "Entity", "Detail"})
	for _, o := range rep.Outcomes {
		detail := o.Label
		if o.Error != "" {
			detail = o.Error
		} else if o.Detail != "" {
			detail = strings.TrimSpace(detail + " " + o.Detail)
		}
		tw.AppendRow(table.Row{o.Index, o.Type, o.Status, o.EntityID, detail})
	}
	tw.Render()
	if rep.Fault != "" {
		fmt.Fprintln(w, "fault:", rep.Fault)
	}
	if rep.PersistError != "" {
		fmt.Fprintln(w, "persist error:", rep.PersistError)
	}
	return nil
}

func printQuestion(w io.Writer, q *orchestrator.Question) {
	if q == nil {
		return
	}
	fmt.Fprintf(w, "question at action %d: %s\n", q.Index, q.Question)
	for _, opt := range q.Options {
		fmt.Fprintf(w, "  - %s\n", opt)
	}
	fmt.Fprintln(w, "re-run with --reply to answer; remaining actions were not run")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
