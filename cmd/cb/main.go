package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"changeboard/internal/classify"
	"changeboard/internal/config"
	"changeboard/internal/db"
	"changeboard/internal/engine"
	"changeboard/internal/migrate"
	"changeboard/internal/repo"
	"changeboard/internal/seed"
	"changeboard/internal/server"
	"changeboard/internal/stage"
	"changeboard/internal/view"
)

var rootCmd = &cobra.Command{
	Use:   "cb",
	Short: "Changeboard CLI",
	Long: `Changeboard tracks engineering change requests through their approval lifecycle.
- Workspace: your .changeboard directory holding the database; project settings live in changeboard.yml.
- Records: change requests (PCR, EI, CO, Determination) with money, sponsors, reviewers, and signatures.
- Stages: six approval steps from PCR proposal to AA/SA closure; progress is derived from stage order.
- Committee: records flagged for the next Change Committee meeting, plus carry-overs from earlier meetings.
- Summary: totals, classification buckets, and the approved spend against the project change limit.
- Export: the full register as CSV for offline review.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	zerolog.SetGlobalLevel(zerolog.WarnLevel)
	if os.Getenv("CHANGEBOARD_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("CHANGEBOARD")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("actor-id", "local-user", "actor identifier")
	rootCmd.PersistentFlags().Bool("force", false, "force operation")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("actor-id", rootCmd.PersistentFlags().Lookup("actor-id"))
	_ = viper.BindPFlag("force", rootCmd.PersistentFlags().Lookup("force"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(stageCmd())
	rootCmd.AddCommand(recordCmd())
	rootCmd.AddCommand(summaryCmd())
	rootCmd.AddCommand(agendaCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(seedCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize a workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists", path)
			}
			if err := os.WriteFile(path, []byte(config.GenerateDefault(projectID)), 0o644); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			fmt.Printf("Initialized workspace: %s and %s\n", path, db.Path(workspace))
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project-id", "project", "project id")
	return cmd
}

func stageCmd() *cobra.Command {
	st := &cobra.Command{Use: "stage", Short: "Lifecycle stages"}
	st.AddCommand(stageListCmd())
	return st
}

func stageListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stages in lifecycle order",
		RunE: func(cmd *cobra.Command, args []string) error {
			stages := stage.All()
			if viper.GetBool("json") {
				return printJSON(stages)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Order", "Key", "Name", "Progress", "SLA Days"})
			for _, s := range stages {
				tw.AppendRow(table.Row{s.Order, s.Key, s.Name, fmt.Sprintf("%d%%", stage.Progress(s.Key)), s.SLADays})
			}
			tw.Render()
			return nil
		},
	}
	return cmd
}

func recordCmd() *cobra.Command {
	rec := &cobra.Command{Use: "record", Short: "Manage change records"}
	rec.AddCommand(recordListCmd())
	rec.AddCommand(recordGetCmd())
	rec.AddCommand(recordImportCmd())
	rec.AddCommand(recordSetStageCmd())
	rec.AddCommand(recordOutcomeCmd())
	rec.AddCommand(recordAgendaCmd())
	return rec
}

func filterFlags(cmd *cobra.Command, f *view.Filter) {
	cmd.Flags().StringVar(&f.Stage, "stage", "", "stage key filter (or All)")
	cmd.Flags().StringVar(&f.Package, "package", "", "package code filter (or All)")
	cmd.Flags().StringVar(&f.Search, "search", "", "search id, title, sponsor")
}

func recordListCmd() *cobra.Command {
	var f view.Filter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List records",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recs, err := e.View(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(recs)
				}
				asOf := e.Now()
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Package", "Title", "Stage", "Sub-status", "Progress", "Days"})
				for _, r := range recs {
					tw.AppendRow(table.Row{
						r.ID, r.Type, r.Package, r.Title,
						stage.Of(r.StageKey).Name, r.SubStatus,
						fmt.Sprintf("%d%%", stage.Progress(r.StageKey)),
						stage.DaysInStage(r, asOf),
					})
				}
				tw.Render()
				return nil
			})
		},
	}
	filterFlags(cmd, &f)
	return cmd
}

func recordGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Get a record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.Repo.GetRecord(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	return cmd
}

func recordImportCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import records from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			recs, err := seed.FromFile(file)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ImportRecords(ctx, recs, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Imported %d records\n", n)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "YAML file of records")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func recordSetStageCmd() *cobra.Command {
	var stageKey, subStatus string
	cmd := &cobra.Command{
		Use:   "set-stage <id>",
		Short: "Move a record to a stage",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if stageKey == "" {
				return fmt.Errorf("--stage required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.SetStage(ctx, args[0], stageKey, subStatus, viper.GetString("actor-id"), viper.GetBool("force"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&stageKey, "stage", "", "target stage key")
	cmd.Flags().StringVar(&subStatus, "sub-status", "", "sub-status within the stage")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func recordOutcomeCmd() *cobra.Command {
	var outcome string
	var actual int64
	cmd := &cobra.Command{
		Use:   "outcome <id>",
		Short: "Set a record's terminal outcome",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outcome == "" {
				return fmt.Errorf("--outcome required")
			}
			var actualPtr *int64
			if cmd.Flags().Changed("actual") {
				actualPtr = &actual
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.SetOutcome(ctx, args[0], outcome, actualPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().StringVar(&outcome, "outcome", "", "Approved, Rejected, Withdrawn, or Superseded")
	cmd.Flags().Int64Var(&actual, "actual", 0, "actual approved amount")
	_ = cmd.MarkFlagRequired("outcome")
	return cmd
}

func recordAgendaCmd() *cobra.Command {
	var planned bool
	var prevMeeting int
	cmd := &cobra.Command{
		Use:   "agenda <id>",
		Short: "Flag a record for the next committee meeting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var prevPtr *int
			if cmd.Flags().Changed("previous-meeting") {
				prevPtr = &prevMeeting
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rec, err := e.SetAgenda(ctx, args[0], planned, prevPtr, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(rec)
			})
		},
	}
	cmd.Flags().BoolVar(&planned, "planned", true, "planned for the next meeting")
	cmd.Flags().IntVar(&prevMeeting, "previous-meeting", 0, "meeting number the record was first presented at")
	return cmd
}

func summaryCmd() *cobra.Command {
	var f view.Filter
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Summary metrics for the current view",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				rep, err := e.Summary(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(rep)
				}
				s := rep.Summary
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Metric", "Value"})
				tw.AppendRow(table.Row{"Total", s.Total})
				tw.AppendRow(table.Row{"PCR -> EI", s.PCRToEI})
				tw.AppendRow(table.Row{"PCR -> CO/VOS/AA", s.PCRToOther})
				tw.AppendRow(table.Row{"Completed", s.Completed})
				tw.AppendRow(table.Row{"Next agenda", s.Agenda})
				tw.AppendRow(table.Row{"Carry-over", s.CarryOver})
				tw.AppendRow(table.Row{"Rejected", s.Rejected})
				tw.AppendRow(table.Row{"Estimated sum", s.EstimatedSum})
				tw.AppendRow(table.Row{"Approved actual", s.ApprovedActualSum})
				tw.AppendRow(table.Row{"Change %", fmt.Sprintf("%.2f%%", s.ChangePercent)})
				tw.AppendRow(table.Row{"Of limit", fmt.Sprintf("%.2f%%", s.PercentOfLimit)})
				tw.Render()
				if len(rep.Packages) > 0 {
					pt := table.NewWriter()
					pt.SetOutputMirror(os.Stdout)
					pt.AppendHeader(table.Row{"Package", "Approved", "Estimated", "Actual"})
					for _, p := range rep.Packages {
						pt.AppendRow(table.Row{p.Package, p.Count, p.Estimated, p.Actual})
					}
					pt.Render()
				}
				return nil
			})
		},
	}
	filterFlags(cmd, &f)
	return cmd
}

func agendaCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agenda",
		Short: "Next committee meeting agenda",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				recs, err := e.View(ctx, view.Filter{})
				if err != nil {
					return err
				}
				items := classify.Agenda(recs)
				carry := classify.CarryOver(recs)
				if viper.GetBool("json") {
					return printJSON(map[string]any{"items": items, "carry_over": carry})
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Package", "Title", "Sponsor", "Carry-over"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.Package, r.Title, r.Sponsor, ""})
				}
				for _, r := range carry {
					prev := ""
					if r.CCPreviousMeeting != nil {
						prev = fmt.Sprintf("CC #%d", *r.CCPreviousMeeting)
					}
					tw.AppendRow(table.Row{r.ID, r.Package, r.Title, r.Sponsor, prev})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func exportCmd() *cobra.Command {
	var f view.Filter
	var out string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the register as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				name, data, err := e.ExportCSV(ctx, f)
				if err != nil {
					return err
				}
				if out == "" {
					out = name
				}
				if out == "-" {
					fmt.Println(string(data))
					return nil
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s (%d bytes)\n", out, len(data))
				return nil
			})
		},
	}
	filterFlags(cmd, &f)
	cmd.Flags().StringVar(&out, "out", "", "output file (default derived name, - for stdout)")
	return cmd
}

func seedCmd() *cobra.Command {
	sd := &cobra.Command{Use: "seed", Short: "Seed data"}
	sd.AddCommand(seedDemoCmd())
	return sd
}

func seedDemoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Load the demo register",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.ImportRecords(ctx, seed.Demo(), viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				fmt.Printf("Seeded %d demo records\n", n)
				return nil
			})
		},
	}
	return cmd
}

func logCmd() *cobra.Command {
	lg := &cobra.Command{
		Use:   "log",
		Short: "Event log",
	}
	lg.AddCommand(logTailCmd())
	return lg
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, recordID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				events, err := r.LatestEvents(ctx, n, evtType, recordID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&recordID, "record-id", "", "record id filter")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			if _, err := db.EnsureWorkspace(workspace); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{Workspace: workspace})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.Migrate(conn); err != nil {
				return err
			}
			cfg, err := config.LoadOptional(workspace)
			if err != nil {
				return err
			}
			if cfg == nil {
				cfg = config.Default("project")
			}
			e := engine.New(conn, cfg)
			handler, err := server.New(server.Config{Engine: e, BasePath: basePath})
			if err != nil {
				return err
			}
			srv := &http.Server{Addr: addr, Handler: handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				srv.Shutdown(ctx)
			}()
			fmt.Printf("Serving Changeboard API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	return cmd
}

// --- helpers ---

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	if cfg == nil {
		cfg = config.Default("project")
	}
	return fn(ctx, engine.New(conn, cfg))
}

func withRepo(ctx context.Context, fn func(context.Context, repo.Repo) error) error {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return err
	}
	defer conn.Close()
	if err := migrate.Migrate(conn); err != nil {
		return err
	}
	return fn(ctx, repo.Repo{DB: conn})
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
