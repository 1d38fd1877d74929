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
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"watchbill/internal/app"
	"watchbill/internal/config"
	"watchbill/internal/db"
	"watchbill/internal/domain"
	"watchbill/internal/engine"
	"watchbill/internal/migrate"
	"watchbill/internal/render"
	"watchbill/internal/repo"
	"watchbill/internal/server"
	"watchbill/internal/storage"
)

var rootCmd = &cobra.Command{
	Use:   "wb",
	Short: "Watchbill CLI",
	Long: `Watchbill turns a rotation's captured notes into a signed, exportable
handover report. Entries are collected during the period, folded into a
structured draft, reviewed and merged by the outgoing crew member, sealed by
a dual sign-off, and exported as HTML, PDF, or email. Once signed, content is
frozen and every export re-verifies the document hash.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("WATCHBILL")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().String("user-id", "local-user", "acting user identifier")
	rootCmd.PersistentFlags().String("role", "captain", "acting user role")
	rootCmd.PersistentFlags().String("yacht", "", "yacht id (overrides single-yacht default)")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user-id", rootCmd.PersistentFlags().Lookup("user-id"))
	_ = viper.BindPFlag("role", rootCmd.PersistentFlags().Lookup("role"))
	_ = viper.BindPFlag("yacht", rootCmd.PersistentFlags().Lookup("yacht"))
}

func registerCommands() {
	rootCmd.AddCommand(yachtCmd())
	rootCmd.AddCommand(entryCmd())
	rootCmd.AddCommand(draftCmd())
	rootCmd.AddCommand(exportCmd())
	rootCmd.AddCommand(apikeyCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(serveCmd())
}

func yachtCmd() *cobra.Command {
	yacht := &cobra.Command{Use: "yacht", Short: "Manage yachts"}
	yacht.AddCommand(yachtListCmd())
	yacht.AddCommand(yachtCreateCmd())
	yacht.AddCommand(yachtConfigCmd())
	return yacht
}

func yachtListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List yachts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				yachts, err := r.ListYachts(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(yachts)
			})
		},
	}
}

func yachtCreateCmd() *cobra.Command {
	var id, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Register yacht",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				return fmt.Errorf("--id required")
			}
			return withEngineForYacht(cmd.Context(), id, func(ctx context.Context, e engine.Engine) error {
				y, err := e.RegisterYacht(ctx, id, name, viper.GetString("user-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(y)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "yacht id")
	cmd.Flags().StringVar(&name, "name", "", "yacht name")
	return cmd
}

func yachtConfigCmd() *cobra.Command {
	cfgCmd := &cobra.Command{Use: "config", Short: "Yacht config"}
	cfgCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show active config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	})
	var file string
	importCmd := &cobra.Command{
		Use:   "import",
		Short: "Import config from YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			cfg, err := config.FromFile(file)
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				yachtID, _, err := app.ResolveYachtAndConfig(ctx, viper.GetString("yacht"), r)
				if err != nil {
					return err
				}
				cfg.Yacht.ID = yachtID
				if err := r.UpsertYachtConfig(ctx, yachtID, cfg); err != nil {
					return err
				}
				fmt.Printf("config imported for yacht %s\n", yachtID)
				return nil
			})
		},
	}
	importCmd.Flags().StringVar(&file, "file", "", "YAML config file")
	cfgCmd.AddCommand(importCmd)
	return cfgCmd
}

func entryCmd() *cobra.Command {
	entry := &cobra.Command{Use: "entry", Short: "Capture handover entries"}
	entry.AddCommand(entryAddCmd())
	entry.AddCommand(entryListCmd())
	return entry
}

func entryAddCmd() *cobra.Command {
	var entityType, entityID, text, bucket, priority, webLink, sessionID string
	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a capture entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				item := domain.HandoverItem{
					EntityType:  entityType,
					EntityID:    optionalString(entityID),
					SummaryText: text,
					BucketHint:  bucket,
					Priority:    priority,
					WebLink:     optionalString(webLink),
				}
				tctx := cliTenant(e)
				var out domain.HandoverItem
				var err error
				if sessionID != "" {
					out, err = e.AddSessionEntry(ctx, tctx, sessionID, item)
				} else {
					out, err = e.AddQuickEntry(ctx, tctx, item)
				}
				if err != nil {
					return err
				}
				return printJSONOrTable(out)
			})
		},
	}
	cmd.Flags().StringVar(&entityType, "entity-type", "note", "entity type (equipment, task, email, document, note)")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	cmd.Flags().StringVar(&text, "text", "", "summary text")
	cmd.Flags().StringVar(&bucket, "bucket", "", "bucket hint")
	cmd.Flags().StringVar(&priority, "priority", "normal", "priority (low, normal, high, urgent)")
	cmd.Flags().StringVar(&webLink, "web-link", "", "opaque source link (email entries)")
	cmd.Flags().StringVar(&sessionID, "session", "", "handover session id (structured capture)")
	return cmd
}

func entryListCmd() *cobra.Command {
	var start, end string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List captured entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tctx := cliTenant(e)
				var entries []domain.HandoverItem
				var err error
				if start != "" || end != "" {
					entries, err = e.Aggregate(ctx, tctx, start, end)
				} else {
					entries, err = e.Repo.ListEntries(ctx, tctx, limit)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(entries)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Priority", "Added", "Summary"})
				for _, it := range entries {
					tw.AppendRow(table.Row{short(it.ID), it.EntityType, it.Priority, it.AddedAt, truncate(it.SummaryText, 60)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "period end (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "n", 50, "max entries")
	return cmd
}

func draftCmd() *cobra.Command {
	draft := &cobra.Command{Use: "draft", Short: "Handover draft lifecycle"}
	draft.AddCommand(draftGenerateCmd())
	draft.AddCommand(draftListCmd())
	draft.AddCommand(draftShowCmd())
	draft.AddCommand(draftReviewCmd())
	draft.AddCommand(draftEditCmd())
	draft.AddCommand(draftMergeCmd())
	draft.AddCommand(draftAcceptCmd())
	draft.AddCommand(draftSignCmd())
	return draft
}

func draftGenerateCmd() *cobra.Command {
	var start, end, department string
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a draft for a period",
		RunE: func(cmd *cobra.Command, args []string) error {
			if start == "" || end == "" {
				return fmt.Errorf("--start and --end required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				draft, created, err := e.GenerateDraft(ctx, cliTenant(e), start, end, department)
				if err != nil {
					return err
				}
				if !viper.GetBool("json") {
					verb := "reused"
					if created {
						verb = "created"
					}
					fmt.Printf("draft %s (%s, %s)\n", draft.ID, verb, draft.State)
				}
				return printJSONOrTable(draft)
			})
		},
	}
	cmd.Flags().StringVar(&start, "start", "", "period start (YYYY-MM-DD)")
	cmd.Flags().StringVar(&end, "end", "", "period end (YYYY-MM-DD)")
	cmd.Flags().StringVar(&department, "department", "", "optional department scope")
	return cmd
}

func draftListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List drafts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				drafts, err := e.Repo.ListDrafts(ctx, cliTenant(e), limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(drafts)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Period", "Dept", "State", "Entries", "Critical"})
				for _, d := range drafts {
					tw.AppendRow(table.Row{short(d.ID), d.PeriodStart + ".." + d.PeriodEnd, d.Department, d.State, d.TotalEntries, d.CriticalCount})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "n", 20, "max drafts")
	return cmd
}

func draftShowCmd() *cobra.Command {
	var archived bool
	cmd := &cobra.Command{
		Use:   "show <draft-id>",
		Short: "Show a draft with sections and items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				tctx := cliTenant(e)
				draft, err := e.Repo.GetDraft(ctx, tctx, args[0])
				if err != nil {
					return err
				}
				sections, err := e.Repo.ListSections(ctx, draft.ID)
				if err != nil {
					return err
				}
				items, err := e.Repo.ListItems(ctx, draft.ID, archived)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"draft": draft, "sections": sections, "items": items})
				}
				fmt.Printf("Draft %s  %s..%s  [%s]\n", draft.ID, draft.PeriodStart, draft.PeriodEnd, draft.State)
				bySection := map[string][]domain.DraftItem{}
				for _, it := range items {
					bySection[it.SectionID] = append(bySection[it.SectionID], it)
				}
				for _, s := range sections {
					fmt.Printf("\n%s\n", s.BucketName)
					for _, it := range bySection[s.ID] {
						mark := " "
						if it.IsCritical {
							mark = "!"
						}
						state := ""
						if it.Archived {
							state = " (archived)"
						}
						fmt.Printf("  %s %s  %s%s\n", mark, short(it.ID), it.SummaryText, state)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&archived, "archived", false, "include archived items")
	return cmd
}

func draftReviewCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "review <draft-id>",
		Short: "Move a draft into review",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				draft, err := e.EnterReview(ctx, cliTenant(e), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(draft)
			})
		},
	}
}

func draftEditCmd() *cobra.Command {
	var text, reason string
	cmd := &cobra.Command{
		Use:   "edit <draft-id> <item-id>",
		Short: "Edit an item's text",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				edit, count, err := e.EditItem(ctx, cliTenant(e), args[0], args[1], text, optionalString(reason))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"edit_id": edit.ID, "edit_count": count})
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "replacement text")
	cmd.Flags().StringVar(&reason, "reason", "", "edit reason")
	return cmd
}

func draftMergeCmd() *cobra.Command {
	var text string
	cmd := &cobra.Command{
		Use:   "merge <draft-id> <item-id> <item-id> [item-id...]",
		Short: "Merge items into one",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			if text == "" {
				return fmt.Errorf("--text required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				merged, err := e.MergeItems(ctx, cliTenant(e), args[0], args[1:], text)
				if err != nil {
					return err
				}
				return printJSONOrTable(merged)
			})
		},
	}
	cmd.Flags().StringVar(&text, "text", "", "merged summary text")
	return cmd
}

func draftAcceptCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "accept <draft-id>",
		Short: "Outgoing acceptance (requires --confirm)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				sections, err := e.Repo.ListSections(ctx, args[0])
				if err != nil {
					return err
				}
				// Local acceptance implies the operator walked the draft.
				viewed := make([]string, 0, len(sections))
				for _, s := range sections {
					viewed = append(viewed, s.ID)
				}
				signoff, err := e.Accept(ctx, cliTenant(e), args[0], confirmed, viewed)
				if err != nil {
					return err
				}
				return printJSONOrTable(signoff)
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "confirm acceptance")
	return cmd
}

func draftSignCmd() *cobra.Command {
	var confirmed bool
	cmd := &cobra.Command{
		Use:   "sign <draft-id>",
		Short: "Incoming counter-signature (requires --confirm)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !confirmed {
				return fmt.Errorf("--confirm required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				signoff, err := e.Sign(ctx, cliTenant(e), args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(signoff)
			})
		},
	}
	cmd.Flags().BoolVar(&confirmed, "confirm", false, "confirm signature")
	return cmd
}

func exportCmd() *cobra.Command {
	export := &cobra.Command{Use: "export", Short: "Export signed drafts"}
	export.AddCommand(exportCreateCmd())
	export.AddCommand(exportListCmd())
	return export
}

func exportCreateCmd() *cobra.Command {
	var exportType string
	var recipients []string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "create <draft-id>",
		Short: "Export a signed draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exp, err := e.Export(ctx, cliTenant(e), args[0], exportType, recipients, wait)
				if err != nil {
					return err
				}
				return printJSONOrTable(exp)
			})
		},
	}
	cmd.Flags().StringVar(&exportType, "type", "html", "export type (html, pdf, email)")
	cmd.Flags().StringSliceVar(&recipients, "to", nil, "email recipients")
	cmd.Flags().DurationVar(&wait, "wait", 0, "wait this long for email delivery before reporting pending")
	return cmd
}

func exportListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list <draft-id>",
		Short: "List exports for a draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				exports, err := e.Repo.ListExports(ctx, cliTenant(e), args[0])
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(exports)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Status", "Path", "At"})
				for _, x := range exports {
					tw.AppendRow(table.Row{short(x.ID), x.ExportType, x.Status, x.StoragePath, x.ExportedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	return cmd
}

func apikeyCmd() *cobra.Command {
	key := &cobra.Command{Use: "apikey", Short: "API keys"}
	key.AddCommand(apikeyCreateCmd())
	key.AddCommand(apikeyListCmd())
	key.AddCommand(apikeyDeleteCmd())
	return key
}

func apikeyCreateCmd() *cobra.Command {
	var userID, role, name string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Issue an API key",
		RunE: func(cmd *cobra.Command, args []string) error {
			if userID == "" {
				return fmt.Errorf("--user required")
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				secret, key, err := engine.NewAPIKey(ctx, e.Repo, e.Config.Yacht.ID, userID, role, name)
				if err != nil {
					return err
				}
				fmt.Printf("api key (store it now, it is not retrievable): %s\n", secret)
				return printJSONOrTable(key)
			})
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "user id")
	cmd.Flags().StringVar(&role, "role", "crew", "role")
	cmd.Flags().StringVar(&name, "name", "", "key label")
	return cmd
}

func apikeyListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				keys, err := e.Repo.ListAPIKeys(ctx, e.Config.Yacht.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(keys)
			})
		},
	}
}

func apikeyDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-id>",
		Short: "Delete an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				return r.DeleteAPIKey(ctx, args[0])
			})
		},
	}
}

func logCmd() *cobra.Command {
	log := &cobra.Command{
		Use:   "log",
		Short: "Audit event log",
	}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType, entityKind, entityID string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				events, err := e.Repo.LatestEvents(ctx, n, e.Config.Yacht.ID, evtType, entityKind, entityID)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.Flags().StringVar(&entityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&entityID, "entity-id", "", "entity id")
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				authCfg := server.AuthConfig{JWTSecret: os.Getenv("WATCHBILL_JWT_SECRET")}
				if authCfg.JWTSecret == "" {
					return fmt.Errorf("WATCHBILL_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{Engine: e, BasePath: basePath, Auth: authCfg})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler}
				go func() {
					<-ctx.Done()
					sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(sctx)
				}()
				fmt.Printf("Serving Watchbill API on http://%s%s (OpenAPI at /openapi.json, Swagger UI at /docs)\n", addr, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v1", "API base path")
	return cmd
}

// --- helpers ---

func cliTenant(e engine.Engine) domain.TenantContext {
	return domain.TenantContext{
		YachtID: e.Config.Yacht.ID,
		UserID:  viper.GetString("user-id"),
		Role:    viper.GetString("role"),
	}
}

func openEngine(ctx context.Context, yachtOverride string) (engine.Engine, func(), error) {
	workspace := viper.GetString("workspace")
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return engine.Engine{}, nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	r := repo.Repo{DB: conn}
	_, cfg, err := app.ResolveYachtAndConfig(ctx, yachtOverride, r)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	renderer, err := render.New()
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	store, err := storage.NewFS(cfg.Export.ArtifactRoot)
	if err != nil {
		conn.Close()
		return engine.Engine{}, nil, err
	}
	return engine.New(conn, cfg, renderer, store), func() { conn.Close() }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withEngineForYacht(ctx, viper.GetString("yacht"), fn)
}

func withEngineForYacht(ctx context.Context, yachtOverride string, fn func(context.Context, engine.Engine) error) error {
	e, closeFn, err := openEngine(ctx, yachtOverride)
	if err != nil {
		return err
	}
	defer closeFn()
	return fn(ctx, e)
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

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-1] + "…"
}
