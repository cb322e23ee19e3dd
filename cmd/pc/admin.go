package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"petcare/internal/config"
	"petcare/internal/domain"
	"petcare/internal/engine"
	"petcare/internal/repo"
	"petcare/internal/server"
)

func householdCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "household", Short: "Manage households"}
	cmd.AddCommand(householdCreateCmd())
	cmd.AddCommand(householdListCmd())
	cmd.AddCommand(householdShowCmd())
	cmd.AddCommand(householdUseCmd())
	return cmd
}

func householdCreateCmd() *cobra.Command {
	var name, timezone, desc, file string
	cmd := &cobra.Command{
		Use:   "create <id>",
		Short: "Create a household and make the actor its owner",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			cfg := config.Default(id)
			var loaded *config.Config
			var err error
			if file != "" {
				loaded, err = config.FromFile(file)
			} else {
				loaded, err = config.LoadOptional(viper.GetString("workspace"))
			}
			if err != nil {
				return err
			}
			if loaded != nil {
				cfg = loaded
				cfg.Household.ID = id
			}
			if name != "" {
				cfg.Household.Name = name
			}
			if timezone != "" {
				cfg.Household.Timezone = timezone
			}
			now, err := clock()
			if err != nil {
				return err
			}
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				e := engine.New(r.DB, cfg)
				e.Now = now
				h, err := e.InitHousehold(ctx, cfg, desc, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "display name")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA time zone (default UTC)")
	cmd.Flags().StringVar(&desc, "description", "", "description")
	cmd.Flags().StringVar(&file, "file", "", "seed from a petcare.yml (default: <workspace>/petcare.yml when present)")
	return cmd
}

func householdListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List households",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				items, err := r.ListHouseholds(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, h := range items {
					rows = append(rows, table.Row{h.ID, h.Name, h.Timezone, h.Status, h.CreatedAt})
				}
				return renderTable(items, table.Row{"ID", "Name", "Timezone", "Status", "Created"}, rows)
			})
		},
	}
}

func householdShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the active household",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				h, err := e.Repo.GetHousehold(ctx, e.Config.Household.ID)
				if err != nil {
					return err
				}
				return printJSONOrTable(h)
			})
		},
	}
}

func householdUseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "use <id>",
		Short: "Set the default household for this workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := strings.TrimSpace(args[0])
			if id == "" {
				return fmt.Errorf("household id is required")
			}
			err := withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				_, err := r.GetHousehold(ctx, id)
				return err
			})
			if err != nil {
				return fmt.Errorf("household %s: %w", id, err)
			}
			workspace := viper.GetString("workspace")
			if err := setEnvValue(filepath.Join(workspace, ".env"), defaultHouseholdKey, id); err != nil {
				return err
			}
			fmt.Printf("Set %s=%s in %s/.env\n", defaultHouseholdKey, id, workspace)
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Household configuration"}
	cmd.AddCommand(configShowCmd())
	cmd.AddCommand(configImportCmd())
	cmd.AddCommand(configExportCmd())
	return cmd
}

func configShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Show the stored config",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				return printJSONOrTable(e.Config)
			})
		},
	}
}

func configImportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Replace the household config from YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.FromFile(filePath)
			if err != nil {
				return err
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.Auth.Require(ctx, e.Config.Household.ID, actor(), config.PermHouseholdAdmin); err != nil {
					return err
				}
				next, err := e.ImportConfig(ctx, cfg, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(next.Config)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "path to YAML config")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}

func configExportCmd() *cobra.Command {
	var filePath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the stored config as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				data, err := e.Config.ToYAML()
				if err != nil {
					return err
				}
				if filePath == "" {
					_, err = os.Stdout.Write(data)
					return err
				}
				return os.WriteFile(filePath, data, 0o644)
			})
		},
	}
	cmd.Flags().StringVar(&filePath, "file", "", "output path (default stdout)")
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	cmd.AddCommand(logTailCmd())
	return cmd
}

func logTailCmd() *cobra.Command {
	var n int
	var f repo.EventFilters
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show recent events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				f.HouseholdID = e.Config.Household.ID
				f.Limit = n
				events, err := e.Repo.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(events))
				for _, evt := range events {
					rows = append(rows, table.Row{evt.ID, evt.TS, evt.Type, evt.EntityKind + " " + evt.EntityID, evt.ActorID})
				}
				return renderTable(events, table.Row{"ID", "Time", "Type", "Entity", "Actor"}, rows)
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&f.Type, "type", "", "event type filter")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "entity kind")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}

func rbacCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "rbac", Short: "Roles and permissions"}
	whoami := &cobra.Command{
		Use:   "whoami",
		Short: "Show the actor's roles and permissions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				m, err := e.WhoAmI(ctx, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(m)
			})
		},
	}
	cmd.AddCommand(whoami)
	cmd.AddCommand(roleChangeCmd("grant", "Grant a role", engine.Engine.GrantRole))
	cmd.AddCommand(roleChangeCmd("revoke", "Revoke a role", engine.Engine.RevokeRole))
	return cmd
}

func roleChangeCmd(use, short string, apply func(engine.Engine, context.Context, string, string, string) error) *cobra.Command {
	var target, role string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := apply(e, ctx, actor(), target, role); err != nil {
					return err
				}
				fmt.Printf("%s %s: %s\n", use, target, role)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&target, "actor", "", "actor to change")
	cmd.Flags().StringVar(&role, "role", "", "role id")
	_ = cmd.MarkFlagRequired("actor")
	_ = cmd.MarkFlagRequired("role")
	return cmd
}

func apiKeyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "apikey", Short: "API keys for the HTTP server"}
	var name string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a key for the actor; the key is shown once",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				secret := "pck_" + strings.ReplaceAll(uuid.NewString()+uuid.NewString(), "-", "")
				key := domain.APIKey{
					ID:      uuid.NewString(),
					ActorID: actor(),
					Name:    name,
					KeyHash: repo.HashAPIKey(secret),
				}
				if err := r.InsertAPIKey(ctx, nil, key); err != nil {
					return err
				}
				return printJSONOrTable(map[string]string{"id": key.ID, "actor_id": key.ActorID, "key": secret})
			})
		},
	}
	create.Flags().StringVar(&name, "name", "", "label for the key")
	list := &cobra.Command{
		Use:   "list",
		Short: "List the actor's keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				keys, err := r.ListAPIKeys(ctx, actor())
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(keys))
				for _, k := range keys {
					rows = append(rows, table.Row{k.ID, k.Name, k.ActorID, k.CreatedAt})
				}
				return renderTable(keys, table.Row{"ID", "Name", "Actor", "Created"}, rows)
			})
		},
	}
	revoke := &cobra.Command{
		Use:   "revoke <id>",
		Short: "Delete a key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRepo(cmd.Context(), func(ctx context.Context, r repo.Repo) error {
				if err := r.DeleteAPIKey(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Revoked %s\n", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(create, list, revoke)
	return cmd
}

func tokenCmd() *cobra.Command {
	var (
		perms []string
		ttl   time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a development JWT for the actor",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			token, err := server.SignDevToken(secret, actor(), nil, perms, ttl)
			if err != nil {
				return fmt.Errorf("%w (set PETCARE_JWT_SECRET)", err)
			}
			fmt.Println(token)
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&perms, "permission", nil, "permission claims honored in every household")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	return cmd
}

func serveCmd() *cobra.Command {
	var (
		addr, basePath string
		origins        []string
		legacyHeader   bool
		devLogin       bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and webhook delivery",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("PETCARE_JWT_SECRET is required for bearer auth")
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
				now, err := clock()
				if err != nil {
					return err
				}
				e := engine.New(r.DB, nil)
				e.Now = now
				logger := slog.Default()
				hub := server.NewWebhookHub(ctx, e, logger)
				hooks, err := hub.Start()
				if err != nil {
					return err
				}
				handler, err := server.New(server.Config{
					Engine:      e,
					BasePath:    basePath,
					CORSOrigins: origins,
					Logger:      logger,
					Webhooks:    hub,
					Auth: server.AuthConfig{
						JWTSecret:              secret,
						AllowLegacyActorHeader: legacyHeader,
						DevLogin:               devLogin,
						Logger:                 logger,
					},
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdownCtx)
				}()
				logger.Info("serving petcare API", "addr", addr, "base_path", basePath, "webhook_households", hooks)
				fmt.Printf("Serving Petcare API on http://%s%s (OpenAPI at %s/openapi.json, Swagger UI at /docs)\n", addr, basePath, basePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().StringSliceVar(&origins, "cors-origin", nil, "allowed CORS origins (default any)")
	cmd.Flags().BoolVar(&legacyHeader, "allow-actor-header", false, "accept X-Actor-Id without credentials")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login")
	return cmd
}
