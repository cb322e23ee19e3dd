package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"petcare/internal/app"
	"petcare/internal/db"
	"petcare/internal/engine"
	"petcare/internal/logging"
	"petcare/internal/migrate"
	"petcare/internal/repo"
)

const defaultHouseholdKey = "PETCARE_DEFAULT_HOUSEHOLD"

// stdout receives command output.
var stdout io.Writer = os.Stdout

var rootCmd = &cobra.Command{
	Use:   "pc",
	Short: "Petcare CLI",
	Long: `Petcare keeps a household's pet care in one queue.
- Household: the people and pets sharing one schedule, with its own config and time zone.
- Subjects: the pets. Items can belong to one subject or to the whole household.
- Items: tasks (feed, clean), notices (health and behavior checks with answer choices), moments and memos.
- Queue: today's cards, ordered so abnormal answers and overdue tasks come first.
- Digest: the past week per pet, with stock warnings and highlights.
- Inventory: days of food and litter left, classified into danger, warn, soon and ok.
- Event log: every change, view with 'pc log tail'.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level := viper.GetString("log-level")
		if viper.GetBool("verbose") {
			level = "debug"
		}
		logging.Setup(level, viper.GetString("log-format"))
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		viper.SetConfigFile(filepath.Join(workspace, ".env"))
		viper.SetConfigType("env")
		if err := viper.ReadInConfig(); err != nil && !os.IsNotExist(err) {
			slog.Debug("no workspace .env loaded", "error", err)
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("PETCARE")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringP("workspace", "w", ".", "workspace directory")
	flags.Bool("json", false, "output JSON")
	flags.String("actor-id", "local-user", "actor identifier")
	flags.String("household", "", "household id (overrides the workspace default)")
	flags.BoolP("verbose", "v", false, "debug logging")
	flags.String("now", "", "RFC3339 instant to use as the current time")
	flags.String("log-level", "warn", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")
	for _, name := range []string{"workspace", "json", "actor-id", "household", "verbose", "now", "log-level", "log-format"} {
		_ = viper.BindPFlag(name, flags.Lookup(name))
	}
}

func registerCommands() {
	rootCmd.AddCommand(householdCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(subjectCmd())
	rootCmd.AddCommand(itemCmd())
	rootCmd.AddCommand(memoCmd())
	rootCmd.AddCommand(noticeCmd())
	rootCmd.AddCommand(inventoryCmd())
	rootCmd.AddCommand(photoCmd())
	rootCmd.AddCommand(noteCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(digestCmd())
	rootCmd.AddCommand(rolloverCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(rbacCmd())
	rootCmd.AddCommand(apiKeyCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(serveCmd())
}

// activeHousehold returns the --household flag, then the workspace default
// written by 'pc household use'.
func activeHousehold() string {
	if h := strings.TrimSpace(viper.GetString("household")); h != "" {
		return h
	}
	if h := strings.TrimSpace(viper.GetString("default_household")); h != "" {
		return h
	}
	return strings.TrimSpace(viper.GetString(strings.ToLower(defaultHouseholdKey)))
}

func clock() (func() time.Time, error) {
	raw := strings.TrimSpace(viper.GetString("now"))
	if raw == "" {
		return time.Now, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("invalid --now %q: %w", raw, err)
	}
	return func() time.Time { return t }, nil
}

func withEngine(ctx context.Context, fn func(context.Context, engine.Engine) error) error {
	return withRepo(ctx, func(ctx context.Context, r repo.Repo) error {
		now, err := clock()
		if err != nil {
			return err
		}
		e, err := app.Engine(ctx, activeHousehold(), viper.GetString("actor-id"), r)
		if err != nil {
			return err
		}
		e.Now = now
		return fn(ctx, e)
	})
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

func actor() string {
	return viper.GetString("actor-id")
}

// printJSONOrTable prints v as JSON with --json, otherwise as a
// field/value table of its top-level JSON fields.
func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		// not an object
		return printJSON(v)
	}
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]table.Row, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, table.Row{k, fieldText(fields[k])})
	}
	return renderTable(v, table.Row{"Field", "Value"}, rows)
}

// fieldText renders strings unquoted and everything else as compact JSON.
func fieldText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

func printJSON(v any) error {
	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// renderTable prints rows as a table, or v as JSON with --json.
func renderTable(v any, header table.Row, rows []table.Row) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(stdout)
	tw.AppendHeader(header)
	tw.AppendRows(rows)
	tw.Render()
	return nil
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		scanner := bufio.NewScanner(f)
		for scanner.Scan() {
			line := scanner.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := scanner.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o644)
}

func formatTime(t *time.Time, loc *time.Location) string {
	if t == nil || t.IsZero() {
		return ""
	}
	return t.In(loc).Format("Mon 02 Jan 15:04")
}
