package main

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"petcare/internal/care"
	"petcare/internal/domain"
	"petcare/internal/engine"
	"petcare/internal/repo"
)

func subjectCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "subject", Short: "Manage pets"}
	cmd.AddCommand(subjectAddCmd())
	cmd.AddCommand(subjectListCmd())
	return cmd
}

func subjectAddCmd() *cobra.Command {
	var in engine.SubjectInput
	cmd := &cobra.Command{
		Use:   "add <name>",
		Short: "Add a pet",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Name = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				s, err := e.AddSubject(ctx, in, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(s)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "subject id (default: derived from the name)")
	cmd.Flags().StringVar(&in.Species, "species", "", "species")
	return cmd
}

func subjectListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List pets",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				items, err := e.Repo.ListSubjects(ctx, e.Config.Household.ID)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(items))
				for _, s := range items {
					rows = append(rows, table.Row{s.ID, s.Name, s.Species})
				}
				return renderTable(items, table.Row{"ID", "Name", "Species"}, rows)
			})
		},
	}
}

func itemCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "item", Short: "Manage tasks, notices and memos"}
	cmd.AddCommand(itemAddCmd())
	cmd.AddCommand(itemListCmd())
	cmd.AddCommand(itemTransitionCmd("done", "Mark an item done", engine.Engine.MarkDone))
	cmd.AddCommand(itemTransitionCmd("later", "Defer an item to later", engine.Engine.Defer))
	cmd.AddCommand(itemTransitionCmd("reset", "Return an item to pending", engine.Engine.Reset))
	cmd.AddCommand(itemTransitionCmd("enable", "Enable a notice", func(e engine.Engine, ctx context.Context, id, actorID string) (domain.TrackedItem, error) {
		return e.SetNoticeEnabled(ctx, id, true, actorID)
	}))
	cmd.AddCommand(itemTransitionCmd("disable", "Disable a notice", func(e engine.Engine, ctx context.Context, id, actorID string) (domain.TrackedItem, error) {
		return e.SetNoticeEnabled(ctx, id, false, actorID)
	}))
	return cmd
}

func itemAddCmd() *cobra.Command {
	var (
		in                                      engine.ItemInput
		kind, cadence, slot, noticeKind, season string
		due                                     string
	)
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Create a task, notice or memo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = args[0]
			in.Kind = domain.ItemKind(kind)
			in.Cadence = domain.Cadence(cadence)
			in.Slot = domain.TimeSlot(slot)
			in.NoticeKind = domain.NoticeKind(noticeKind)
			in.Season = domain.Season(season)
			if due != "" {
				t, err := time.Parse(time.RFC3339, due)
				if err != nil {
					return fmt.Errorf("invalid --due %q: %w", due, err)
				}
				in.DueAt = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateItem(ctx, in, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	cmd.Flags().StringVar(&kind, "kind", "task", "task, notice or memo")
	cmd.Flags().StringVar(&in.ID, "id", "", "item id (default: generated)")
	cmd.Flags().StringVar(&in.SubjectID, "subject", "", "subject id")
	cmd.Flags().StringVar(&cadence, "cadence", "", "daily, weekly, monthly or once")
	cmd.Flags().StringVar(&slot, "slot", "", "morning, evening or any")
	cmd.Flags().StringVar(&due, "due", "", "RFC3339 due instant")
	cmd.Flags().BoolVar(&in.Optional, "optional", false, "optional item")
	cmd.Flags().StringVar(&noticeKind, "notice-kind", "", "notice or moment")
	cmd.Flags().StringSliceVar(&in.Choices, "choices", nil, "answer choices for a notice")
	cmd.Flags().BoolVar(&in.Seasonal, "seasonal", false, "seasonal notice")
	cmd.Flags().StringVar(&season, "season", "", "spring, summer, autumn or winter")
	cmd.Flags().BoolVar(&in.Disabled, "disabled", false, "create a notice disabled")
	return cmd
}

func itemListCmd() *cobra.Command {
	var (
		f    repo.ItemFilters
		kind string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items in priority order",
		RunE: func(cmd *cobra.Command, args []string) error {
			f.Kind = domain.ItemKind(kind)
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.SortedItems(ctx, f)
				if err != nil {
					return err
				}
				loc := e.Config.Location()
				rows := make([]table.Row, 0, len(views))
				for _, v := range views {
					rows = append(rows, table.Row{
						v.Item.ID, v.Item.Kind, v.Item.Title, v.Item.SubjectID,
						v.Priority.Class, v.Priority.Bucket, formatTime(&v.Priority.Due, loc), itemState(v.Item),
					})
				}
				return renderTable(views, table.Row{"ID", "Kind", "Title", "Subject", "Class", "Bucket", "Due", "State"}, rows)
			})
		},
	}
	cmd.Flags().StringVar(&f.SubjectID, "subject", "", "subject filter")
	cmd.Flags().StringVar(&kind, "kind", "", "kind filter")
	cmd.Flags().BoolVar(&f.PendingOnly, "pending", false, "only pending items")
	return cmd
}

func itemTransitionCmd(use, short string, apply func(engine.Engine, context.Context, string, string) (domain.TrackedItem, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := apply(e, ctx, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
}

func itemState(it domain.TrackedItem) string {
	var parts []string
	switch {
	case it.Done:
		parts = append(parts, "done")
	case it.Later:
		parts = append(parts, "later")
	default:
		parts = append(parts, "pending")
	}
	if it.IsNotice() && !it.Enabled {
		parts = append(parts, "disabled")
	}
	if it.LastValue != "" {
		parts = append(parts, "answered: "+it.LastValue)
	}
	return strings.Join(parts, ", ")
}

func memoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "memo", Short: "Free-text reminders"}
	var subject string
	add := &cobra.Command{
		Use:   "add <text>",
		Short: "Create a memo due in three days",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				it, err := e.CreateMemo(ctx, subject, args[0], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(it)
			})
		},
	}
	add.Flags().StringVar(&subject, "subject", "", "subject id")
	cmd.AddCommand(add)
	return cmd
}

func noticeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notice", Short: "Health and behavior checks"}
	var subject string
	answer := &cobra.Command{
		Use:   "answer <notice-id> <value>",
		Short: "Record an answer to a notice",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				res, err := e.RecordAnswer(ctx, args[0], subject, args[1], actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	answer.Flags().StringVar(&subject, "subject", "", "subject the answer is about")
	cmd.AddCommand(answer)
	return cmd
}

func inventoryCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "inventory", Short: "Food and supplies"}
	cmd.AddCommand(inventorySetCmd())
	cmd.AddCommand(inventoryListCmd())
	cmd.AddCommand(inventoryActionCmd())
	return cmd
}

func inventorySetCmd() *cobra.Command {
	var (
		in    engine.InventoryInput
		upper float64
	)
	cmd := &cobra.Command{
		Use:   "set <label>",
		Short: "Create or replace a remaining-days estimate",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Label = args[0]
			if cmd.Flags().Changed("max") {
				in.RemainingMax = &upper
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.UpsertInventory(ctx, in, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().StringVar(&in.ID, "id", "", "inventory id (default: derived from the label)")
	cmd.Flags().StringVar(&in.SubjectID, "subject", "", "subject id")
	cmd.Flags().Float64Var(&in.Remaining, "remaining", 0, "days left")
	cmd.Flags().Float64Var(&upper, "max", 0, "upper bound when the estimate is a range")
	cmd.Flags().StringVar(&in.Action, "action", "", "last action, e.g. opened")
	_ = cmd.MarkFlagRequired("remaining")
	return cmd
}

func inventoryListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List inventory, most urgent first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				views, err := e.InventoryStatus(ctx)
				if err != nil {
					return err
				}
				rows := make([]table.Row, 0, len(views))
				for _, v := range views {
					remaining := fmt.Sprintf("%.1f", v.RemainingDays)
					if v.RemainingDaysMax != nil {
						remaining = fmt.Sprintf("%.1f-%.1f", v.LowerBound(), math.Max(v.RemainingDays, *v.RemainingDaysMax))
					}
					rows = append(rows, table.Row{v.ID, v.Label, v.SubjectID, remaining, v.Tier, v.LastAction})
				}
				return renderTable(views, table.Row{"ID", "Label", "Subject", "Days", "Tier", "Last action"}, rows)
			})
		},
	}
}

func inventoryActionCmd() *cobra.Command {
	var remaining float64
	cmd := &cobra.Command{
		Use:   "action <id> <action>",
		Short: "Record a stock action such as refilled",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			days := math.NaN()
			if cmd.Flags().Changed("remaining") {
				days = remaining
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				v, err := e.RecordStockAction(ctx, args[0], args[1], days, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(v)
			})
		},
	}
	cmd.Flags().Float64Var(&remaining, "remaining", 0, "new days-left estimate (default: keep current)")
	return cmd
}

func photoCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "photo", Short: "Photo metadata"}
	var (
		in      engine.PhotoInput
		takenAt string
	)
	add := &cobra.Command{
		Use:   "add",
		Short: "Register a photo",
		RunE: func(cmd *cobra.Command, args []string) error {
			if takenAt != "" {
				t, err := time.Parse(time.RFC3339, takenAt)
				if err != nil {
					return fmt.Errorf("invalid --taken-at %q: %w", takenAt, err)
				}
				in.TakenAt = &t
			}
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				p, err := e.AddPhoto(ctx, in, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	add.Flags().StringVar(&in.ID, "id", "", "photo id")
	add.Flags().StringVar(&in.SubjectID, "subject", "", "subject id")
	add.Flags().StringVar(&in.Caption, "caption", "", "caption")
	add.Flags().StringSliceVar(&in.Tags, "tags", nil, "tags, e.g. food,condition")
	add.Flags().StringVar(&takenAt, "taken-at", "", "RFC3339 instant the photo was taken")
	add.Flags().BoolVar(&in.Archived, "archived", false, "store as archived")
	archive := &cobra.Command{
		Use:   "archive <id>",
		Short: "Archive a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				if err := e.ArchivePhoto(ctx, args[0], actor()); err != nil {
					return err
				}
				fmt.Printf("Archived photo %s\n", args[0])
				return nil
			})
		},
	}
	cmd.AddCommand(add, archive)
	return cmd
}

func noteCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "note", Short: "Household notes"}
	var in engine.NoteInput
	add := &cobra.Command{
		Use:   "add <body>",
		Short: "Add a note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Body = args[0]
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				n, err := e.AddNote(ctx, in, actor())
				if err != nil {
					return err
				}
				return printJSONOrTable(n)
			})
		},
	}
	add.Flags().StringVar(&in.SubjectID, "subject", "", "subject id")
	add.Flags().BoolVar(&in.Shared, "shared", false, "include in the digest")
	cmd.AddCommand(add)
	return cmd
}

func queueCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "queue",
		Short: "Show today's cards",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				q, err := e.Queue(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"slots": q.Slots, "overflow": q.Overflow, "empty": q.Empty()})
				}
				if q.Empty() {
					fmt.Println("Nothing to do right now.")
					return nil
				}
				now, loc := e.Clock(), e.Config.Location()
				tw := table.NewWriter()
				tw.AppendHeader(table.Row{"#", "Slot", "ID", "Title", "Subject", "Due"})
				for i, slot := range q.Slots {
					for _, it := range slot.Items {
						due := care.ResolveNextDue(it, now)
						tw.AppendRow(table.Row{i + 1, slot.Kind, it.ID, it.Title, it.SubjectID, formatTime(&due, loc)})
					}
				}
				fmt.Println(tw.Render())
				if q.Overflow > 0 {
					fmt.Printf("+%d more\n", q.Overflow)
				}
				return nil
			})
		},
	}
}

func digestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "digest",
		Short: "Summarize the past seven days",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				d, err := e.Digest(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(d)
				}
				if d.Empty() {
					fmt.Println("Nothing to report this week.")
					return nil
				}
				loc := e.Config.Location()
				fmt.Printf("Week of %s to %s, %d abnormal answers\n",
					d.Window.Start.In(loc).Format("Jan 02"), d.Window.End.In(loc).Format("Jan 02"), d.AbnormalCount)
				if len(d.Subjects) > 0 {
					tw := table.NewWriter()
					tw.AppendHeader(table.Row{"Subject", "Abnormal", "Latest abnormal", "Moments"})
					for _, s := range d.Subjects {
						latest := ""
						if len(s.Abnormal) > 0 {
							latest = s.Abnormal[0].Value
						}
						tw.AppendRow(table.Row{s.SubjectID, s.AbnormalCount, latest, len(s.Moments)})
					}
					fmt.Println(tw.Render())
				}
				if len(d.StockWarnings) > 0 {
					tw := table.NewWriter()
					tw.AppendHeader(table.Row{"Supply", "Days", "Tier"})
					for _, w := range d.StockWarnings {
						tw.AppendRow(table.Row{w.Item.Label, fmt.Sprintf("%.1f", w.Item.LowerBound()), w.Tier})
					}
					fmt.Println(tw.Render())
				}
				for _, it := range d.TopTasks {
					fmt.Printf("task: %s\n", it.Title)
				}
				for _, it := range d.TopMemos {
					fmt.Printf("memo: %s\n", it.Title)
				}
				for _, n := range d.RecentNotes {
					fmt.Printf("note: %s\n", n.Body)
				}
				for _, p := range d.Photos {
					fmt.Printf("photo: %s %s\n", p.ID, p.Caption)
				}
				return nil
			})
		},
	}
}

func rolloverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rollover",
		Short: "Re-arm recurring items whose period has passed",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withEngine(cmd.Context(), func(ctx context.Context, e engine.Engine) error {
				ids, err := e.Rollover(ctx, actor())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"rearmed": ids})
				}
				fmt.Printf("Re-armed %d items\n", len(ids))
				return nil
			})
		},
	}
}
