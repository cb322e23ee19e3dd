package engine_test

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"petcare/internal/care"
	"petcare/internal/config"
	"petcare/internal/db"
	"petcare/internal/domain"
	"petcare/internal/engine"
	"petcare/internal/engine/auth"
	"petcare/internal/migrate"
	"petcare/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
	now    *time.Time
}

// Tuesday.
var baseTime = time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default("home")
	cfg.Subjects = []config.SubjectConfig{{ID: "mochi", Name: "Mochi", Species: "cat"}}
	now := baseTime
	eng := engine.New(conn, cfg)
	eng.Now = func() time.Time { return now }
	ctx := context.Background()
	if _, err := eng.InitHousehold(ctx, cfg, "test", "tester"); err != nil {
		t.Fatalf("init household: %v", err)
	}
	return testEnv{Engine: eng, Ctx: ctx, now: &now}
}

func (env testEnv) advance(d time.Duration) {
	*env.now = env.now.Add(d)
}

func (env testEnv) task(t *testing.T, title string, cadence domain.Cadence, slot domain.TimeSlot) domain.TrackedItem {
	t.Helper()
	it, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{
		SubjectID: "mochi", Kind: domain.KindTask, Title: title, Cadence: cadence, Slot: slot,
	}, "tester")
	if err != nil {
		t.Fatalf("create %s: %v", title, err)
	}
	return it
}

func isValidation(err error) bool {
	var verr engine.ValidationError
	return errors.As(err, &verr)
}

func TestInitHouseholdSeedsOwnerAndSubjects(t *testing.T) {
	env := newTestEnv(t)
	member, err := env.Engine.WhoAmI(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("whoami: %v", err)
	}
	if len(member.Roles) != 1 || member.Roles[0] != "owner" {
		t.Fatalf("expected owner role, got %v", member.Roles)
	}
	subjects, err := env.Engine.Repo.ListSubjects(env.Ctx, "home")
	if err != nil {
		t.Fatal(err)
	}
	if len(subjects) != 1 || subjects[0].Name != "Mochi" {
		t.Fatalf("expected seeded Mochi, got %+v", subjects)
	}
	evts, err := env.Engine.Repo.LatestEvents(env.Ctx, repo.EventFilters{HouseholdID: "home", Type: "household.init"})
	if err != nil || len(evts) != 1 {
		t.Fatalf("expected household.init event, got %v %v", evts, err)
	}
}

func TestCreateItemValidation(t *testing.T) {
	env := newTestEnv(t)
	cases := []engine.ItemInput{
		{Kind: "chore", Title: "x"},
		{Kind: domain.KindTask, Title: "  "},
		{Kind: domain.KindTask, Title: "x", Cadence: "hourly"},
		{Kind: domain.KindTask, Title: "x", Slot: "noon"},
		{Kind: domain.KindTask, Title: "x", Choices: []string{"a"}},
		{Kind: domain.KindNotice, Title: "x", Seasonal: true},
		{Kind: domain.KindTask, Title: "x", SubjectID: "ghost"},
	}
	for i, in := range cases {
		if _, err := env.Engine.CreateItem(env.Ctx, in, "tester"); !isValidation(err) {
			t.Fatalf("case %d: expected validation error, got %v", i, err)
		}
	}
}

func TestCreateMemoIsDueInThreeDays(t *testing.T) {
	env := newTestEnv(t)
	memo, err := env.Engine.CreateMemo(env.Ctx, "mochi", "ask vet about teeth", "tester")
	if err != nil {
		t.Fatalf("create memo: %v", err)
	}
	if memo.Kind != domain.KindMemo || memo.DueAt == nil || !memo.DueAt.Equal(baseTime.Add(72*time.Hour)) {
		t.Fatalf("unexpected memo %+v", memo)
	}
	stored, err := env.Engine.Repo.GetItem(env.Ctx, "home", memo.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.DueAt.Equal(*memo.DueAt) {
		t.Fatalf("stored due %v, want %v", stored.DueAt, memo.DueAt)
	}
}

func TestDoneAndLaterStayExclusive(t *testing.T) {
	env := newTestEnv(t)
	it := env.task(t, "brush", domain.CadenceDaily, domain.SlotEvening)

	it, err := env.Engine.Defer(env.Ctx, it.ID, "tester")
	if err != nil || !it.Later || it.Done {
		t.Fatalf("defer: %+v %v", it, err)
	}
	it, err = env.Engine.MarkDone(env.Ctx, it.ID, "tester")
	if err != nil || !it.Done || it.Later {
		t.Fatalf("done after later: %+v %v", it, err)
	}
	if _, err := env.Engine.Defer(env.Ctx, it.ID, "tester"); !isValidation(err) {
		t.Fatalf("expected defer of done item to fail, got %v", err)
	}
	it, err = env.Engine.Reset(env.Ctx, it.ID, "tester")
	if err != nil || !it.Pending() || it.DoneAt != nil {
		t.Fatalf("reset: %+v %v", it, err)
	}
	if _, err := env.Engine.MarkDone(env.Ctx, "missing", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestRecordAnswerChecksChoices(t *testing.T) {
	env := newTestEnv(t)
	appetite, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{
		SubjectID: "mochi", Kind: domain.KindNotice, Title: "Appetite", Choices: []string{"normal", "slightly off", "concerning"},
	}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordAnswer(env.Ctx, appetite.ID, "", "ravenous", "tester"); !isValidation(err) {
		t.Fatalf("expected invalid answer, got %v", err)
	}
	res, err := env.Engine.RecordAnswer(env.Ctx, appetite.ID, "", "Slightly Off", "tester")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	if !res.Abnormal || res.Notice.LastValue != "slightly off" || res.Record.SubjectID != "mochi" {
		t.Fatalf("unexpected result %+v", res)
	}

	free, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{Kind: domain.KindNotice, Title: "Anything new?"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	res, err = env.Engine.RecordAnswer(env.Ctx, free.ID, "", "concerning", "tester")
	if err != nil {
		t.Fatalf("free-form answer: %v", err)
	}
	if res.Abnormal {
		t.Fatalf("notice without choices cannot be abnormal")
	}

	task := env.task(t, "feed", domain.CadenceDaily, domain.SlotMorning)
	if _, err := env.Engine.RecordAnswer(env.Ctx, task.ID, "", "ok", "tester"); !isValidation(err) {
		t.Fatalf("expected answer on task to fail, got %v", err)
	}
}

func TestSetNoticeEnabledKeepsState(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{Kind: domain.KindNotice, NoticeKind: domain.NoticeMoment, Title: "Photo of the day"}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if !n.Optional {
		t.Fatalf("moments are optional")
	}
	if _, err := env.Engine.Defer(env.Ctx, n.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	n, err = env.Engine.SetNoticeEnabled(env.Ctx, n.ID, false, "tester")
	if err != nil || n.Enabled || !n.Later {
		t.Fatalf("disable: %+v %v", n, err)
	}
}

func TestRolloverRearmsPastPeriods(t *testing.T) {
	env := newTestEnv(t)
	feed := env.task(t, "feed", domain.CadenceDaily, domain.SlotMorning)
	vet := env.task(t, "vet visit", domain.CadenceOnce, domain.SlotAny)
	litter := env.task(t, "deep clean litter", domain.CadenceWeekly, domain.SlotAny)
	walk := env.task(t, "walk", domain.CadenceDaily, domain.SlotEvening)
	for _, id := range []string{feed.ID, vet.ID, litter.ID} {
		if _, err := env.Engine.MarkDone(env.Ctx, id, "tester"); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := env.Engine.Defer(env.Ctx, walk.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	// Wednesday morning of the same week.
	env.advance(22 * time.Hour)
	brush := env.task(t, "brush", domain.CadenceDaily, domain.SlotEvening)
	if _, err := env.Engine.MarkDone(env.Ctx, brush.ID, "tester"); err != nil {
		t.Fatal(err)
	}

	ids, err := env.Engine.Rollover(env.Ctx, "tester")
	if err != nil {
		t.Fatalf("rollover: %v", err)
	}
	got := map[string]bool{}
	for _, id := range ids {
		got[id] = true
	}
	if len(ids) != 2 || !got[feed.ID] || !got[walk.ID] {
		t.Fatalf("expected feed and walk re-armed, got %v", ids)
	}
	check := func(id string, done, later bool) {
		t.Helper()
		it, err := env.Engine.Repo.GetItem(env.Ctx, "home", id)
		if err != nil {
			t.Fatal(err)
		}
		if it.Done != done || it.Later != later {
			t.Fatalf("%s: done=%v later=%v, want %v %v", it.Title, it.Done, it.Later, done, later)
		}
	}
	check(feed.ID, false, false)
	check(walk.ID, false, false)
	check(vet.ID, true, false)
	check(litter.ID, true, false)
	check(brush.ID, true, false)

	again, err := env.Engine.Rollover(env.Ctx, "tester")
	if err != nil || len(again) != 0 {
		t.Fatalf("second rollover should be a no-op: %v %v", again, err)
	}

	// Next Monday starts a new week.
	env.advance(5 * 24 * time.Hour)
	ids, err = env.Engine.Rollover(env.Ctx, "tester")
	if err != nil {
		t.Fatal(err)
	}
	check(litter.ID, false, false)
	check(vet.ID, true, false)
	if len(ids) != 2 {
		t.Fatalf("expected litter and brush re-armed, got %v", ids)
	}
}

func TestRolloverClearsStaleAnswers(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{Kind: domain.KindNotice, Title: "Vomiting?", Choices: []string{"no", "yes"}}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordAnswer(env.Ctx, n.ID, "", "yes", "tester"); err != nil {
		t.Fatal(err)
	}
	env.advance(24 * time.Hour)
	if _, err := env.Engine.Rollover(env.Ctx, "tester"); err != nil {
		t.Fatal(err)
	}
	got, err := env.Engine.Repo.GetItem(env.Ctx, "home", n.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.LastValue != "" || got.RecordedAt != nil {
		t.Fatalf("expected stale answer cleared, got %q", got.LastValue)
	}
	records, err := env.Engine.Repo.ListNoticeRecords(env.Ctx, "home", time.Time{})
	if err != nil || len(records) != 1 {
		t.Fatalf("history must survive rollover: %v %v", records, err)
	}
}

func TestQueueAllocatesSlots(t *testing.T) {
	env := newTestEnv(t)
	q, err := env.Engine.Queue(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !q.Empty() || q.Overflow != 0 {
		t.Fatalf("fresh household queue should be empty: %+v", q)
	}

	for _, title := range []string{"feed", "water", "brush", "trim claws", "play"} {
		env.task(t, title, domain.CadenceDaily, domain.SlotEvening)
	}
	n, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{SubjectID: "mochi", Kind: domain.KindNotice, Title: "Appetite", Choices: []string{"normal", "concerning"}}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordAnswer(env.Ctx, n.ID, "", "concerning", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{Kind: domain.KindNotice, NoticeKind: domain.NoticeMoment, Title: "Snap a photo"}, "tester"); err != nil {
		t.Fatal(err)
	}
	for _, text := range []string{"buy new brush", "ask about vaccines"} {
		if _, err := env.Engine.CreateMemo(env.Ctx, "mochi", text, "tester"); err != nil {
			t.Fatal(err)
		}
	}

	q, err = env.Engine.Queue(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	kinds := []care.SlotKind{care.SlotNotices, care.SlotTask, care.SlotTask, care.SlotTask, care.SlotMoment, care.SlotMemo}
	if len(q.Slots) != len(kinds) {
		t.Fatalf("expected %d slots, got %d", len(kinds), len(q.Slots))
	}
	for i, k := range kinds {
		if q.Slots[i].Kind != k {
			t.Fatalf("slot %d: got %s want %s", i, q.Slots[i].Kind, k)
		}
	}
	if q.Slots[0].Items[0].ID != n.ID {
		t.Fatalf("abnormal notice should lead the notice group")
	}
	if q.Overflow != 3 {
		t.Fatalf("overflow %d, want 3", q.Overflow)
	}
}

func TestSortedItemsPutsAbnormalFirst(t *testing.T) {
	env := newTestEnv(t)
	env.task(t, "feed", domain.CadenceDaily, domain.SlotMorning)
	n, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{Kind: domain.KindNotice, Title: "Stool", Choices: []string{"normal", "concerning"}}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordAnswer(env.Ctx, n.ID, "", "concerning", "tester"); err != nil {
		t.Fatal(err)
	}
	views, err := env.Engine.SortedItems(env.Ctx, repo.ItemFilters{})
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 || views[0].Item.ID != n.ID || views[0].Priority.Class != care.ClassAbnormal {
		t.Fatalf("unexpected order %+v", views)
	}
}

func TestDigestSummarizesWeek(t *testing.T) {
	env := newTestEnv(t)
	n, err := env.Engine.CreateItem(env.Ctx, engine.ItemInput{SubjectID: "mochi", Kind: domain.KindNotice, Title: "Energy", Choices: []string{"normal", "slightly off"}}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.RecordAnswer(env.Ctx, n.ID, "", "slightly off", "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.UpsertInventory(env.Ctx, engine.InventoryInput{Label: "Dry food", Remaining: 1}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddNote(env.Ctx, engine.NoteInput{SubjectID: "mochi", Body: "Sneezed twice", Shared: true}, "tester"); err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.AddNote(env.Ctx, engine.NoteInput{Body: "private", Shared: false}, "tester"); err != nil {
		t.Fatal(err)
	}
	env.advance(time.Hour)

	d, err := env.Engine.Digest(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.AbnormalCount != 1 || len(d.Subjects) != 1 || d.Subjects[0].SubjectID != "mochi" {
		t.Fatalf("unexpected subjects %+v", d.Subjects)
	}
	if len(d.StockWarnings) != 1 || d.StockWarnings[0].Tier != care.TierDanger {
		t.Fatalf("unexpected stock warnings %+v", d.StockWarnings)
	}
	if len(d.RecentNotes) != 1 || d.RecentNotes[0].Body != "Sneezed twice" {
		t.Fatalf("only shared notes belong in the digest: %+v", d.RecentNotes)
	}

	// Eight days later the answer falls out of the window.
	env.advance(8 * 24 * time.Hour)
	d, err = env.Engine.Digest(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if d.AbnormalCount != 0 {
		t.Fatalf("expected old answers outside the window, got %d", d.AbnormalCount)
	}
}

func TestInventoryClampsAndClassifies(t *testing.T) {
	env := newTestEnv(t)
	v, err := env.Engine.UpsertInventory(env.Ctx, engine.InventoryInput{Label: "Litter", Remaining: 400}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if v.ID != "litter" || v.RemainingDays != 365 || v.Tier != care.TierOK {
		t.Fatalf("unexpected view %+v", v)
	}
	v, err = env.Engine.RecordStockAction(env.Ctx, v.ID, "spilled", 2, "tester")
	if err != nil || v.Tier != care.TierWarn || v.LastAction != "spilled" {
		t.Fatalf("stock action: %+v %v", v, err)
	}
	v, err = env.Engine.RecordStockAction(env.Ctx, v.ID, "checked", math.NaN(), "tester")
	if err != nil || v.RemainingDays != 2 {
		t.Fatalf("NaN should keep the estimate: %+v %v", v, err)
	}
	upper := 0.5
	if _, err := env.Engine.UpsertInventory(env.Ctx, engine.InventoryInput{Label: "Insulin", Remaining: 20, RemainingMax: &upper}, "tester"); err != nil {
		t.Fatal(err)
	}
	views, err := env.Engine.InventoryStatus(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(views) != 2 || views[0].ID != "insulin" || views[0].Tier != care.TierDanger {
		t.Fatalf("expected insulin first by its lower bound, got %+v", views)
	}
	if _, err := env.Engine.RecordStockAction(env.Ctx, "missing", "refilled", 30, "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestPhotosAndArchive(t *testing.T) {
	env := newTestEnv(t)
	p, err := env.Engine.AddPhoto(env.Ctx, engine.PhotoInput{SubjectID: "mochi", Tags: []string{"food", " "}}, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if len(p.Tags) != 1 || !p.TakenAt.Equal(baseTime) {
		t.Fatalf("unexpected photo %+v", p)
	}
	if err := env.Engine.ArchivePhoto(env.Ctx, p.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	if err := env.Engine.ArchivePhoto(env.Ctx, "nope", "tester"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	photos, err := env.Engine.Repo.ListPhotos(env.Ctx, "home", time.Time{})
	if err != nil || len(photos) != 1 || !photos[0].Archived {
		t.Fatalf("expected archived photo, got %+v %v", photos, err)
	}
}

func TestRoleChangesNeedAdmin(t *testing.T) {
	env := newTestEnv(t)
	if err := env.Engine.GrantRole(env.Ctx, "tester", "sam", "caregiver"); err != nil {
		t.Fatalf("grant: %v", err)
	}
	var forbidden auth.ForbiddenError
	if err := env.Engine.GrantRole(env.Ctx, "sam", "sam", "owner"); !errors.As(err, &forbidden) {
		t.Fatalf("caregiver must not grant roles, got %v", err)
	}
	if err := env.Engine.GrantRole(env.Ctx, "tester", "sam", "janitor"); !isValidation(err) {
		t.Fatalf("unknown role should be rejected, got %v", err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, "tester", "tester", "owner"); !isValidation(err) {
		t.Fatalf("last owner must stay, got %v", err)
	}
	if err := env.Engine.RevokeRole(env.Ctx, "tester", "sam", "caregiver"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	member, err := env.Engine.WhoAmI(env.Ctx, "sam")
	if err != nil || len(member.Roles) != 0 {
		t.Fatalf("expected no roles for sam, got %+v %v", member, err)
	}
}

func TestImportConfigReseeds(t *testing.T) {
	env := newTestEnv(t)
	cfg := config.Default("other")
	cfg.Household.Timezone = "Europe/Berlin"
	cfg.Subjects = []config.SubjectConfig{{ID: "mochi", Name: "Mochi"}, {ID: "bao", Name: "Bao", Species: "dog"}}
	next, err := env.Engine.ImportConfig(env.Ctx, cfg, "tester")
	if err != nil {
		t.Fatalf("import: %v", err)
	}
	if next.Config.Household.ID != "home" {
		t.Fatalf("import must keep the household id")
	}
	if next.Clock().Location().String() != "Europe/Berlin" {
		t.Fatalf("engine clock should follow the new time zone")
	}
	subjects, err := next.Repo.ListSubjects(env.Ctx, "home")
	if err != nil || len(subjects) != 2 {
		t.Fatalf("expected two subjects, got %+v %v", subjects, err)
	}
	h, err := next.Repo.GetHousehold(env.Ctx, "home")
	if err != nil || h.Timezone != "Europe/Berlin" {
		t.Fatalf("household time zone not mirrored: %+v %v", h, err)
	}
}
