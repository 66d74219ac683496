package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"reflect"
	"strings"
	"testing"
	"time"

	"waypoint/api/internal/align"
	"waypoint/api/internal/config"
	"waypoint/api/internal/draft"
	"waypoint/api/internal/export"
	"waypoint/api/internal/goal"
	"waypoint/api/internal/journal"
	"waypoint/api/internal/review"
	"waypoint/api/internal/search"
	"waypoint/api/internal/store"
)

type fakeStore struct {
	getUserByIDFn        func(context.Context, string) (store.User, error)
	getGoalFn            func(context.Context, string, string) (goal.Goal, error)
	insertGoalFn         func(context.Context, goal.Goal) error
	listGoalsFn          func(context.Context, string) ([]goal.Goal, error)
	listGoalsForRangeFn  func(context.Context, string, time.Time, time.Time) ([]goal.Goal, error)
	updateGoalFn         func(context.Context, string, string, store.GoalPatch) (bool, error)
	setGoalImageFn       func(context.Context, string, string, string) (bool, error)
	insertReviewFn       func(context.Context, store.WeeklyReview) error
	getWeeklyReviewFn    func(context.Context, string, string) (store.WeeklyReview, error)
	listWeeklyReviewsFn  func(context.Context, string) ([]store.WeeklyReview, error)
	lookupRefreshFn      func(context.Context, string) (store.User, error)
	isAccessRevokedFn    func(context.Context, string) (bool, error)
	saveRefreshSessionFn func(context.Context, string, string, time.Time) error
}

func (f *fakeStore) Ping(context.Context) error { return nil }
func (f *fakeStore) GetUserByID(ctx context.Context, userID string) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, DisplayName: "Avery", Email: "avery@example.com"}, nil
}
func (f *fakeStore) SaveRefreshSession(ctx context.Context, hash, userID string, expires time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, hash, userID, expires)
	}
	return nil
}
func (f *fakeStore) LookupRefreshSession(ctx context.Context, hash string) (store.User, error) {
	if f.lookupRefreshFn != nil {
		return f.lookupRefreshFn(ctx, hash)
	}
	return store.User{}, sql.ErrNoRows
}
func (f *fakeStore) RevokeRefreshSession(context.Context, string) error { return nil }
func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error {
	return nil
}
func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessRevokedFn != nil {
		return f.isAccessRevokedFn(ctx, jti)
	}
	return false, nil
}
func (f *fakeStore) InsertGoal(ctx context.Context, g goal.Goal) error {
	if f.insertGoalFn != nil {
		return f.insertGoalFn(ctx, g)
	}
	return nil
}
func (f *fakeStore) GetGoal(ctx context.Context, ownerID, goalID string) (goal.Goal, error) {
	if f.getGoalFn != nil {
		return f.getGoalFn(ctx, ownerID, goalID)
	}
	return goal.Goal{}, sql.ErrNoRows
}
func (f *fakeStore) ListGoals(ctx context.Context, ownerID string) ([]goal.Goal, error) {
	if f.listGoalsFn != nil {
		return f.listGoalsFn(ctx, ownerID)
	}
	return nil, nil
}
func (f *fakeStore) ListGoalsForRange(ctx context.Context, ownerID string, start, end time.Time) ([]goal.Goal, error) {
	if f.listGoalsForRangeFn != nil {
		return f.listGoalsForRangeFn(ctx, ownerID, start, end)
	}
	return nil, nil
}
func (f *fakeStore) UpdateGoal(ctx context.Context, ownerID, goalID string, patch store.GoalPatch) (bool, error) {
	if f.updateGoalFn != nil {
		return f.updateGoalFn(ctx, ownerID, goalID, patch)
	}
	return true, nil
}
func (f *fakeStore) SetGoalImage(ctx context.Context, ownerID, goalID, objectKey string) (bool, error) {
	if f.setGoalImageFn != nil {
		return f.setGoalImageFn(ctx, ownerID, goalID, objectKey)
	}
	return true, nil
}
func (f *fakeStore) InsertWeeklyReview(ctx context.Context, rev store.WeeklyReview) error {
	if f.insertReviewFn != nil {
		return f.insertReviewFn(ctx, rev)
	}
	return nil
}
func (f *fakeStore) GetWeeklyReview(ctx context.Context, ownerID, reviewID string) (store.WeeklyReview, error) {
	if f.getWeeklyReviewFn != nil {
		return f.getWeeklyReviewFn(ctx, ownerID, reviewID)
	}
	return store.WeeklyReview{}, sql.ErrNoRows
}
func (f *fakeStore) ListWeeklyReviews(ctx context.Context, ownerID string) ([]store.WeeklyReview, error) {
	if f.listWeeklyReviewsFn != nil {
		return f.listWeeklyReviewsFn(ctx, ownerID)
	}
	return nil, nil
}

type fakeJournal struct {
	ensureFn  func(string, string) error
	commitFn  func(string, string, review.SubmitPayload) (journal.CommitInfo, error)
	historyFn func(string, int) ([]journal.CommitInfo, error)
}

func (f *fakeJournal) EnsureJournal(userID, displayName string) error {
	if f.ensureFn != nil {
		return f.ensureFn(userID, displayName)
	}
	return nil
}
func (f *fakeJournal) CommitReview(userID, displayName string, payload review.SubmitPayload) (journal.CommitInfo, error) {
	if f.commitFn != nil {
		return f.commitFn(userID, displayName, payload)
	}
	return journal.CommitInfo{Hash: "abc1234", Author: displayName, CreatedAt: time.Now()}, nil
}
func (f *fakeJournal) History(userID string, limit int) ([]journal.CommitInfo, error) {
	if f.historyFn != nil {
		return f.historyFn(userID, limit)
	}
	return nil, nil
}

type fakeSearch struct {
	searchFn      func(search.Query) search.Response
	indexedGoals  []search.GoalRecord
	indexedReview []search.ReviewRecord
	deletedGoals  []string
}

func (f *fakeSearch) Search(q search.Query) search.Response {
	if f.searchFn != nil {
		return f.searchFn(q)
	}
	return search.Response{Results: []search.Result{}, Query: q.Text}
}
func (f *fakeSearch) IndexGoal(g search.GoalRecord)     { f.indexedGoals = append(f.indexedGoals, g) }
func (f *fakeSearch) IndexReview(r search.ReviewRecord) { f.indexedReview = append(f.indexedReview, r) }
func (f *fakeSearch) DeleteGoal(id string)              { f.deletedGoals = append(f.deletedGoals, id) }

type fakeMedia struct {
	uploadFn func(context.Context, string, string, int64, io.Reader) (string, error)
	removed  []string
}

func (f *fakeMedia) UploadVisionImage(ctx context.Context, ownerID, contentType string, size int64, body io.Reader) (string, error) {
	if f.uploadFn != nil {
		return f.uploadFn(ctx, ownerID, contentType, size, body)
	}
	return ownerID + "/img_new.png", nil
}
func (f *fakeMedia) PresignedURL(_ context.Context, key string) (string, error) {
	return "https://media.test/" + key, nil
}
func (f *fakeMedia) Remove(_ context.Context, key string) error {
	f.removed = append(f.removed, key)
	return nil
}

func newTestService(fs *fakeStore) *Service {
	return &Service{
		cfg: config.Config{
			TokenSecret: "test-secret",
			AccessTTL:   15 * time.Minute,
			RefreshTTL:  30 * 24 * time.Hour,
		},
		store:      fs,
		sessions:   fs,
		drafts:     draft.NewMemoryStore(time.Hour),
		journal:    &fakeJournal{},
		search:     &fakeSearch{},
		exporter:   export.NewService(),
		checker:    align.NewChecker(),
		submitting: make(map[string]bool),
	}
}

func testSession() Session {
	return Session{UserID: "user-1", UserName: "Avery"}
}

func domainCode(t *testing.T, err error) string {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	return domainErr.Code
}

func TestCreateGoalRejectsOrphanedFocus(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level:     "focus",
		Title:     "Ship the beta",
		WeekStart: "2026-08-24",
	})
	if code := domainCode(t, err); code != "LINKAGE_REQUIRED" {
		t.Fatalf("expected LINKAGE_REQUIRED, got %s", code)
	}
	if !strings.Contains(err.Error(), "A Focus must support a Milestone.") {
		t.Fatalf("expected the focus linkage message, got %v", err)
	}
}

func TestCreateGoalRejectsFocusLinkedToVision(t *testing.T) {
	fs := &fakeStore{
		getGoalFn: func(_ context.Context, _, goalID string) (goal.Goal, error) {
			return goal.Goal{ID: goalID, Level: goal.LevelVision, Title: "Run a marathon"}, nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level:     "focus",
		Title:     "Long runs",
		WeekStart: "2026-08-24",
		ParentID:  "goal-vision",
	})
	if code := domainCode(t, err); code != "LINKAGE_REQUIRED" {
		t.Fatalf("expected LINKAGE_REQUIRED, got %s", code)
	}
}

func TestCreateGoalIntentionUnlinkedSucceeds(t *testing.T) {
	var inserted goal.Goal
	fs := &fakeStore{
		insertGoalFn: func(_ context.Context, g goal.Goal) error {
			inserted = g
			return nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level: "intention",
		Title: "Call the dentist",
		Date:  "2026-08-26",
	})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	if inserted.Level != goal.LevelIntention || inserted.ParentID != "" {
		t.Fatalf("expected an unlinked intention, got %+v", inserted)
	}
	if _, has := payload["warning"]; has {
		t.Fatalf("an unlinked intention should not carry a warning")
	}
}

func TestCreateGoalIntentionNonConformingParentWarns(t *testing.T) {
	fs := &fakeStore{
		getGoalFn: func(_ context.Context, _, goalID string) (goal.Goal, error) {
			return goal.Goal{ID: goalID, Level: goal.LevelMilestone, Title: "August milestone"}, nil
		},
	}
	svc := newTestService(fs)

	payload, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level:    "intention",
		Title:    "Draft the outline",
		Date:     "2026-08-26",
		ParentID: "goal-milestone",
	})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	warning, _ := payload["warning"].(string)
	if !strings.Contains(warning, "Intentions usually support") {
		t.Fatalf("expected the non-conforming warning, got %q", warning)
	}
}

func TestCreateGoalVanishedParent(t *testing.T) {
	svc := newTestService(&fakeStore{}) // GetGoal defaults to sql.ErrNoRows

	_, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level:    "milestone",
		Title:    "First draft",
		Year:     2026,
		Month:    9,
		ParentID: "goal-gone",
	})
	if code := domainCode(t, err); code != "LINKAGE_REQUIRED" {
		t.Fatalf("expected LINKAGE_REQUIRED for a vanished parent, got %s", code)
	}
}

func TestCreateGoalFocusNormalizesWeekStart(t *testing.T) {
	var inserted goal.Goal
	fs := &fakeStore{
		getGoalFn: func(_ context.Context, _, goalID string) (goal.Goal, error) {
			return goal.Goal{ID: goalID, Level: goal.LevelMilestone}, nil
		},
		insertGoalFn: func(_ context.Context, g goal.Goal) error {
			inserted = g
			return nil
		},
	}
	svc := newTestService(fs)

	// 2026-08-26 is a Wednesday; the stored start date must be its Monday.
	_, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level:     "focus",
		Title:     "Ship the beta",
		WeekStart: "2026-08-26",
		ParentID:  "goal-milestone",
	})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	if inserted.StartDate == nil || inserted.StartDate.Format("2006-01-02") != "2026-08-24" {
		t.Fatalf("expected start date 2026-08-24, got %v", inserted.StartDate)
	}
}

func TestCreateGoalIndexesForSearch(t *testing.T) {
	svc := newTestService(&fakeStore{})
	fsearch := &fakeSearch{}
	svc.search = fsearch

	_, err := svc.CreateGoal(context.Background(), "user-1", CreateGoalInput{
		Level: "vision",
		Title: "Run a marathon",
		Year:  2026,
	})
	if err != nil {
		t.Fatalf("CreateGoal: %v", err)
	}
	if len(fsearch.indexedGoals) != 1 || fsearch.indexedGoals[0].Title != "Run a marathon" {
		t.Fatalf("expected the new goal to be indexed, got %+v", fsearch.indexedGoals)
	}
	if fsearch.indexedGoals[0].OwnerID != "user-1" {
		t.Fatalf("indexed record must carry the owner")
	}
}

func TestUpdateGoalRelinkValidates(t *testing.T) {
	fs := &fakeStore{
		getGoalFn: func(_ context.Context, _, goalID string) (goal.Goal, error) {
			if goalID == "goal-focus" {
				return goal.Goal{ID: goalID, Level: goal.LevelFocus, Title: "Long runs"}, nil
			}
			return goal.Goal{ID: goalID, Level: goal.LevelVision, Title: "Run a marathon"}, nil
		},
	}
	svc := newTestService(fs)

	parentID := "goal-vision"
	_, err := svc.UpdateGoal(context.Background(), "user-1", "goal-focus", UpdateGoalInput{ParentID: &parentID})
	if code := domainCode(t, err); code != "LINKAGE_REQUIRED" {
		t.Fatalf("expected relink to a vision to be rejected, got %s", code)
	}
}

func TestParentCandidatesPresentation(t *testing.T) {
	goals := make([]goal.Goal, 0, 8)
	for _, title := range []string{"Health", "Career", "Craft"} {
		goals = append(goals, goal.Goal{
			ID:    "vis-" + title,
			Level: goal.LevelVision,
			Title: title,
			Year:  2026,
		})
	}
	fs := &fakeStore{
		listGoalsFn: func(context.Context, string) ([]goal.Goal, error) { return goals, nil },
	}
	svc := newTestService(fs)

	payload, err := svc.ParentCandidates(context.Background(), "user-1", "milestone", 2026, 0)
	if err != nil {
		t.Fatalf("ParentCandidates: %v", err)
	}
	// 3 candidates plus the "none" option stays under the pill threshold.
	if payload["presentation"] != "pills" {
		t.Fatalf("expected pills for a small candidate set, got %v", payload["presentation"])
	}
}

func TestWizardFullPass(t *testing.T) {
	var inserted store.WeeklyReview
	var committed review.SubmitPayload
	fs := &fakeStore{
		insertReviewFn: func(_ context.Context, rev store.WeeklyReview) error {
			inserted = rev
			return nil
		},
	}
	svc := newTestService(fs)
	fjournal := &fakeJournal{
		commitFn: func(_, displayName string, payload review.SubmitPayload) (journal.CommitInfo, error) {
			committed = payload
			return journal.CommitInfo{Hash: "abc1234", Author: displayName}, nil
		},
	}
	svc.journal = fjournal
	fsearch := &fakeSearch{}
	svc.search = fsearch

	ctx := context.Background()
	session := testSession()

	opened, err := svc.OpenWizard(ctx, session.UserID, "tab-1")
	if err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	if opened["resumed"] != false {
		t.Fatalf("a fresh wizard must not report resumed")
	}

	inputs := []review.StepInput{
		{Mood: 4},
		{Items: []string{"Shipped the feature", "", "Slept well"}},
		{Items: []string{"Meetings ate Tuesday"}},
		{Text: "Smaller scopes land faster"},
		{Text: "Health vision needs a milestone"},
		{Items: []string{"Ship v2"}},
	}
	for i, input := range inputs {
		if _, err := svc.WizardNext(ctx, session, "tab-1", input); err != nil {
			t.Fatalf("step %d: %v", i+1, err)
		}
	}

	// Next from the summary is the submit path.
	payload, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if payload["submitted"] != true {
		t.Fatalf("expected submitted=true, got %v", payload)
	}

	if inserted.Mood != 4 {
		t.Fatalf("expected mood 4, got %d", inserted.Mood)
	}
	if len(inserted.Wins) != 2 || inserted.Wins[0] != "Shipped the feature" {
		t.Fatalf("blank win rows must be dropped, got %v", inserted.Wins)
	}
	if len(inserted.NextWeekPriorities) != 1 || inserted.NextWeekPriorities[0] != "Ship v2" {
		t.Fatalf("unexpected priorities: %v", inserted.NextWeekPriorities)
	}
	if committed.Learnings != "Smaller scopes land faster" {
		t.Fatalf("journal commit missing learnings: %+v", committed)
	}
	if len(fsearch.indexedReview) != 1 {
		t.Fatalf("expected the review to be indexed")
	}

	// Draft is gone: reopening starts fresh at step 1.
	reopened, err := svc.OpenWizard(ctx, session.UserID, "tab-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened["resumed"] != false {
		t.Fatalf("submitting must clear the draft")
	}
}

func TestWizardResume(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	if _, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{Mood: 3}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{Items: []string{"Got outside"}}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	payload, err := svc.OpenWizard(ctx, session.UserID, "tab-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if payload["resumed"] != true {
		t.Fatalf("expected resumed=true")
	}
	d := payload["draft"].(*review.Draft)
	if d.CurrentStep != review.StepChallenges {
		t.Fatalf("expected to resume at step 3, got %d", d.CurrentStep)
	}
	if d.Data.Mood != 3 || len(d.Data.Wins) != 1 {
		t.Fatalf("resumed draft lost collected answers: %+v", d.Data)
	}

	// A different client session gets its own fresh draft.
	other, err := svc.OpenWizard(ctx, session.UserID, "tab-2")
	if err != nil {
		t.Fatalf("OpenWizard tab-2: %v", err)
	}
	if other["resumed"] != false {
		t.Fatalf("drafts must be scoped per client session")
	}
}

func TestWizardBulletStepsCarryRows(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	opened, err := svc.OpenWizard(ctx, session.UserID, "default")
	if err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	if _, ok := opened["rows"]; ok {
		t.Fatal("the mood step must not carry rows")
	}

	payload, err := svc.WizardNext(ctx, session, "default", review.StepInput{Mood: 4})
	if err != nil {
		t.Fatalf("advance to wins: %v", err)
	}
	rows, ok := payload["rows"].([]string)
	if !ok {
		t.Fatalf("wins payload carries no rows: %v", payload["rows"])
	}
	if !reflect.DeepEqual(rows, []string{""}) {
		t.Fatalf("a fresh wins step renders %v, want one blank row", rows)
	}

	payload, err = svc.WizardNext(ctx, session, "default", review.StepInput{Items: []string{"Got outside", "Finished the draft"}})
	if err != nil {
		t.Fatalf("advance to challenges: %v", err)
	}
	if _, err := svc.WizardBack(ctx, session, "default"); err != nil {
		t.Fatalf("back to wins: %v", err)
	}
	payload, err = svc.OpenWizard(ctx, session.UserID, "default")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	rows, _ = payload["rows"].([]string)
	if !reflect.DeepEqual(rows, []string{"Got outside", "Finished the draft"}) {
		t.Fatalf("rows should be seeded from collected wins, got %v", rows)
	}
}

func TestWizardRejectsInvalidMood(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	_, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{Mood: 9})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestWizardSubmitDuplicateWeekConflicts(t *testing.T) {
	fs := &fakeStore{
		insertReviewFn: func(context.Context, store.WeeklyReview) error {
			return store.ErrDuplicateReview
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	inputs := []review.StepInput{
		{Mood: 3},
		{Items: []string{"Kept the streak"}},
		{Items: nil},
		{Text: ""},
		{Text: ""},
		{Items: nil},
	}
	for _, input := range inputs {
		if _, err := svc.WizardNext(ctx, session, "tab-1", input); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	_, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{})
	if code := domainCode(t, err); code != "REVIEW_EXISTS" {
		t.Fatalf("expected REVIEW_EXISTS, got %s", code)
	}
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected a domain error, got %v", err)
	}
	if domainErr.Status != 409 {
		t.Fatalf("status = %d, want 409", domainErr.Status)
	}
	if !strings.Contains(domainErr.Message, "already reviewed week") {
		t.Fatalf("message should name the week: %q", domainErr.Message)
	}
}

func TestWizardSubmitFailureKeepsDraft(t *testing.T) {
	fs := &fakeStore{
		insertReviewFn: func(context.Context, store.WeeklyReview) error {
			return errors.New("connection reset")
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	inputs := []review.StepInput{
		{Mood: 2},
		{Items: []string{"Survived"}},
		{Items: nil},
		{Text: ""},
		{Text: ""},
		{Items: nil},
	}
	for _, input := range inputs {
		if _, err := svc.WizardNext(ctx, session, "tab-1", input); err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	if _, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{}); err == nil {
		t.Fatalf("expected the submit to fail")
	}

	payload, err := svc.OpenWizard(ctx, session.UserID, "tab-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if payload["resumed"] != true {
		t.Fatalf("a failed submit must keep the draft")
	}
	d := payload["draft"].(*review.Draft)
	if d.Data.Mood != 2 || len(d.Data.Wins) != 1 {
		t.Fatalf("draft lost answers after failed submit: %+v", d.Data)
	}

	// The in-flight guard must have been released.
	svc.submitMu.Lock()
	inflight := len(svc.submitting)
	svc.submitMu.Unlock()
	if inflight != 0 {
		t.Fatalf("submit guard still held after failure")
	}
}

func TestWizardSubmitInFlightGuard(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	key := draft.Key(session.UserID, "tab-1")
	svc.submitMu.Lock()
	svc.submitting[key] = true
	svc.submitMu.Unlock()

	d := review.NewDraft(2026, 35)
	d.CurrentStep = review.StepSummary
	_, err := svc.submitReview(ctx, session, key, d)
	if code := domainCode(t, err); code != "SUBMIT_IN_FLIGHT" {
		t.Fatalf("expected SUBMIT_IN_FLIGHT, got %s", code)
	}
}

func TestWizardBackKeepsAnswers(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	if _, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{Mood: 5}); err != nil {
		t.Fatalf("advance: %v", err)
	}

	payload, err := svc.WizardBack(ctx, session, "tab-1")
	if err != nil {
		t.Fatalf("back: %v", err)
	}
	d := payload["draft"].(*review.Draft)
	if d.CurrentStep != review.StepMood {
		t.Fatalf("expected step 1 after back, got %d", d.CurrentStep)
	}
	if d.Data.Mood != 5 {
		t.Fatalf("back must not discard the collected mood")
	}
}

func TestWizardSaveExitOnlyMidWizard(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	// Step 1 does not offer save and exit.
	_, err := svc.WizardSaveExit(ctx, session, "tab-1", review.StepInput{Mood: 3})
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR on step 1, got %s", code)
	}

	if _, err := svc.WizardNext(ctx, session, "tab-1", review.StepInput{Mood: 3}); err != nil {
		t.Fatalf("advance: %v", err)
	}
	payload, err := svc.WizardSaveExit(ctx, session, "tab-1", review.StepInput{Items: []string{"Kept going"}})
	if err != nil {
		t.Fatalf("save-exit: %v", err)
	}
	if payload["saved"] != true {
		t.Fatalf("expected saved=true, got %v", payload)
	}

	reopened, err := svc.OpenWizard(ctx, session.UserID, "tab-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	d := reopened["draft"].(*review.Draft)
	if len(d.Data.Wins) != 1 || d.Data.Wins[0] != "Kept going" {
		t.Fatalf("save-exit must persist the current step's input, got %+v", d.Data)
	}
}

func TestWizardDiscard(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	if _, err := svc.WizardDiscard(ctx, session, "tab-1"); err != nil {
		t.Fatalf("discard: %v", err)
	}
	payload, err := svc.OpenWizard(ctx, session.UserID, "tab-1")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if payload["resumed"] != false {
		t.Fatalf("discard must drop the draft")
	}
}

func TestWizardAlignmentStepEmbedsContext(t *testing.T) {
	weekYear, _ := goal.WeekNumber(time.Now())
	fs := &fakeStore{
		listGoalsFn: func(context.Context, string) ([]goal.Goal, error) {
			return []goal.Goal{{
				ID:    "vis-1",
				Level: goal.LevelVision,
				Title: "Run a marathon",
				Year:  weekYear,
			}}, nil
		},
	}
	svc := newTestService(fs)
	ctx := context.Background()
	session := testSession()

	if _, err := svc.OpenWizard(ctx, session.UserID, "tab-1"); err != nil {
		t.Fatalf("OpenWizard: %v", err)
	}
	inputs := []review.StepInput{
		{Mood: 3},
		{Items: nil},
		{Items: nil},
		{Text: ""},
	}
	var payload map[string]any
	var err error
	for _, input := range inputs {
		payload, err = svc.WizardNext(ctx, session, "tab-1", input)
		if err != nil {
			t.Fatalf("advance: %v", err)
		}
	}

	attention, ok := payload["alignmentContext"].([]align.Attention)
	if !ok {
		t.Fatalf("step 5 must embed alignment context, got %T", payload["alignmentContext"])
	}
	if len(attention) != 1 || attention[0].VisionState != align.StateNoMilestones {
		t.Fatalf("expected the milestone-less vision to surface, got %+v", attention)
	}
}

func TestReviewPromptOncePerSession(t *testing.T) {
	svc := newTestService(&fakeStore{})
	ctx := context.Background()
	session := testSession()

	first, err := svc.ReviewPrompt(ctx, session, "tab-1")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if first["shouldPrompt"] != true {
		t.Fatalf("first read should prompt")
	}
	second, err := svc.ReviewPrompt(ctx, session, "tab-1")
	if err != nil {
		t.Fatalf("prompt: %v", err)
	}
	if second["shouldPrompt"] != false {
		t.Fatalf("second read must not prompt again")
	}
}

func TestSetVisionImageValidation(t *testing.T) {
	fs := &fakeStore{
		getGoalFn: func(_ context.Context, _, goalID string) (goal.Goal, error) {
			if goalID == "goal-focus" {
				return goal.Goal{ID: goalID, Level: goal.LevelFocus}, nil
			}
			return goal.Goal{ID: goalID, Level: goal.LevelVision, ImageObject: "user-1/img_old.png"}, nil
		},
	}
	svc := newTestService(fs)
	fmedia := &fakeMedia{}
	svc.media = fmedia
	ctx := context.Background()

	_, err := svc.SetVisionImage(ctx, "user-1", "goal-focus", "image/png", 100, strings.NewReader("x"))
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR for a non-vision, got %s", code)
	}

	_, err = svc.SetVisionImage(ctx, "user-1", "goal-vision", "image/gif", 100, strings.NewReader("x"))
	if code := domainCode(t, err); code != "UNSUPPORTED_MEDIA_TYPE" {
		t.Fatalf("expected UNSUPPORTED_MEDIA_TYPE for a gif, got %s", code)
	}

	payload, err := svc.SetVisionImage(ctx, "user-1", "goal-vision", "image/png", 100, strings.NewReader("x"))
	if err != nil {
		t.Fatalf("SetVisionImage: %v", err)
	}
	if payload["imageObject"] == "" {
		t.Fatalf("expected the new object key in the payload")
	}
	if len(fmedia.removed) != 1 || fmedia.removed[0] != "user-1/img_old.png" {
		t.Fatalf("the replaced object must be removed, got %v", fmedia.removed)
	}
}

func TestVisionImageURLWithoutImage(t *testing.T) {
	fs := &fakeStore{
		getGoalFn: func(_ context.Context, _, goalID string) (goal.Goal, error) {
			return goal.Goal{ID: goalID, Level: goal.LevelVision}, nil
		},
	}
	svc := newTestService(fs)
	svc.media = &fakeMedia{}

	_, err := svc.VisionImageURL(context.Background(), "user-1", "goal-vision")
	if !errors.Is(err, sql.ErrNoRows) {
		t.Fatalf("expected not-found for a vision without an image, got %v", err)
	}
}

func TestSearchScopedToOwner(t *testing.T) {
	svc := newTestService(&fakeStore{})
	var captured search.Query
	svc.search = &fakeSearch{
		searchFn: func(q search.Query) search.Response {
			captured = q
			return search.Response{Results: []search.Result{}, Query: q.Text}
		},
	}

	if _, err := svc.Search(context.Background(), "user-1", "marathon", "", "vision", 20, 0); err != nil {
		t.Fatalf("Search: %v", err)
	}
	if captured.OwnerID != "user-1" {
		t.Fatalf("search queries must be owner scoped, got %q", captured.OwnerID)
	}
	if captured.FilterLevel != "vision" {
		t.Fatalf("level filter lost: %+v", captured)
	}
}

func TestSessionLifecycle(t *testing.T) {
	var savedHash string
	fs := &fakeStore{
		saveRefreshSessionFn: func(_ context.Context, hash, _ string, _ time.Time) error {
			savedHash = hash
			return nil
		},
	}
	fs.lookupRefreshFn = func(_ context.Context, hash string) (store.User, error) {
		if hash != savedHash {
			return store.User{}, sql.ErrNoRows
		}
		return store.User{ID: "user-1", DisplayName: "Avery"}, nil
	}
	svc := newTestService(fs)
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if session.Token == "" || session.RefreshToken == "" {
		t.Fatalf("expected both tokens")
	}
	if savedHash == session.RefreshToken {
		t.Fatalf("refresh tokens must be stored hashed")
	}

	parsed, err := svc.SessionFromToken(ctx, session.Token)
	if err != nil {
		t.Fatalf("SessionFromToken: %v", err)
	}
	if parsed.UserID != "user-1" || parsed.UserName != "Avery" {
		t.Fatalf("unexpected parsed session: %+v", parsed)
	}

	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.RefreshToken == session.RefreshToken {
		t.Fatalf("refresh must rotate the token")
	}
}

// fakeSessions stands in for the Redis refresh backend: it only remembers
// which user a token hash belongs to.
type fakeSessions struct {
	saved map[string]string
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash, userID string, _ time.Time) error {
	if f.saved == nil {
		f.saved = make(map[string]string)
	}
	f.saved[hash] = userID
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	userID, ok := f.saved[hash]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return store.User{ID: userID}, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	delete(f.saved, hash)
	return nil
}

func TestRefreshSessionsUseDedicatedBackend(t *testing.T) {
	fs := &fakeStore{
		saveRefreshSessionFn: func(context.Context, string, string, time.Time) error {
			t.Fatal("refresh sessions must not reach the data store when a dedicated backend is set")
			return nil
		},
	}
	sessions := &fakeSessions{}
	svc := newTestService(fs)
	svc.sessions = sessions
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if len(sessions.saved) != 1 {
		t.Fatalf("backend holds %d sessions, want 1", len(sessions.saved))
	}

	// The backend stores only the user id; the rotated session still
	// carries the profile read from the data store.
	rotated, err := svc.Refresh(ctx, session.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if rotated.UserName != "Avery" || rotated.Email != "avery@example.com" {
		t.Fatalf("rotated session lost the profile: %+v", rotated)
	}
	if len(sessions.saved) != 1 {
		t.Fatalf("rotation should revoke the old token, backend holds %d", len(sessions.saved))
	}

	if err := svc.Logout(ctx, rotated, rotated.RefreshToken); err != nil {
		t.Fatalf("Logout: %v", err)
	}
	if len(sessions.saved) != 0 {
		t.Fatalf("logout should revoke the refresh token, backend holds %d", len(sessions.saved))
	}
}

func TestSessionFromTokenRejectsRevoked(t *testing.T) {
	fs := &fakeStore{
		isAccessRevokedFn: func(context.Context, string) (bool, error) { return true, nil },
	}
	svc := newTestService(fs)

	session, err := svc.CreateSession(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := svc.SessionFromToken(context.Background(), session.Token); err == nil {
		t.Fatalf("a revoked token must not resolve to a session")
	}
}

func TestExportReviewUnknownFormat(t *testing.T) {
	svc := newTestService(&fakeStore{})
	_, err := svc.ExportReview(context.Background(), testSession(), "rev-1", "xlsx")
	if code := domainCode(t, err); code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", code)
	}
}

func TestExportReviewMarkdown(t *testing.T) {
	fs := &fakeStore{
		getWeeklyReviewFn: func(_ context.Context, _, reviewID string) (store.WeeklyReview, error) {
			return store.WeeklyReview{
				ID:        reviewID,
				OwnerID:   "user-1",
				WeekStart: time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC),
				WeekEnd:   time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC),
				Mood:      4,
				Wins:      []string{"Shipped the feature"},
			}, nil
		},
	}
	svc := newTestService(fs)

	result, err := svc.ExportReview(context.Background(), testSession(), "rev-1", "markdown")
	if err != nil {
		t.Fatalf("ExportReview: %v", err)
	}
	body := string(result.Data)
	if !strings.Contains(body, "# Week 35, 2026") {
		t.Fatalf("markdown export missing the week heading:\n%s", body)
	}
	if !strings.Contains(body, "Shipped the feature") {
		t.Fatalf("markdown export missing the win:\n%s", body)
	}
}

func TestListGoalsWeekFilterUsesRange(t *testing.T) {
	var gotStart, gotEnd time.Time
	fs := &fakeStore{
		listGoalsForRangeFn: func(_ context.Context, _ string, start, end time.Time) ([]goal.Goal, error) {
			gotStart, gotEnd = start, end
			return nil, nil
		},
	}
	svc := newTestService(fs)

	if _, err := svc.ListGoals(context.Background(), "user-1", "", 2026, 35); err != nil {
		t.Fatalf("ListGoals: %v", err)
	}
	if gotStart.Format("2006-01-02") != "2026-08-24" || gotEnd.Format("2006-01-02") != "2026-08-30" {
		t.Fatalf("unexpected week bounds: %s to %s", gotStart, gotEnd)
	}
}
