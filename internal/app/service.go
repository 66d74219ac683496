package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"waypoint/api/internal/align"
	"waypoint/api/internal/auth"
	"waypoint/api/internal/authpw"
	"waypoint/api/internal/config"
	"waypoint/api/internal/draft"
	"waypoint/api/internal/email"
	"waypoint/api/internal/export"
	"waypoint/api/internal/goal"
	"waypoint/api/internal/journal"
	"waypoint/api/internal/media"
	"waypoint/api/internal/review"
	"waypoint/api/internal/search"
	"waypoint/api/internal/store"
	"waypoint/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	JTI          string
	ExpiresAt    time.Time
}

// CreateGoalInput is the per-level create payload. Only the fields legal
// for the requested level are read.
type CreateGoalInput struct {
	Level            string `json:"level"`
	Title            string `json:"title"`
	Year             int    `json:"year"`
	Month            int    `json:"month"`
	Date             string `json:"date"`      // intentions, YYYY-MM-DD
	WeekStart        string `json:"weekStart"` // focuses, any day of the target week
	ParentID         string `json:"parentId"`
	AccentTheme      string `json:"accentTheme"`
	LowEnergyVariant string `json:"lowEnergyVariant"`
	TinyVersion      string `json:"tinyVersion"`
}

// UpdateGoalInput carries the PATCH fields. Nil means leave unchanged;
// ParentID set to the empty string means unlink.
type UpdateGoalInput struct {
	Title            *string `json:"title"`
	Status           *string `json:"status"`
	ParentID         *string `json:"parentId"`
	AccentTheme      *string `json:"accentTheme"`
	LowEnergyVariant *string `json:"lowEnergyVariant"`
	TinyVersion      *string `json:"tinyVersion"`
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)
	InsertGoal(context.Context, goal.Goal) error
	GetGoal(context.Context, string, string) (goal.Goal, error)
	ListGoals(context.Context, string) ([]goal.Goal, error)
	ListGoalsForRange(context.Context, string, time.Time, time.Time) ([]goal.Goal, error)
	UpdateGoal(context.Context, string, string, store.GoalPatch) (bool, error)
	SetGoalImage(context.Context, string, string, string) (bool, error)
	InsertWeeklyReview(context.Context, store.WeeklyReview) error
	GetWeeklyReview(context.Context, string, string) (store.WeeklyReview, error)
	ListWeeklyReviews(context.Context, string) ([]store.WeeklyReview, error)
}

type journalService interface {
	EnsureJournal(userID, displayName string) error
	CommitReview(userID, displayName string, payload review.SubmitPayload) (journal.CommitInfo, error)
	History(userID string, limit int) ([]journal.CommitInfo, error)
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexGoal(g search.GoalRecord)
	IndexReview(r search.ReviewRecord)
	DeleteGoal(id string)
}

type mediaService interface {
	UploadVisionImage(ctx context.Context, ownerID, contentType string, size int64, body io.Reader) (string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	Remove(ctx context.Context, key string) error
}

// sessionStore is the refresh token backend. The Postgres store
// implements it; session.RedisStore swaps in when Redis is configured.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions sessionStore
	drafts   draft.Store
	journal  journalService
	search   searchService
	media    mediaService
	authpw   *authpw.Service
	email    *email.Service
	exporter *export.Service
	checker  *align.Checker

	submitMu   sync.Mutex
	submitting map[string]bool
}

func New(cfg config.Config, dataStore *store.PostgresStore, drafts draft.Store, journalSvc *journal.Service, searchSvc *search.Service, mediaSvc *media.Service, authSvc *authpw.Service, emailSvc *email.Service) *Service {
	s := &Service{
		cfg:        cfg,
		store:      dataStore,
		sessions:   dataStore,
		drafts:     drafts,
		authpw:     authSvc,
		email:      emailSvc,
		exporter:   export.NewService(),
		checker:    align.NewChecker(),
		submitting: make(map[string]bool),
	}
	if journalSvc != nil {
		s.journal = journalSvc
	}
	if searchSvc != nil {
		s.search = searchSvc
	}
	if mediaSvc != nil {
		s.media = mediaSvc
	}
	return s
}

// NewWithSessionStore is New with refresh sessions held in a dedicated
// backend instead of Postgres. Access token revocation stays in Postgres.
func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions sessionStore, drafts draft.Store, journalSvc *journal.Service, searchSvc *search.Service, mediaSvc *media.Service, authSvc *authpw.Service, emailSvc *email.Service) *Service {
	s := New(cfg, dataStore, drafts, journalSvc, searchSvc, mediaSvc, authSvc, emailSvc)
	s.sessions = sessions
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) AuthPasswordService() *authpw.Service {
	return s.authpw
}

func (s *Service) SMTPConfigured() bool {
	return s.email != nil && s.email.IsConfigured()
}

// SendVerificationEmail delivers the signup verification link when SMTP is
// configured. Fire-and-forget: signup never fails on a mail hiccup.
func (s *Service) SendVerificationEmail(address, displayName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	url := fmt.Sprintf("%s/verify-email?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
	go func() {
		if err := s.email.SendVerificationEmail(address, displayName, url); err != nil {
			log.Printf("email: send verification to %s: %v", address, err)
		}
	}()
}

// SendPasswordResetEmail delivers the reset link when SMTP is configured.
func (s *Service) SendPasswordResetEmail(address, displayName, token string) {
	if !s.SMTPConfigured() {
		return
	}
	if displayName == "" {
		displayName = "there"
	}
	url := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), token)
	go func() {
		if err := s.email.SendPasswordResetEmail(address, displayName, url); err != nil {
			log.Printf("email: send password reset to %s: %v", address, err)
		}
	}()
}

// CreateSession issues an access/refresh token pair for a verified user.
func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The Redis backend stores only the user id. Re-read the profile so
	// the new session carries current name and email from either backend.
	user, err = s.store.GetUserByID(ctx, user.ID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.TokenSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.DisplayName,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.DisplayName,
		Email:        user.Email,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.TokenSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.DisplayName,
		Email:     user.Email,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

// CreateGoal validates linkage and level-specific fields, then persists
// the goal. A rejected linkage is a 422 with the rule's message.
func (s *Service) CreateGoal(ctx context.Context, userID string, in CreateGoalInput) (map[string]any, error) {
	level, err := goal.ParseLevel(in.Level)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "level must be one of vision, milestone, focus, intention", nil)
	}

	selection, err := s.resolveSelection(ctx, userID, in.ParentID)
	if err != nil {
		return nil, err
	}
	result := goal.Validate(level, selection)
	if !result.OK {
		return nil, domainError(http.StatusUnprocessableEntity, "LINKAGE_REQUIRED", result.Message, nil)
	}

	now := time.Now().UTC()
	id := util.NewID("goal")

	// The flat wire payload narrows into the per-level input, so each
	// constructor only ever sees the fields its level may carry. A vision
	// input has no parent slot; any selection is dropped there.
	var g goal.Goal
	var buildErr error
	switch level {
	case goal.LevelVision:
		g, buildErr = goal.NewVision(id, userID, goal.VisionInput{
			Title:       in.Title,
			Year:        in.Year,
			AccentTheme: in.AccentTheme,
		}, now)
	case goal.LevelMilestone:
		g, buildErr = goal.NewMilestone(id, userID, goal.MilestoneInput{
			Title:    in.Title,
			Year:     in.Year,
			Month:    in.Month,
			ParentID: in.ParentID,
		}, selection, now)
	case goal.LevelFocus:
		day, err := parseDate(in.WeekStart)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "weekStart must be a YYYY-MM-DD date", nil)
		}
		g, buildErr = goal.NewFocus(id, userID, goal.FocusInput{
			Title:            in.Title,
			WeekStart:        day,
			ParentID:         in.ParentID,
			LowEnergyVariant: in.LowEnergyVariant,
		}, selection, now)
	case goal.LevelIntention:
		day, err := parseDate(in.Date)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "date must be a YYYY-MM-DD date", nil)
		}
		g, buildErr = goal.NewIntention(id, userID, goal.IntentionInput{
			Title:       in.Title,
			Date:        day,
			ParentID:    in.ParentID,
			TinyVersion: in.TinyVersion,
		}, selection, now)
	}
	if buildErr != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", buildErr.Error(), nil)
	}

	if err := s.store.InsertGoal(ctx, g); err != nil {
		return nil, err
	}
	s.indexGoal(g)

	payload := map[string]any{"goal": goalPayload(g)}
	if result.Warning != "" {
		payload["warning"] = result.Warning
	}
	return payload, nil
}

// resolveSelection looks up the chosen parent and returns the selection
// with the parent's actual level. The client never supplies the level.
func (s *Service) resolveSelection(ctx context.Context, userID, parentID string) (*goal.LinkSelection, error) {
	if strings.TrimSpace(parentID) == "" {
		return nil, nil
	}
	parent, err := s.store.GetGoal(ctx, userID, parentID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainError(http.StatusUnprocessableEntity, "LINKAGE_REQUIRED", "That parent goal no longer exists.", nil)
	}
	if err != nil {
		return nil, err
	}
	return &goal.LinkSelection{ParentID: parent.ID, ParentLevel: parent.Level}, nil
}

// ListGoals returns the owner's goals, optionally narrowed by level, year
// or ISO week.
func (s *Service) ListGoals(ctx context.Context, userID, levelFilter string, year, week int) (map[string]any, error) {
	var goals []goal.Goal
	var err error
	if week > 0 {
		if year == 0 {
			year, _ = goal.WeekNumber(time.Now())
		}
		start, end := goal.WeekBounds(year, week)
		goals, err = s.store.ListGoalsForRange(ctx, userID, start, end)
	} else {
		goals, err = s.store.ListGoals(ctx, userID)
	}
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(goals))
	for _, g := range goals {
		if levelFilter != "" && string(g.Level) != levelFilter {
			continue
		}
		if week == 0 && year != 0 && g.Year != year {
			continue
		}
		items = append(items, goalPayload(g))
	}
	return map[string]any{"goals": items}, nil
}

func (s *Service) GetGoal(ctx context.Context, userID, goalID string) (map[string]any, error) {
	g, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"goal": goalPayload(g)}, nil
}

// ParentCandidates builds the selection model for the goal form.
func (s *Service) ParentCandidates(ctx context.Context, userID, levelRaw string, year, week int) (map[string]any, error) {
	level, err := goal.ParseLevel(levelRaw)
	if err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "level must be one of vision, milestone, focus, intention", nil)
	}
	goals, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	set := goal.Candidates(level, goals, goal.Scope{Year: year, WeekYear: year, Week: week})
	return map[string]any{
		"candidates":   set.Candidates,
		"groups":       set.Groups,
		"presentation": set.Presentation,
		"allowNone":    set.AllowNone,
	}, nil
}

// UpdateGoal applies a partial update. Linkage changes are re-validated
// against the same rules as create.
func (s *Service) UpdateGoal(ctx context.Context, userID, goalID string, in UpdateGoalInput) (map[string]any, error) {
	g, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}

	patch := store.GoalPatch{}
	warning := ""

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "title cannot be blank", nil)
		}
		patch.Title = &title
	}

	if in.Status != nil {
		status, err := goal.ParseStatus(*in.Status)
		if err != nil {
			return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "status must be one of todo, in_progress, done, blocked", nil)
		}
		value := string(status)
		patch.Status = &value
	}

	if in.ParentID != nil {
		selection, err := s.resolveSelection(ctx, userID, *in.ParentID)
		if err != nil {
			return nil, err
		}
		result := goal.Validate(g.Level, selection)
		if !result.OK {
			return nil, domainError(http.StatusUnprocessableEntity, "LINKAGE_REQUIRED", result.Message, nil)
		}
		warning = result.Warning
		parentID, parentLevel := "", ""
		if selection != nil {
			parentID = selection.ParentID
			parentLevel = string(selection.ParentLevel)
		}
		patch.ParentID = &parentID
		patch.ParentLevel = &parentLevel
	}

	if in.AccentTheme != nil || in.LowEnergyVariant != nil || in.TinyVersion != nil {
		meta := g.Meta
		if in.AccentTheme != nil {
			meta.AccentTheme = strings.TrimSpace(*in.AccentTheme)
		}
		if in.LowEnergyVariant != nil {
			meta.LowEnergyVariant = strings.TrimSpace(*in.LowEnergyVariant)
		}
		if in.TinyVersion != nil {
			meta.TinyVersion = strings.TrimSpace(*in.TinyVersion)
		}
		raw, err := json.Marshal(meta)
		if err != nil {
			return nil, err
		}
		blob := string(raw)
		patch.Meta = &blob
	}

	found, err := s.store.UpdateGoal(ctx, userID, goalID, patch)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, sql.ErrNoRows
	}

	updated, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	s.indexGoal(updated)

	payload := map[string]any{"goal": goalPayload(updated)}
	if warning != "" {
		payload["warning"] = warning
	}
	return payload, nil
}

// Alignment returns the visions needing attention for the given year.
func (s *Service) Alignment(ctx context.Context, userID string, year int) (map[string]any, error) {
	if year == 0 {
		year = time.Now().Year()
	}
	goals, err := s.store.ListGoals(ctx, userID)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"year":    year,
		"visions": s.checker.VisionsNeedingAttention(goals, year),
	}, nil
}

// OpenWizard resumes the draft for this (user, client session) or starts a
// fresh one at step 1 for the current ISO week.
func (s *Service) OpenWizard(ctx context.Context, userID, clientSessionID string) (map[string]any, error) {
	key := draft.Key(userID, clientSessionID)
	d, err := s.drafts.LoadDraft(ctx, key)
	if err != nil {
		log.Printf("draft: load %s: %v", key, err)
		d = nil
	}
	resumed := d != nil
	if d == nil {
		weekYear, week := goal.WeekNumber(time.Now())
		d = review.NewDraft(weekYear, week)
	}
	saved := s.saveDraft(ctx, key, d)
	payload, err := s.wizardPayload(ctx, userID, d)
	if err != nil {
		return nil, err
	}
	payload["resumed"] = resumed
	payload["draftSaved"] = saved
	return payload, nil
}

// WizardNext collects the current step's input and advances. From the
// summary step this is the submit path.
func (s *Service) WizardNext(ctx context.Context, session Session, clientSessionID string, input review.StepInput) (map[string]any, error) {
	key := draft.Key(session.UserID, clientSessionID)
	d, err := s.loadDraft(ctx, key)
	if err != nil {
		return nil, err
	}

	if d.CurrentStep == review.StepSummary {
		return s.submitReview(ctx, session, key, d)
	}

	if err := d.Advance(input); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	saved := s.saveDraft(ctx, key, d)
	payload, err := s.wizardPayload(ctx, session.UserID, d)
	if err != nil {
		return nil, err
	}
	payload["draftSaved"] = saved
	return payload, nil
}

// WizardBack steps backwards without collecting. Collected answers stay.
func (s *Service) WizardBack(ctx context.Context, session Session, clientSessionID string) (map[string]any, error) {
	key := draft.Key(session.UserID, clientSessionID)
	d, err := s.loadDraft(ctx, key)
	if err != nil {
		return nil, err
	}
	d.Back()
	saved := s.saveDraft(ctx, key, d)
	payload, err := s.wizardPayload(ctx, session.UserID, d)
	if err != nil {
		return nil, err
	}
	payload["draftSaved"] = saved
	return payload, nil
}

// WizardSaveExit collects the current step and persists the draft so the
// wizard can close. Unlike other transitions a failed save is an error
// here: the whole point is keeping the work.
func (s *Service) WizardSaveExit(ctx context.Context, session Session, clientSessionID string, input review.StepInput) (map[string]any, error) {
	key := draft.Key(session.UserID, clientSessionID)
	d, err := s.loadDraft(ctx, key)
	if err != nil {
		return nil, err
	}
	if !d.CanSaveAndExit() {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "save and exit is only offered between steps 2 and 6", nil)
	}
	if err := d.Collect(input); err != nil {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", err.Error(), nil)
	}
	if err := s.drafts.SaveDraft(ctx, key, d); err != nil {
		log.Printf("draft: save %s: %v", key, err)
		return nil, domainError(http.StatusServiceUnavailable, "DRAFT_SAVE_FAILED", "Could not save the draft", nil)
	}
	return map[string]any{"saved": true, "currentStep": d.CurrentStep}, nil
}

// WizardDiscard drops the draft.
func (s *Service) WizardDiscard(ctx context.Context, session Session, clientSessionID string) (map[string]any, error) {
	key := draft.Key(session.UserID, clientSessionID)
	if err := s.drafts.ClearDraft(ctx, key); err != nil {
		return nil, err
	}
	return map[string]any{"discarded": true}, nil
}

// ReviewPrompt reports whether the review nag should be shown, flipping
// the once-per-session flag on the first read.
func (s *Service) ReviewPrompt(ctx context.Context, session Session, clientSessionID string) (map[string]any, error) {
	key := draft.Key(session.UserID, clientSessionID)
	first, err := s.drafts.MarkPromptShown(ctx, key)
	if err != nil {
		log.Printf("draft: prompt flag %s: %v", key, err)
		return map[string]any{"shouldPrompt": false}, nil
	}
	return map[string]any{"shouldPrompt": first}, nil
}

// submitReview inserts the review row, commits the journal entry, and
// clears the draft. At most one submit per draft key runs at a time; a
// store failure keeps the draft so nothing typed is lost.
func (s *Service) submitReview(ctx context.Context, session Session, key string, d *review.Draft) (map[string]any, error) {
	s.submitMu.Lock()
	if s.submitting[key] {
		s.submitMu.Unlock()
		return nil, domainError(http.StatusConflict, "SUBMIT_IN_FLIGHT", "This review is already being submitted", nil)
	}
	s.submitting[key] = true
	s.submitMu.Unlock()
	defer func() {
		s.submitMu.Lock()
		delete(s.submitting, key)
		s.submitMu.Unlock()
	}()

	payload := d.Payload()
	start, end := goal.WeekBounds(d.WeekYear, d.Week)
	rev := store.WeeklyReview{
		ID:                  util.NewID("rev"),
		OwnerID:             session.UserID,
		WeekStart:           start,
		WeekEnd:             end,
		Mood:                payload.Mood,
		Wins:                payload.Wins,
		Challenges:          payload.Challenges,
		Learnings:           payload.Learnings,
		AlignmentReflection: payload.AlignmentReflection,
		NextWeekPriorities:  payload.NextWeekPriorities,
		CreatedAt:           time.Now().UTC(),
	}
	if err := s.store.InsertWeeklyReview(ctx, rev); err != nil {
		if errors.Is(err, store.ErrDuplicateReview) {
			return nil, domainError(http.StatusConflict, "REVIEW_EXISTS",
				fmt.Sprintf("You already reviewed week %d of %d.", payload.Week, payload.WeekYear), nil)
		}
		return nil, err
	}

	if s.journal != nil {
		if err := s.journal.EnsureJournal(session.UserID, session.UserName); err != nil {
			log.Printf("journal: ensure %s: %v", session.UserID, err)
		} else if _, err := s.journal.CommitReview(session.UserID, session.UserName, payload); err != nil {
			log.Printf("journal: commit %s: %v", session.UserID, err)
		}
	}

	if s.search != nil {
		s.search.IndexReview(search.ReviewRecord{
			ID:         rev.ID,
			WeekStart:  payload.WeekStart,
			Wins:       strings.Join(payload.Wins, "; "),
			Challenges: strings.Join(payload.Challenges, "; "),
			Learnings:  payload.Learnings,
			OwnerID:    session.UserID,
		})
	}

	if err := s.drafts.ClearDraft(ctx, key); err != nil {
		log.Printf("draft: clear %s: %v", key, err)
	}

	return map[string]any{"submitted": true, "review": reviewPayload(rev)}, nil
}

func (s *Service) ListReviews(ctx context.Context, userID string) (map[string]any, error) {
	reviews, err := s.store.ListWeeklyReviews(ctx, userID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(reviews))
	for _, rev := range reviews {
		items = append(items, reviewPayload(rev))
	}
	return map[string]any{"reviews": items}, nil
}

// ExportReview renders one submitted review in the requested format.
func (s *Service) ExportReview(ctx context.Context, session Session, reviewID, formatRaw string) (*export.Result, error) {
	format, ok := export.ParseFormat(formatRaw)
	if !ok {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "format must be pdf, docx or markdown", nil)
	}
	rev, err := s.store.GetWeeklyReview(ctx, session.UserID, reviewID)
	if err != nil {
		return nil, err
	}

	weekYear, week := rev.WeekStart.ISOWeek()
	result, err := s.exporter.Export(review.SubmitPayload{
		WeekYear:            weekYear,
		Week:                week,
		WeekStart:           rev.WeekStart.Format("2006-01-02"),
		WeekEnd:             rev.WeekEnd.Format("2006-01-02"),
		Mood:                rev.Mood,
		Wins:                rev.Wins,
		Challenges:          rev.Challenges,
		Learnings:           rev.Learnings,
		AlignmentReflection: rev.AlignmentReflection,
		NextWeekPriorities:  rev.NextWeekPriorities,
	}, session.UserName, format)
	if errors.Is(err, export.ErrPDFDependencyMissing) || errors.Is(err, export.ErrDOCXDependencyMissing) {
		return nil, domainError(http.StatusNotImplemented, "EXPORT_UNAVAILABLE", "That export format is not available on this server", nil)
	}
	return result, err
}

// JournalHistory lists the review journal's commits, newest first. A user
// who has never submitted has no journal yet; that is an empty history,
// not an error.
func (s *Service) JournalHistory(ctx context.Context, userID string, limit int) (map[string]any, error) {
	if s.journal == nil {
		return map[string]any{"commits": []journal.CommitInfo{}}, nil
	}
	commits, err := s.journal.History(userID, limit)
	if err != nil {
		return map[string]any{"commits": []journal.CommitInfo{}}, nil
	}
	return map[string]any{"commits": commits}, nil
}

// SetVisionImage uploads a board image for a vision and swaps the goal's
// object key, removing the replaced object.
func (s *Service) SetVisionImage(ctx context.Context, userID, goalID, contentType string, size int64, body io.Reader) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage is not configured", nil)
	}
	g, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if g.Level != goal.LevelVision {
		return nil, domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Only visions carry a board image", nil)
	}
	if !media.ValidContentType(contentType) {
		return nil, domainError(http.StatusUnsupportedMediaType, "UNSUPPORTED_MEDIA_TYPE", "Upload a JPEG, PNG or WebP image", nil)
	}
	if size > media.MaxImageBytes {
		return nil, domainError(http.StatusRequestEntityTooLarge, "IMAGE_TOO_LARGE", "Images are capped at 5 MB", nil)
	}

	key, err := s.media.UploadVisionImage(ctx, userID, contentType, size, body)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.SetGoalImage(ctx, userID, goalID, key); err != nil {
		return nil, err
	}
	if g.ImageObject != "" {
		if err := s.media.Remove(ctx, g.ImageObject); err != nil {
			log.Printf("media: remove replaced %s: %v", g.ImageObject, err)
		}
	}
	return map[string]any{"imageObject": key}, nil
}

// VisionImageURL hands out a short-lived URL for a vision's board image.
func (s *Service) VisionImageURL(ctx context.Context, userID, goalID string) (map[string]any, error) {
	if s.media == nil {
		return nil, domainError(http.StatusServiceUnavailable, "MEDIA_UNAVAILABLE", "Image storage is not configured", nil)
	}
	g, err := s.store.GetGoal(ctx, userID, goalID)
	if err != nil {
		return nil, err
	}
	if g.ImageObject == "" {
		return nil, sql.ErrNoRows
	}
	url, err := s.media.PresignedURL(ctx, g.ImageObject)
	if err != nil {
		return nil, err
	}
	return map[string]any{"url": url}, nil
}

// Search runs the owner-scoped full-text search.
func (s *Service) Search(ctx context.Context, userID, text, filterType, filterLevel string, limit, offset int) (search.Response, error) {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: text}, nil
	}
	return s.search.Search(search.Query{
		Text:        text,
		OwnerID:     userID,
		FilterType:  search.ResultType(filterType),
		FilterLevel: filterLevel,
		Limit:       limit,
		Offset:      offset,
	}), nil
}

func (s *Service) loadDraft(ctx context.Context, key string) (*review.Draft, error) {
	d, err := s.drafts.LoadDraft(ctx, key)
	if err != nil {
		return nil, err
	}
	if d == nil {
		return nil, domainError(http.StatusNotFound, "NO_DRAFT", "No review in progress for this session", nil)
	}
	return d, nil
}

func (s *Service) saveDraft(ctx context.Context, key string, d *review.Draft) bool {
	if err := s.drafts.SaveDraft(ctx, key, d); err != nil {
		log.Printf("draft: save %s: %v", key, err)
		return false
	}
	return true
}

// wizardPayload renders the draft plus the current step definition. The
// alignment step embeds its read-only context; the summary embeds the
// collected answers.
func (s *Service) wizardPayload(ctx context.Context, userID string, d *review.Draft) (map[string]any, error) {
	step, _ := review.StepFor(d.CurrentStep)
	payload := map[string]any{
		"draft":          d,
		"step":           step,
		"steps":          review.Steps(),
		"canSaveAndExit": d.CanSaveAndExit(),
	}
	if list := d.BulletRows(); list != nil {
		payload["rows"] = list.Rows()
	}
	switch d.CurrentStep {
	case review.StepAlignment:
		goals, err := s.store.ListGoals(ctx, userID)
		if err != nil {
			return nil, err
		}
		payload["alignmentContext"] = s.checker.VisionsNeedingAttention(goals, d.WeekYear)
	case review.StepSummary:
		payload["summary"] = d.Summary()
	}
	return payload, nil
}

func (s *Service) indexGoal(g goal.Goal) {
	if s.search == nil {
		return
	}
	s.search.IndexGoal(search.GoalRecord{
		ID:      g.ID,
		Title:   g.Title,
		Level:   string(g.Level),
		Status:  string(g.Status),
		OwnerID: g.OwnerID,
	})
}

func goalPayload(g goal.Goal) map[string]any {
	payload := map[string]any{
		"id":          g.ID,
		"level":       g.Level,
		"title":       g.Title,
		"status":      g.Status,
		"year":        g.Year,
		"meta":        g.Meta,
		"imageObject": g.ImageObject,
		"createdAt":   g.CreatedAt,
		"updatedAt":   g.UpdatedAt,
	}
	if g.ParentID != "" {
		payload["parentId"] = g.ParentID
		payload["parentLevel"] = g.ParentLevel
	}
	if g.Month != 0 {
		payload["month"] = g.Month
	}
	if g.StartDate != nil {
		payload["startDate"] = g.StartDate.Format("2006-01-02")
	}
	return payload
}

func reviewPayload(rev store.WeeklyReview) map[string]any {
	return map[string]any{
		"id":                  rev.ID,
		"weekStart":           rev.WeekStart.Format("2006-01-02"),
		"weekEnd":             rev.WeekEnd.Format("2006-01-02"),
		"mood":                rev.Mood,
		"moodLabel":           review.MoodLabels[rev.Mood],
		"wins":                rev.Wins,
		"challenges":          rev.Challenges,
		"learnings":           rev.Learnings,
		"alignmentReflection": rev.AlignmentReflection,
		"nextWeekPriorities":  rev.NextWeekPriorities,
		"createdAt":           rev.CreatedAt,
	}
}

func parseDate(raw string) (time.Time, error) {
	return time.Parse("2006-01-02", strings.TrimSpace(raw))
}
