package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	"waypoint/api/internal/goal"
)

// ErrDuplicateReview reports an insert for a week the owner has already
// reviewed; weekly_reviews is unique on (owner_id, week_start).
var ErrDuplicateReview = errors.New("weekly review already exists for this week")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, is_email_verified, verification_token)
		VALUES ($1, $2, LOWER($3), $4, $5, $6)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.IsEmailVerified, nullIfBlank(user.VerificationToken))
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified,
		       COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users WHERE email = LOWER($1)
	`, email))
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	return s.scanUser(s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, is_email_verified,
		       COALESCE(verification_token, ''), verification_expires_at, created_at, updated_at
		FROM users WHERE id = $1
	`, userID))
}

func (s *PostgresStore) scanUser(row *sql.Row) (User, error) {
	var user User
	err := row.Scan(
		&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash,
		&user.IsEmailVerified, &user.VerificationToken, &user.VerificationExpiresAt,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET verification_token=$2, verification_expires_at=$3, updated_at=NOW()
		WHERE id=$1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified=TRUE, verification_token=NULL, verification_expires_at=NULL, updated_at=NOW()
		WHERE verification_token=$1 AND verification_expires_at > NOW()
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("verify email rows: %w", err)
	}
	if affected == 0 {
		return errors.New("invalid or expired verification token")
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at) VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token=$1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at=NOW() WHERE token=$1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// --- sessions ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.password_hash, u.is_email_verified,
		       COALESCE(u.verification_token, ''), u.verification_expires_at, u.created_at, u.updated_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	return s.scanUser(s.db.QueryRowContext(ctx, query, tokenHash))
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// --- goals ---

const goalColumns = `
	id, owner_id, level, title, status,
	COALESCE(parent_id, ''), COALESCE(parent_level, ''),
	year, month, start_date, meta, image_object, created_at, updated_at
`

func (s *PostgresStore) InsertGoal(ctx context.Context, g goal.Goal) error {
	meta, err := json.Marshal(g.Meta)
	if err != nil {
		return fmt.Errorf("marshal goal meta: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO goals (id, owner_id, level, title, status, parent_id, parent_level, year, month, start_date, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, g.ID, g.OwnerID, string(g.Level), g.Title, string(g.Status),
		nullIfBlank(g.ParentID), nullIfBlank(string(g.ParentLevel)),
		g.Year, g.Month, g.StartDate, meta)
	if err != nil {
		return fmt.Errorf("insert goal: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetGoal(ctx context.Context, ownerID, goalID string) (goal.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+goalColumns+` FROM goals WHERE owner_id=$1 AND id=$2`, ownerID, goalID)
	if err != nil {
		return goal.Goal{}, fmt.Errorf("get goal: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return goal.Goal{}, err
		}
		return goal.Goal{}, sql.ErrNoRows
	}
	return scanGoal(rows)
}

func (s *PostgresStore) ListGoals(ctx context.Context, ownerID string) ([]goal.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+goalColumns+` FROM goals WHERE owner_id=$1 ORDER BY created_at, id
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	return collectGoals(rows)
}

// ListGoalsForRange returns goals whose temporal placement overlaps
// [start, end]: dated goals by start_date, milestones by their month,
// visions by their year.
func (s *PostgresStore) ListGoalsForRange(ctx context.Context, ownerID string, start, end time.Time) ([]goal.Goal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+goalColumns+`
		FROM goals
		WHERE owner_id=$1 AND (
			(start_date IS NOT NULL AND start_date BETWEEN $2 AND $3)
			OR (level='milestone' AND make_date(year, GREATEST(month, 1), 1)
				BETWEEN date_trunc('month', $2::date) AND $3)
			OR (level='vision' AND year BETWEEN EXTRACT(YEAR FROM $2::date)::int AND EXTRACT(YEAR FROM $3::date)::int)
		)
		ORDER BY created_at, id
	`, ownerID, start, end)
	if err != nil {
		return nil, fmt.Errorf("list goals for range: %w", err)
	}
	return collectGoals(rows)
}

func (s *PostgresStore) UpdateGoal(ctx context.Context, ownerID, goalID string, patch GoalPatch) (bool, error) {
	sets := make([]string, 0, 6)
	args := []any{ownerID, goalID}

	if patch.Title != nil {
		args = append(args, *patch.Title)
		sets = append(sets, "title="+fmt.Sprintf("$%d", len(args)))
	}
	if patch.Status != nil {
		args = append(args, *patch.Status)
		sets = append(sets, "status="+fmt.Sprintf("$%d", len(args)))
	}
	if patch.ParentID != nil {
		args = append(args, nullIfBlank(*patch.ParentID))
		sets = append(sets, "parent_id="+fmt.Sprintf("$%d", len(args)))
	}
	if patch.ParentLevel != nil {
		args = append(args, nullIfBlank(*patch.ParentLevel))
		sets = append(sets, "parent_level="+fmt.Sprintf("$%d", len(args)))
	}
	if patch.Meta != nil {
		args = append(args, *patch.Meta)
		sets = append(sets, "meta="+fmt.Sprintf("$%d", len(args)))
	}
	if len(sets) == 0 {
		return false, nil
	}
	sets = append(sets, "updated_at=NOW()")

	query := fmt.Sprintf(`UPDATE goals SET %s WHERE owner_id=$1 AND id=$2`, strings.Join(sets, ", "))
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update goal: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update goal rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetGoalImage(ctx context.Context, ownerID, goalID, objectKey string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE goals SET image_object=$3, updated_at=NOW() WHERE owner_id=$1 AND id=$2
	`, ownerID, goalID, objectKey)
	if err != nil {
		return false, fmt.Errorf("set goal image: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set goal image rows: %w", err)
	}
	return affected > 0, nil
}

func collectGoals(rows *sql.Rows) ([]goal.Goal, error) {
	defer rows.Close()
	items := make([]goal.Goal, 0)
	for rows.Next() {
		item, err := scanGoal(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate goals: %w", err)
	}
	return items, nil
}

func scanGoal(rows *sql.Rows) (goal.Goal, error) {
	var (
		g           goal.Goal
		level       string
		status      string
		parentLevel string
		startDate   sql.NullTime
		meta        []byte
	)
	if err := rows.Scan(
		&g.ID, &g.OwnerID, &level, &g.Title, &status,
		&g.ParentID, &parentLevel, &g.Year, &g.Month,
		&startDate, &meta, &g.ImageObject, &g.CreatedAt, &g.UpdatedAt,
	); err != nil {
		return goal.Goal{}, fmt.Errorf("scan goal: %w", err)
	}
	g.Level = goal.Level(level)
	g.Status = goal.Status(status)
	g.ParentLevel = goal.Level(parentLevel)
	if startDate.Valid {
		t := startDate.Time
		g.StartDate = &t
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &g.Meta); err != nil {
			return goal.Goal{}, fmt.Errorf("unmarshal goal meta: %w", err)
		}
	}
	return g, nil
}

// --- weekly reviews ---

func (s *PostgresStore) InsertWeeklyReview(ctx context.Context, r WeeklyReview) error {
	wins, err := json.Marshal(orEmpty(r.Wins))
	if err != nil {
		return fmt.Errorf("marshal wins: %w", err)
	}
	challenges, err := json.Marshal(orEmpty(r.Challenges))
	if err != nil {
		return fmt.Errorf("marshal challenges: %w", err)
	}
	priorities, err := json.Marshal(orEmpty(r.NextWeekPriorities))
	if err != nil {
		return fmt.Errorf("marshal priorities: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO weekly_reviews
			(id, owner_id, week_start, week_end, mood, wins, challenges, learnings, alignment_reflection, next_week_priorities)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, r.ID, r.OwnerID, r.WeekStart, r.WeekEnd, r.Mood, wins, challenges, r.Learnings, r.AlignmentReflection, priorities)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateReview
		}
		return fmt.Errorf("insert weekly review: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWeeklyReview(ctx context.Context, ownerID, reviewID string) (WeeklyReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, week_start, week_end, mood, wins, challenges, learnings, alignment_reflection, next_week_priorities, created_at
		FROM weekly_reviews WHERE owner_id=$1 AND id=$2
	`, ownerID, reviewID)
	if err != nil {
		return WeeklyReview{}, fmt.Errorf("get weekly review: %w", err)
	}
	defer rows.Close()
	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return WeeklyReview{}, err
		}
		return WeeklyReview{}, sql.ErrNoRows
	}
	return scanWeeklyReview(rows)
}

func (s *PostgresStore) ListWeeklyReviews(ctx context.Context, ownerID string) ([]WeeklyReview, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner_id, week_start, week_end, mood, wins, challenges, learnings, alignment_reflection, next_week_priorities, created_at
		FROM weekly_reviews WHERE owner_id=$1 ORDER BY week_start DESC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("list weekly reviews: %w", err)
	}
	defer rows.Close()

	items := make([]WeeklyReview, 0)
	for rows.Next() {
		item, err := scanWeeklyReview(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate weekly reviews: %w", err)
	}
	return items, nil
}

func scanWeeklyReview(rows *sql.Rows) (WeeklyReview, error) {
	var (
		r          WeeklyReview
		wins       []byte
		challenges []byte
		priorities []byte
	)
	if err := rows.Scan(
		&r.ID, &r.OwnerID, &r.WeekStart, &r.WeekEnd, &r.Mood,
		&wins, &challenges, &r.Learnings, &r.AlignmentReflection, &priorities, &r.CreatedAt,
	); err != nil {
		return WeeklyReview{}, fmt.Errorf("scan weekly review: %w", err)
	}
	if err := json.Unmarshal(wins, &r.Wins); err != nil {
		return WeeklyReview{}, fmt.Errorf("unmarshal wins: %w", err)
	}
	if err := json.Unmarshal(challenges, &r.Challenges); err != nil {
		return WeeklyReview{}, fmt.Errorf("unmarshal challenges: %w", err)
	}
	if err := json.Unmarshal(priorities, &r.NextWeekPriorities); err != nil {
		return WeeklyReview{}, fmt.Errorf("unmarshal priorities: %w", err)
	}
	return r, nil
}

func nullIfBlank(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func orEmpty(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
