package users

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"MessengerCore/server/internal/models"
)

const uniqueViolation = "23505"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) CreateWithProfile(ctx context.Context, user *models.User, profile *models.Profile) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "users.CreateWithProfile.Begin")
	}
	defer tx.Rollback(ctx)

	userSQL, userArgs, err := psql.Insert("users").
		Columns("id", "email", "password_hash", "email_verified", "verification_token",
			"created_at", "updated_at").
		Values(user.ID, user.Email, user.PasswordHash, user.EmailVerified,
			user.VerificationToken, user.CreatedAt, user.UpdatedAt).ToSql()
	if err != nil {
		return errors.Wrap(err, "users.CreateWithProfile.ToSql")
	}
	if _, err := tx.Exec(ctx, userSQL, userArgs...); err != nil {
		if constraintViolated(err, "users_email_key") {
			return models.ErrEmailTaken
		}
		return errors.Wrap(err, "users.CreateWithProfile.InsertUser")
	}

	profSQL, profArgs, err := psql.Insert("profiles").
		Columns("id", "username", "full_name", "avatar_url", "is_online",
			"created_at", "updated_at").
		Values(profile.ID, profile.Username, profile.FullName, profile.AvatarURL,
			profile.IsOnline, profile.CreatedAt, profile.UpdatedAt).ToSql()
	if err != nil {
		return errors.Wrap(err, "users.CreateWithProfile.ToSql")
	}
	if _, err := tx.Exec(ctx, profSQL, profArgs...); err != nil {
		if constraintViolated(err, "profiles_username_key") {
			return models.ErrUsernameTaken
		}
		return errors.Wrap(err, "users.CreateWithProfile.InsertProfile")
	}

	return errors.Wrap(tx.Commit(ctx), "users.CreateWithProfile.Commit")
}

func (s *PostgresStore) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, squirrel.Eq{"email": email})
}

func (s *PostgresStore) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.getUser(ctx, squirrel.Eq{"id": id})
}

func (s *PostgresStore) getUser(ctx context.Context, pred interface{}) (*models.User, error) {
	query := psql.Select("id", "email", "password_hash", "email_verified",
		"verification_token", "reset_token", "reset_token_expiry",
		"failed_attempts", "locked_until", "created_at", "updated_at").
		From("users").
		Where(pred)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "users.getUser.ToSql")
	}

	var u models.User
	err = s.pool.QueryRow(ctx, sqlStr, args...).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.EmailVerified,
		&u.VerificationToken, &u.ResetToken, &u.ResetTokenExpiry,
		&u.FailedAttempts, &u.LockedUntil, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "users.getUser.Scan")
	}
	return &u, nil
}

func (s *PostgresStore) GetProfile(ctx context.Context, id uuid.UUID) (*models.Profile, error) {
	query := psql.Select("id", "username", "full_name", "avatar_url",
		"last_seen", "is_online", "created_at", "updated_at").
		From("profiles").
		Where(squirrel.Eq{"id": id})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "users.GetProfile.ToSql")
	}

	var p models.Profile
	err = s.pool.QueryRow(ctx, sqlStr, args...).Scan(
		&p.ID, &p.Username, &p.FullName, &p.AvatarURL,
		&p.LastSeen, &p.IsOnline, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrUserNotFound
		}
		return nil, errors.Wrap(err, "users.GetProfile.Scan")
	}
	return &p, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, profile *models.Profile) error {
	setClause := squirrel.Eq{"updated_at": profile.UpdatedAt}
	if profile.Username != "" {
		setClause["username"] = profile.Username
	}
	if profile.FullName != nil {
		setClause["full_name"] = profile.FullName
	}
	if profile.AvatarURL != nil {
		setClause["avatar_url"] = profile.AvatarURL
	}

	query := psql.Update("profiles").
		SetMap(setClause).
		Where(squirrel.Eq{"id": profile.ID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "users.UpdateProfile.ToSql")
	}

	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		if constraintViolated(err, "profiles_username_key") {
			return models.ErrUsernameTaken
		}
		return errors.Wrap(err, "users.UpdateProfile.Exec")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) VerifyEmail(ctx context.Context, verificationToken string) (uuid.UUID, error) {
	query := psql.Update("users").
		Set("email_verified", true).
		Set("verification_token", nil).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"verification_token": verificationToken}).
		Suffix("RETURNING id")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return uuid.Nil, errors.Wrap(err, "users.VerifyEmail.ToSql")
	}

	var id uuid.UUID
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&id); err != nil {
		if err == pgx.ErrNoRows {
			return uuid.Nil, models.ErrUserNotFound
		}
		return uuid.Nil, errors.Wrap(err, "users.VerifyEmail.Scan")
	}
	return id, nil
}

func (s *PostgresStore) SetResetToken(ctx context.Context, userID uuid.UUID, resetToken string, expiry time.Time) error {
	query := psql.Update("users").
		Set("reset_token", resetToken).
		Set("reset_token_expiry", expiry).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "users.SetResetToken.ToSql")
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrap(err, "users.SetResetToken.Exec")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) GetByResetToken(ctx context.Context, resetToken string, now time.Time) (*models.User, error) {
	return s.getUser(ctx, squirrel.And{
		squirrel.Eq{"reset_token": resetToken},
		squirrel.Gt{"reset_token_expiry": now},
	})
}

func (s *PostgresStore) UpdatePassword(ctx context.Context, userID uuid.UUID, passwordHash string) error {
	query := psql.Update("users").
		Set("password_hash", passwordHash).
		Set("reset_token", nil).
		Set("reset_token_expiry", nil).
		Set("updated_at", time.Now().UTC()).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "users.UpdatePassword.ToSql")
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrap(err, "users.UpdatePassword.Exec")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotFound
	}
	return nil
}

func (s *PostgresStore) RecordFailedLogin(ctx context.Context, userID uuid.UUID) (int, error) {
	query := psql.Update("users").
		Set("failed_attempts", squirrel.Expr("failed_attempts + 1")).
		Where(squirrel.Eq{"id": userID}).
		Suffix("RETURNING failed_attempts")

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return 0, errors.Wrap(err, "users.RecordFailedLogin.ToSql")
	}

	var attempts int
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&attempts); err != nil {
		if err == pgx.ErrNoRows {
			return 0, models.ErrUserNotFound
		}
		return 0, errors.Wrap(err, "users.RecordFailedLogin.Scan")
	}
	return attempts, nil
}

func (s *PostgresStore) ResetFailedLogins(ctx context.Context, userID uuid.UUID) error {
	query := psql.Update("users").
		Set("failed_attempts", 0).
		Set("locked_until", nil).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "users.ResetFailedLogins.ToSql")
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "users.ResetFailedLogins.Exec")
	}
	return nil
}

func (s *PostgresStore) LockUntil(ctx context.Context, userID uuid.UUID, until time.Time) error {
	query := psql.Update("users").
		Set("locked_until", until).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "users.LockUntil.ToSql")
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "users.LockUntil.Exec")
	}
	return nil
}

func (s *PostgresStore) SetPresence(ctx context.Context, userID uuid.UUID, online bool, at time.Time) error {
	setClause := squirrel.Eq{"is_online": online, "updated_at": at}
	if !online {
		setClause["last_seen"] = at
	}

	query := psql.Update("profiles").
		SetMap(setClause).
		Where(squirrel.Eq{"id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "users.SetPresence.ToSql")
	}
	if _, err := s.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "users.SetPresence.Exec")
	}
	return nil
}

func constraintViolated(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation && pgErr.ConstraintName == constraint
	}
	return false
}
