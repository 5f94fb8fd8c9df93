package sessions

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/pkg/errors"

	"MessengerCore/server/internal/models"
)

type PostgresRegistry struct {
	pool *pgxpool.Pool
}

func NewPostgresRegistry(pool *pgxpool.Pool) *PostgresRegistry {
	return &PostgresRegistry{pool: pool}
}

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

func (r *PostgresRegistry) Create(ctx context.Context, session *models.Session) error {
	query := psql.Insert("sessions").
		Columns("id", "user_id", "token_hash", "expires_at", "created_at", "last_used_at").
		Values(session.ID, session.UserID, session.TokenHash,
			session.ExpiresAt, session.CreatedAt, session.LastUsedAt)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "sessions.Create.ToSql")
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "sessions.Create.Exec")
	}
	return nil
}

func (r *PostgresRegistry) FindValid(ctx context.Context, tokenHash string, now time.Time) (*models.Session, error) {
	query := psql.Select("id", "user_id", "token_hash", "expires_at", "created_at", "last_used_at").
		From("sessions").
		Where(squirrel.And{
			squirrel.Eq{"token_hash": tokenHash},
			squirrel.Gt{"expires_at": now},
		})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "sessions.FindValid.ToSql")
	}

	var s models.Session
	err = r.pool.QueryRow(ctx, sqlStr, args...).
		Scan(&s.ID, &s.UserID, &s.TokenHash, &s.ExpiresAt, &s.CreatedAt, &s.LastUsedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrSessionNotFound
		}
		return nil, errors.Wrap(err, "sessions.FindValid.Scan")
	}
	return &s, nil
}

func (r *PostgresRegistry) Touch(ctx context.Context, tokenHash string, at time.Time) error {
	query := psql.Update("sessions").
		Set("last_used_at", at).
		Where(squirrel.Eq{"token_hash": tokenHash})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "sessions.Touch.ToSql")
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "sessions.Touch.Exec")
	}
	return nil
}

func (r *PostgresRegistry) Revoke(ctx context.Context, tokenHash string) error {
	query := psql.Delete("sessions").Where(squirrel.Eq{"token_hash": tokenHash})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "sessions.Revoke.ToSql")
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "sessions.Revoke.Exec")
	}
	return nil
}

func (r *PostgresRegistry) RevokeAll(ctx context.Context, userID uuid.UUID) error {
	query := psql.Delete("sessions").Where(squirrel.Eq{"user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "sessions.RevokeAll.ToSql")
	}
	if _, err := r.pool.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "sessions.RevokeAll.Exec")
	}
	return nil
}

func (r *PostgresRegistry) Rotate(ctx context.Context, oldTokenHash string, next *models.Session) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "sessions.Rotate.Begin")
	}
	defer tx.Rollback(ctx)

	delSQL, delArgs, err := psql.Delete("sessions").
		Where(squirrel.Eq{"token_hash": oldTokenHash}).ToSql()
	if err != nil {
		return errors.Wrap(err, "sessions.Rotate.ToSql")
	}
	tag, err := tx.Exec(ctx, delSQL, delArgs...)
	if err != nil {
		return errors.Wrap(err, "sessions.Rotate.Delete")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrSessionNotFound
	}

	insSQL, insArgs, err := psql.Insert("sessions").
		Columns("id", "user_id", "token_hash", "expires_at", "created_at", "last_used_at").
		Values(next.ID, next.UserID, next.TokenHash,
			next.ExpiresAt, next.CreatedAt, next.LastUsedAt).ToSql()
	if err != nil {
		return errors.Wrap(err, "sessions.Rotate.ToSql")
	}
	if _, err := tx.Exec(ctx, insSQL, insArgs...); err != nil {
		return errors.Wrap(err, "sessions.Rotate.Insert")
	}

	return errors.Wrap(tx.Commit(ctx), "sessions.Rotate.Commit")
}

// SweepExpired deletes at most batch expired rows. The ctid subselect keeps
// the delete bounded so the sweeper never takes a long exclusive scan.
func (r *PostgresRegistry) SweepExpired(ctx context.Context, now time.Time, batch int) (int64, error) {
	const sweepSQL = `
        DELETE FROM sessions
        WHERE ctid IN (
            SELECT ctid FROM sessions WHERE expires_at < $1 LIMIT $2
        )
    `
	tag, err := r.pool.Exec(ctx, sweepSQL, now, batch)
	if err != nil {
		return 0, errors.Wrap(err, "sessions.SweepExpired.Exec")
	}
	return tag.RowsAffected(), nil
}
