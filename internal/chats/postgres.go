package chats

import (
	"context"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/pkg/errors"
	"github.com/sethvargo/go-retry"

	"MessengerCore/server/internal/models"
)

const (
	uniqueViolation     = "23505"
	serializationFailed = "40001"
	deadlockDetected    = "40P01"
)

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clockwork.Clock
}

func NewPostgresStore(pool *pgxpool.Pool, clock clockwork.Clock) *PostgresStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &PostgresStore{pool: pool, clock: clock}
}

func (s *PostgresStore) CreateDirectChat(ctx context.Context, userA, userB uuid.UUID) (*models.Chat, bool, error) {
	key := DirectKey(userA, userB)

	if chat, err := s.getChatByDirectKey(ctx, key); err == nil {
		return chat, false, nil
	} else if err != models.ErrChatNotFound {
		return nil, false, err
	}

	chat := &models.Chat{
		ID:        uuid.New(),
		IsGroup:   false,
		CreatedAt: s.clock.Now().UTC(),
	}
	chat.UpdatedAt = chat.CreatedAt

	err := s.insertDirectChat(ctx, chat, key, userA, userB)
	if err == nil {
		return chat, true, nil
	}

	// Lost the race: another caller committed the same pair between our
	// lookup and insert. The canonical-key constraint turns that into a
	// unique violation we resolve as a read.
	if pgCode(err) == uniqueViolation {
		existing, lookupErr := s.getChatByDirectKey(ctx, key)
		if lookupErr != nil {
			return nil, false, lookupErr
		}
		return existing, false, nil
	}
	return nil, false, err
}

func (s *PostgresStore) insertDirectChat(ctx context.Context, chat *models.Chat, key string, userA, userB uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "chats.insertDirectChat.Begin")
	}
	defer tx.Rollback(ctx)

	chatSQL, chatArgs, err := psql.Insert("chats").
		Columns("id", "is_group", "direct_key", "created_at", "updated_at").
		Values(chat.ID, false, key, chat.CreatedAt, chat.UpdatedAt).ToSql()
	if err != nil {
		return errors.Wrap(err, "chats.insertDirectChat.ToSql")
	}
	if _, err := tx.Exec(ctx, chatSQL, chatArgs...); err != nil {
		return errors.Wrap(err, "chats.insertDirectChat.InsertChat")
	}

	for _, userID := range []uuid.UUID{userA, userB} {
		if err := insertParticipant(ctx, tx, chat.ID, userID, models.RoleMember, chat.CreatedAt); err != nil {
			return err
		}
	}

	return errors.Wrap(tx.Commit(ctx), "chats.insertDirectChat.Commit")
}

func (s *PostgresStore) getChatByDirectKey(ctx context.Context, key string) (*models.Chat, error) {
	return s.getChat(ctx, squirrel.Eq{"direct_key": key})
}

func (s *PostgresStore) CreateGroupChat(ctx context.Context, name string, creatorID uuid.UUID, memberIDs []uuid.UUID) (*models.Chat, error) {
	now := s.clock.Now().UTC()
	chat := &models.Chat{
		ID:        uuid.New(),
		Name:      &name,
		IsGroup:   true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chats.CreateGroupChat.Begin")
	}
	defer tx.Rollback(ctx)

	chatSQL, chatArgs, err := psql.Insert("chats").
		Columns("id", "name", "is_group", "created_at", "updated_at").
		Values(chat.ID, chat.Name, true, chat.CreatedAt, chat.UpdatedAt).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.CreateGroupChat.ToSql")
	}
	if _, err := tx.Exec(ctx, chatSQL, chatArgs...); err != nil {
		return nil, errors.Wrap(err, "chats.CreateGroupChat.InsertChat")
	}

	if err := insertParticipant(ctx, tx, chat.ID, creatorID, models.RoleAdmin, now); err != nil {
		return nil, err
	}
	for _, memberID := range memberIDs {
		if memberID == creatorID {
			continue
		}
		if err := insertParticipant(ctx, tx, chat.ID, memberID, models.RoleMember, now); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "chats.CreateGroupChat.Commit")
	}
	return chat, nil
}

func insertParticipant(ctx context.Context, tx pgx.Tx, chatID, userID uuid.UUID, role string, joinedAt time.Time) error {
	sqlStr, args, err := psql.Insert("chat_participants").
		Columns("id", "chat_id", "user_id", "role", "is_muted", "joined_at").
		Values(uuid.New(), chatID, userID, role, false, joinedAt).
		Suffix("ON CONFLICT (chat_id, user_id) DO NOTHING").ToSql()
	if err != nil {
		return errors.Wrap(err, "chats.insertParticipant.ToSql")
	}
	if _, err := tx.Exec(ctx, sqlStr, args...); err != nil {
		return errors.Wrap(err, "chats.insertParticipant.Exec")
	}
	return nil
}

func (s *PostgresStore) GetChat(ctx context.Context, chatID uuid.UUID) (*models.Chat, error) {
	return s.getChat(ctx, squirrel.Eq{"id": chatID})
}

func (s *PostgresStore) getChat(ctx context.Context, pred interface{}) (*models.Chat, error) {
	query := psql.Select("id", "name", "is_group", "avatar_url",
		"last_message", "last_message_at", "created_at", "updated_at").
		From("chats").
		Where(pred)

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.getChat.ToSql")
	}

	var c models.Chat
	err = s.pool.QueryRow(ctx, sqlStr, args...).Scan(
		&c.ID, &c.Name, &c.IsGroup, &c.AvatarURL,
		&c.LastMessage, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrChatNotFound
		}
		return nil, errors.Wrap(err, "chats.getChat.Scan")
	}
	return &c, nil
}

func (s *PostgresStore) IsParticipant(ctx context.Context, chatID, userID uuid.UUID) (bool, error) {
	const existsSQL = `
        SELECT EXISTS (
            SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2
        )
    `
	var exists bool
	if err := s.pool.QueryRow(ctx, existsSQL, chatID, userID).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "chats.IsParticipant.Scan")
	}
	return exists, nil
}

func (s *PostgresStore) ParticipantIDs(ctx context.Context, chatID uuid.UUID) ([]uuid.UUID, error) {
	query := psql.Select("user_id").
		From("chat_participants").
		Where(squirrel.Eq{"chat_id": chatID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.ParticipantIDs.ToSql")
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "chats.ParticipantIDs.Query")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "chats.ParticipantIDs.Scan")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "chats.ParticipantIDs.Rows")
}

func (s *PostgresStore) ParticipantRole(ctx context.Context, chatID, userID uuid.UUID) (string, error) {
	query := psql.Select("role").
		From("chat_participants").
		Where(squirrel.Eq{"chat_id": chatID, "user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return "", errors.Wrap(err, "chats.ParticipantRole.ToSql")
	}

	var role string
	if err := s.pool.QueryRow(ctx, sqlStr, args...).Scan(&role); err != nil {
		if err == pgx.ErrNoRows {
			return "", models.ErrUserNotParticipant
		}
		return "", errors.Wrap(err, "chats.ParticipantRole.Scan")
	}
	return role, nil
}

func (s *PostgresStore) AddParticipants(ctx context.Context, chatID uuid.UUID, userIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return errors.Wrap(err, "chats.AddParticipants.Begin")
	}
	defer tx.Rollback(ctx)

	now := s.clock.Now().UTC()
	for _, userID := range userIDs {
		if err := insertParticipant(ctx, tx, chatID, userID, models.RoleMember, now); err != nil {
			return err
		}
	}
	return errors.Wrap(tx.Commit(ctx), "chats.AddParticipants.Commit")
}

func (s *PostgresStore) RemoveParticipant(ctx context.Context, chatID, userID uuid.UUID) error {
	query := psql.Delete("chat_participants").
		Where(squirrel.Eq{"chat_id": chatID, "user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return errors.Wrap(err, "chats.RemoveParticipant.ToSql")
	}
	tag, err := s.pool.Exec(ctx, sqlStr, args...)
	if err != nil {
		return errors.Wrap(err, "chats.RemoveParticipant.Exec")
	}
	if tag.RowsAffected() == 0 {
		return models.ErrUserNotParticipant
	}
	return nil
}

func (s *PostgresStore) ListChatsForUser(ctx context.Context, userID uuid.UUID) ([]models.ChatSummary, error) {
	const listSQL = `
        SELECT c.id, c.name, c.is_group, c.avatar_url,
               c.last_message, c.last_message_at, c.created_at, c.updated_at,
               (SELECT COUNT(*) FROM messages m
                 WHERE m.chat_id = c.id AND m.sender_id <> $1 AND m.read_at IS NULL) AS unread
        FROM chats c
        JOIN chat_participants cp ON cp.chat_id = c.id
        WHERE cp.user_id = $1
        ORDER BY c.last_message_at DESC NULLS LAST, c.created_at DESC
    `
	rows, err := s.pool.Query(ctx, listSQL, userID)
	if err != nil {
		return nil, errors.Wrap(err, "chats.ListChatsForUser.Query")
	}
	defer rows.Close()

	var out []models.ChatSummary
	for rows.Next() {
		var c models.ChatSummary
		err := rows.Scan(&c.ID, &c.Name, &c.IsGroup, &c.AvatarURL,
			&c.LastMessage, &c.LastMessageAt, &c.CreatedAt, &c.UpdatedAt, &c.UnreadCount)
		if err != nil {
			return nil, errors.Wrap(err, "chats.ListChatsForUser.Scan")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "chats.ListChatsForUser.Rows")
}

func (s *PostgresStore) ChatIDsForUser(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	query := psql.Select("chat_id").
		From("chat_participants").
		Where(squirrel.Eq{"user_id": userID})

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.ChatIDsForUser.ToSql")
	}

	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "chats.ChatIDsForUser.Query")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "chats.ChatIDsForUser.Scan")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "chats.ChatIDsForUser.Rows")
}

// PostMessage locks the chat row so seq assignment and the last-message
// update serialize per chat; commit order is therefore visibility order.
// Deadlock and serialization victims are retried with backoff.
func (s *PostgresStore) PostMessage(ctx context.Context, p PostMessageParams) (*models.Message, error) {
	var msg *models.Message
	backoff := retry.WithMaxRetries(3, retry.NewExponential(50*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var postErr error
		msg, postErr = s.postMessageOnce(ctx, p)
		if isTransient(postErr) {
			return retry.RetryableError(postErr)
		}
		return postErr
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

func (s *PostgresStore) postMessageOnce(ctx context.Context, p PostMessageParams) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.Begin")
	}
	defer tx.Rollback(ctx)

	var isGroup bool
	err = tx.QueryRow(ctx, `SELECT is_group FROM chats WHERE id = $1 FOR UPDATE`, p.ChatID).Scan(&isGroup)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrChatNotFound
		}
		return nil, errors.Wrap(err, "chats.PostMessage.LockChat")
	}

	var isParticipant bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM chat_participants WHERE chat_id = $1 AND user_id = $2)`,
		p.ChatID, p.SenderID).Scan(&isParticipant)
	if err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.CheckParticipant")
	}
	if !isParticipant {
		return nil, models.ErrUserNotParticipant
	}

	var seq int64
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE chat_id = $1`, p.ChatID).Scan(&seq)
	if err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.NextSeq")
	}

	now := s.clock.Now().UTC()
	msg := &models.Message{
		ID:          uuid.New(),
		ChatID:      p.ChatID,
		SenderID:    p.SenderID,
		Seq:         seq,
		Content:     p.Content,
		MessageType: p.MessageType,
		ReplyToID:   p.ReplyToID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	insSQL, insArgs, err := psql.Insert("messages").
		Columns("id", "chat_id", "sender_id", "seq", "content", "message_type",
			"is_edited", "reply_to_id", "created_at", "updated_at").
		Values(msg.ID, msg.ChatID, msg.SenderID, msg.Seq, msg.Content, msg.MessageType,
			false, msg.ReplyToID, msg.CreatedAt, msg.UpdatedAt).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.ToSql")
	}
	if _, err := tx.Exec(ctx, insSQL, insArgs...); err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.Insert")
	}

	updSQL, updArgs, err := psql.Update("chats").
		Set("last_message", msg.Content).
		Set("last_message_at", msg.CreatedAt).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": p.ChatID}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.ToSql")
	}
	if _, err := tx.Exec(ctx, updSQL, updArgs...); err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.UpdateLastMessage")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "chats.PostMessage.Commit")
	}
	return msg, nil
}

func (s *PostgresStore) EditMessage(ctx context.Context, messageID, senderID uuid.UUID, newContent string) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chats.EditMessage.Begin")
	}
	defer tx.Rollback(ctx)

	msg, err := lockMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, models.ErrNotMessageSender
	}

	now := s.clock.Now().UTC()
	msg.Content = newContent
	msg.IsEdited = true
	msg.UpdatedAt = now

	updSQL, updArgs, err := psql.Update("messages").
		Set("content", newContent).
		Set("is_edited", true).
		Set("updated_at", now).
		Where(squirrel.Eq{"id": messageID}).ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.EditMessage.ToSql")
	}
	if _, err := tx.Exec(ctx, updSQL, updArgs...); err != nil {
		return nil, errors.Wrap(err, "chats.EditMessage.Exec")
	}

	if err := refreshLastMessage(ctx, tx, msg.ChatID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "chats.EditMessage.Commit")
	}
	return msg, nil
}

func (s *PostgresStore) DeleteMessage(ctx context.Context, messageID, senderID uuid.UUID) (*models.Message, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "chats.DeleteMessage.Begin")
	}
	defer tx.Rollback(ctx)

	msg, err := lockMessage(ctx, tx, messageID)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != senderID {
		return nil, models.ErrNotMessageSender
	}

	if _, err := tx.Exec(ctx, `DELETE FROM messages WHERE id = $1`, messageID); err != nil {
		return nil, errors.Wrap(err, "chats.DeleteMessage.Exec")
	}
	if err := refreshLastMessage(ctx, tx, msg.ChatID); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "chats.DeleteMessage.Commit")
	}
	return msg, nil
}

func lockMessage(ctx context.Context, tx pgx.Tx, messageID uuid.UUID) (*models.Message, error) {
	const lockSQL = `
        SELECT id, chat_id, sender_id, seq, content, message_type,
               is_edited, reply_to_id, read_at, created_at, updated_at
        FROM messages WHERE id = $1 FOR UPDATE
    `
	var m models.Message
	err := tx.QueryRow(ctx, lockSQL, messageID).Scan(
		&m.ID, &m.ChatID, &m.SenderID, &m.Seq, &m.Content, &m.MessageType,
		&m.IsEdited, &m.ReplyToID, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, models.ErrMessageNotFound
		}
		return nil, errors.Wrap(err, "chats.lockMessage.Scan")
	}
	return &m, nil
}

// refreshLastMessage recomputes the denormalized cache after an edit or
// delete of what may have been the newest message.
func refreshLastMessage(ctx context.Context, tx pgx.Tx, chatID uuid.UUID) error {
	const refreshSQL = `
        UPDATE chats SET
            last_message = (SELECT content FROM messages
                             WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1),
            last_message_at = (SELECT created_at FROM messages
                                WHERE chat_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1)
        WHERE id = $1
    `
	if _, err := tx.Exec(ctx, refreshSQL, chatID); err != nil {
		return errors.Wrap(err, "chats.refreshLastMessage.Exec")
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, chatID uuid.UUID, after *Cursor, limit int) ([]models.Message, error) {
	query := psql.Select("id", "chat_id", "sender_id", "seq", "content", "message_type",
		"is_edited", "reply_to_id", "read_at", "created_at", "updated_at").
		From("messages").
		Where(squirrel.Eq{"chat_id": chatID}).
		OrderBy("created_at ASC", "id ASC").
		Limit(uint64(limit))
	if after != nil {
		query = query.Where(squirrel.Expr("(created_at, id) > (?, ?)", after.CreatedAt, after.ID))
	}

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.ListMessages.ToSql")
	}
	return s.queryMessages(ctx, sqlStr, args)
}

func (s *PostgresStore) ListMessagesAfterSeq(ctx context.Context, chatID uuid.UUID, afterSeq int64, limit int) ([]models.Message, error) {
	query := psql.Select("id", "chat_id", "sender_id", "seq", "content", "message_type",
		"is_edited", "reply_to_id", "read_at", "created_at", "updated_at").
		From("messages").
		Where(squirrel.And{
			squirrel.Eq{"chat_id": chatID},
			squirrel.Gt{"seq": afterSeq},
		}).
		OrderBy("seq ASC").
		Limit(uint64(limit))

	sqlStr, args, err := query.ToSql()
	if err != nil {
		return nil, errors.Wrap(err, "chats.ListMessagesAfterSeq.ToSql")
	}
	return s.queryMessages(ctx, sqlStr, args)
}

func (s *PostgresStore) queryMessages(ctx context.Context, sqlStr string, args []interface{}) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, sqlStr, args...)
	if err != nil {
		return nil, errors.Wrap(err, "chats.queryMessages.Query")
	}
	defer rows.Close()

	var out []models.Message
	for rows.Next() {
		var m models.Message
		err := rows.Scan(&m.ID, &m.ChatID, &m.SenderID, &m.Seq, &m.Content, &m.MessageType,
			&m.IsEdited, &m.ReplyToID, &m.ReadAt, &m.CreatedAt, &m.UpdatedAt)
		if err != nil {
			return nil, errors.Wrap(err, "chats.queryMessages.Scan")
		}
		out = append(out, m)
	}
	return out, errors.Wrap(rows.Err(), "chats.queryMessages.Rows")
}

func (s *PostgresStore) MarkRead(ctx context.Context, chatID, userID, lastReadID uuid.UUID) ([]uuid.UUID, error) {
	const markSQL = `
        UPDATE messages SET read_at = $1
        WHERE chat_id = $2
          AND sender_id <> $3
          AND read_at IS NULL
          AND seq <= (SELECT seq FROM messages WHERE id = $4 AND chat_id = $2)
        RETURNING id
    `
	rows, err := s.pool.Query(ctx, markSQL, s.clock.Now().UTC(), chatID, userID, lastReadID)
	if err != nil {
		return nil, errors.Wrap(err, "chats.MarkRead.Query")
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "chats.MarkRead.Scan")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "chats.MarkRead.Rows")
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isTransient(err error) bool {
	switch pgCode(err) {
	case serializationFailed, deadlockDetected:
		return true
	}
	return false
}
