package core

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type SQLiteChatStore struct {
	db        *sql.DB
	userStore UserStore
}

func NewSQLiteChatStore(db *sql.DB, userStore UserStore) *SQLiteChatStore {
	return &SQLiteChatStore{
		db:        db,
		userStore: userStore,
	}
}

// pairKey builds the canonical identity of a two-user chat. The unique index
// on chats.pair_key turns concurrent find-or-create races into a constraint
// violation that we resolve by re-reading.
func pairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

func (s *SQLiteChatStore) FindOrCreateChat(ctx context.Context, userA, userB string) (*Chat, bool, error) {
	if userA == userB {
		return nil, false, ErrSelfChat
	}

	for _, id := range []string{userA, userB} {
		user, err := s.userStore.GetUserByID(ctx, id)
		if err != nil {
			return nil, false, fmt.Errorf("GetUserByID: %w", err)
		}
		if user == nil {
			return nil, false, ErrInvalidUser
		}
	}

	key := pairKey(userA, userB)

	chat, err := s.findChatByPairKey(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if chat != nil {
		return chat, false, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	id := uuid.New().String()
	now := time.Now().UTC()
	_, err = tx.ExecContext(ctx,
		`INSERT INTO chats (id, pair_key, has_activity, created_at, updated_at)
		 VALUES (@id, @pair_key, 0, @now, @now)`,
		sql.Named("id", id), sql.Named("pair_key", key), sql.Named("now", now))
	if err != nil {
		// a concurrent request won the insert race
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			chat, ferr := s.findChatByPairKey(ctx, key)
			if ferr != nil {
				return nil, false, ferr
			}
			if chat != nil {
				return chat, false, nil
			}
		}
		return nil, false, fmt.Errorf("ExecContext(insert chat): %w", err)
	}

	for _, userID := range []string{userA, userB} {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO chat_members (chat_id, user_id, unread_count) VALUES (@chat_id, @user_id, 0)`,
			sql.Named("chat_id", id), sql.Named("user_id", userID))
		if err != nil {
			return nil, false, fmt.Errorf("ExecContext(insert chat_members): %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("Commit: %w", err)
	}

	chat, err = s.FindChatByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return chat, true, nil
}

func (s *SQLiteChatStore) findChatByPairKey(ctx context.Context, key string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id FROM chats WHERE pair_key = ? LIMIT 1`, key)
	var id string
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning chat id: %w", err)
	}
	return s.FindChatByID(ctx, id)
}

func (s *SQLiteChatStore) FindChatByID(ctx context.Context, id string) (*Chat, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, latest_message_id, has_activity, created_at, updated_at
		 FROM chats WHERE id = ? LIMIT 1`, id)

	chat := new(Chat)
	var latest sql.NullString
	err := row.Scan(&chat.ID, &latest, &chat.HasActivity, &chat.CreatedAt, &chat.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning chat: %w", err)
	}
	if latest.Valid {
		chat.LatestMessageID = &latest.String
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, unread_count FROM chat_members WHERE chat_id = ? ORDER BY user_id`, id)
	if err != nil {
		return nil, fmt.Errorf("querying chat members: %w", err)
	}
	defer rows.Close()

	chat.UnreadCounts = make(map[string]int)
	for rows.Next() {
		var userID string
		var unread int
		if err := rows.Scan(&userID, &unread); err != nil {
			return nil, fmt.Errorf("scanning chat member: %w", err)
		}
		chat.Participants = append(chat.Participants, userID)
		chat.UnreadCounts[userID] = unread
	}
	return chat, rows.Err()
}

func (s *SQLiteChatStore) ListChatsForUser(ctx context.Context, userID string) ([]ChatSummary, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT c.id, c.latest_message_id, c.updated_at, m.unread_count
		 FROM chats c
		 JOIN chat_members m ON m.chat_id = c.id
		 WHERE m.user_id = @user_id AND c.has_activity = 1
		 ORDER BY c.updated_at DESC`,
		sql.Named("user_id", userID))
	if err != nil {
		return nil, fmt.Errorf("querying chats: %w", err)
	}
	defer rows.Close()

	summaries := []ChatSummary{}
	for rows.Next() {
		var summary ChatSummary
		var latest sql.NullString
		if err := rows.Scan(&summary.ID, &latest, &summary.UpdatedAt, &summary.UnreadCount); err != nil {
			return nil, fmt.Errorf("scanning chat summary: %w", err)
		}
		if latest.Valid {
			id := latest.String
			summary.LatestMessage = &Message{ID: id}
		}
		summaries = append(summaries, summary)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range summaries {
		participants, err := s.chatParticipants(ctx, summaries[i].ID)
		if err != nil {
			return nil, err
		}
		summaries[i].Participants = participants

		if summaries[i].LatestMessage != nil {
			msg, err := s.FindMessageByID(ctx, summaries[i].LatestMessage.ID)
			if err != nil {
				return nil, err
			}
			summaries[i].LatestMessage = msg
		}
	}
	return summaries, nil
}

func (s *SQLiteChatStore) chatParticipants(ctx context.Context, chatID string) ([]UserWithoutSecrets, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT u.id, u.first_name, u.last_name, u.email
		 FROM chat_members m JOIN users u ON u.id = m.user_id
		 WHERE m.chat_id = ? ORDER BY u.id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying participants: %w", err)
	}
	defer rows.Close()

	var users []UserWithoutSecrets
	for rows.Next() {
		var user UserWithoutSecrets
		if err := rows.Scan(&user.ID, &user.FirstName, &user.LastName, &user.Email); err != nil {
			return nil, fmt.Errorf("scanning participant: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *SQLiteChatStore) CreateMessage(ctx context.Context, input MessageCreateInput) (*Message, error) {
	if err := validate.Struct(&input); err != nil {
		return nil, ErrInvalidMessage
	}

	chat, err := s.FindChatByID(ctx, input.ChatID)
	if err != nil {
		return nil, fmt.Errorf("FindChatByID: %w", err)
	}
	if chat == nil || !chat.HasParticipant(input.SenderID) {
		return nil, ErrInvalidChat
	}

	msg := &Message{
		ID:        uuid.New().String(),
		ChatID:    input.ChatID,
		SenderID:  input.SenderID,
		Content:   strings.TrimSpace(input.Content),
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO messages (id, chat_id, sender_id, content, delivered, seen, created_at)
		 VALUES (@id, @chat_id, @sender_id, @content, 0, 0, @created_at)`,
		sql.Named("id", msg.ID), sql.Named("chat_id", msg.ChatID),
		sql.Named("sender_id", msg.SenderID), sql.Named("content", msg.Content),
		sql.Named("created_at", msg.CreatedAt))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(insert message): %w", err)
	}

	// the chat surfaces in sidebars as soon as the message is persisted,
	// even when the sender's fanout event never arrives
	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET latest_message_id = @message_id, has_activity = 1, updated_at = @now
		 WHERE id = @chat_id`,
		sql.Named("message_id", msg.ID), sql.Named("now", msg.CreatedAt),
		sql.Named("chat_id", msg.ChatID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(update chat): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return msg, nil
}

func (s *SQLiteChatStore) FindMessageByID(ctx context.Context, id string) (*Message, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, chat_id, sender_id, content, delivered, seen, created_at
		 FROM messages WHERE id = ? LIMIT 1`, id)
	return scanMessage(row.Scan)
}

func scanMessage(scan func(...any) error) (*Message, error) {
	msg := new(Message)
	err := scan(&msg.ID, &msg.ChatID, &msg.SenderID, &msg.Content, &msg.Delivered, &msg.Seen, &msg.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("scanning message: %w", err)
	}
	return msg, nil
}

func (s *SQLiteChatStore) ListChatMessages(ctx context.Context, chatID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, sender_id, content, delivered, seen, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at, id`, chatID)
	if err != nil {
		return nil, fmt.Errorf("querying messages: %w", err)
	}
	defer rows.Close()

	messages := []Message{}
	for rows.Next() {
		msg, err := scanMessage(rows.Scan)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

func (s *SQLiteChatStore) ApplyMessageSent(ctx context.Context, chatID, messageID, senderID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE chats SET latest_message_id = @message_id, has_activity = 1, updated_at = @now
		 WHERE id = @chat_id`,
		sql.Named("message_id", messageID), sql.Named("now", time.Now().UTC()),
		sql.Named("chat_id", chatID))
	if err != nil {
		return fmt.Errorf("ExecContext(update chat): %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrInvalidChat
	}

	// counter bump stays inside the statement, not read-modify-write in Go
	_, err = tx.ExecContext(ctx,
		`UPDATE chat_members SET unread_count = unread_count + 1
		 WHERE chat_id = @chat_id AND user_id != @sender_id`,
		sql.Named("chat_id", chatID), sql.Named("sender_id", senderID))
	if err != nil {
		return fmt.Errorf("ExecContext(increment unread): %w", err)
	}

	return tx.Commit()
}

func (s *SQLiteChatStore) MarkMessageDelivered(ctx context.Context, messageID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE messages SET delivered = 1 WHERE id = ?`, messageID)
	if err != nil {
		return fmt.Errorf("ExecContext(mark delivered): %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) MarkChatSeen(ctx context.Context, chatID, readerID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE messages SET seen = 1, delivered = 1
		 WHERE chat_id = @chat_id AND sender_id != @reader_id AND seen = 0`,
		sql.Named("chat_id", chatID), sql.Named("reader_id", readerID))
	if err != nil {
		return 0, fmt.Errorf("ExecContext(mark seen): %w", err)
	}
	return res.RowsAffected()
}

func (s *SQLiteChatStore) ResetUnread(ctx context.Context, chatID, userID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE chat_members SET unread_count = 0 WHERE chat_id = @chat_id AND user_id = @user_id`,
		sql.Named("chat_id", chatID), sql.Named("user_id", userID))
	if err != nil {
		return fmt.Errorf("ExecContext(reset unread): %w", err)
	}
	return nil
}

func (s *SQLiteChatStore) DeleteMessage(ctx context.Context, messageID string) (*Message, error) {
	msg, err := s.FindMessageByID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrInvalidMessage
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("BeginTx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `DELETE FROM messages WHERE id = ?`, messageID)
	if err != nil {
		return nil, fmt.Errorf("ExecContext(delete message): %w", err)
	}

	row := tx.QueryRowContext(ctx,
		`SELECT id, chat_id, sender_id, content, delivered, seen, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT 1`,
		msg.ChatID)
	latest, err := scanMessage(row.Scan)
	if err != nil {
		return nil, err
	}

	var latestID any
	if latest != nil {
		latestID = latest.ID
	}
	_, err = tx.ExecContext(ctx,
		`UPDATE chats SET latest_message_id = @latest WHERE id = @chat_id`,
		sql.Named("latest", latestID), sql.Named("chat_id", msg.ChatID))
	if err != nil {
		return nil, fmt.Errorf("ExecContext(update latest message): %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("Commit: %w", err)
	}
	return latest, nil
}
