package database

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
)

func (db *PgRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	res := db.conn.QueryRow(
		"INSERT INTO accounts (id, username, email, password_hash, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) RETURNING id, username, email, created_at, updated_at",
		uuid.NewString(),
		params.Username,
		params.Email,
		params.PasswordHash,
		time.Now().UTC(),
	)

	var a Account
	err := res.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgRepository) GetAccountByID(id string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE id = $1 LIMIT 1",
		id,
	)

	var a Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgRepository) GetAccountByEmail(email string) (Account, error) {
	row := db.conn.QueryRow(
		"SELECT id, username, email, password_hash, created_at, updated_at FROM accounts "+
			"WHERE email = $1 LIMIT 1",
		email,
	)

	var a Account
	err := row.Scan(
		&a.ID,
		&a.Username,
		&a.Email,
		&a.PasswordHash,
		&a.CreatedAt,
		&a.UpdatedAt,
	)

	return a, err
}

func (db *PgRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return Conversation{}, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	row := tx.QueryRow(
		"INSERT INTO conversations (external_id, subject, property_id, creator_id, created_at, updated_at) "+
			"VALUES ($1, $2, $3, $4, $5, $5) "+
			"RETURNING id, external_id, subject, property_id, seq_id, creator_id, created_at, updated_at",
		params.ExternalID,
		params.Subject,
		params.PropertyID,
		params.CreatorID,
		time.Now().UTC(),
	)

	var c Conversation
	if err := row.Scan(
		&c.ID,
		&c.ExternalID,
		&c.Subject,
		&c.PropertyID,
		&c.SeqID,
		&c.CreatorID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Conversation{}, err
	}

	// the creator is always a participant; duplicates are absorbed by the
	// unique constraint
	accountIDs := append([]string{params.CreatorID}, params.ParticipantIDs...)
	for _, accountID := range accountIDs {
		if _, err := tx.Exec(
			"INSERT INTO participants (conversation_id, account_id, created_at, updated_at) "+
				"VALUES ($1, $2, $3, $3) ON CONFLICT (conversation_id, account_id) DO NOTHING",
			c.ID,
			accountID,
			time.Now().UTC(),
		); err != nil {
			return Conversation{}, fmt.Errorf("add participant %q: %w", accountID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Conversation{}, fmt.Errorf("commit: %w", err)
	}

	return db.GetConversationByExternalID(c.ExternalID)
}

func (db *PgRepository) GetConversationByExternalID(externalID string) (Conversation, error) {
	row := db.conn.QueryRow(
		"SELECT id, external_id, subject, property_id, seq_id, creator_id, created_at, updated_at "+
			"FROM conversations WHERE external_id = $1 LIMIT 1",
		externalID,
	)

	var c Conversation
	if err := row.Scan(
		&c.ID,
		&c.ExternalID,
		&c.Subject,
		&c.PropertyID,
		&c.SeqID,
		&c.CreatorID,
		&c.CreatedAt,
		&c.UpdatedAt,
	); err != nil {
		return Conversation{}, err
	}

	participants, err := db.listParticipants(c.ID)
	if err != nil {
		return Conversation{}, fmt.Errorf("list participants: %w", err)
	}
	c.Participants = participants

	return c, nil
}

func (db *PgRepository) listParticipants(conversationID int) ([]Participant, error) {
	rows, err := db.conn.Query(
		"SELECT p.id, p.conversation_id, p.account_id, a.username, p.last_read_seq_id, p.created_at "+
			"FROM participants p JOIN accounts a ON a.id = p.account_id "+
			"WHERE p.conversation_id = $1 ORDER BY p.id",
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []Participant
	for rows.Next() {
		var p Participant
		if err := rows.Scan(
			&p.ID,
			&p.ConversationID,
			&p.AccountID,
			&p.Username,
			&p.LastReadSeqID,
			&p.CreatedAt,
		); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}

	return participants, rows.Err()
}

func (db *PgRepository) ListConversationsByAccount(accountID string) ([]Conversation, error) {
	rows, err := db.conn.Query(
		"SELECT c.id, c.external_id, c.subject, c.property_id, c.seq_id, c.creator_id, c.created_at, c.updated_at "+
			"FROM conversations c JOIN participants p ON p.conversation_id = c.id "+
			"WHERE p.account_id = $1 ORDER BY c.updated_at DESC",
		accountID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var c Conversation
		if err := rows.Scan(
			&c.ID,
			&c.ExternalID,
			&c.Subject,
			&c.PropertyID,
			&c.SeqID,
			&c.CreatorID,
			&c.CreatedAt,
			&c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		conversations = append(conversations, c)
	}

	return conversations, rows.Err()
}

func (db *PgRepository) DeleteConversation(id int) error {
	_, err := db.conn.Exec("DELETE FROM conversations WHERE id = $1", id)
	return err
}

func (db *PgRepository) IsParticipant(conversationID int, accountID string) (bool, error) {
	row := db.conn.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM participants WHERE conversation_id = $1 AND account_id = $2)",
		conversationID,
		accountID,
	)

	var exists bool
	err := row.Scan(&exists)

	return exists, err
}

func (db *PgRepository) CreateMessage(msg Message) error {
	tx, err := db.conn.Begin()
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"INSERT INTO messages (seq_id, conversation_id, account_id, content, created_at) "+
			"VALUES ($1, $2, $3, $4, $5)",
		msg.SeqID,
		msg.ConversationID,
		msg.AccountID,
		msg.Content,
		msg.CreatedAt,
	); err != nil {
		return err
	}

	if _, err := tx.Exec(
		"UPDATE conversations SET seq_id = $2, updated_at = $3 WHERE id = $1",
		msg.ConversationID,
		msg.SeqID,
		time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (db *PgRepository) GetMessages(conversationID, since, limit int) ([]Message, error) {
	rows, err := db.conn.Query(
		"SELECT id, seq_id, conversation_id, account_id, content, created_at FROM messages "+
			"WHERE conversation_id = $1 AND seq_id > $2 ORDER BY seq_id ASC LIMIT $3",
		conversationID,
		since,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		if err := rows.Scan(
			&m.ID,
			&m.SeqID,
			&m.ConversationID,
			&m.AccountID,
			&m.Content,
			&m.CreatedAt,
		); err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (db *PgRepository) UpdateLastReadSeqID(accountID string, conversationID, seqID int) error {
	res, err := db.conn.Exec(
		"UPDATE participants SET last_read_seq_id = $3, updated_at = $4 "+
			"WHERE account_id = $1 AND conversation_id = $2",
		accountID,
		conversationID,
		seqID,
		time.Now().UTC(),
	)
	if err != nil {
		return err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}

	return nil
}
