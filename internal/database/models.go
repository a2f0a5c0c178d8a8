package database

import "time"

type Account struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

type Conversation struct {
	ID           int
	ExternalID   string
	Subject      string
	PropertyID   string
	SeqID        int
	CreatorID    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Participants []Participant
}

type Participant struct {
	ID             int
	ConversationID int
	AccountID      string
	Username       string
	LastReadSeqID  int
	CreatedAt      time.Time
}

type Message struct {
	ID             int
	SeqID          int
	ConversationID int
	AccountID      string
	Content        string
	CreatedAt      time.Time
}

type CreateAccountParams struct {
	Username     string
	Email        string
	PasswordHash string
}

type CreateConversationParams struct {
	ExternalID     string
	Subject        string
	PropertyID     string
	CreatorID      string
	ParticipantIDs []string
}
