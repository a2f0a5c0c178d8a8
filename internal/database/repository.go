package database

// Repository is the persistence collaborator of the real-time layer:
// accounts for token issuance, conversations and participants for join
// authorization, messages and read cursors for delivery.
type Repository interface {
	Ping() error
	CreateAccount(params CreateAccountParams) (Account, error)
	GetAccountByID(id string) (Account, error)
	GetAccountByEmail(email string) (Account, error)
	CreateConversation(params CreateConversationParams) (Conversation, error)
	GetConversationByExternalID(externalID string) (Conversation, error)
	ListConversationsByAccount(accountID string) ([]Conversation, error)
	DeleteConversation(id int) error
	IsParticipant(conversationID int, accountID string) (bool, error)
	CreateMessage(msg Message) error
	GetMessages(conversationID, since, limit int) ([]Message, error)
	UpdateLastReadSeqID(accountID string, conversationID, seqID int) error
}
