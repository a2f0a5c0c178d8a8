package database

import (
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) Ping() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockRepository) CreateAccount(params CreateAccountParams) (Account, error) {
	args := m.Called(params)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) GetAccountByID(id string) (Account, error) {
	args := m.Called(id)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) GetAccountByEmail(email string) (Account, error) {
	args := m.Called(email)
	return args.Get(0).(Account), args.Error(1)
}

func (m *MockRepository) CreateConversation(params CreateConversationParams) (Conversation, error) {
	args := m.Called(params)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockRepository) GetConversationByExternalID(externalID string) (Conversation, error) {
	args := m.Called(externalID)
	return args.Get(0).(Conversation), args.Error(1)
}

func (m *MockRepository) ListConversationsByAccount(accountID string) ([]Conversation, error) {
	args := m.Called(accountID)
	if convs, ok := args.Get(0).([]Conversation); ok {
		return convs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) DeleteConversation(id int) error {
	args := m.Called(id)
	return args.Error(0)
}

func (m *MockRepository) IsParticipant(conversationID int, accountID string) (bool, error) {
	args := m.Called(conversationID, accountID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CreateMessage(msg Message) error {
	args := m.Called(msg)
	return args.Error(0)
}

func (m *MockRepository) GetMessages(conversationID, since, limit int) ([]Message, error) {
	args := m.Called(conversationID, since, limit)
	if msgs, ok := args.Get(0).([]Message); ok {
		return msgs, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRepository) UpdateLastReadSeqID(accountID string, conversationID, seqID int) error {
	args := m.Called(accountID, conversationID, seqID)
	return args.Error(0)
}
