package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
)

// ConversationStore composes SessionStore and MessageStore into a single
// ports.ConversationStore.
type ConversationStore struct {
	*SessionStore
	*MessageStore
}

func NewConversationStore(pool *pgxpool.Pool) *ConversationStore {
	return &ConversationStore{
		SessionStore: NewSessionStore(pool),
		MessageStore: NewMessageStore(pool),
	}
}
