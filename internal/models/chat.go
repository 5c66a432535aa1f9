package models

import "time"

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Chat is a conversation session that may be linked to zero or more documents.
type Chat struct {
	ID            string     `json:"id" db:"id"`
	Title         string     `json:"title" db:"title"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
	MessageCount  int        `json:"message_count,omitempty" db:"-"`
	LastMessageAt *time.Time `json:"last_message_at,omitempty" db:"-"`
}

// Message is one turn in a chat. Assistant messages carry the citations
// used to generate them; user messages have no sources.
type Message struct {
	ID        string    `json:"id" db:"id"`
	ChatID    string    `json:"chat_id" db:"chat_id"`
	Role      string    `json:"role" db:"role"`
	Content   string    `json:"content" db:"content"`
	Sources   []Source  `json:"sources,omitempty" db:"-"`
	ModelUsed string    `json:"model_used,omitempty" db:"model_used"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Source is a citation attached to an assistant message: enough to display
// the citation without a second lookup.
type Source struct {
	DocumentID string  `json:"document_id"`
	ChunkID    string  `json:"chunk_id"`
	FileName   string  `json:"file_name"`
	ChunkIndex int     `json:"chunk_index"`
	Similarity float64 `json:"similarity"`
	ChunkText  string  `json:"chunk_text"`
}
