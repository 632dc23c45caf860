// Package conversation keeps chat transcripts in process memory.
package conversation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/querydesk/querydesk/internal/query"
)

const (
	DefaultTitle = "New Chat"

	SenderUser = "user"
	SenderBot  = "bot"

	maxTitleRunes = 30
)

type Summary struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	LastMessageAt time.Time `json:"last_message_at"`
}

type Message struct {
	Sender    string      `json:"sender"`
	Text      string      `json:"text"`
	Emotion   string      `json:"emotion,omitempty"`
	Intent    string      `json:"intent,omitempty"`
	SQL       string      `json:"sql,omitempty"`
	Data      []query.Row `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

type conversation struct {
	summary  Summary
	messages []Message
}

// Store is safe for concurrent use.
type Store struct {
	mu            sync.RWMutex
	conversations map[string]*conversation
	now           func() time.Time
}

func NewStore() *Store {
	return &Store{conversations: map[string]*conversation{}, now: time.Now}
}

// Create starts an empty conversation. An empty title becomes DefaultTitle.
func (s *Store) Create(title string) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(uuid.NewString(), title)
}

// Append adds msg to conversation id. An empty or unknown id starts a new
// conversation under that id. The first user message names a conversation
// still carrying DefaultTitle.
func (s *Store) Append(id string, msg Message) Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	conv, ok := s.conversations[id]
	if !ok {
		s.createLocked(id, "")
		conv = s.conversations[id]
	}

	if msg.Timestamp.IsZero() {
		msg.Timestamp = s.now().UTC()
	}
	conv.messages = append(conv.messages, msg)
	conv.summary.LastMessageAt = msg.Timestamp
	if conv.summary.Title == DefaultTitle && msg.Sender == SenderUser && strings.TrimSpace(msg.Text) != "" {
		conv.summary.Title = titleFrom(msg.Text)
	}
	return conv.summary
}

// List returns every conversation, most recently active first.
func (s *Store) List() []Summary {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Summary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		out = append(out, conv.summary)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageAt.Equal(out[j].LastMessageAt) {
			return out[i].LastMessageAt.After(out[j].LastMessageAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (s *Store) Messages(id string) ([]Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	conv, ok := s.conversations[id]
	if !ok {
		return nil, false
	}
	return append([]Message{}, conv.messages...), true
}

func (s *Store) createLocked(id, title string) Summary {
	title = strings.TrimSpace(title)
	if title == "" {
		title = DefaultTitle
	}
	summary := Summary{ID: id, Title: title, LastMessageAt: s.now().UTC()}
	s.conversations[id] = &conversation{summary: summary}
	return summary
}

func titleFrom(text string) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= maxTitleRunes {
		return text
	}
	return string(runes[:maxTitleRunes]) + "..."
}
