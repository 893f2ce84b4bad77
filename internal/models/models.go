package models

import "time"

// AuthState is the authentication phase of the running app instance.
type AuthState string

const (
	SignedOut  AuthState = "signed_out"
	SigningIn  AuthState = "signing_in"
	SignedIn   AuthState = "signed_in"
	SigningOut AuthState = "signing_out"
)

// Session is the transient auth snapshot owned by the session manager.
type Session struct {
	AuthState AuthState `json:"auth_state"`
	UserID    string    `json:"user_id,omitempty"`
}

// IsSignedIn reports whether the session belongs to an authenticated user.
func (s Session) IsSignedIn() bool {
	return s.AuthState == SignedIn && s.UserID != ""
}

// Role identifies who authored a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Conversation is an ordered container for messages
type Conversation struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	Title         string    `json:"title"`
	Emoji         string    `json:"emoji"`
	IsActive      bool      `json:"is_active"`
	LastMessageAt time.Time `json:"last_message_at"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Message is one turn in a conversation. Messages are append-only.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	UserID         string    `json:"user_id"`
	Content        string    `json:"content"`
	Role           Role      `json:"role"`
	CreatedAt      time.Time `json:"created_at"`
}
