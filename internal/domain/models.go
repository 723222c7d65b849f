// Package domain defines the persistence models for fans, their messages, and
// pending OAuth logins. These types are mapped with GORM and form the core
// data layer of the persona engine.
package domain

import "time"

const (
	// RoleUser marks a message written by the fan.
	RoleUser = "user"
	// RoleAssistant marks a reply produced by the persona.
	RoleAssistant = "assistant"

	// DefaultFanName is stored until a name is learned from the conversation.
	DefaultFanName = "Unknown"
	// DefaultVibe is written once at fan creation.
	DefaultVibe = "Friendly"
)

// Fan is the per-fan memory record, keyed by the platform's stable fan id.
// Exactly one row exists per fan; it is created lazily on the first inbound
// message and never deleted by the pipeline.
//
// Fields:
//   - FanID: opaque platform identifier (primary key).
//   - Name: display name; DefaultFanName until extracted from lore.
//   - LoreText: newline-delimited, append-only memory facts.
//   - LastVibe: mood tag written at creation and otherwise reserved.
//   - CreatedAt: immutable creation timestamp.
//   - UpdatedAt: bumped on lore/name updates (used for ETags).
type Fan struct {
	FanID     string    `json:"fan_id"     gorm:"column:fan_id;type:varchar(128);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255);not null;default:'Unknown'"`
	LoreText  string    `json:"lore_text"  gorm:"type:text;not null;default:''"`
	LastVibe  string    `json:"last_vibe"  gorm:"type:varchar(64)"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;<-:create"`
	UpdatedAt time.Time `json:"updated_at"`

	// Messages is the fan's conversation log; deleting the fan removes it.
	Messages []Message `json:"-" gorm:"foreignKey:FanID;references:FanID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Fan.
func (Fan) TableName() string { return "fan_lore" }

// Message is a single utterance exchanged with a fan. Inbound messages keep
// the platform's message id so redelivered webhooks are absorbed by the
// primary key; outbound replies get a fresh UUID. Rows are append-only and
// ordered by CreatedAt.
type Message struct {
	ID        string    `json:"id"         gorm:"type:varchar(128);primaryKey"`
	FanID     string    `json:"fan_id"     gorm:"type:varchar(128);not null;index:idx_fan_msgs,priority:1"`
	Role      string    `json:"role"       gorm:"type:varchar(16);not null;check:role IN ('user','assistant')"`
	Content   string    `json:"content"    gorm:"type:text;not null"`
	CreatedAt time.Time `json:"created_at" gorm:"index:idx_fan_msgs,priority:2"`
}

// TableName returns the database table name for Message.
func (Message) TableName() string { return "messages" }

// OAuthState holds the PKCE verifier for a login that is waiting for the
// platform to redirect back with an authorization code. Rows are consumed
// once and pruned after ExpiresAt.
type OAuthState struct {
	State     string    `gorm:"type:varchar(128);primaryKey"`
	Verifier  string    `gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	ExpiresAt time.Time `gorm:"not null;index"`
}

// TableName implements the GORM tabler interface.
func (OAuthState) TableName() string { return "oauth_states" }
