package store

import (
	"time"

	"gorm.io/gorm"
)

type User struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	Username     string         `gorm:"uniqueIndex;not null" json:"username"`
	PasswordHash string         `gorm:"not null" json:"-"`
	Role         string         `gorm:"default:'user'" json:"role"` // admin, user
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
	DeletedAt    gorm.DeletedAt `gorm:"index" json:"-"`
}

// SessionRecord is one local rendezvous identity's lifetime.
type SessionRecord struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	LocalPeerID string     `gorm:"index;not null" json:"local_peer_id"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// PeerEvent records a remote peer joining or leaving.
type PeerEvent struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PeerID    string    `gorm:"index;not null" json:"peer_id"`
	Event     string    `gorm:"index;not null" json:"event"` // join, leave
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

// QualitySnapshot is one published link quality reading.
type QualitySnapshot struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	PeerID    string    `gorm:"index;not null" json:"peer_id"`
	RTTMs     float64   `json:"rtt_ms"`
	JitterMs  float64   `json:"jitter_ms"`
	Class     string    `json:"class"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
