package domain

import "time"

const (
	AuditRefreshTokenRotated       = "RefreshTokenRotated"
	AuditSlidingExpirationExtended = "SlidingExpirationExtended"
	AuditRefreshTokenReuseDetected = "RefreshTokenReuseDetected"
	AuditSessionChainRevoked       = "SessionChainRevoked"
	AuditSessionIssued             = "SessionIssued"
)

type AuditLog struct {
	ID        string    `gorm:"primaryKey;size:36" json:"id"`
	EventType string    `gorm:"size:64;index;not null" json:"event_type"`
	UserID    *string   `gorm:"size:128;index" json:"user_id,omitempty"`
	Details   *string   `gorm:"type:text" json:"details,omitempty"`
	IP        *string   `gorm:"size:64" json:"ip,omitempty"`
	UserAgent *string   `gorm:"size:512" json:"user_agent,omitempty"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}
