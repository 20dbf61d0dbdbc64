package domain

import "time"

// UserSession is the local bookkeeping row for one authorization's refresh-token chain.
// Rows are tombstoned through RevokedUTC and never deleted.
type UserSession struct {
	ID                       uint       `gorm:"primaryKey" json:"id"`
	UserID                   string     `gorm:"size:128;not null;uniqueIndex:idx_user_session_key" json:"user_id"`
	AuthorizationID          string     `gorm:"size:128;not null;uniqueIndex:idx_user_session_key" json:"authorization_id"`
	CurrentRefreshTokenHash  string     `gorm:"size:128;index;not null" json:"-"`
	PreviousRefreshTokenHash *string    `gorm:"size:128;index" json:"-"`
	AbsoluteExpiresUTC       time.Time  `gorm:"column:absolute_expires_utc;not null" json:"absolute_expires_utc"`
	SlidingExpiresUTC        time.Time  `gorm:"column:sliding_expires_utc;index;not null" json:"sliding_expires_utc"`
	SlidingExtensionCount    int        `gorm:"not null;default:0" json:"sliding_extension_count"`
	RevokedUTC               *time.Time `gorm:"column:revoked_utc;index" json:"revoked_utc,omitempty"`
	RevokedReason            *string    `gorm:"size:64" json:"revoked_reason,omitempty"`
	ReuseDetectedUTC         *time.Time `gorm:"column:reuse_detected_utc" json:"reuse_detected_utc,omitempty"`
	Version                  int64      `gorm:"not null;default:1" json:"version"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`
}

func (s *UserSession) IsRevoked() bool {
	return s != nil && s.RevokedUTC != nil
}
