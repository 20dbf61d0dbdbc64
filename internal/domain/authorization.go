package domain

import "time"

const (
	AuthorizationStatusValid   = "valid"
	AuthorizationStatusRevoked = "revoked"

	TokenStatusValid   = "valid"
	TokenStatusRevoked = "revoked"
)

// Authorization is one OAuth2 grant (client + subject + scopes) as recorded by the authorization store.
type Authorization struct {
	ID            string    `gorm:"primaryKey;size:128" json:"id"`
	Subject       string    `gorm:"size:128;index;not null" json:"subject"`
	ApplicationID string    `gorm:"size:128;index" json:"application_id"`
	Scopes        string    `gorm:"size:1024" json:"scopes"`
	Status        string    `gorm:"size:32;index;not null" json:"status"`
	Type          string    `gorm:"size:32" json:"type"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Application is a registered OAuth client.
type Application struct {
	ID          string    `gorm:"primaryKey;size:128" json:"id"`
	ClientID    string    `gorm:"size:128;uniqueIndex;not null" json:"client_id"`
	DisplayName string    `gorm:"size:256" json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// OAuthToken is an access or refresh token issued under an authorization.
type OAuthToken struct {
	ID              string     `gorm:"primaryKey;size:128" json:"id"`
	AuthorizationID string     `gorm:"size:128;index;not null" json:"authorization_id"`
	Subject         string     `gorm:"size:128;index" json:"subject"`
	Type            string     `gorm:"size:32" json:"type"`
	Status          string     `gorm:"size:32;index;not null" json:"status"`
	ExpiresAt       *time.Time `gorm:"index" json:"expires_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func (OAuthToken) TableName() string {
	return "oauth_tokens"
}
