package models

import (
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// Binding attaches one judge account to one chat channel on behalf of the member who requested it.
type Binding struct {
	ID          uint   `gorm:"primaryKey"`
	ChannelID   string `gorm:"size:191;uniqueIndex:idx_binding_channel_requester_account;index:idx_binding_channel"`
	RequesterID string `gorm:"size:191;uniqueIndex:idx_binding_channel_requester_account"`
	AccountID   string `gorm:"size:191;uniqueIndex:idx_binding_channel_requester_account;index:idx_binding_account"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
}

func (b *Binding) BeforeSave(*gorm.DB) error {
	b.AccountID = CanonicalAccount(b.AccountID)
	return nil
}

func (b *Binding) String() string {
	return fmt.Sprintf("Binding(%s, %s, %s)", b.ChannelID, b.RequesterID, b.AccountID)
}

// CanonicalAccount is the stored form of a judge handle. Handles are case-insensitive.
func CanonicalAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}
