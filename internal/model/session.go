package model

// UserSession binds a draw token to an externally authenticated identity.
// One active token per identity, issuing a new one replaces the old row.
type UserSession struct {
	Identity  string `gorm:"primaryKey"`
	Token     string `gorm:"uniqueIndex;size:64;not null"`
	CreatedAt int64  `gorm:"not null;autoCreateTime:false"`
}
