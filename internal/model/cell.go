// Package model defines database models
package model

// Cell is the current state of one canvas coordinate. Writes overwrite
// in place (last-write-wins), so this table holds no history. Replay
// lives in the action log instead.
type Cell struct {
	X int `gorm:"primaryKey;autoIncrement:false" json:"x"`
	Y int `gorm:"primaryKey;autoIncrement:false" json:"y"`

	// 6 hex-digit RGB prefixed with '#', e.g. #ff8b83
	Color string `gorm:"size:7;not null" json:"c"`

	// Identity of the last writer, kept for attribution only
	LastWriter string `gorm:"index" json:"-"`

	// Unix millisecond timestamps
	CreatedAt int64 `gorm:"not null" json:"-"`
	UpdatedAt int64 `gorm:"not null" json:"-"`
}
