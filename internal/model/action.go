package model

// Action is one accepted draw, append-only. Rows are never updated or
// deleted and the autoincrement ID doubles as the snapshot resume cursor.
// Persistence of actions is best-effort from the caller's point of view,
// so the log is a replay source, not an audit trail.
type Action struct {
	ID int64 `gorm:"primaryKey;autoIncrement" json:"id"`

	X     int    `gorm:"not null" json:"x"`
	Y     int    `gorm:"not null" json:"y"`
	Color string `gorm:"size:7;not null" json:"c"`

	Identity  string `gorm:"index;not null" json:"-"`
	CreatedAt int64  `gorm:"not null" json:"created_at"`
}
