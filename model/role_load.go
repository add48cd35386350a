package model

import "time"

// Role load outcomes.
const (
	RoleLoadOK     = "ok"
	RoleLoadFailed = "failed"
	// RoleLoadKept means the new definition failed and the previous tree stayed installed.
	RoleLoadKept = "kept"
)

// RoleLoad records each attempt to (re)build a role tree.
type RoleLoad struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	Role      string    `gorm:"size:64;index:idx_role_load_role;not null" json:"role"`
	Source    string    `gorm:"size:255" json:"source"`
	Checksum  string    `gorm:"size:64" json:"checksum"`
	Status    string    `gorm:"size:16;not null" json:"status"`
	Nodes     int       `json:"nodes"`
	Error     string    `gorm:"type:text" json:"error"`
	CreatedAt time.Time `gorm:"autoCreateTime:milli" json:"created_at"`
}
