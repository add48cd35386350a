package model

import (
	"time"

	"gorm.io/datatypes"
)

// DecisionLog records one agent tick: what was attempted and how it ended.
type DecisionLog struct {
	ID          int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	RunID       string         `gorm:"index:idx_decision_run;size:36;not null" json:"run_id"`
	Tick        uint64         `gorm:"not null" json:"tick"`
	SimTimeMs   int64          `json:"sim_time_ms"`
	AgentID     int64          `gorm:"index:idx_decision_agent;not null" json:"agent_id"`
	AgentName   string         `gorm:"size:64" json:"agent_name"`
	Role        string         `gorm:"size:64;index:idx_decision_role" json:"role"`
	Outcome     string         `gorm:"size:16;not null" json:"outcome"`
	Action      string         `gorm:"size:128" json:"action"`
	Ability     string         `gorm:"size:64" json:"ability"`
	TargetID    *int64         `json:"target_id"`
	Issued      bool           `json:"issued"`
	Running     bool           `json:"running"`
	Idle        bool           `json:"idle"`
	Reason      string         `gorm:"size:128" json:"reason"`
	GuardErrors datatypes.JSON `json:"guard_errors"`
	Trace       datatypes.JSON `json:"trace"`
	Visited     int            `json:"visited"`
	CreatedAt   time.Time      `gorm:"index:idx_decision_created;autoCreateTime:milli" json:"created_at"`
}
