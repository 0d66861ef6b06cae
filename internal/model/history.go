package model

import (
	"time"
)

// OperationRecord 单台设备的一次操作结果
type OperationRecord struct {
	ID         string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	JobID      string    `json:"job_id,omitempty" gorm:"type:varchar(64);index"`
	Gate       string    `json:"gate" gorm:"type:varchar(128);not null;index"`
	Device     string    `json:"device" gorm:"type:varchar(128);not null;index"`
	Operation  string    `json:"operation" gorm:"type:varchar(16);not null"`
	Result     string    `json:"result" gorm:"type:varchar(16);not null"`
	Payload    string    `json:"payload" gorm:"type:text"`
	ErrorMsg   string    `json:"error_msg,omitempty" gorm:"type:text"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName 表名
func (OperationRecord) TableName() string {
	return "operation_records"
}

// 操作结果
const (
	ResultSuccess = "success"
	ResultFailed  = "failed"
)

// ReachabilityAlert 巡检发现的不可达设备
type ReachabilityAlert struct {
	ID        string    `json:"id" gorm:"primaryKey;type:varchar(64)"`
	Gate      string    `json:"gate" gorm:"type:varchar(128);not null;index"`
	Device    string    `json:"device" gorm:"type:varchar(128);not null"`
	Address   string    `json:"address" gorm:"type:varchar(128);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"autoCreateTime;index"`
}

// TableName 表名
func (ReachabilityAlert) TableName() string {
	return "reachability_alerts"
}
