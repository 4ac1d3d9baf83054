package models

import (
	"time"
)

// FrameLog 串口命令帧日志
type FrameLog struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `gorm:"index;not null" json:"created_at"`

	RequestID string `gorm:"type:varchar(64);index" json:"request_id,omitempty"` // HTTP请求ID
	SessionID string `gorm:"type:varchar(64);index" json:"session_id,omitempty"` // 进程会话ID

	Command string `gorm:"type:varchar(16);index;not null" json:"command"` // RPC方法名 (set_mode/get_info/get_raw)
	Code    string `gorm:"type:varchar(1);not null" json:"code"`           // 命令字母
	Frame   string `gorm:"type:varchar(64);not null" json:"frame"`         // 帧的ASCII形式
	HexData string `gorm:"type:varchar(160)" json:"hex_data,omitempty"`
	Mode    *int   `json:"mode,omitempty"` // 仅set_mode

	BytesCount int    `gorm:"default:0" json:"bytes_count"`
	Success    bool   `gorm:"index" json:"success"`
	ErrorCode  int    `gorm:"default:0" json:"error_code,omitempty"`
	ErrorMsg   string `gorm:"type:text" json:"error_msg,omitempty"`

	Duration  int64 `gorm:"default:0" json:"duration"` // 写入耗时（微秒）
	Timestamp int64 `gorm:"index" json:"timestamp"`    // Unix时间戳（毫秒）
}

// TableName 指定表名
func (FrameLog) TableName() string {
	return "frame_logs"
}

// FrameLogQuery 查询参数
type FrameLogQuery struct {
	Command   string     `json:"command,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
	Success   *bool      `json:"success,omitempty"`
	StartTime *time.Time `json:"start_time,omitempty"`
	EndTime   *time.Time `json:"end_time,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	Offset    int        `json:"offset,omitempty"`
	// OrderBy 只接受 "created_at ASC" / "created_at DESC"
	OrderBy string `json:"order_by,omitempty"`
}

// FrameLogStats 统计信息
type FrameLogStats struct {
	TotalCount  int64            `json:"total_count"`
	TotalErrors int64            `json:"total_errors"`
	ByCommand   map[string]int64 `json:"by_command"`
	AvgDuration float64          `json:"avg_duration"`
	MaxDuration int64            `json:"max_duration"`
}
