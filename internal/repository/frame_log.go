package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/wfunc/sensorlight/internal/models"
	"gorm.io/gorm"
)

// FrameLogRepository 命令帧日志仓库
type FrameLogRepository struct {
	db *gorm.DB
}

// NewFrameLogRepository 创建命令帧日志仓库
func NewFrameLogRepository(db *gorm.DB) *FrameLogRepository {
	return &FrameLogRepository{
		db: db,
	}
}

// Create 创建日志记录
func (r *FrameLogRepository) Create(ctx context.Context, log *models.FrameLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// CreateBatch 批量创建日志记录
func (r *FrameLogRepository) CreateBatch(ctx context.Context, logs []*models.FrameLog, batchSize int) error {
	if len(logs) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return r.db.WithContext(ctx).CreateInBatches(logs, batchSize).Error
}

func (r *FrameLogRepository) filtered(ctx context.Context, query *models.FrameLogQuery) *gorm.DB {
	db := r.db.WithContext(ctx).Model(&models.FrameLog{})

	if query.Command != "" {
		db = db.Where("command = ?", query.Command)
	}
	if query.RequestID != "" {
		db = db.Where("request_id = ?", query.RequestID)
	}
	if query.SessionID != "" {
		db = db.Where("session_id = ?", query.SessionID)
	}
	if query.Success != nil {
		db = db.Where("success = ?", *query.Success)
	}
	if query.StartTime != nil {
		db = db.Where("created_at >= ?", *query.StartTime)
	}
	if query.EndTime != nil {
		db = db.Where("created_at <= ?", *query.EndTime)
	}
	return db
}

// Query 查询日志，返回当前页和总数
func (r *FrameLogRepository) Query(ctx context.Context, query *models.FrameLogQuery) ([]*models.FrameLog, int64, error) {
	var total int64
	if err := r.filtered(ctx, query).Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "created_at DESC, id DESC"
	if query.OrderBy == "created_at ASC" {
		order = "created_at ASC, id ASC"
	}

	db := r.filtered(ctx, query).Order(order)
	if query.Limit > 0 {
		db = db.Limit(query.Limit)
	}
	if query.Offset > 0 {
		db = db.Offset(query.Offset)
	}

	var logs []*models.FrameLog
	if err := db.Find(&logs).Error; err != nil {
		return nil, 0, err
	}

	return logs, total, nil
}

// GetByRequestID 根据请求ID获取日志
func (r *FrameLogRepository) GetByRequestID(ctx context.Context, requestID string) ([]*models.FrameLog, error) {
	var logs []*models.FrameLog
	err := r.db.WithContext(ctx).
		Where("request_id = ?", requestID).
		Order("created_at ASC").
		Find(&logs).Error
	return logs, err
}

// GetStats 获取统计信息
func (r *FrameLogRepository) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.FrameLogStats, error) {
	scope := func() *gorm.DB {
		return r.filtered(ctx, &models.FrameLogQuery{StartTime: startTime, EndTime: endTime})
	}

	stats := &models.FrameLogStats{ByCommand: make(map[string]int64)}

	if err := scope().Count(&stats.TotalCount).Error; err != nil {
		return nil, err
	}
	if err := scope().Where("success = ?", false).Count(&stats.TotalErrors).Error; err != nil {
		return nil, err
	}

	type commandCount struct {
		Command string
		Count   int64
	}
	var counts []commandCount
	if err := scope().
		Select("command, COUNT(*) as count").
		Group("command").
		Scan(&counts).Error; err != nil {
		return nil, err
	}
	for _, c := range counts {
		stats.ByCommand[c.Command] = c.Count
	}

	type durationStats struct {
		AvgDuration float64
		MaxDuration int64
	}
	var ds durationStats
	if err := scope().
		Select("COALESCE(AVG(duration), 0) as avg_duration, COALESCE(MAX(duration), 0) as max_duration").
		Scan(&ds).Error; err != nil {
		return nil, err
	}
	stats.AvgDuration = ds.AvgDuration
	stats.MaxDuration = ds.MaxDuration

	return stats, nil
}

// DeleteOldLogs 删除旧日志
func (r *FrameLogRepository) DeleteOldLogs(ctx context.Context, before time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Where("created_at < ?", before).Delete(&models.FrameLog{})
	return result.RowsAffected, result.Error
}

// CleanupLogs 清理日志（保留最近N天的数据）
func (r *FrameLogRepository) CleanupLogs(ctx context.Context, retentionDays int) (int64, error) {
	if retentionDays <= 0 {
		return 0, fmt.Errorf("retention days must be greater than 0")
	}
	return r.DeleteOldLogs(ctx, time.Now().AddDate(0, 0, -retentionDays))
}
