package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/ocrtool/ocrtool/internal/model"
	"github.com/ocrtool/ocrtool/pkg/logger"
	"gorm.io/gorm"
)

const (
	writeAttempts = 3
	defaultLimit  = 100
	maxLimit      = 1000
)

// HistoryQuery 历史记录查询条件
type HistoryQuery struct {
	Gate      string
	Device    string
	Operation string
	Limit     int
}

// HistoryRepo 操作记录与巡检告警的持久化
type HistoryRepo struct {
	db *gorm.DB
}

// NewHistoryRepo 创建历史记录仓库
func NewHistoryRepo(db *gorm.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

// SaveOperation 写入一条操作记录
func (r *HistoryRepo) SaveOperation(ctx context.Context, rec *model.OperationRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	return WithRetry(r.db, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Create(rec).Error
	}, writeAttempts, 0)
}

// SaveAlert 写入一条不可达告警
func (r *HistoryRepo) SaveAlert(ctx context.Context, alert *model.ReachabilityAlert) error {
	if alert.ID == "" {
		alert.ID = uuid.NewString()
	}
	return WithRetry(r.db, func(tx *gorm.DB) error {
		return tx.WithContext(ctx).Create(alert).Error
	}, writeAttempts, 0)
}

// ListOperations 按时间倒序返回操作记录
func (r *HistoryRepo) ListOperations(ctx context.Context, q HistoryQuery) ([]model.OperationRecord, error) {
	tx := r.db.WithContext(ctx).Model(&model.OperationRecord{})
	if q.Gate != "" {
		tx = tx.Where("gate = ?", q.Gate)
	}
	if q.Device != "" {
		tx = tx.Where("device = ?", q.Device)
	}
	if q.Operation != "" {
		tx = tx.Where("operation = ?", q.Operation)
	}
	var out []model.OperationRecord
	err := tx.Order("created_at desc").Limit(clampLimit(q.Limit)).Find(&out).Error
	return out, err
}

// ListAlerts 按时间倒序返回告警；gate 为空表示全部
func (r *HistoryRepo) ListAlerts(ctx context.Context, gate string, limit int) ([]model.ReachabilityAlert, error) {
	tx := r.db.WithContext(ctx).Model(&model.ReachabilityAlert{})
	if gate != "" {
		tx = tx.Where("gate = ?", gate)
	}
	var out []model.ReachabilityAlert
	err := tx.Order("created_at desc").Limit(clampLimit(limit)).Find(&out).Error
	return out, err
}

// Prune 删除早于 before 的记录
func (r *HistoryRepo) Prune(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	err := WithRetry(r.db, func(tx *gorm.DB) error {
		res := tx.WithContext(ctx).Where("created_at < ?", before).Delete(&model.OperationRecord{})
		if res.Error != nil {
			return res.Error
		}
		total = res.RowsAffected
		res = tx.WithContext(ctx).Where("created_at < ?", before).Delete(&model.ReachabilityAlert{})
		if res.Error != nil {
			return res.Error
		}
		total += res.RowsAffected
		return nil
	}, writeAttempts, 0)
	return total, err
}

// RunPruner 每隔 interval 删除早于 retention 的记录，直到 ctx 取消；retention<=0 时直接返回
func (r *HistoryRepo) RunPruner(ctx context.Context, retention, interval time.Duration) {
	if retention <= 0 {
		return
	}
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		r.pruneExpired(ctx, time.Now().Add(-retention))
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (r *HistoryRepo) pruneExpired(ctx context.Context, before time.Time) {
	removed, err := r.Prune(ctx, before)
	if err != nil {
		if ctx.Err() == nil {
			logger.WithError(err).Warn("History prune failed")
		}
		return
	}
	if removed > 0 {
		logger.WithFields(logger.Fields{"removed": removed, "before": before.Format(time.RFC3339)}).Info("History pruned")
	}
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultLimit
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}

// Close 关闭底层连接
func (r *HistoryRepo) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
