package service

import (
	"context"
	"encoding/hex"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/wfunc/sensorlight/internal/config"
	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"github.com/wfunc/sensorlight/internal/hardware"
	"github.com/wfunc/sensorlight/internal/models"
	"github.com/wfunc/sensorlight/internal/repository"
	"go.uber.org/zap"
)

// FrameLogService 命令帧日志服务。
//
// RecordFrame由网关在每次写入后调用，只做非阻塞投递；落库由后台协程批量完成。
// 缓冲区满时丢弃记录，串口写入路径不会因为数据库变慢而阻塞。
type FrameLogService struct {
	repo      *repository.FrameLogRepository
	logger    *zap.Logger
	sessionID string

	batchSize     int
	flushInterval time.Duration

	bufferCh chan *models.FrameLog
	flushCh  chan chan struct{}
	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
	dropped  atomic.Uint64

	subMu       sync.RWMutex
	subscribers map[string]chan *models.FrameLog
}

// NewFrameLogService 创建命令帧日志服务。repo为nil时只向订阅者推送，不落库。
func NewFrameLogService(repo *repository.FrameLogRepository, cfg config.JournalConfig, logger *zap.Logger) *FrameLogService {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &FrameLogService{
		repo:          repo,
		logger:        logger,
		sessionID:     uuid.New().String(),
		batchSize:     cfg.BatchSize,
		flushInterval: cfg.FlushInterval,
		bufferCh:      make(chan *models.FrameLog, cfg.BufferSize),
		flushCh:       make(chan chan struct{}),
		stopCh:        make(chan struct{}),
		doneCh:        make(chan struct{}),
		subscribers:   make(map[string]chan *models.FrameLog),
	}

	go s.backgroundWriter()

	return s
}

// SessionID 本进程的会话ID
func (s *FrameLogService) SessionID() string {
	return s.sessionID
}

// RecordFrame 实现hardware.FrameRecorder
func (s *FrameLogService) RecordFrame(rec hardware.FrameRecord) {
	log := s.toModel(rec)

	s.publish(log)

	if s.repo == nil {
		return
	}

	select {
	case s.bufferCh <- log:
	default:
		s.dropped.Add(1)
		s.logger.Warn("命令帧日志缓冲区满，丢弃日志", zap.String("frame", log.Frame))
	}
}

func (s *FrameLogService) toModel(rec hardware.FrameRecord) *models.FrameLog {
	raw := rec.Frame.Bytes()
	at := rec.Time
	if at.IsZero() {
		at = time.Now()
	}

	log := &models.FrameLog{
		CreatedAt:  at,
		RequestID:  rec.RequestID,
		SessionID:  s.sessionID,
		Command:    rec.Frame.Code.Name(),
		Code:       rec.Frame.Code.String(),
		Frame:      string(raw),
		HexData:    hex.EncodeToString(raw),
		BytesCount: len(raw),
		Success:    rec.Err == nil,
		Duration:   rec.Duration.Microseconds(),
		Timestamp:  at.UnixMilli(),
	}
	// 超出int范围的模式值只记录在Frame列
	if rec.Frame.HasValue && rec.Frame.Wide == nil {
		mode := rec.Frame.Value
		log.Mode = &mode
	}
	if rec.Err != nil {
		log.ErrorCode = int(apperrors.GetCode(rec.Err))
		log.ErrorMsg = rec.Err.Error()
	}
	return log
}

// backgroundWriter 后台批量写入协程
func (s *FrameLogService) backgroundWriter() {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	buffer := make([]*models.FrameLog, 0, s.batchSize)

	drain := func() {
		for {
			select {
			case log := <-s.bufferCh:
				buffer = append(buffer, log)
			default:
				return
			}
		}
	}

	flush := func() {
		if len(buffer) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.repo.CreateBatch(ctx, buffer, s.batchSize); err != nil {
			s.logger.Error("批量写入命令帧日志失败", zap.Int("count", len(buffer)), zap.Error(err))
		} else {
			s.logger.Debug("批量写入命令帧日志成功", zap.Int("count", len(buffer)))
		}
		buffer = buffer[:0]
	}

	for {
		select {
		case log := <-s.bufferCh:
			buffer = append(buffer, log)
			if len(buffer) >= s.batchSize {
				flush()
			}

		case <-ticker.C:
			flush()

		case ack := <-s.flushCh:
			drain()
			flush()
			close(ack)

		case <-s.stopCh:
			// 退出前写入剩余的日志
			drain()
			flush()
			return
		}
	}
}

// Flush 立即写入已缓冲的日志
func (s *FrameLogService) Flush(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case s.flushCh <- ack:
	case <-s.doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop 停止后台协程并写入剩余日志，关闭所有订阅
func (s *FrameLogService) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		<-s.doneCh

		s.subMu.Lock()
		for id, ch := range s.subscribers {
			close(ch)
			delete(s.subscribers, id)
		}
		s.subMu.Unlock()
	})
}

// Dropped 因缓冲区满被丢弃的日志数
func (s *FrameLogService) Dropped() uint64 {
	return s.dropped.Load()
}

// Subscribe 订阅实时帧日志。消费过慢时新记录会被丢弃。
func (s *FrameLogService) Subscribe(buffer int) (string, <-chan *models.FrameLog) {
	if buffer <= 0 {
		buffer = 64
	}
	id := uuid.New().String()
	ch := make(chan *models.FrameLog, buffer)

	s.subMu.Lock()
	s.subscribers[id] = ch
	s.subMu.Unlock()

	return id, ch
}

// Unsubscribe 取消订阅
func (s *FrameLogService) Unsubscribe(id string) {
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if ch, ok := s.subscribers[id]; ok {
		close(ch)
		delete(s.subscribers, id)
	}
}

func (s *FrameLogService) publish(log *models.FrameLog) {
	s.subMu.RLock()
	defer s.subMu.RUnlock()
	for _, ch := range s.subscribers {
		select {
		case ch <- log:
		default:
		}
	}
}

func (s *FrameLogService) requireRepo() error {
	if s.repo == nil {
		return apperrors.New(apperrors.ErrDatabaseConnect, "命令帧日志存储未启用")
	}
	return nil
}

// Query 查询日志
func (s *FrameLogService) Query(ctx context.Context, query *models.FrameLogQuery) ([]*models.FrameLog, int64, error) {
	if err := s.requireRepo(); err != nil {
		return nil, 0, err
	}
	logs, total, err := s.repo.Query(ctx, query)
	if err != nil {
		return nil, 0, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return logs, total, nil
}

// GetStats 获取统计信息
func (s *FrameLogService) GetStats(ctx context.Context, startTime, endTime *time.Time) (*models.FrameLogStats, error) {
	if err := s.requireRepo(); err != nil {
		return nil, err
	}
	stats, err := s.repo.GetStats(ctx, startTime, endTime)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrDatabaseQuery)
	}
	return stats, nil
}

// CleanupOldLogs 清理旧日志
func (s *FrameLogService) CleanupOldLogs(ctx context.Context, retentionDays int) (int64, error) {
	if err := s.requireRepo(); err != nil {
		return 0, err
	}
	if retentionDays <= 0 {
		return 0, apperrors.Newf(apperrors.ErrInvalidParam, "days 必须大于0: %d", retentionDays)
	}
	n, err := s.repo.CleanupLogs(ctx, retentionDays)
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrDatabaseDelete)
	}
	return n, nil
}
