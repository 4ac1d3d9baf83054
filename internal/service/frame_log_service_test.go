package service

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/sensorlight/internal/config"
	"github.com/wfunc/sensorlight/internal/database"
	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"github.com/wfunc/sensorlight/internal/hardware"
	"github.com/wfunc/sensorlight/internal/models"
	"github.com/wfunc/sensorlight/internal/repository"
	"go.uber.org/zap"
)

func newTestRepo(t *testing.T) *repository.FrameLogRepository {
	t.Helper()
	db, err := database.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() { database.Close(db) })
	return repository.NewFrameLogRepository(db)
}

func journalConfig() config.JournalConfig {
	return config.JournalConfig{BufferSize: 16, BatchSize: 100, FlushInterval: time.Hour}
}

func TestFrameLogServicePersists(t *testing.T) {
	svc := NewFrameLogService(newTestRepo(t), journalConfig(), nil)
	defer svc.Stop()
	ctx := context.Background()

	gw := hardware.NewGateway(hardware.NewMockChannel(nil), hardware.WithRecorder(svc))
	_, err := gw.SetMode(hardware.WithRequestID(ctx, "req-1"), 5)
	require.NoError(t, err)
	_, err = gw.GetInfo(hardware.WithRequestID(ctx, "req-2"))
	require.NoError(t, err)

	require.NoError(t, svc.Flush(ctx))

	logs, total, err := svc.Query(ctx, &models.FrameLogQuery{OrderBy: "created_at ASC"})
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	require.Len(t, logs, 2)

	assert.Equal(t, "set_mode", logs[0].Command)
	assert.Equal(t, "m", logs[0].Code)
	assert.Equal(t, "#m 5$", logs[0].Frame)
	assert.Equal(t, "236d203524", logs[0].HexData)
	assert.Equal(t, 5, logs[0].BytesCount)
	require.NotNil(t, logs[0].Mode)
	assert.Equal(t, 5, *logs[0].Mode)
	assert.Equal(t, "req-1", logs[0].RequestID)
	assert.Equal(t, svc.SessionID(), logs[0].SessionID)
	assert.True(t, logs[0].Success)

	assert.Equal(t, "get_info", logs[1].Command)
	assert.Nil(t, logs[1].Mode)
}

func TestFrameLogServiceRecordsFailures(t *testing.T) {
	svc := NewFrameLogService(newTestRepo(t), journalConfig(), nil)
	defer svc.Stop()
	ctx := context.Background()

	svc.RecordFrame(hardware.FrameRecord{
		RequestID: "req-err",
		Frame:     hardware.ModeFrame(3),
		Err:       apperrors.Wrap(io.ErrClosedPipe, apperrors.ErrSerialPortWrite),
		Time:      time.Now(),
	})
	require.NoError(t, svc.Flush(ctx))

	failed := false
	logs, _, err := svc.Query(ctx, &models.FrameLogQuery{Success: &failed})
	require.NoError(t, err)
	require.Len(t, logs, 1)
	assert.Equal(t, int(apperrors.ErrSerialPortWrite), logs[0].ErrorCode)
	assert.Contains(t, logs[0].ErrorMsg, "closed pipe")

	stats, err := svc.GetStats(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalErrors)
}

func TestFrameLogServiceStopFlushes(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewFrameLogService(repo, journalConfig(), nil)

	svc.RecordFrame(hardware.FrameRecord{Frame: hardware.RawFrame(), Time: time.Now()})
	svc.Stop()
	svc.Stop()

	_, total, err := repo.Query(context.Background(), &models.FrameLogQuery{})
	require.NoError(t, err)
	assert.Equal(t, int64(1), total)

	// 停止后Flush立即返回
	assert.NoError(t, svc.Flush(context.Background()))
}

func TestFrameLogServiceBatchFlush(t *testing.T) {
	repo := newTestRepo(t)
	svc := NewFrameLogService(repo, config.JournalConfig{BufferSize: 16, BatchSize: 2, FlushInterval: time.Hour}, nil)
	defer svc.Stop()

	svc.RecordFrame(hardware.FrameRecord{Frame: hardware.ModeFrame(1), Time: time.Now()})
	svc.RecordFrame(hardware.FrameRecord{Frame: hardware.ModeFrame(2), Time: time.Now()})

	assert.Eventually(t, func() bool {
		_, total, err := repo.Query(context.Background(), &models.FrameLogQuery{})
		return err == nil && total == 2
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFrameLogServiceSubscribe(t *testing.T) {
	svc := NewFrameLogService(nil, journalConfig(), nil)
	defer svc.Stop()

	id, ch := svc.Subscribe(4)
	svc.RecordFrame(hardware.FrameRecord{RequestID: "live", Frame: hardware.ModeFrame(8), Time: time.Now()})

	select {
	case log := <-ch:
		assert.Equal(t, "#m 8$", log.Frame)
		assert.Equal(t, "live", log.RequestID)
	case <-time.After(time.Second):
		t.Fatal("没有收到实时日志")
	}

	svc.Unsubscribe(id)
	_, ok := <-ch
	assert.False(t, ok, "取消订阅后通道关闭")
	svc.Unsubscribe(id)
}

func TestFrameLogServiceWithoutRepo(t *testing.T) {
	svc := NewFrameLogService(nil, journalConfig(), nil)
	defer svc.Stop()
	ctx := context.Background()

	svc.RecordFrame(hardware.FrameRecord{Frame: hardware.InfoFrame()})

	_, _, err := svc.Query(ctx, &models.FrameLogQuery{})
	assert.True(t, apperrors.Is(err, apperrors.ErrDatabaseConnect))
	_, err = svc.GetStats(ctx, nil, nil)
	assert.Error(t, err)
	_, err = svc.CleanupOldLogs(ctx, 7)
	assert.Error(t, err)
}

func TestFrameLogServiceCleanupValidation(t *testing.T) {
	svc := NewFrameLogService(newTestRepo(t), journalConfig(), nil)
	defer svc.Stop()

	_, err := svc.CleanupOldLogs(context.Background(), 0)
	assert.True(t, apperrors.Is(err, apperrors.ErrInvalidParam))

	n, err := svc.CleanupOldLogs(context.Background(), 30)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestFrameLogServiceDropsWhenFull(t *testing.T) {
	svc := NewFrameLogService(newTestRepo(t), config.JournalConfig{BufferSize: 1, BatchSize: 1000, FlushInterval: time.Hour}, nil)
	defer svc.Stop()

	for i := 0; i < 200; i++ {
		svc.RecordFrame(hardware.FrameRecord{Frame: hardware.ModeFrame(i), Time: time.Now()})
	}
	// 后台协程会不断取走记录，至少不应阻塞调用方；丢弃数不超过总数
	assert.LessOrEqual(t, svc.Dropped(), uint64(200))
}
