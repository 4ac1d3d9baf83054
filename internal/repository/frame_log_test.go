package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/wfunc/sensorlight/internal/config"
	"github.com/wfunc/sensorlight/internal/database"
	"github.com/wfunc/sensorlight/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// SetupTestDB 使用内存数据库，单连接保证所有查询看到同一个库
func SetupTestDB() *gorm.DB {
	db, err := database.Open(&config.DatabaseConfig{
		Driver:       "sqlite",
		DSN:          ":memory:",
		MaxOpenConns: 1,
		LogLevel:     "silent",
	}, zap.NewNop())
	if err != nil {
		panic(err)
	}
	if err := database.AutoMigrate(db); err != nil {
		panic(err)
	}
	return db
}

// FrameLogRepositoryTestSuite 命令帧日志仓储测试套件
type FrameLogRepositoryTestSuite struct {
	suite.Suite
	db   *gorm.DB
	repo *FrameLogRepository
	ctx  context.Context
}

func (suite *FrameLogRepositoryTestSuite) SetupSuite() {
	suite.db = SetupTestDB()
	suite.repo = NewFrameLogRepository(suite.db)
	suite.ctx = context.Background()
}

func (suite *FrameLogRepositoryTestSuite) TearDownSuite() {
	database.Close(suite.db)
}

func (suite *FrameLogRepositoryTestSuite) SetupTest() {
	suite.db.Exec("DELETE FROM frame_logs")
}

func newLog(command, frame string, success bool, at time.Time, requestID string) *models.FrameLog {
	log := &models.FrameLog{
		CreatedAt:  at,
		RequestID:  requestID,
		SessionID:  "session-1",
		Command:    command,
		Code:       frame[1:2],
		Frame:      frame,
		BytesCount: len(frame),
		Success:    success,
		Duration:   100,
		Timestamp:  at.UnixMilli(),
	}
	if !success {
		log.ErrorMsg = "write failed"
		log.ErrorCode = 3001
	}
	return log
}

func (suite *FrameLogRepositoryTestSuite) seed() time.Time {
	base := time.Now().Add(-time.Hour)
	logs := []*models.FrameLog{
		newLog("set_mode", "#m 2$", true, base, "req-1"),
		newLog("set_mode", "#m 5$", false, base.Add(time.Minute), "req-2"),
		newLog("get_info", "#i% $", true, base.Add(2*time.Minute), "req-3"),
		newLog("get_raw", "#r% $", true, base.Add(3*time.Minute), "req-4"),
	}
	logs[0].Duration = 50
	logs[3].Duration = 250
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, logs, 2))
	return base
}

// TestCreate 测试创建单条日志
func (suite *FrameLogRepositoryTestSuite) TestCreate() {
	mode := 7
	log := newLog("set_mode", "#m 7$", true, time.Now(), "req-7")
	log.Mode = &mode

	suite.Require().NoError(suite.repo.Create(suite.ctx, log))
	suite.NotZero(log.ID)

	found, err := suite.repo.GetByRequestID(suite.ctx, "req-7")
	suite.Require().NoError(err)
	suite.Require().Len(found, 1)
	suite.Equal("#m 7$", found[0].Frame)
	suite.Require().NotNil(found[0].Mode)
	suite.Equal(7, *found[0].Mode)
}

func (suite *FrameLogRepositoryTestSuite) TestCreateBatchEmpty() {
	suite.NoError(suite.repo.CreateBatch(suite.ctx, nil, 10))
}

// TestQuery 测试过滤和分页
func (suite *FrameLogRepositoryTestSuite) TestQuery() {
	base := suite.seed()

	logs, total, err := suite.repo.Query(suite.ctx, &models.FrameLogQuery{})
	suite.Require().NoError(err)
	suite.Equal(int64(4), total)
	suite.Require().Len(logs, 4)
	suite.Equal("#r% $", logs[0].Frame, "默认按时间倒序")

	logs, total, err = suite.repo.Query(suite.ctx, &models.FrameLogQuery{Command: "set_mode"})
	suite.Require().NoError(err)
	suite.Equal(int64(2), total)
	suite.Len(logs, 2)

	failed := false
	logs, total, err = suite.repo.Query(suite.ctx, &models.FrameLogQuery{Success: &failed})
	suite.Require().NoError(err)
	suite.Equal(int64(1), total)
	suite.Equal("req-2", logs[0].RequestID)

	start := base.Add(90 * time.Second)
	logs, total, err = suite.repo.Query(suite.ctx, &models.FrameLogQuery{StartTime: &start, OrderBy: "created_at ASC"})
	suite.Require().NoError(err)
	suite.Equal(int64(2), total)
	suite.Equal("#i% $", logs[0].Frame)

	logs, total, err = suite.repo.Query(suite.ctx, &models.FrameLogQuery{Limit: 1, Offset: 1, OrderBy: "created_at ASC"})
	suite.Require().NoError(err)
	suite.Equal(int64(4), total, "总数不受分页影响")
	suite.Require().Len(logs, 1)
	suite.Equal("#m 5$", logs[0].Frame)
}

// TestGetStats 测试统计
func (suite *FrameLogRepositoryTestSuite) TestGetStats() {
	suite.seed()

	stats, err := suite.repo.GetStats(suite.ctx, nil, nil)
	suite.Require().NoError(err)
	suite.Equal(int64(4), stats.TotalCount)
	suite.Equal(int64(1), stats.TotalErrors)
	suite.Equal(int64(2), stats.ByCommand["set_mode"])
	suite.Equal(int64(1), stats.ByCommand["get_info"])
	suite.Equal(int64(1), stats.ByCommand["get_raw"])
	suite.Equal(int64(250), stats.MaxDuration)
	suite.InDelta(125.0, stats.AvgDuration, 0.001)
}

func (suite *FrameLogRepositoryTestSuite) TestGetStatsEmpty() {
	stats, err := suite.repo.GetStats(suite.ctx, nil, nil)
	suite.Require().NoError(err)
	suite.Zero(stats.TotalCount)
	suite.Empty(stats.ByCommand)
}

// TestCleanup 测试清理旧日志
func (suite *FrameLogRepositoryTestSuite) TestCleanup() {
	old := newLog("set_mode", "#m 1$", true, time.Now().AddDate(0, 0, -10), "old")
	fresh := newLog("set_mode", "#m 2$", true, time.Now(), "fresh")
	suite.Require().NoError(suite.repo.CreateBatch(suite.ctx, []*models.FrameLog{old, fresh}, 10))

	n, err := suite.repo.CleanupLogs(suite.ctx, 7)
	suite.Require().NoError(err)
	suite.Equal(int64(1), n)

	_, total, err := suite.repo.Query(suite.ctx, &models.FrameLogQuery{})
	suite.Require().NoError(err)
	suite.Equal(int64(1), total)

	_, err = suite.repo.CleanupLogs(suite.ctx, 0)
	suite.Error(err)
}

func TestFrameLogRepositorySuite(t *testing.T) {
	suite.Run(t, new(FrameLogRepositoryTestSuite))
}
