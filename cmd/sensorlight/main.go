package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wfunc/sensorlight/internal/api"
	"github.com/wfunc/sensorlight/internal/config"
	"github.com/wfunc/sensorlight/internal/database"
	"github.com/wfunc/sensorlight/internal/errors"
	"github.com/wfunc/sensorlight/internal/hardware"
	"github.com/wfunc/sensorlight/internal/logger"
	"github.com/wfunc/sensorlight/internal/repository"
	"github.com/wfunc/sensorlight/internal/service"
	"github.com/wfunc/sensorlight/internal/utils"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// 版本信息
var (
	Version   = "1.0.0"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Server 服务器实例
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	db      *gorm.DB
	journal *service.FrameLogService
	gateway *hardware.Gateway

	rpcServer   *api.Server
	adminServer *api.Server
	errCh       chan error
}

func main() {
	// 命令行参数
	var (
		configPath  = flag.String("config", "", "配置文件路径")
		port        = flag.Int("port", 0, "RPC监听端口，覆盖配置文件")
		serialPort  = flag.String("serial", "", "串口设备，覆盖配置文件")
		baudRate    = flag.Int("baud", 0, "波特率，覆盖配置文件")
		mockMode    = flag.Bool("mock", false, "使用模拟串口")
		issueToken  = flag.String("issue-token", "", "用admin.jwt_secret为指定主体签发管理令牌并退出")
		showVersion = flag.Bool("version", false, "显示版本信息")
		showHelp    = flag.Bool("help", false, "显示帮助信息")
	)

	flag.Parse()

	if *showVersion {
		printVersion()
		os.Exit(0)
	}

	if *showHelp {
		printHelp()
		os.Exit(0)
	}

	// 加载配置
	if err := config.Init(*configPath); err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	cfg := config.Get()
	applyFlags(cfg, *port, *serialPort, *baudRate, *mockMode)

	if err := cfg.Validate(); err != nil {
		fmt.Printf("配置无效: %v\n", err)
		os.Exit(1)
	}

	if *issueToken != "" {
		token, err := utils.NewJWTManager(cfg.Admin.JWTSecret, 0).GenerateToken(*issueToken, "admin")
		if err != nil {
			fmt.Printf("签发令牌失败: %v\n", err)
			os.Exit(1)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	// 初始化日志系统
	if err := logger.Init(&cfg.Log); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	server := NewServer(cfg)

	if err := server.Start(); err != nil {
		logger.Error("服务器启动失败", zap.Error(err))
		server.Shutdown()
		logger.Cleanup()
		os.Exit(1)
	}

	server.Wait()

	if err := server.Shutdown(); err != nil {
		logger.Error("服务器关闭失败", zap.Error(err))
		logger.Cleanup()
		os.Exit(1)
	}

	logger.Info("服务器已安全关闭")
}

// applyFlags 命令行参数覆盖配置
func applyFlags(cfg *config.Config, port int, serialPort string, baudRate int, mock bool) {
	if port > 0 {
		cfg.Server.Port = port
	}
	if serialPort != "" {
		cfg.Serial.Port = serialPort
	}
	if baudRate > 0 {
		cfg.Serial.BaudRate = baudRate
	}
	if mock {
		cfg.Serial.MockMode = true
	}
}

// NewServer 创建服务器实例
func NewServer(cfg *config.Config) *Server {
	return &Server{
		cfg:    cfg,
		logger: logger.GetLogger(),
		errCh:  make(chan error, 2),
	}
}

// Start 按顺序初始化组件并开始监听
func (s *Server) Start() error {
	s.logger.Info("正在启动串口网关...",
		zap.String("version", Version),
		zap.String("config", config.ConfigFile()),
	)

	if s.cfg.Server.Mode == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := s.initJournal(); err != nil {
		return err
	}

	if err := s.initGateway(); err != nil {
		return err
	}

	if err := s.startServers(); err != nil {
		return err
	}

	// 监听配置变化，日志级别可热更新，其余参数需要重启
	config.Watch(func(newCfg *config.Config) {
		s.logger.Info("配置已更新", zap.String("log_level", newCfg.Log.Level))
		logger.SetLevel(newCfg.Log.Level)
	})

	s.logger.Info("服务器启动成功",
		zap.String("rpc", s.rpcServer.Addr()),
		zap.String("serial", s.serialName()),
		zap.Int("baud_rate", s.cfg.Serial.BaudRate),
	)

	return nil
}

// initJournal 初始化命令帧日志。数据库不可用时只保留实时推送。
func (s *Server) initJournal() error {
	var repo *repository.FrameLogRepository

	if s.cfg.Database.Enabled {
		db, err := database.Open(&s.cfg.Database, s.logger.Named("database"))
		if err != nil {
			return errors.Wrap(err, errors.ErrDatabaseConnect, "初始化数据库连接失败")
		}
		s.db = db

		if s.cfg.Database.AutoMigrate {
			if err := database.AutoMigrate(db); err != nil {
				return errors.Wrap(err, errors.ErrDatabaseConnect, "数据库迁移失败")
			}
		}
		repo = repository.NewFrameLogRepository(db)
	}

	s.journal = service.NewFrameLogService(repo, s.cfg.Journal, s.logger.Named("journal"))
	return nil
}

// initGateway 打开串口并创建网关
func (s *Server) initGateway() error {
	var ch hardware.Channel

	switch {
	case s.cfg.Serial.MockMode:
		ch = hardware.NewMockChannel(s.logger.Named("mock-serial"))

	case s.cfg.Serial.Reconnect:
		rc, err := hardware.NewReconnectChannel(
			s.cfg.Serial.Port,
			hardware.SerialOpener(s.cfg.Serial.Port, s.cfg.Serial.BaudRate),
			s.cfg.Serial.ReconnectInterval,
			s.logger.Named("serial"),
		)
		if err != nil {
			return err
		}
		ch = rc

	default:
		port, err := hardware.OpenSerial(s.cfg.Serial.Port, s.cfg.Serial.BaudRate)
		if err != nil {
			return err
		}
		ch = port
	}

	s.gateway = hardware.NewGateway(ch,
		hardware.WithWriteTimeout(s.cfg.Serial.WriteTimeout),
		hardware.WithRecorder(s.journal),
		hardware.WithLogger(s.logger.Named("gateway")),
	)
	return nil
}

// startServers 启动RPC服务和可选的管理服务
func (s *Server) startServers() error {
	rpc := api.NewRPCRouter(s.gateway, s.logger.Named("rpc"))
	s.rpcServer = api.NewServer("rpc", s.cfg.Server.Addr(), rpc.Handler(), s.logger)
	s.rpcServer.SetTimeouts(s.cfg.Server.ReadTimeout, s.cfg.Server.WriteTimeout)
	if err := s.rpcServer.Start(s.errCh); err != nil {
		s.rpcServer = nil
		return errors.Wrapf(err, errors.ErrUnknown, "监听 %s 失败", s.cfg.Server.Addr())
	}

	if !s.cfg.Admin.Enabled {
		return nil
	}

	var jwt *utils.JWTManager
	if s.cfg.Admin.JWTSecret != "" {
		jwt = utils.NewJWTManager(s.cfg.Admin.JWTSecret, 0)
	} else {
		s.logger.Warn("管理接口未配置jwt_secret，不做认证")
	}

	admin := api.NewAdminRouter(s.gateway, s.journal, s.db, jwt, s.logger.Named("admin"))
	s.adminServer = api.NewServer("admin", s.cfg.Admin.Addr(), admin.Handler(), s.logger)
	if err := s.adminServer.Start(s.errCh); err != nil {
		s.adminServer = nil
		return errors.Wrapf(err, errors.ErrUnknown, "监听 %s 失败", s.cfg.Admin.Addr())
	}
	return nil
}

// Wait 等待退出信号或服务异常
func (s *Server) Wait() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh,
		syscall.SIGINT,  // Ctrl+C
		syscall.SIGTERM, // kill命令
	)
	defer signal.Stop(sigCh)

	select {
	case sig := <-sigCh:
		s.logger.Info("收到退出信号", zap.String("signal", sig.String()))
	case err := <-s.errCh:
		s.logger.Error("HTTP服务异常", zap.Error(err))
	}
}

// Shutdown 优雅关闭：先停止接收请求，再关闭串口和日志
func (s *Server) Shutdown() error {
	s.logger.Info("正在优雅关闭服务器...")

	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if s.adminServer != nil {
		keep(s.adminServer.Shutdown(ctx))
	}
	if s.rpcServer != nil {
		keep(s.rpcServer.Shutdown(ctx))
	}

	if s.gateway != nil {
		if err := s.gateway.Close(); err != nil {
			s.logger.Error("关闭串口失败", zap.Error(err))
			keep(err)
		}
	}

	if s.journal != nil {
		s.journal.Stop()
		if dropped := s.journal.Dropped(); dropped > 0 {
			s.logger.Warn("命令帧日志有丢弃", zap.Uint64("dropped", dropped))
		}
	}

	if s.db != nil {
		if err := database.Close(s.db); err != nil {
			s.logger.Error("关闭数据库失败", zap.Error(err))
		}
	}

	return firstErr
}

func (s *Server) serialName() string {
	if s.cfg.Serial.MockMode {
		return "mock"
	}
	return s.cfg.Serial.Port
}

// printVersion 打印版本信息
func printVersion() {
	fmt.Printf("sensorlight 串口网关\n")
	fmt.Printf("版本: %s\n", Version)
	fmt.Printf("构建时间: %s\n", BuildTime)
	fmt.Printf("Git提交: %s\n", GitCommit)
	fmt.Printf("Go版本: %s\n", runtime.Version())
	fmt.Printf("操作系统: %s/%s\n", runtime.GOOS, runtime.GOARCH)
}

// printHelp 打印帮助信息
func printHelp() {
	fmt.Println("sensorlight 串口网关")
	fmt.Println()
	fmt.Println("用法:")
	fmt.Println("  sensorlight [选项]")
	fmt.Println()
	fmt.Println("选项:")
	flag.PrintDefaults()
	fmt.Println()
	fmt.Println("环境变量:")
	fmt.Println("  SENSORLIGHT_SERVER_PORT      RPC监听端口")
	fmt.Println("  SENSORLIGHT_SERIAL_PORT      串口设备")
	fmt.Println("  SENSORLIGHT_SERIAL_MOCK_MODE 使用模拟串口")
	fmt.Println()
	fmt.Println("示例:")
	fmt.Println("  sensorlight -serial=/dev/ttyUSB0 -port=8090")
	fmt.Println("  sensorlight -config=/etc/sensorlight/config.yaml")
	fmt.Println("  sensorlight -mock")
}
