package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// Server HTTP服务器
type Server struct {
	name     string
	server   *http.Server
	listener net.Listener
	log      *zap.Logger
}

// NewServer 创建HTTP服务器
func NewServer(name, addr string, handler http.Handler, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		name: name,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		log: log,
	}
}

// SetTimeouts 设置读写超时，0表示不限制。需在Start之前调用。
func (s *Server) SetTimeouts(read, write time.Duration) {
	s.server.ReadTimeout = read
	s.server.WriteTimeout = write
}

// Start 监听端口并在后台处理请求。监听失败立即返回错误，
// 运行中的错误写入errCh。
func (s *Server) Start(errCh chan<- error) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.listener = ln

	s.log.Info("HTTP服务已启动",
		zap.String("server", s.name),
		zap.String("address", ln.Addr().String()))

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("HTTP服务异常退出", zap.String("server", s.name), zap.Error(err))
			if errCh != nil {
				errCh <- err
			}
		}
	}()

	return nil
}

// Addr 实际监听地址，未启动时返回配置的地址
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.server.Addr
}

// Shutdown 优雅关闭，等待正在处理的请求完成
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("正在关闭HTTP服务", zap.String("server", s.name))
	return s.server.Shutdown(ctx)
}
