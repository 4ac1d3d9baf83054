package hardware

import (
	"io"
	"os"
	"sync"
	"time"

	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"go.uber.org/zap"
)

// SerialPortExists 检查串口设备是否存在
func SerialPortExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// Opener 打开底层串口
type Opener func() (io.WriteCloser, error)

// SerialOpener 返回按名称和波特率打开串口的Opener
func SerialOpener(name string, baud int) Opener {
	return func() (io.WriteCloser, error) {
		port, err := OpenSerial(name, baud)
		if err != nil {
			return nil, err
		}
		return port, nil
	}
}

// ReconnectChannel 可重连的串口通道。
//
// 写入失败时关闭当前串口，下一次写入时重新打开，适用于USB串口被拔插的场景。
// 两次打开尝试之间至少间隔interval，期间的写入直接返回设备离线。
// 写入由Gateway串行化，这里只保护串口句柄的替换。
type ReconnectChannel struct {
	name     string
	open     Opener
	interval time.Duration
	logger   *zap.Logger

	mu          sync.Mutex
	port        io.WriteCloser
	lastAttempt time.Time
	closed      bool
	reconnects  int
}

// NewReconnectChannel 创建可重连通道。首次打开失败直接返回错误。
func NewReconnectChannel(name string, open Opener, interval time.Duration, logger *zap.Logger) (*ReconnectChannel, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	port, err := open()
	if err != nil {
		return nil, err
	}

	return &ReconnectChannel{
		name:     name,
		open:     open,
		interval: interval,
		logger:   logger,
		port:     port,
	}, nil
}

// Write 实现io.Writer
func (c *ReconnectChannel) Write(p []byte) (int, error) {
	port, err := c.current()
	if err != nil {
		return 0, err
	}

	n, err := port.Write(p)
	if err != nil {
		c.drop(port, err)
	}
	return n, err
}

// current 返回当前串口，必要时重新打开
func (c *ReconnectChannel) current() (io.WriteCloser, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, io.ErrClosedPipe
	}
	if c.port != nil {
		return c.port, nil
	}

	if !c.lastAttempt.IsZero() && time.Since(c.lastAttempt) < c.interval {
		return nil, apperrors.Newf(apperrors.ErrDeviceOffline, "%s 等待重连", c.name)
	}
	c.lastAttempt = time.Now()

	port, err := c.open()
	if err != nil {
		c.logger.Warn("串口重连失败", zap.String("device", c.name), zap.Error(err))
		return nil, apperrors.Wrap(err, apperrors.ErrDeviceOffline, c.name)
	}

	c.port = port
	c.reconnects++
	c.logger.Info("串口重连成功",
		zap.String("device", c.name),
		zap.Int("reconnects", c.reconnects))

	return port, nil
}

// drop 写入失败后丢弃串口句柄
func (c *ReconnectChannel) drop(port io.WriteCloser, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.port != port {
		return
	}
	c.port = nil
	// 写入失败后允许立即重连一次
	c.lastAttempt = time.Time{}
	port.Close()

	c.logger.Warn("串口写入失败，已断开",
		zap.String("device", c.name),
		zap.Error(cause))
}

// Reconnects 重连成功的次数
func (c *ReconnectChannel) Reconnects() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnects
}

// Connected 当前是否持有串口
func (c *ReconnectChannel) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port != nil
}

// Close 关闭通道，之后的写入返回io.ErrClosedPipe
func (c *ReconnectChannel) Close() error {
	c.mu.Lock()
	port := c.port
	c.port = nil
	c.closed = true
	c.mu.Unlock()

	if port != nil {
		return port.Close()
	}
	return nil
}
