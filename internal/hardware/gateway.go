package hardware

import (
	"context"
	"io"
	"math/big"
	"sync"
	"time"

	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"go.uber.org/zap"
)

// 各操作的返回值
const (
	ModeDone = "done"
	// 设备回读尚未实现。两个操作发送不同的命令，返回值也保持各自独立。
	InfoUnimplemented = "get_info no implemented"
	RawUnimplemented  = "get_raw no implemented"
)

// FrameRecord 一次帧写入的记录
type FrameRecord struct {
	RequestID string
	Frame     Frame
	Duration  time.Duration
	Err       error
	Time      time.Time
}

// FrameRecorder 帧写入记录器。RecordFrame在串口锁之外调用，实现不应阻塞。
type FrameRecorder interface {
	RecordFrame(rec FrameRecord)
}

// GatewayStats 网关统计
type GatewayStats struct {
	FramesWritten   uint64    `json:"frames_written"`
	WriteErrors     uint64    `json:"write_errors"`
	LastCommand     string    `json:"last_command,omitempty"`
	LastCommandTime time.Time `json:"last_command_time,omitempty"`
	Closed          bool      `json:"closed"`
}

// GatewayOption 网关选项
type GatewayOption func(*Gateway)

// WithWriteTimeout 限制单次写入时长，超时返回ErrSerialTimeout
func WithWriteTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.writeTimeout = d
	}
}

// WithRecorder 设置帧记录器
func WithRecorder(r FrameRecorder) GatewayOption {
	return func(g *Gateway) {
		g.recorder = r
	}
}

// WithLogger 设置日志器
func WithLogger(l *zap.Logger) GatewayOption {
	return func(g *Gateway) {
		g.logger = l
	}
}

// Gateway 设备命令网关，独占串口通道。
//
// 所有写入经由容量为1的lock通道串行化，每一帧作为一个整体写出。
// 写入超时后锁仍由写入协程持有，直到底层Write返回，因此帧之间不会交错。
type Gateway struct {
	ch           Channel
	lock         chan struct{}
	writeTimeout time.Duration
	recorder     FrameRecorder
	logger       *zap.Logger

	closeOnce sync.Once
	closeErr  error

	mu    sync.RWMutex
	stats GatewayStats
}

// NewGateway 创建网关，ch必须已经打开
func NewGateway(ch Channel, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		ch:     ch,
		lock:   make(chan struct{}, 1),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// SetMode 发送 "#m <mode>$"，不等待设备应答
func (g *Gateway) SetMode(ctx context.Context, mode int) (string, error) {
	if err := g.send(ctx, ModeFrame(mode)); err != nil {
		return "", err
	}
	return ModeDone, nil
}

// SetModeValue 与SetMode相同，mode不受int范围限制
func (g *Gateway) SetModeValue(ctx context.Context, mode *big.Int) (string, error) {
	if err := g.send(ctx, ModeFrameBig(mode)); err != nil {
		return "", err
	}
	return ModeDone, nil
}

// GetInfo 发送 "#i% $"，返回占位字符串
func (g *Gateway) GetInfo(ctx context.Context) (string, error) {
	if err := g.send(ctx, InfoFrame()); err != nil {
		return "", err
	}
	return InfoUnimplemented, nil
}

// GetRaw 发送 "#r% $"，返回占位字符串
func (g *Gateway) GetRaw(ctx context.Context) (string, error) {
	if err := g.send(ctx, RawFrame()); err != nil {
		return "", err
	}
	return RawUnimplemented, nil
}

// Stats 返回统计快照
func (g *Gateway) Stats() GatewayStats {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats
}

// Close 关闭串口通道，只执行一次。之后的调用返回ErrDeviceOffline。
func (g *Gateway) Close() error {
	g.closeOnce.Do(func() {
		g.mu.Lock()
		g.stats.Closed = true
		g.mu.Unlock()

		if err := g.ch.Close(); err != nil {
			g.closeErr = apperrors.Wrap(err, apperrors.ErrSerialPortWrite, "关闭串口失败")
		}
		g.logger.Info("串口通道已关闭")
	})
	return g.closeErr
}

func (g *Gateway) isClosed() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.stats.Closed
}

func (g *Gateway) send(ctx context.Context, f Frame) error {
	start := time.Now()
	err := g.write(ctx, f)
	elapsed := time.Since(start)

	g.mu.Lock()
	if err != nil {
		g.stats.WriteErrors++
	} else {
		g.stats.FramesWritten++
		g.stats.LastCommand = f.Code.Name()
		g.stats.LastCommandTime = start
	}
	g.mu.Unlock()

	requestID := RequestIDFrom(ctx)
	if err != nil {
		g.logger.Error("命令帧写入失败",
			zap.String("request_id", requestID),
			zap.String("frame", f.String()),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		g.logger.Debug("命令帧已写入",
			zap.String("request_id", requestID),
			zap.String("frame", f.String()),
			zap.Duration("elapsed", elapsed))
	}

	if g.recorder != nil {
		g.recorder.RecordFrame(FrameRecord{
			RequestID: requestID,
			Frame:     f,
			Duration:  elapsed,
			Err:       err,
			Time:      start,
		})
	}

	return err
}

// write 获取锁后整帧写入。锁在所有路径上都会释放。
func (g *Gateway) write(ctx context.Context, f Frame) error {
	if g.isClosed() {
		return apperrors.New(apperrors.ErrDeviceOffline, "串口通道已关闭")
	}

	select {
	case g.lock <- struct{}{}:
	case <-ctx.Done():
		return apperrors.Wrap(ctx.Err(), apperrors.ErrCanceled, "等待串口锁")
	}

	if g.isClosed() {
		<-g.lock
		return apperrors.New(apperrors.ErrDeviceOffline, "串口通道已关闭")
	}

	data := f.Bytes()

	if g.writeTimeout <= 0 {
		defer func() { <-g.lock }()
		if err := writeFull(g.ch, data); err != nil {
			return apperrors.Wrap(err, apperrors.ErrSerialPortWrite, f.String())
		}
		return nil
	}

	done := make(chan error, 1)
	go func() {
		defer func() { <-g.lock }()
		done <- writeFull(g.ch, data)
	}()

	timer := time.NewTimer(g.writeTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrSerialPortWrite, f.String())
		}
		return nil
	case <-timer.C:
		return apperrors.Newf(apperrors.ErrSerialTimeout, "%s 超过 %s", f.String(), g.writeTimeout)
	}
}

// writeFull 循环写入直到整帧写完
func writeFull(w io.Writer, data []byte) error {
	for len(data) > 0 {
		n, err := w.Write(data)
		if err != nil {
			return err
		}
		if n == 0 {
			return io.ErrShortWrite
		}
		data = data[n:]
	}
	return nil
}

type requestIDKey struct{}

// WithRequestID 在上下文中附加请求ID
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom 从上下文读取请求ID
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
