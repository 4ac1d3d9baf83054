package hardware

import (
	"io"
	"sync"

	"github.com/tarm/serial"
	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"go.uber.org/zap"
)

// Channel 设备串口通道。本版本只写不读。
type Channel interface {
	io.WriteCloser
}

// OpenSerial 以8N1打开串口
func OpenSerial(name string, baud int) (*serial.Port, error) {
	port, err := serial.OpenPort(&serial.Config{
		Name:     name,
		Baud:     baud,
		Size:     8,
		Parity:   serial.ParityNone,
		StopBits: serial.Stop1,
	})
	if err != nil {
		return nil, apperrors.Wrapf(err, apperrors.ErrSerialPortOpen, "串口 %s 波特率 %d", name, baud)
	}
	return port, nil
}

// MockChannel 内存中的模拟通道，记录写入的字节并按帧输出日志。
// 用于无硬件运行和测试。
type MockChannel struct {
	mu      sync.Mutex
	buf     []byte
	pending []byte
	frames  []string
	closed  bool
	failErr error
	logger  *zap.Logger
}

// NewMockChannel 创建模拟通道，logger可以为nil
func NewMockChannel(logger *zap.Logger) *MockChannel {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MockChannel{logger: logger}
}

// Write 实现io.Writer
func (m *MockChannel) Write(p []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return 0, io.ErrClosedPipe
	}
	if m.failErr != nil {
		err := m.failErr
		m.failErr = nil
		return 0, err
	}

	m.buf = append(m.buf, p...)

	frames, rest := SplitFrames(append(m.pending, p...))
	m.pending = append([]byte(nil), rest...)
	for _, raw := range frames {
		m.frames = append(m.frames, string(raw))
		if f, err := ParseFrame(raw); err != nil {
			m.logger.Warn("模拟设备收到无效帧", zap.ByteString("frame", raw), zap.Error(err))
		} else {
			m.logger.Info("模拟设备收到命令",
				zap.String("command", f.Code.Name()),
				zap.String("frame", f.String()))
		}
	}

	return len(p), nil
}

// Close 实现io.Closer
func (m *MockChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// FailNext 让下一次写入返回err
func (m *MockChannel) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failErr = err
}

// Bytes 返回写入的全部字节
func (m *MockChannel) Bytes() []byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]byte(nil), m.buf...)
}

// Frames 返回已收到的完整帧
func (m *MockChannel) Frames() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.frames...)
}

// Closed 是否已关闭
func (m *MockChannel) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
