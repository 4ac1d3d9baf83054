package hardware

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	apperrors "github.com/wfunc/sensorlight/internal/errors"
)

// fakeOpener 依次返回预设的通道或错误
type fakeOpener struct {
	results []interface{}
	opened  int
}

func (f *fakeOpener) open() (io.WriteCloser, error) {
	if f.opened >= len(f.results) {
		return nil, errors.New("no such device")
	}
	r := f.results[f.opened]
	f.opened++
	if err, ok := r.(error); ok {
		return nil, err
	}
	return r.(io.WriteCloser), nil
}

func TestReconnectChannelInitialOpenFails(t *testing.T) {
	op := &fakeOpener{results: []interface{}{errors.New("permission denied")}}
	_, err := NewReconnectChannel("/dev/ttyUSB0", op.open, time.Second, nil)
	assert.Error(t, err)
}

func TestReconnectChannelReopensAfterWriteError(t *testing.T) {
	first := NewMockChannel(nil)
	second := NewMockChannel(nil)
	op := &fakeOpener{results: []interface{}{first, second}}

	ch, err := NewReconnectChannel("/dev/ttyUSB0", op.open, time.Hour, nil)
	require.NoError(t, err)
	gw := NewGateway(ch)
	ctx := context.Background()

	_, err = gw.SetMode(ctx, 1)
	require.NoError(t, err)

	first.FailNext(errors.New("input/output error"))
	_, err = gw.SetMode(ctx, 2)
	assert.True(t, apperrors.Is(err, apperrors.ErrSerialPortWrite))
	assert.True(t, first.Closed(), "失败的串口被关闭")
	assert.False(t, ch.Connected())

	// 下一次写入立即重连
	_, err = gw.SetMode(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, ch.Reconnects())
	assert.Equal(t, []byte("#m 1$"), first.Bytes())
	assert.Equal(t, []byte("#m 3$"), second.Bytes())
}

func TestReconnectChannelBackoff(t *testing.T) {
	first := NewMockChannel(nil)
	op := &fakeOpener{results: []interface{}{first, errors.New("no such device")}}

	ch, err := NewReconnectChannel("/dev/ttyUSB0", op.open, time.Hour, nil)
	require.NoError(t, err)
	gw := NewGateway(ch)
	ctx := context.Background()

	first.FailNext(errors.New("input/output error"))
	_, err = gw.GetInfo(ctx)
	require.Error(t, err)

	// 重连失败，设备离线
	_, err = gw.GetInfo(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrDeviceOffline))
	assert.Equal(t, 2, op.opened)

	// 间隔内不再尝试打开
	_, err = gw.GetInfo(ctx)
	assert.True(t, apperrors.Is(err, apperrors.ErrDeviceOffline))
	assert.Equal(t, 2, op.opened)
}

func TestReconnectChannelClose(t *testing.T) {
	port := NewMockChannel(nil)
	op := &fakeOpener{results: []interface{}{port}}

	ch, err := NewReconnectChannel("/dev/ttyUSB0", op.open, time.Second, nil)
	require.NoError(t, err)

	require.NoError(t, ch.Close())
	assert.True(t, port.Closed())

	_, err = ch.Write([]byte("#r% $"))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.NoError(t, ch.Close())
}

func TestSerialPortExists(t *testing.T) {
	assert.False(t, SerialPortExists("/dev/definitely-not-a-serial-port"))
	assert.True(t, SerialPortExists(t.TempDir()))
}
