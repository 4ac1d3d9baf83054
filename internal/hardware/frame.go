package hardware

import (
	"bytes"
	"fmt"
	"math/big"
	"strconv"

	apperrors "github.com/wfunc/sensorlight/internal/errors"
)

// 帧格式: '#' <命令字母> [' ' <十进制整数> | '%' ' '] '$'
//
// 没有校验和，起始符和结束符各一个字节。扩展协议时必须保留这两个标记，
// 已部署的固件依赖它们分帧。
const (
	FrameStart         byte   = '#'
	FrameEnd           byte   = '$'
	PlaceholderPayload string = "% "
)

// CommandCode 命令字母
type CommandCode byte

const (
	CmdMode CommandCode = 'm' // 设置模式，携带整数
	CmdInfo CommandCode = 'i' // 查询信息，占位负载
	CmdRaw  CommandCode = 'r' // 查询原始数据，占位负载
)

// String 返回命令字母
func (c CommandCode) String() string {
	return string(rune(c))
}

// Name 返回命令对应的RPC方法名
func (c CommandCode) Name() string {
	switch c {
	case CmdMode:
		return "set_mode"
	case CmdInfo:
		return "get_info"
	case CmdRaw:
		return "get_raw"
	default:
		return "unknown"
	}
}

// Frame 命令帧
type Frame struct {
	Code CommandCode
	// Value 仅在HasValue为true时有效，否则帧携带占位负载
	Value    int
	HasValue bool
	// Wide 超出int范围的模式值，非nil时代替Value
	Wide *big.Int
}

// ModeFrame 构建设置模式帧，不限制取值范围
func ModeFrame(mode int) Frame {
	return Frame{Code: CmdMode, Value: mode, HasValue: true}
}

// ModeFrameBig 构建任意精度的设置模式帧，能放进int的值与ModeFrame结果相同
func ModeFrameBig(mode *big.Int) Frame {
	if mode.IsInt64() {
		if v := mode.Int64(); int64(int(v)) == v {
			return ModeFrame(int(v))
		}
	}
	return Frame{Code: CmdMode, HasValue: true, Wide: new(big.Int).Set(mode)}
}

// InfoFrame 构建信息查询帧
func InfoFrame() Frame {
	return Frame{Code: CmdInfo}
}

// RawFrame 构建原始数据查询帧
func RawFrame() Frame {
	return Frame{Code: CmdRaw}
}

// Bytes 编码为线上字节
func (f Frame) Bytes() []byte {
	buf := make([]byte, 0, 16)
	buf = append(buf, FrameStart, byte(f.Code))
	if f.HasValue {
		buf = append(buf, ' ')
		if f.Wide != nil {
			buf = f.Wide.Append(buf, 10)
		} else {
			buf = strconv.AppendInt(buf, int64(f.Value), 10)
		}
	} else {
		buf = append(buf, PlaceholderPayload...)
	}
	return append(buf, FrameEnd)
}

// String 返回帧的ASCII形式
func (f Frame) String() string {
	return string(f.Bytes())
}

// ParseFrame 解析一帧数据，用于模拟设备和测试
func ParseFrame(data []byte) (Frame, error) {
	if len(data) < 4 || data[0] != FrameStart || data[len(data)-1] != FrameEnd {
		return Frame{}, apperrors.Newf(apperrors.ErrInvalidFrame, "缺少起始符或结束符: %q", data)
	}

	code := CommandCode(data[1])
	body := data[2 : len(data)-1]

	switch code {
	case CmdMode:
		if len(body) < 2 || body[0] != ' ' {
			return Frame{}, apperrors.Newf(apperrors.ErrInvalidFrame, "模式帧缺少整数负载: %q", data)
		}
		digits := string(body[1:])
		value, ok := new(big.Int).SetString(digits, 10)
		if !ok {
			return Frame{}, apperrors.Newf(apperrors.ErrInvalidFrame, "模式帧负载非法: %q", data)
		}
		// 拒绝前导零、'+' 等非规范写法
		if value.String() != digits {
			return Frame{}, apperrors.Newf(apperrors.ErrInvalidFrame, "模式帧负载非规范: %q", data)
		}
		return ModeFrameBig(value), nil

	case CmdInfo, CmdRaw:
		if !bytes.Equal(body, []byte(PlaceholderPayload)) {
			return Frame{}, apperrors.Newf(apperrors.ErrInvalidFrame, "查询帧负载必须为占位符: %q", data)
		}
		return Frame{Code: code}, nil

	default:
		return Frame{}, apperrors.Newf(apperrors.ErrInvalidFrame, "未知命令字母 %q", rune(code))
	}
}

// SplitFrames 从字节流中切分出完整的帧，返回剩余的不完整数据
func SplitFrames(stream []byte) (frames [][]byte, rest []byte) {
	for {
		start := bytes.IndexByte(stream, FrameStart)
		if start < 0 {
			return frames, nil
		}
		end := bytes.IndexByte(stream[start:], FrameEnd)
		if end < 0 {
			return frames, stream[start:]
		}
		frames = append(frames, stream[start:start+end+1])
		stream = stream[start+end+1:]
	}
}

// GoString 便于日志和测试输出
func (f Frame) GoString() string {
	return fmt.Sprintf("hardware.Frame(%q)", f.String())
}
