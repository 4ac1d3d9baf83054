package errors

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/suite"
)

// ErrorsTestSuite 错误包测试套件
type ErrorsTestSuite struct {
	suite.Suite
}

// 测试创建新错误
func (suite *ErrorsTestSuite) TestNew() {
	err := New(ErrInvalidParam)
	suite.NotNil(err)
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal("无效的参数", err.Message)
	suite.Empty(err.Details)

	// 测试带详情的错误
	err = New(ErrNotFound, "/favicon.ico")
	suite.Equal(ErrNotFound, err.Code)
	suite.Equal("资源未找到", err.Message)
	suite.Equal("/favicon.ico", err.Details)

	// 测试多个详情
	err = New(ErrSerialPortOpen, "打开失败", "端口: /dev/ttyUSB0", "波特率: 57600")
	suite.Equal("打开失败; 端口: /dev/ttyUSB0; 波特率: 57600", err.Details)
}

// 测试格式化错误创建
func (suite *ErrorsTestSuite) TestNewf() {
	err := Newf(ErrInvalidParam, "参数 %s 的值 %q 无效", "mode", "abc")
	suite.Equal(ErrInvalidParam, err.Code)
	suite.Equal(`参数 mode 的值 "abc" 无效`, err.Details)
}

// 测试错误包装
func (suite *ErrorsTestSuite) TestWrap() {
	originalErr := errors.New("input/output error")
	wrappedErr := Wrap(originalErr, ErrSerialPortWrite)
	suite.NotNil(wrappedErr)
	suite.Equal(ErrSerialPortWrite, wrappedErr.Code)
	suite.Equal("input/output error", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)

	// 包装nil错误
	suite.Nil(Wrap(nil, ErrUnknown))

	// 包装已有的AppError，保留原始错误码
	appErr := New(ErrSerialTimeout, "500ms")
	wrappedAppErr := Wrap(appErr, ErrSerialPortWrite, "set_mode")
	suite.Equal(ErrSerialTimeout, wrappedAppErr.Code)
	suite.Contains(wrappedAppErr.Details, "set_mode")
}

// 测试格式化错误包装
func (suite *ErrorsTestSuite) TestWrapf() {
	originalErr := errors.New("no such file or directory")
	wrappedErr := Wrapf(originalErr, ErrSerialPortOpen, "串口 %s", "/dev/ttyUSB0")
	suite.Equal(ErrSerialPortOpen, wrappedErr.Code)
	suite.Equal("串口 /dev/ttyUSB0", wrappedErr.Details)
	suite.Equal(originalErr, wrappedErr.Cause)
}

// 测试错误码判断，包括被fmt.Errorf再次包装的情况
func (suite *ErrorsTestSuite) TestIs() {
	err := New(ErrDeviceOffline)
	suite.True(Is(err, ErrDeviceOffline))
	suite.False(Is(err, ErrNotFound))
	suite.False(Is(nil, ErrDeviceOffline))
	suite.False(Is(errors.New("标准错误"), ErrUnknown))

	outer := fmt.Errorf("rpc set_mode: %w", err)
	suite.True(Is(outer, ErrDeviceOffline))
}

// 测试获取错误码
func (suite *ErrorsTestSuite) TestGetCode() {
	suite.Equal(ErrSerialTimeout, GetCode(New(ErrSerialTimeout)))
	suite.Equal(ErrUnknown, GetCode(errors.New("标准错误")))
	suite.Equal(ErrorCode(0), GetCode(nil))
}

// 测试错误消息
func (suite *ErrorsTestSuite) TestError() {
	err := &AppError{
		Code:    ErrNotFound,
		Message: "资源未找到",
	}
	suite.Equal("[1002] 资源未找到", err.Error())

	err.Details = "/rpc/unknown"
	suite.Equal("[1002] 资源未找到: /rpc/unknown", err.Error())
}

// 测试Unwrap与标准库errors.Is配合
func (suite *ErrorsTestSuite) TestUnwrap() {
	wrappedErr := Wrap(io.ErrClosedPipe, ErrSerialPortWrite)
	suite.Equal(io.ErrClosedPipe, wrappedErr.Unwrap())
	suite.True(errors.Is(wrappedErr, io.ErrClosedPipe))

	suite.Nil(New(ErrUnknown).Unwrap())
}

// 测试WithDetails/WithCause
func (suite *ErrorsTestSuite) TestWithCause() {
	err := New(ErrDatabaseQuery)
	cause := errors.New("no such table: frame_logs")
	err.WithCause(cause)
	suite.Equal(cause, err.Cause)
	suite.Equal("no such table: frame_logs", err.Details)

	// 已有Details的情况
	err2 := New(ErrDatabaseQuery, "查询失败").WithCause(cause)
	suite.Equal("查询失败", err2.Details)

	err3 := New(ErrInvalidParam).WithDetails("mode")
	suite.Equal("mode", err3.Details)
}

// 测试HTTP状态码映射
func (suite *ErrorsTestSuite) TestHTTPStatus() {
	testCases := []struct {
		code     ErrorCode
		expected int
	}{
		{ErrInvalidParam, http.StatusBadRequest},
		{ErrNotFound, http.StatusNotFound},
		{ErrAuthentication, http.StatusUnauthorized},
		{ErrSerialPortWrite, http.StatusBadGateway},
		{ErrSerialTimeout, http.StatusGatewayTimeout},
		{ErrDeviceOffline, http.StatusServiceUnavailable},
		{ErrDatabaseConnect, http.StatusServiceUnavailable},
		{ErrUnknown, http.StatusInternalServerError},
	}

	for _, tc := range testCases {
		err := New(tc.code)
		suite.Equal(tc.expected, err.HTTPStatus(), "错误码 %d 应该返回HTTP状态码 %d", tc.code, tc.expected)
	}

	suite.Equal(http.StatusInternalServerError, HTTPStatusOf(errors.New("boom")))
	suite.Equal(http.StatusBadGateway, HTTPStatusOf(fmt.Errorf("x: %w", New(ErrSerialPortWrite))))
}

// 测试设备I/O错误判断
func (suite *ErrorsTestSuite) TestIsDeviceIO() {
	for _, code := range []ErrorCode{ErrSerialPortWrite, ErrSerialTimeout, ErrDeviceOffline} {
		suite.True(IsDeviceIO(New(code)), "错误码 %d 应该是设备I/O错误", code)
	}
	suite.False(IsDeviceIO(New(ErrInvalidParam)))
	suite.False(IsDeviceIO(nil))
}

// 测试严重错误判断
func (suite *ErrorsTestSuite) TestIsCritical() {
	for _, code := range []ErrorCode{ErrDatabaseConnect, ErrSerialPortOpen, ErrConfigLoad, ErrConfigValidate} {
		suite.True(IsCritical(New(code)), "错误码 %d 应该是严重错误", code)
	}
	suite.False(IsCritical(New(ErrSerialPortWrite)))
	suite.False(IsCritical(nil))
}

// 测试调用栈捕获
func (suite *ErrorsTestSuite) TestStackCapture() {
	err := New(ErrUnknown)
	suite.NotEmpty(err.Stack)
	suite.NotEmpty(err.GetStack())
}

// 测试未知错误码
func (suite *ErrorsTestSuite) TestUnknownErrorCode() {
	err := New(ErrorCode(99999))
	suite.Equal(ErrorCode(99999), err.Code)
	suite.Equal("未知错误", err.Message)
}

func TestErrorsSuite(t *testing.T) {
	suite.Run(t, new(ErrorsTestSuite))
}
