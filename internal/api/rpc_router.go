package api

import (
	"context"
	"math/big"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/sensorlight/internal/errors"
	"go.uber.org/zap"
)

// RPC路径
const (
	RPCPrefix   = "/rpc"
	PathGetRaw  = "/rpc/get_raw"
	PathGetInfo = "/rpc/get_info"
	PathSetMode = "/rpc/set_mode"
)

// DefaultMode set_mode未携带mode参数时使用的模式
const DefaultMode = 2

// Commander RPC路由需要的设备操作
type Commander interface {
	SetModeValue(ctx context.Context, mode *big.Int) (string, error)
	GetInfo(ctx context.Context) (string, error)
	GetRaw(ctx context.Context) (string, error)
}

// RPCRouter RPC路由器
//
// GET和HEAD按相同规则分发，HEAD只返回头部。其他方法以及未匹配的路径一律404空响应。
type RPCRouter struct {
	engine    *gin.Engine
	commander Commander
	log       *zap.Logger
}

// NewRPCRouter 创建RPC路由器
func NewRPCRouter(commander Commander, log *zap.Logger) *RPCRouter {
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	// POST等方法返回404而不是405
	engine.HandleMethodNotAllowed = false
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	engine.Use(RequestID(), Recovery(log), RequestLogger(log))

	r := &RPCRouter{
		engine:    engine,
		commander: commander,
		log:       log,
	}

	r.setupRoutes()

	return r
}

// setupRoutes 设置路由
func (r *RPCRouter) setupRoutes() {
	r.engine.GET(RPCPrefix+"/*method", r.handleRPC)
	r.engine.HEAD(RPCPrefix+"/*method", r.handleRPC)
	r.engine.NoRoute(r.notFound)
}

// Handler 返回http.Handler
func (r *RPCRouter) Handler() http.Handler {
	return r.engine
}

// handleRPC 按路径前缀分发到设备操作。匹配未解码的原始路径，
// /rpc/get%5Fraw 不等同于 /rpc/get_raw。
func (r *RPCRouter) handleRPC(c *gin.Context) {
	path := c.Request.URL.EscapedPath()
	ctx := c.Request.Context()

	var (
		result string
		err    error
	)

	switch {
	case strings.HasPrefix(path, PathGetRaw):
		result, err = r.commander.GetRaw(ctx)

	case strings.HasPrefix(path, PathGetInfo):
		result, err = r.commander.GetInfo(ctx)

	case strings.HasPrefix(path, PathSetMode):
		mode, perr := parseMode(c.Request.URL.RawQuery)
		if perr != nil {
			r.writeError(c, perr)
			return
		}
		result, err = r.commander.SetModeValue(ctx, mode)

	default:
		r.notFound(c)
		return
	}

	if err != nil {
		r.log.Warn("RPC调用失败",
			zap.String("path", path),
			zap.String("request_id", c.GetString(ctxKeyRequestID)),
			zap.Error(err))
		r.writeError(c, err)
		return
	}

	r.writeOK(c, result)
}

// parseMode 解析mode参数，缺省为DefaultMode。
// 取第一个非空的mode值，其他参数格式错误不影响mode。
func parseMode(rawQuery string) (*big.Int, error) {
	values := queryValues(rawQuery, "mode")
	if len(values) == 0 {
		return big.NewInt(DefaultMode), nil
	}

	mode, ok := parseInteger(values[0])
	if !ok {
		return nil, apperrors.Newf(apperrors.ErrInvalidParam, "mode 必须是整数: %q", values[0])
	}
	return mode, nil
}

// queryValues 按'&'拆分查询串，返回key对应的全部非空值。
// 不带'='的项和空值被忽略，无效的%转义按原文保留。
func queryValues(rawQuery, key string) []string {
	var values []string
	for _, pair := range strings.Split(rawQuery, "&") {
		k, v, found := strings.Cut(pair, "=")
		if !found || v == "" {
			continue
		}
		if unescapeQuery(k) == key {
			values = append(values, unescapeQuery(v))
		}
	}
	return values
}

// unescapeQuery 解码'+'和%XX，不合法的转义原样保留
func unescapeQuery(s string) string {
	if !strings.ContainsAny(s, "%+") {
		return s
	}

	buf := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '+':
			buf = append(buf, ' ')
		case s[i] == '%' && i+2 < len(s) && isHex(s[i+1]) && isHex(s[i+2]):
			buf = append(buf, unhex(s[i+1])<<4|unhex(s[i+2]))
			i += 2
		default:
			buf = append(buf, s[i])
		}
	}
	return string(buf)
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func unhex(c byte) byte {
	switch {
	case c <= '9':
		return c - '0'
	case c <= 'F':
		return c - 'A' + 10
	default:
		return c - 'a' + 10
	}
}

// parseInteger 解析十进制整数，不限位数。
// 允许首尾空白、正负号、前导零，以及数字之间的单个下划线。
func parseInteger(s string) (*big.Int, bool) {
	s = strings.TrimSpace(s)

	digits := s
	if len(digits) > 0 && (digits[0] == '+' || digits[0] == '-') {
		digits = digits[1:]
	}
	if digits == "" || digits[0] == '_' || digits[len(digits)-1] == '_' || strings.Contains(digits, "__") {
		return nil, false
	}
	for i := 0; i < len(digits); i++ {
		if digits[i] != '_' && (digits[i] < '0' || digits[i] > '9') {
			return nil, false
		}
	}

	return new(big.Int).SetString(strings.ReplaceAll(s, "_", ""), 10)
}

// writeOK 写入200响应
func (r *RPCRouter) writeOK(c *gin.Context, body string) {
	writeBody(c, http.StatusOK, "text/html; charset=utf-8", body)
}

// writeError 把错误映射为状态码，响应体为简短的错误信息
func (r *RPCRouter) writeError(c *gin.Context, err error) {
	status := apperrors.HTTPStatusOf(err)
	msg := http.StatusText(status)
	if appErr, ok := err.(*apperrors.AppError); ok {
		msg = appErr.Message
		if appErr.Code == apperrors.ErrInvalidParam && appErr.Details != "" {
			msg = appErr.Details
		}
	}

	writeBody(c, status, "text/plain; charset=utf-8", msg)
}

// writeBody 设置跨域和禁止缓存头并写入响应，HEAD请求不写响应体
func writeBody(c *gin.Context, status int, contentType, body string) {
	h := c.Writer.Header()
	h.Set("Content-Type", contentType)
	h.Set("Access-Control-Allow-Origin", "*")
	h.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	h.Set("Pragma", "no-cache")
	h.Set("Expires", "0")
	h.Set("Content-Length", strconv.Itoa(len(body)))

	c.Status(status)
	if c.Request.Method == http.MethodGet {
		_, _ = c.Writer.WriteString(body)
		return
	}
	c.Writer.WriteHeaderNow()
}

// notFound 404空响应
func (r *RPCRouter) notFound(c *gin.Context) {
	c.Writer.Header().Set("Content-Length", "0")
	c.Status(http.StatusNotFound)
	c.Writer.WriteHeaderNow()
}
