package utils

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/suite"
)

// JWTTestSuite JWT工具测试套件
type JWTTestSuite struct {
	suite.Suite
	manager *JWTManager
}

func (suite *JWTTestSuite) SetupTest() {
	suite.manager = NewJWTManager("test-secret-key", time.Hour)
}

// 测试创建JWT管理器
func (suite *JWTTestSuite) TestNewJWTManager() {
	suite.Equal(time.Hour, suite.manager.TokenExpiry())
	suite.Equal(24*time.Hour, NewJWTManager("secret", 0).TokenExpiry(), "非正数使用默认有效期")
}

// 测试生成并验证令牌
func (suite *JWTTestSuite) TestGenerateAndValidate() {
	token, err := suite.manager.GenerateToken("ops", "admin")
	suite.Require().NoError(err)
	suite.NotEmpty(token)

	claims, err := suite.manager.ValidateToken(token)
	suite.Require().NoError(err)
	suite.Equal("ops", claims.Subject)
	suite.Equal("admin", claims.Role)
	suite.Equal("sensorlight", claims.Issuer)
}

// 测试验证无效令牌
func (suite *JWTTestSuite) TestValidateInvalidToken() {
	_, err := suite.manager.ValidateToken("not.a.token")
	suite.Error(err)

	other := NewJWTManager("another-secret", time.Hour)
	token, err := other.GenerateToken("ops", "admin")
	suite.Require().NoError(err)
	_, err = suite.manager.ValidateToken(token)
	suite.Error(err, "不同密钥签发的令牌无效")
}

// 测试过期令牌
func (suite *JWTTestSuite) TestExpiredToken() {
	past := time.Now().Add(-2 * time.Hour)
	claims := &AdminClaims{
		Role: "admin",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(past.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(past),
			Issuer:    "sensorlight",
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret-key"))
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateToken(token)
	suite.ErrorIs(err, ErrExpiredToken)
}

// 测试拒绝非HS256签名
func (suite *JWTTestSuite) TestRejectOtherMethods() {
	claims := &AdminClaims{RegisteredClaims: jwt.RegisteredClaims{Issuer: "sensorlight"}}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("test-secret-key"))
	suite.Require().NoError(err)

	_, err = suite.manager.ValidateToken(token)
	suite.Error(err)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
	suite.Require().NoError(err)
	_, err = suite.manager.ValidateToken(none)
	suite.Error(err)
}

// 测试空密钥
func (suite *JWTTestSuite) TestEmptySecret() {
	m := NewJWTManager("", time.Hour)
	_, err := m.GenerateToken("ops", "admin")
	suite.ErrorIs(err, ErrEmptySecret)
	_, err = m.ValidateToken("x")
	suite.ErrorIs(err, ErrEmptySecret)
}

func TestJWTSuite(t *testing.T) {
	suite.Run(t, new(JWTTestSuite))
}
