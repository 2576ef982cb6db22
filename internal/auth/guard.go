// Package auth は問い合わせ一覧を保護する管理者ログインを提供します。
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/yourusername/file-forge/internal/apperr"
)

// ContextUserKey はログイン済み管理者名を gin.Context に載せるキーです。
const ContextUserKey = "auth.user"

// ログイン失敗は 15 分間に 5 回までで、超えると 15 分ロックします。
const (
	maxLoginAttempts = 5
	loginWindow      = 15 * time.Minute
	lockDuration     = 15 * time.Minute
)

// Credentials は管理者1名分のログイン情報です。PasswordHash は bcrypt ハッシュです。
type Credentials struct {
	Username     string
	PasswordHash string
}

func (c Credentials) validate() error {
	if c.Username == "" || c.PasswordHash == "" {
		return errors.New("ADMIN_USERNAME と ADMIN_PASSWORD_HASH が設定されていません")
	}
	return nil
}

// Guard は管理者ログインとセッション検証を行います。
type Guard struct {
	creds    Credentials
	throttle *throttle
	logger   zerolog.Logger
	now      func() time.Time
}

// NewGuard は Guard を作成します。
func NewGuard(creds Credentials, logger zerolog.Logger) *Guard {
	return &Guard{
		creds:    creds,
		throttle: newThrottle(maxLoginAttempts, loginWindow, lockDuration),
		logger:   logger.With().Str("component", "auth").Logger(),
		now:      time.Now,
	}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login は POST /api/auth/login のハンドラーです。
func (g *Guard) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apperr.Respond(c, apperr.InvalidInput("Send username and password as JSON"))
		return
	}
	if err := g.creds.validate(); err != nil {
		apperr.Respond(c, apperr.Internal("Admin login is not configured", err).In("auth"))
		return
	}

	ip := c.ClientIP()
	now := g.now()
	if wait := g.throttle.retryAfter(ip, now); wait > 0 {
		c.Header("Retry-After", strconv.Itoa(int(wait.Seconds())))
		apperr.Respond(c, apperr.TooManyAttempts("Too many login attempts. Please try again later."))
		return
	}

	if req.Username != g.creds.Username ||
		bcrypt.CompareHashAndPassword([]byte(g.creds.PasswordHash), []byte(req.Password)) != nil {
		remaining := g.throttle.fail(ip, now)
		g.logger.Warn().Str("ip", ip).Int("remaining", remaining).Msg("admin login failed")
		apperr.Respond(c, apperr.Unauthorized("INVALID_CREDENTIALS", "Invalid username or password").
			WithDetails(fmt.Sprintf("%d attempts remaining", remaining)))
		return
	}
	g.throttle.clear(ip)

	if err := (adminSession{sessions.Default(c)}).start(g.creds.Username, now); err != nil {
		apperr.Respond(c, apperr.Internal("Failed to save the session", err).In("auth"))
		return
	}
	g.logger.Info().Str("ip", ip).Msg("admin logged in")
	c.Status(http.StatusNoContent)
}

// Logout は POST /api/auth/logout のハンドラーです。
func (g *Guard) Logout(c *gin.Context) {
	if err := (adminSession{sessions.Default(c)}).end(); err != nil {
		apperr.Respond(c, apperr.Internal("Failed to clear the session", err).In("auth"))
		return
	}
	c.Status(http.StatusNoContent)
}

// RequireLogin は管理者セッションを要求するミドルウェアです。
func (g *Guard) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, err := (adminSession{sessions.Default(c)}).check(g.now())
		if err != nil {
			apperr.Abort(c, err)
			return
		}
		c.Set(ContextUserKey, user)
		c.Next()
	}
}
