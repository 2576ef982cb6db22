package auth

import (
	"time"

	"github.com/gin-contrib/sessions"

	"github.com/yourusername/file-forge/internal/apperr"
)

// SessionCookieName は管理者セッションのクッキー名です。
const SessionCookieName = "ff_session"

const (
	keyUser     = "admin_user"
	keyIssuedAt = "issued_at"
	keyLastSeen = "last_seen"
)

var (
	sessionLifetime = 12 * time.Hour
	idleTimeout     = 30 * time.Minute
)

// SessionMaxAgeSeconds はクッキーの MaxAge に利用する秒数を返します。
func SessionMaxAgeSeconds() int {
	return int(sessionLifetime.Seconds())
}

// adminSession は cookie セッションに載せる管理者のログイン状態です。
type adminSession struct {
	sessions.Session
}

func (s adminSession) start(user string, now time.Time) error {
	s.Clear()
	s.Set(keyUser, user)
	s.Set(keyIssuedAt, now.Unix())
	s.Set(keyLastSeen, now.Unix())
	return s.Save()
}

// check はセッションのユーザー名を返します。期限切れの場合はセッションを破棄してエラーを返します。
func (s adminSession) check(now time.Time) (string, *apperr.Error) {
	user, _ := s.Get(keyUser).(string)
	if user == "" {
		return "", apperr.Unauthorized("UNAUTHORIZED", "Login required")
	}

	issuedAt := unixValue(s.Get(keyIssuedAt))
	if issuedAt.IsZero() || now.Sub(issuedAt) > sessionLifetime {
		s.end()
		return "", apperr.Unauthorized("SESSION_EXPIRED", "Your session has expired. Please log in again.")
	}
	lastSeen := unixValue(s.Get(keyLastSeen))
	if lastSeen.IsZero() || now.Sub(lastSeen) > idleTimeout {
		s.end()
		return "", apperr.Unauthorized("SESSION_IDLE_TIMEOUT", "You were logged out after a period of inactivity.")
	}

	s.Set(keyLastSeen, now.Unix())
	_ = s.Save()
	return user, nil
}

func (s adminSession) end() error {
	s.Clear()
	s.Options(sessions.Options{Path: "/", MaxAge: -1})
	return s.Save()
}

// cookie ストアは数値を int64 のまま復元するが、他のストアでは float64 になることがある
func unixValue(v interface{}) time.Time {
	switch t := v.(type) {
	case int64:
		return time.Unix(t, 0)
	case int:
		return time.Unix(int64(t), 0)
	case float64:
		return time.Unix(int64(t), 0)
	default:
		return time.Time{}
	}
}
