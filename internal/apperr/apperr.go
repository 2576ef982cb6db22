// Package apperr はAPI全体で共有するエラー分類とレスポンス変換を提供します。
package apperr

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// Kind はエラーの分類です。HTTP ステータスはこの分類から決まります。
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindUpstreamAuth
	KindUpstream
	KindUnauthorized
	KindRateLimited
)

// よく使うエラーコード
const (
	CodeInvalidInput      = "INVALID_INPUT"
	CodeLimitExceeded     = "LIMIT_EXCEEDED"
	CodeUnsupportedFormat = "UNSUPPORTED_FORMAT"
	CodeUpstreamAuth      = "UPSTREAM_AUTH"
	CodeQuotaExceeded     = "QUOTA_EXCEEDED"
	CodeUpstreamFailed    = "UPSTREAM_FAILED"
	CodeInternal          = "INTERNAL_ERROR"
	CodeTooManyAttempts   = "TOO_MANY_ATTEMPTS"
)

// Error はクライアントへ返すメッセージを持つエラーです。
// Message と Details は利用者向けの文言で、上流サービスの生のレスポンスは入れません。
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details string
	Err     error

	// Component はログに出す発生元です（例: workspace）。
	Component string
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Status は分類に対応する HTTP ステータスを返します。
func (e *Error) Status() int {
	switch e.Kind {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindUpstreamAuth:
		if e.Code == CodeQuotaExceeded {
			return http.StatusPaymentRequired
		}
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WithDetails は Details を設定した Error を返します。
func (e *Error) WithDetails(details string) *Error {
	e.Details = details
	return e
}

// In は発生元のコンポーネント名を設定した Error を返します。
func (e *Error) In(component string) *Error {
	e.Component = component
	return e
}

// InvalidInput は入力検証エラーを作成します。
func InvalidInput(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: CodeInvalidInput, Message: message}
}

// LimitExceeded はサイズ上限超過エラーを作成します。
func LimitExceeded(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: CodeLimitExceeded, Message: message}
}

// UnsupportedFormat は未対応フォーマットのエラーを作成します。
func UnsupportedFormat(message string) *Error {
	return &Error{Kind: KindInvalidInput, Code: CodeUnsupportedFormat, Message: message}
}

// UpstreamAuth は外部サービスの認証エラーを作成します。
func UpstreamAuth(message string, err error) *Error {
	return &Error{Kind: KindUpstreamAuth, Code: CodeUpstreamAuth, Message: message, Err: err}
}

// QuotaExceeded は外部サービスの利用上限エラーを作成します。
func QuotaExceeded(message string, err error) *Error {
	return &Error{Kind: KindUpstreamAuth, Code: CodeQuotaExceeded, Message: message, Err: err}
}

// Upstream は外部サービス処理失敗のエラーを作成します。
func Upstream(message string, err error) *Error {
	return &Error{Kind: KindUpstream, Code: CodeUpstreamFailed, Message: message, Err: err}
}

// Unauthorized は管理者ログインが必要な操作の認証エラーを作成します。
func Unauthorized(code, message string) *Error {
	return &Error{Kind: KindUnauthorized, Code: code, Message: message}
}

// TooManyAttempts は試行回数超過のエラーを作成します。
func TooManyAttempts(message string) *Error {
	return &Error{Kind: KindRateLimited, Code: CodeTooManyAttempts, Message: message}
}

// Internal は内部エラーを作成します。
func Internal(message string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: message, Err: err}
}

// Respond はエラーを JSON レスポンスに変換します。
// 内部エラーと外部サービスの失敗は、リクエストの context に載ったロガーへ原因を記録します。
func Respond(c *gin.Context, err error) {
	var appErr *Error
	switch {
	case errors.As(err, &appErr):
		logCause(c, appErr)
		body := gin.H{
			"error": appErr.Message,
			"code":  appErr.Code,
		}
		if appErr.Details != "" {
			body["details"] = appErr.Details
		}
		c.JSON(appErr.Status(), body)
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"error": "The request was canceled.",
			"code":  "REQUEST_CANCELED",
		})
	case errors.Is(err, context.DeadlineExceeded):
		logCause(c, &Error{Kind: KindUpstream, Message: "deadline exceeded", Err: err})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "The operation took too long. Please try again with a smaller file.",
			"code":  CodeUpstreamFailed,
		})
	default:
		logCause(c, &Error{Kind: KindInternal, Message: "unclassified error", Err: err})
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "An internal server error occurred.",
			"code":  CodeInternal,
		})
	}
}

// Abort は Respond の後に後続のハンドラーを止めます。ミドルウェア用です。
func Abort(c *gin.Context, err error) {
	Respond(c, err)
	c.Abort()
}

func logCause(c *gin.Context, e *Error) {
	if c.Request == nil {
		return
	}
	logger := zerolog.Ctx(c.Request.Context())
	var event *zerolog.Event
	switch e.Kind {
	case KindInternal:
		event = logger.Error()
	case KindUpstream, KindUpstreamAuth:
		event = logger.Warn()
	default:
		return
	}
	component := e.Component
	if component == "" {
		component = "http"
	}
	event.
		Err(e.Err).
		Str("component", component).
		Str("code", e.Code).
		Str("path", c.Request.URL.Path).
		Msg(e.Message)
}
