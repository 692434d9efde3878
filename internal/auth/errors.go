package auth

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Kind はサーバーが応答前に割り当てる失敗の分類です。
type Kind int

const (
	// KindMalformedRequest は入力の誤り（ヘッダー経由の資格情報、欠落、不一致）です。
	KindMalformedRequest Kind = iota + 1
	// KindNoActiveSession は有効なセッションが無い状態での操作です。
	KindNoActiveSession
	// KindInternalFault は検証先やセッションストアの障害です。
	KindInternalFault
	// KindForbiddenOrigin は許可されていないオリジンからの状態変更です。
	KindForbiddenOrigin
)

func (k Kind) String() string {
	switch k {
	case KindMalformedRequest:
		return "malformed_request"
	case KindNoActiveSession:
		return "no_active_session"
	case KindInternalFault:
		return "internal_fault"
	case KindForbiddenOrigin:
		return "forbidden_origin"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error は分類済みのAPIエラーです。Err は内部向けでレスポンスには含めません。
type Error struct {
	Kind    Kind
	Status  int
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Code, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Code)
}

func (e *Error) Unwrap() error {
	return e.Err
}

var (
	errCredentialsInHeader = &Error{
		Kind:    KindMalformedRequest,
		Status:  http.StatusBadRequest,
		Code:    "CREDENTIALS_IN_HEADER",
		Message: "資格情報は Authorization ヘッダーではなく JSON ボディで送ってください",
	}
	errInvalidInput = &Error{
		Kind:    KindMalformedRequest,
		Status:  http.StatusBadRequest,
		Code:    "INVALID_INPUT",
		Message: "username と password を JSON で送ってください",
	}
	// 誤った資格情報は 401 ではなく入力エラー (400) として返す
	errInvalidCredentials = &Error{
		Kind:    KindMalformedRequest,
		Status:  http.StatusBadRequest,
		Code:    "INVALID_CREDENTIALS",
		Message: "ユーザー名またはパスワードが正しくありません",
	}
	errNoActiveSession = &Error{
		Kind:    KindNoActiveSession,
		Status:  http.StatusBadRequest,
		Code:    "NO_ACTIVE_SESSION",
		Message: "ログインしていません",
	}
	errUnauthorized = &Error{
		Kind:    KindNoActiveSession,
		Status:  http.StatusUnauthorized,
		Code:    "UNAUTHORIZED",
		Message: "ログインが必要です",
	}
	errOriginNotAllowed = &Error{
		Kind:    KindForbiddenOrigin,
		Status:  http.StatusForbidden,
		Code:    "ORIGIN_NOT_ALLOWED",
		Message: "許可されていないオリジンからのリクエストです",
	}
)

func internalFault(err error) *Error {
	return &Error{
		Kind:    KindInternalFault,
		Status:  http.StatusInternalServerError,
		Code:    "INTERNAL_ERROR",
		Message: "サーバー内部でエラーが発生しました",
		Err:     err,
	}
}

func respondWithError(c *gin.Context, apiErr *Error) {
	c.AbortWithStatusJSON(apiErr.Status, gin.H{
		"code":    apiErr.Code,
		"message": apiErr.Message,
	})
}
