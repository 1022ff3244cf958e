package apperr

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"
)

// 错误分类
var (
	ErrValidation    = errors.New("validation error")
	ErrDecode        = errors.New("decode error")
	ErrSegmentation  = errors.New("segmentation error")
	ErrTranscription = errors.New("transcription error")
	ErrPersistence   = errors.New("persistence error")
	ErrPathSecurity  = errors.New("path security error")
	ErrNotFound      = errors.New("not found")
)

// Error 带分类和请求 ID 的错误
// Message 是可以直接展示给用户的文本，Err 只用于日志
type Error struct {
	Kind      error
	Message   string
	RequestID string
	Err       error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Err != nil && e.Message != "":
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Err != nil:
		return e.Err.Error()
	case e.Message != "":
		return e.Message
	case e.Kind != nil:
		return e.Kind.Error()
	}
	return "unknown error"
}

// Unwrap 同时暴露分类和底层错误，errors.Is 两者都能匹配
func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Status 对应的 HTTP 状态码
func (e *Error) Status() int {
	return Status(e)
}

func New(kind error, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation 用户输入错误，message 原样返回给调用方
func Validation(message string) *Error {
	return &Error{Kind: ErrValidation, Message: message}
}

// WithRequestID 绑定请求 ID（不覆盖已有的 ID）
func WithRequestID(err error, requestID string) error {
	var appErr *Error
	if errors.As(err, &appErr) {
		if appErr.RequestID == "" {
			appErr.RequestID = requestID
		}
		return err
	}
	return &Error{RequestID: requestID, Err: err}
}

// Status 将错误映射为 HTTP 状态码
func Status(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrPathSecurity):
		return http.StatusBadRequest
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage 返回可以展示给用户的错误信息
// 4xx 返回原始提示；5xx 只返回固定文案和请求 ID，内部细节只写日志
func PublicMessage(err error, requestID string) string {
	var appErr *Error
	if errors.As(err, &appErr) && appErr.Message != "" {
		switch Status(err) {
		case http.StatusBadRequest, http.StatusNotFound:
			return appErr.Message
		}
	}
	if errors.Is(err, ErrTranscription) {
		return fmt.Sprintf("文字起こしに失敗しました。(ID: %s)", requestID)
	}
	return fmt.Sprintf("サーバー内部エラーが発生しました。ITサポートに連絡してください。(ID: %s)", requestID)
}

// NewRequestID 生成 8 位的请求关联 ID
func NewRequestID() string {
	return uuid.NewString()[:8]
}
