package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类
type Kind string

const (
	KindValidation    Kind = "validation"    // 输入非法，访问存储之前拒绝
	KindNotFound      Kind = "not_found"     // 券/订单不存在
	KindConflict      Kind = "conflict"      // 已使用、已领取、重复支付
	KindAuthorization Kind = "authorization" // 订单/记录归属不匹配
	KindUpstream      Kind = "upstream"      // 支付网关不可用或返回失败
	KindStorage       Kind = "storage"       // KV 存储不可用
	KindRateLimited   Kind = "rate_limited"  // 超出频率限制
)

// Error 业务错误
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is 同 Kind 的错误视为相等，便于 errors.Is(err, apperr.ErrConflict)
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Message == "" {
		return t.Kind == e.Kind
	}
	return t.Kind == e.Kind && t.Message == e.Message
}

// 仅用于 errors.Is 比较的哨兵
var (
	ErrValidation    = &Error{Kind: KindValidation}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrUpstream      = &Error{Kind: KindUpstream}
	ErrStorage       = &Error{Kind: KindStorage}
	ErrRateLimited   = &Error{Kind: KindRateLimited}
)

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Err: err}
}

func Validation(msg string) *Error    { return New(KindValidation, msg) }
func NotFound(msg string) *Error      { return New(KindNotFound, msg) }
func Conflict(msg string) *Error      { return New(KindConflict, msg) }
func Authorization(msg string) *Error { return New(KindAuthorization, msg) }
func RateLimited(msg string) *Error   { return New(KindRateLimited, msg) }

func Upstream(msg string, err error) *Error {
	return Wrap(KindUpstream, msg, err)
}

func Storage(msg string, err error) *Error {
	return Wrap(KindStorage, msg, err)
}

// KindOf 返回错误分类，非业务错误按存储错误处理（fail closed）
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

// MessageOf 返回面向用户的提示
func MessageOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
