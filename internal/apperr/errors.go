package apperr

import (
	"errors"
	"fmt"
)

// Kind 错误分类，对外响应中的 kind 字段
type Kind string

const (
	KindEmbedding                 Kind = "EmbeddingError"
	KindStoreUnavailable          Kind = "StoreUnavailable"
	KindInvalidToolInput          Kind = "InvalidToolInput"
	KindUnsupportedTool           Kind = "UnsupportedTool"
	KindUnexpectedModelStop       Kind = "UnexpectedModelStop"
	KindMalformedAnalysisJSON     Kind = "MalformedAnalysisJSON"
	KindMissingCredential         Kind = "MissingCredential"
	KindInvalidSource             Kind = "InvalidSource"
	KindInvalidRequest            Kind = "InvalidRequest"
	KindModelUnavailable          Kind = "ModelUnavailable"
	KindExternalSourceUnavailable Kind = "ExternalSourceUnavailable"
	KindRateLimited               Kind = "RateLimited"
	KindInternal                  Kind = "Internal"
)

// 每个分类对应一个哨兵错误，便于 errors.Is 判断
var (
	ErrEmbedding                 = errors.New("embedding failed")
	ErrStoreUnavailable          = errors.New("resume store unavailable")
	ErrInvalidToolInput          = errors.New("invalid tool input")
	ErrUnsupportedTool           = errors.New("unsupported tool")
	ErrUnexpectedModelStop       = errors.New("unexpected model stop")
	ErrMalformedAnalysisJSON     = errors.New("malformed analysis json")
	ErrMissingCredential         = errors.New("missing credential")
	ErrInvalidSource             = errors.New("invalid source")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrModelUnavailable          = errors.New("model unavailable")
	ErrExternalSourceUnavailable = errors.New("external source unavailable")
	ErrRateLimited               = errors.New("rate limit exceeded")
	ErrInternal                  = errors.New("internal error")
)

var sentinels = map[Kind]error{
	KindEmbedding:                 ErrEmbedding,
	KindStoreUnavailable:          ErrStoreUnavailable,
	KindInvalidToolInput:          ErrInvalidToolInput,
	KindUnsupportedTool:           ErrUnsupportedTool,
	KindUnexpectedModelStop:       ErrUnexpectedModelStop,
	KindMalformedAnalysisJSON:     ErrMalformedAnalysisJSON,
	KindMissingCredential:         ErrMissingCredential,
	KindInvalidSource:             ErrInvalidSource,
	KindInvalidRequest:            ErrInvalidRequest,
	KindModelUnavailable:          ErrModelUnavailable,
	KindExternalSourceUnavailable: ErrExternalSourceUnavailable,
	KindRateLimited:               ErrRateLimited,
	KindInternal:                  ErrInternal,
}

// Error 带分类的错误。RawOutput 只在模型输出无法解析时携带原文。
type Error struct {
	Kind      Kind
	Op        string
	Detail    string
	RawOutput string
	Cause     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s (op:%s)", e.Kind, e.Op)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is 按分类比较，支持 errors.Is(err, apperr.ErrEmbedding)
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return t.Kind == e.Kind
	}
	return sentinels[e.Kind] == target
}

// New 构造分类错误
func New(kind Kind, op, detail string) *Error {
	return &Error{Kind: kind, Op: op, Detail: detail}
}

// Wrap 包装底层错误；cause 为 nil 时等价于 New
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Malformed 模型输出无法解析为 JSON，原文原样保留
func Malformed(op, raw string, cause error) *Error {
	return &Error{Kind: KindMalformedAnalysisJSON, Op: op, RawOutput: raw, Cause: cause}
}

// KindOf 返回错误分类，未分类的错误视为 Internal
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// RawOutputOf 返回错误链上携带的模型原文
func RawOutputOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.RawOutput
	}
	return ""
}

var publicMessages = map[Kind]string{
	KindEmbedding:                 "The embedding service failed to process the request.",
	KindStoreUnavailable:          "The resume store is currently unavailable.",
	KindInvalidToolInput:          "The model requested a search with invalid arguments.",
	KindUnsupportedTool:           "The model requested a tool that is not supported.",
	KindUnexpectedModelStop:       "The model stopped unexpectedly before producing an answer.",
	KindMalformedAnalysisJSON:     "The model response could not be parsed as a valid analysis.",
	KindMissingCredential:         "A valid external auth token is required for this source.",
	KindInvalidSource:             "The requested source is not supported.",
	KindInvalidRequest:            "The request is invalid.",
	KindModelUnavailable:          "The language model is currently unavailable.",
	KindExternalSourceUnavailable: "The external document source could not be reached.",
	KindRateLimited:               "Too many requests, please retry later.",
	KindInternal:                  "An internal error occurred.",
}

// PublicMessage 对外消息，按分类固定，不包含上游服务的原始报错
func PublicMessage(err error) string {
	kind := KindOf(err)
	if kind == KindInvalidRequest {
		var e *Error
		if errors.As(err, &e) && e.Detail != "" {
			return e.Detail
		}
	}
	return publicMessages[kind]
}
