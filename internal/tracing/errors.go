package tracing

import (
	"errors"

	"talent-search/internal/apperr"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// ErrorType span 上 error.type 的取值，按出错的下游分类
type ErrorType string

const (
	ErrorTypeHTTP       ErrorType = "http"
	ErrorTypeVectorDB   ErrorType = "vector_db"
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeExternal   ErrorType = "external_system"
	ErrorTypeRabbitMQ   ErrorType = "rabbitmq"
	// ErrorTypeLLM 模型调用失败或输出不可用
	ErrorTypeLLM ErrorType = "llm"
)

// MaxErrorMessageLength error.message 属性的最大长度，模型原文可能很长
const MaxErrorMessageLength = 300

// RecordError 把错误写到 span 上并标记失败。
// 错误链上有 *apperr.Error 时同时记录 error.kind 和 error.op，便于按错误分类检索
func RecordError(span trace.Span, err error, errorType ErrorType, attrs ...attribute.KeyValue) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err)

	var ae *apperr.Error
	if errors.As(err, &ae) {
		attrs = append(attrs,
			attribute.String("error.kind", string(ae.Kind)),
			attribute.String("error.op", ae.Op),
		)
	}
	markFailed(span, errorType, err.Error(), attrs...)
}

// RecordHTTPError 下游返回非 2xx
func RecordHTTPError(span trace.Span, err error, statusCode int) {
	category := "server_error"
	if statusCode >= 400 && statusCode < 500 {
		category = "client_error"
	}
	RecordError(span, err, ErrorTypeHTTP,
		attribute.Int("http.status_code", statusCode),
		attribute.String("error.category", category),
	)
}

// RecordRabbitMQNack broker 拒绝了 outbox 消息，没有 error 值可记
func RecordRabbitMQNack(span trace.Span, messageID string, reason string) {
	if span == nil {
		return
	}
	if reason == "" {
		reason = "message not acknowledged by broker"
	}
	markFailed(span, ErrorTypeRabbitMQ, reason,
		attribute.String("messaging.message_id", messageID),
		attribute.String("messaging.error_type", "nack"),
	)
}

// RecordLLMStop 模型以非预期原因结束（length、content_filter 等）
func RecordLLMStop(span trace.Span, phase string, finishReason string) {
	if span == nil {
		return
	}
	markFailed(span, ErrorTypeLLM, "unexpected finish reason: "+finishReason,
		attribute.String("error.kind", string(apperr.KindUnexpectedModelStop)),
		attribute.String("llm.phase", phase),
		attribute.String("llm.finish_reason", finishReason),
	)
}

func markFailed(span trace.Span, errorType ErrorType, message string, attrs ...attribute.KeyValue) {
	message = TruncateString(message, MaxErrorMessageLength)
	span.SetAttributes(
		attribute.String("error.type", string(errorType)),
		attribute.String("error.message", message),
	)
	span.SetAttributes(attrs...)
	span.SetStatus(codes.Error, message)
}
