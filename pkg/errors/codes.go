package errors

import (
	"net/http"
	"strings"
)

// ErrorCode is a stable string identifier of an error condition.  The part
// before the first underscore names the owning module.
type ErrorCode string

func (c ErrorCode) String() string {
	return string(c)
}

// Common error codes
const (
	ErrCodeInternal           ErrorCode = "COMMON_001"
	ErrCodeBadRequest         ErrorCode = "COMMON_002"
	ErrCodeUnauthorized       ErrorCode = "COMMON_003"
	ErrCodeForbidden          ErrorCode = "COMMON_004"
	ErrCodeNotFound           ErrorCode = "COMMON_005"
	ErrCodeConflict           ErrorCode = "COMMON_006"
	ErrCodeTooManyRequests    ErrorCode = "COMMON_007"
	ErrCodeServiceUnavailable ErrorCode = "COMMON_008"
	ErrCodeTimeout            ErrorCode = "COMMON_009"
	ErrCodeValidation         ErrorCode = "COMMON_010"
	ErrCodeSerialization      ErrorCode = "COMMON_011"
	ErrCodeDatabaseError      ErrorCode = "COMMON_012"
	ErrCodeCacheError         ErrorCode = "COMMON_013"
	ErrCodeExternalService    ErrorCode = "COMMON_014"
	ErrCodeMessagingError     ErrorCode = "COMMON_015"
	ErrCodeConfigInvalid      ErrorCode = "COMMON_016"
)

const (
	CodeOK      ErrorCode = "OK"
	CodeUnknown ErrorCode = "UNKNOWN"
)

// Deal module error codes
const (
	ErrCodeDealNotFound      ErrorCode = "DEAL_001"
	ErrCodeDateMalformed     ErrorCode = "DEAL_002"
	ErrCodeTermInvalid       ErrorCode = "DEAL_003"
	ErrCodeClientNotFound    ErrorCode = "DEAL_004"
	ErrCodePhoneInvalid      ErrorCode = "DEAL_005"
	ErrCodeNotificationIDBad ErrorCode = "DEAL_006"
)

// CRM integration error codes
const (
	ErrCodeCRMUnauthorized ErrorCode = "CRM_001"
	ErrCodeCRMNotFound     ErrorCode = "CRM_002"
	ErrCodeCRMRateLimited  ErrorCode = "CRM_003"
	ErrCodeCRMBadResponse  ErrorCode = "CRM_004"
	ErrCodeCRMUnavailable  ErrorCode = "CRM_005"
)

// Notification delivery error codes
const (
	ErrCodeDispatchFailed ErrorCode = "NOTIFY_001"
	ErrCodeChatNotLinked  ErrorCode = "NOTIFY_002"
)

// ErrorCodeHTTPStatus maps codes to HTTP status codes.
var ErrorCodeHTTPStatus = map[ErrorCode]int{
	ErrCodeInternal:           http.StatusInternalServerError,
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeServiceUnavailable: http.StatusServiceUnavailable,
	ErrCodeTimeout:            http.StatusGatewayTimeout,
	ErrCodeValidation:         http.StatusUnprocessableEntity,
	ErrCodeSerialization:      http.StatusBadRequest,
	ErrCodeDatabaseError:      http.StatusInternalServerError,
	ErrCodeCacheError:         http.StatusInternalServerError,
	ErrCodeExternalService:    http.StatusBadGateway,
	ErrCodeMessagingError:     http.StatusInternalServerError,
	ErrCodeConfigInvalid:      http.StatusInternalServerError,

	ErrCodeDealNotFound:      http.StatusNotFound,
	ErrCodeDateMalformed:     http.StatusUnprocessableEntity,
	ErrCodeTermInvalid:       http.StatusUnprocessableEntity,
	ErrCodeClientNotFound:    http.StatusNotFound,
	ErrCodePhoneInvalid:      http.StatusBadRequest,
	ErrCodeNotificationIDBad: http.StatusBadRequest,

	ErrCodeCRMUnauthorized: http.StatusBadGateway,
	ErrCodeCRMNotFound:     http.StatusNotFound,
	ErrCodeCRMRateLimited:  http.StatusServiceUnavailable,
	ErrCodeCRMBadResponse:  http.StatusBadGateway,
	ErrCodeCRMUnavailable:  http.StatusServiceUnavailable,

	ErrCodeDispatchFailed: http.StatusBadGateway,
	ErrCodeChatNotLinked:  http.StatusConflict,
}

// ErrorCodeMessage holds the default client-facing message per code.
var ErrorCodeMessage = map[ErrorCode]string{
	ErrCodeInternal:           "internal server error",
	ErrCodeBadRequest:         "bad request",
	ErrCodeUnauthorized:       "unauthorized",
	ErrCodeForbidden:          "forbidden",
	ErrCodeNotFound:           "resource not found",
	ErrCodeConflict:           "resource conflict",
	ErrCodeTooManyRequests:    "too many requests",
	ErrCodeServiceUnavailable: "service unavailable",
	ErrCodeTimeout:            "request timeout",
	ErrCodeValidation:         "validation failed",
	ErrCodeSerialization:      "serialization error",
	ErrCodeDatabaseError:      "database error",
	ErrCodeCacheError:         "cache error",
	ErrCodeExternalService:    "external service error",
	ErrCodeMessagingError:     "messaging error",
	ErrCodeConfigInvalid:      "invalid configuration",

	ErrCodeDealNotFound:      "deal not found",
	ErrCodeDateMalformed:     "malformed CRM date",
	ErrCodeTermInvalid:       "invalid loan term",
	ErrCodeClientNotFound:    "client not found",
	ErrCodePhoneInvalid:      "invalid phone number",
	ErrCodeNotificationIDBad: "invalid notification id",

	ErrCodeCRMUnauthorized: "CRM rejected credentials",
	ErrCodeCRMNotFound:     "CRM entity not found",
	ErrCodeCRMRateLimited:  "CRM rate limit exceeded",
	ErrCodeCRMBadResponse:  "unexpected CRM response",
	ErrCodeCRMUnavailable:  "CRM unavailable",

	ErrCodeDispatchFailed: "notification delivery failed",
	ErrCodeChatNotLinked:  "no chat linked to client",
}

// HTTPStatusForCode returns the HTTP status for code, 500 when unmapped.
func HTTPStatusForCode(code ErrorCode) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// DefaultMessageForCode returns the default message for code.
func DefaultMessageForCode(code ErrorCode) string {
	if msg, ok := ErrorCodeMessage[code]; ok {
		return msg
	}
	return "unknown error"
}

// IsClientError reports whether code maps to a 4xx status.
func IsClientError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 400 && status < 500
}

// IsServerError reports whether code maps to a 5xx status.
func IsServerError(code ErrorCode) bool {
	status := HTTPStatusForCode(code)
	return status >= 500 && status < 600
}

// ModuleForCode returns the module prefix of code ("COMMON", "DEAL", ...).
func ModuleForCode(code ErrorCode) string {
	parts := strings.Split(string(code), "_")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0]
	}
	return "UNKNOWN"
}
