package billing

import "net/http"

var statusCodeMapping = map[int]ErrorCode{
	http.StatusUnauthorized:    CodeInvalidCredentials,
	http.StatusForbidden:       CodeAccessDenied,
	http.StatusTooManyRequests: CodeThrottled,
}

var errorTypeMapping = map[string]ErrorCode{
	"UnrecognizedClientException": CodeInvalidCredentials,
	"InvalidClientTokenId":        CodeInvalidCredentials,
	"InvalidSignatureException":   CodeInvalidCredentials,
	"ExpiredTokenException":       CodeInvalidCredentials,
	"AccessDeniedException":       CodeAccessDenied,
	"UnauthorizedOperation":       CodeAccessDenied,
	"ThrottlingException":         CodeThrottled,
	"LimitExceededException":      CodeThrottled,
	"RequestLimitExceeded":        CodeThrottled,
}

var codeMessages = map[ErrorCode]string{
	CodeInvalidCredentials: "AWS rejected the access key",
	CodeAccessDenied:       "AWS denied access to Cost Explorer",
	CodeThrottled:          "AWS throttled the Cost Explorer request",
	CodeProviderError:      "AWS Cost Explorer request failed",
}

// MapFailure resolves a provider failure. The error type wins over the HTTP
// status; anything unmapped is a PROVIDER_ERROR.
func MapFailure(status int, errorType string) ErrorCode {
	if code, ok := errorTypeMapping[errorType]; ok {
		return code
	}
	if code, ok := statusCodeMapping[status]; ok {
		return code
	}
	return CodeProviderError
}

// MessageFor returns the user-facing reason for code.
func MessageFor(code ErrorCode) string {
	if msg, ok := codeMessages[code]; ok {
		return msg
	}
	return codeMessages[CodeProviderError]
}
