// Copyright 2025 The REVA Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package orchestrator

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind is the failure taxonomy the orchestrator maps to HTTP
// codes. The gateways recover locally; whatever reaches this layer is
// already past their retry and fallback policy.
type ErrorKind string

const (
	KindInputInvalid       ErrorKind = "input_invalid"
	KindProviderUnavailable ErrorKind = "provider_unavailable"
	KindTimeoutExceeded    ErrorKind = "timeout_exceeded"
	KindNotFound           ErrorKind = "not_found"
	KindInternalError      ErrorKind = "internal_error"
)

// Error carries a kind plus a user-safe message in the request's
// language. Internal detail stays in Err and goes to logs only.
type Error struct {
	Kind        ErrorKind
	UserMessage string
	Err         error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// HTTPStatus maps the taxonomy to response codes.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindInputInvalid:
		return http.StatusBadRequest
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	case KindTimeoutExceeded:
		return http.StatusGatewayTimeout
	case KindNotFound:
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func newError(kind ErrorKind, userMessage string, err error) *Error {
	return &Error{Kind: kind, UserMessage: userMessage, Err: err}
}

// AsError extracts an *Error, wrapping foreign errors as internal.
func AsError(err error) *Error {
	var oe *Error
	if errors.As(err, &oe) {
		return oe
	}
	return newError(KindInternalError, userMessages["vi"].internal, err)
}

// userMessages holds the short user-visible failure texts per language.
var userMessages = map[string]struct {
	empty       string
	timeout     string
	unavailable string
	internal    string
	notFound    string
	degraded    string
}{
	"vi": {
		empty:       "Bạn vui lòng nhập câu hỏi về bất động sản, ví dụ: \"Tìm căn hộ 2 phòng ngủ ở Quận 7\".",
		timeout:     "Yêu cầu mất quá nhiều thời gian xử lý. Bạn vui lòng thử lại.",
		unavailable: "Hệ thống đang quá tải, bạn vui lòng thử lại sau ít phút.",
		internal:    "Đã có lỗi xảy ra. Bạn vui lòng thử lại.",
		notFound:    "Không tìm thấy bất động sản được yêu cầu.",
		degraded:    "Một phần dịch vụ đang gián đoạn nên câu trả lời có thể chưa đầy đủ.",
	},
	"en": {
		empty:       "Please enter a real-estate question, for example: \"Find a 2-bedroom apartment in District 7\".",
		timeout:     "The request took too long to process. Please try again.",
		unavailable: "The system is overloaded, please try again in a few minutes.",
		internal:    "Something went wrong. Please try again.",
		notFound:    "The requested property could not be found.",
		degraded:    "Part of the service is degraded, so the answer may be incomplete.",
	},
}

func messagesFor(language string) struct {
	empty       string
	timeout     string
	unavailable string
	internal    string
	notFound    string
	degraded    string
} {
	if m, ok := userMessages[language]; ok {
		return m
	}
	return userMessages["vi"]
}
