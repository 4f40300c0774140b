package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorString(t *testing.T) {
	err := New(CodeNotFound, "not found on remote").WithContext("path", "a/b.csv")
	s := err.Error()
	if !strings.Contains(s, "E102") {
		t.Errorf("Expected code in message, got %q", s)
	}
	if !strings.Contains(s, "path=a/b.csv") {
		t.Errorf("Expected context in message, got %q", s)
	}
}

func TestWrapNilReturnsNil(t *testing.T) {
	if Wrap(nil, CodeConfig, "ignored") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestUnwrapChain(t *testing.T) {
	cause := fmt.Errorf("socket closed")
	err := Wrap(cause, CodeConnection, "fetch failed")
	if !stderrors.Is(err, cause) {
		t.Error("Expected errors.Is to find the cause")
	}
	if GetCode(err) != CodeConnection {
		t.Errorf("Expected E107, got %s", GetCode(err))
	}
}

func TestGetCode_PlainError(t *testing.T) {
	if GetCode(fmt.Errorf("plain")) != CodeUnknown {
		t.Error("Plain errors should map to CodeUnknown")
	}
}

func TestRemoteStatus(t *testing.T) {
	cases := []struct {
		status int
		code   Code
	}{
		{404, CodeNotFound},
		{401, CodeUnauthorized},
		{403, CodeForbidden},
		{500, CodeRemoteStatus},
		{429, CodeRemoteStatus},
	}
	for _, c := range cases {
		err := RemoteStatus(c.status, "file.parquet")
		if err.Code != c.code {
			t.Errorf("Status %d: expected %s, got %s", c.status, c.code, err.Code)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	if !IsRetryable(New(CodeTimeout, "timed out")) {
		t.Error("Timeouts should be retryable")
	}
	if !IsRetryable(New(CodeConnection, "refused")) {
		t.Error("Connection errors should be retryable")
	}
	if !IsRetryable(RemoteStatus(503, "f")) {
		t.Error("5xx should be retryable")
	}
	if IsRetryable(RemoteStatus(404, "f")) {
		t.Error("404 should not be retryable")
	}
	if IsRetryable(TokenMissing()) {
		t.Error("Missing token should not be retryable")
	}
}

func TestMultiError(t *testing.T) {
	var m MultiError
	if m.Combined() != nil {
		t.Error("Empty MultiError should combine to nil")
	}

	first := New(CodeDecodeFailed, "bad parquet")
	m.Add(first)
	m.Add(nil)
	if m.Combined() != first {
		t.Error("Single error should combine to itself")
	}

	m.Add(New(CodeTimestampRange, "year out of range"))
	combined := m.Combined()
	if combined == nil || !strings.Contains(combined.Error(), "2 errors") {
		t.Errorf("Unexpected combined error: %v", combined)
	}
}
