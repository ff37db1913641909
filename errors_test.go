// errors_test.go: structured error helper tests
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodes(t *testing.T) {
	cause := stderrors.New("disk full")
	testCases := []struct {
		err  error
		code string
	}{
		{NewPluginNotFoundError("installed", "mail"), ErrCodePluginNotFound},
		{NewCorePluginViolationError("core-ui", "uninstall"), ErrCodeCorePluginViolation},
		{NewDependencyNotFoundError("review", "mail"), ErrCodeDependencyNotFound},
		{NewCircularDependencyError("X", "Y", []string{"X", "Y", "X"}), ErrCodeCircularDependency},
		{NewChecksumMismatchError("mail", "aa", "bb"), ErrCodeChecksumMismatch},
		{NewCancellationFailedError("mail", "/tmp/mail.pkg", cause), ErrCodeCancellationFailed},
		{NewStorageError("cannot stage", "/tmp", cause), ErrCodeStorageError},
		{NewPendingChangeError("mail", "uninstall"), ErrCodePendingChange},
		{NewNotPermittedError(PermissionManage, nil), ErrCodeNotPermitted},
		{NewLoadingUnitError("mail", "broken", cause), ErrCodeLoadingUnitError},
		{NewAuditError("closed", nil), ErrCodeAuditError},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.code, ErrorCodeOf(tc.err))
		assert.True(t, HasErrorCode(tc.err, tc.code))
	}
}

func TestHasErrorCode_ChainsAndJoins(t *testing.T) {
	assert.False(t, HasErrorCode(nil, ErrCodePluginNotFound))
	assert.Empty(t, ErrorCodeOf(stderrors.New("plain")))

	wrapped := fmt.Errorf("install: %w", NewDependencyNotFoundError("review", "mail"))
	assert.True(t, HasErrorCode(wrapped, ErrCodeDependencyNotFound))

	joined := stderrors.Join(
		NewCancellationFailedError("mail", "/a", stderrors.New("busy")),
		NewStorageError("cannot remove", "/b", nil),
	)
	assert.True(t, HasErrorCode(joined, ErrCodeCancellationFailed))
	assert.True(t, HasErrorCode(joined, ErrCodeStorageError))
	assert.False(t, HasErrorCode(joined, ErrCodePluginNotFound))
}

func TestErrorContext(t *testing.T) {
	err := NewDependencyStillNeededError("mail", []string{"chat", "review"})

	plugin, ok := ErrorContext(err, "plugin_name")
	assert.True(t, ok)
	assert.Equal(t, "mail", plugin)

	dependents, ok := ErrorContext(err, "dependents")
	assert.True(t, ok)
	assert.Equal(t, []string{"chat", "review"}, dependents)

	_, ok = ErrorContext(err, "missing")
	assert.False(t, ok)
	_, ok = ErrorContext(stderrors.New("plain"), "plugin_name")
	assert.False(t, ok)
}
