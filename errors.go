// errors.go: structured error definitions for the plugin lifecycle engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the plugin lifecycle engine.
//
// The code is the error kind: callers branch on it with HasErrorCode and read
// the identifiers of the entities involved from the error context.
const (
	// Lookup errors (1000-1099)
	ErrCodePluginNotFound      = "PLUGIN_1001"
	ErrCodeCorePluginViolation = "PLUGIN_1002"
	ErrCodeDuplicatePlugin     = "PLUGIN_1003"
	ErrCodeInvalidVersion      = "PLUGIN_1004"
	ErrCodeInvalidDescriptor   = "PLUGIN_1005"

	// Dependency errors (1100-1199)
	ErrCodeDependencyNotFound        = "DEPENDENCY_1101"
	ErrCodeDependencyVersionMismatch = "DEPENDENCY_1102"
	ErrCodeCircularDependency        = "DEPENDENCY_1103"
	ErrCodePluginNotInstallable      = "DEPENDENCY_1104"
	ErrCodeDependencyStillNeeded     = "DEPENDENCY_1105"

	// Compatibility errors (1200-1299)
	ErrCodePluginConditionFailed = "COMPAT_1201"
	ErrCodeSchemaIncompatible    = "COMPAT_1202"

	// Installation errors (1300-1399)
	ErrCodeChecksumMismatch   = "INSTALL_1301"
	ErrCodeDownloadFailed     = "INSTALL_1302"
	ErrCodeCancellationFailed = "INSTALL_1303"
	ErrCodeStorageError       = "INSTALL_1304"
	ErrCodePendingChange      = "INSTALL_1305"

	// Authorization errors (1400-1499)
	ErrCodeNotPermitted = "AUTH_1401"

	// Code loading errors (1500-1599)
	ErrCodeSymbolNotFound   = "LOADING_1501"
	ErrCodeLoadingUnitError = "LOADING_1502"
	ErrCodeResourceNotFound = "LOADING_1503"

	// Collaborator errors (1600-1699)
	ErrCodeCatalogError = "CATALOG_1601"
	ErrCodeJournalError = "JOURNAL_1602"
	ErrCodeRestartError = "RESTART_1603"
	ErrCodeAuditError   = "AUDIT_1604"

	// Configuration errors (1700-1799)
	ErrCodeConfigNotFound        = "CONFIG_1701"
	ErrCodeConfigParseError      = "CONFIG_1702"
	ErrCodeConfigValidationError = "CONFIG_1703"
	ErrCodeConfigWatcherError    = "CONFIG_1704"
)

// ErrorCodeOf returns the code of the first structured error in err's chain,
// or an empty string when the chain carries none.
func ErrorCodeOf(err error) string {
	var structured *errors.Error
	if stderrors.As(err, &structured) {
		return string(structured.Code)
	}
	return ""
}

// HasErrorCode reports whether any structured error in err's chain carries code.
// Joined errors (as returned by CancelPending) are searched entry by entry.
func HasErrorCode(err error, code string) bool {
	if err == nil {
		return false
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			if HasErrorCode(inner, code) {
				return true
			}
		}
		return false
	}
	return ErrorCodeOf(err) == code
}

// ErrorContext returns the context value stored under key in the first
// structured error of err's chain.
func ErrorContext(err error, key string) (interface{}, bool) {
	var structured *errors.Error
	if !stderrors.As(err, &structured) || structured.Context == nil {
		return nil, false
	}
	value, ok := structured.Context[key]
	return value, ok
}

// wrapOrNew keeps constructors readable when a cause is optional.
func wrapOrNew(cause error, code, message string) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, errors.ErrorCode(code), message)
	}
	return errors.New(errors.ErrorCode(code), message)
}

// Lookup error constructors

func NewPluginNotFoundError(entity, name string) *errors.Error {
	return errors.New(ErrCodePluginNotFound, "Plugin not found").
		WithUserMessage("The requested plugin does not exist").
		WithContext("entity_type", entity).
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewCorePluginViolationError(name, operation string) *errors.Error {
	return errors.New(ErrCodeCorePluginViolation, "Core plugin cannot be modified").
		WithUserMessage("Core plugins are bundled with the host and cannot be updated or uninstalled").
		WithContext("plugin_name", name).
		WithContext("operation", operation).
		WithSeverity("error")
}

func NewDuplicatePluginError(name string) *errors.Error {
	return errors.New(ErrCodeDuplicatePlugin, "Duplicate plugin name").
		WithUserMessage("Plugin names must be unique").
		WithContext("plugin_name", name).
		WithSeverity("error")
}

func NewInvalidVersionError(version string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeInvalidVersion, "Invalid plugin version").
		WithUserMessage("The version string is not a valid semantic version").
		WithContext("version", version).
		WithSeverity("error")
}

func NewInvalidDescriptorError(source string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeInvalidDescriptor, "Invalid plugin descriptor").
		WithUserMessage("The plugin descriptor could not be read").
		WithContext("source", source).
		WithSeverity("error")
}

// Dependency error constructors

func NewDependencyNotFoundError(pluginName, dependency string) *errors.Error {
	return errors.New(ErrCodeDependencyNotFound, "Dependency not found").
		WithUserMessage("A required dependency is neither installed nor pending installation").
		WithContext("plugin_name", pluginName).
		WithContext("dependency_name", dependency).
		WithSeverity("error")
}

func NewDependencyVersionMismatchError(pluginName, dependency, required, actual string) *errors.Error {
	return errors.New(ErrCodeDependencyVersionMismatch, "Dependency version mismatch").
		WithUserMessage("An installed dependency is older than the required minimum version").
		WithContext("plugin_name", pluginName).
		WithContext("dependency_name", dependency).
		WithContext("required_version", required).
		WithContext("actual_version", actual).
		WithSeverity("error")
}

func NewCircularDependencyError(pluginName, dependency string, cycle []string) *errors.Error {
	return errors.New(ErrCodeCircularDependency, "Circular dependency detected").
		WithUserMessage("Plugins depend on each other").
		WithContext("plugin_name", pluginName).
		WithContext("dependency_name", dependency).
		WithContext("cycle", cycle).
		WithSeverity("error")
}

func NewPluginNotInstallableError(pluginName, missing string) *errors.Error {
	return errors.New(ErrCodePluginNotInstallable, "Plugin not installable").
		WithUserMessage("A hard dependency of the plugin is missing").
		WithContext("plugin_name", pluginName).
		WithContext("dependency_name", missing).
		WithSeverity("error")
}

func NewDependencyStillNeededError(pluginName string, dependents []string) *errors.Error {
	return errors.New(ErrCodeDependencyStillNeeded, "Plugin is needed as a dependency for other plugins").
		WithUserMessage("Uninstall the dependent plugins first").
		WithContext("plugin_name", pluginName).
		WithContext("dependents", dependents).
		WithSeverity("error")
}

// Compatibility error constructors

func NewPluginConditionFailedError(pluginName string, check ConditionCheck) *errors.Error {
	return errors.New(ErrCodePluginConditionFailed, "Plugin condition failed").
		WithUserMessage("The plugin cannot run on this host").
		WithContext("plugin_name", pluginName).
		WithContext("check_status", string(check.Status)).
		WithContext("check_reasons", check.Reasons).
		WithSeverity("error")
}

func NewSchemaIncompatibleError(pluginName string, required, supported int) *errors.Error {
	return errors.New(ErrCodeSchemaIncompatible, "Descriptor schema version incompatible").
		WithUserMessage("The plugin was built for a different host schema; upgrade the host").
		WithContext("plugin_name", pluginName).
		WithContext("required_schema", required).
		WithContext("supported_schema", supported).
		WithSeverity("critical")
}

// Installation error constructors

func NewChecksumMismatchError(pluginName, expected, actual string) *errors.Error {
	return errors.New(ErrCodeChecksumMismatch, "Checksum mismatch").
		WithUserMessage("The downloaded plugin does not match the catalog checksum").
		WithContext("plugin_name", pluginName).
		WithContext("expected_checksum", expected).
		WithContext("actual_checksum", actual).
		WithSeverity("error")
}

func NewDownloadFailedError(pluginName, url string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeDownloadFailed, "Plugin download failed").
		WithUserMessage("The plugin artifact could not be retrieved").
		WithContext("plugin_name", pluginName).
		WithContext("url", url).
		WithSeverity("error").
		AsRetryable()
}

func NewCancellationFailedError(pluginName, path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeCancellationFailed, "Failed to cancel pending change").
		WithUserMessage("A pending plugin change could not be reverted on disk").
		WithContext("plugin_name", pluginName).
		WithContext("path", path).
		WithSeverity("error")
}

func NewPendingChangeError(pluginName, operation string) *errors.Error {
	return errors.New(ErrCodePendingChange, "Plugin already has a pending change").
		WithUserMessage("Cancel the pending change or restart the host before modifying this plugin again").
		WithContext("plugin_name", pluginName).
		WithContext("operation", operation).
		WithSeverity("warning")
}

func NewStorageError(message, path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeStorageError, "Plugin storage error: "+message).
		WithUserMessage("Plugin storage operation failed").
		WithContext("path", path).
		WithSeverity("error")
}

// Authorization error constructors

func NewNotPermittedError(permission Permission, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeNotPermitted, "Not permitted").
		WithUserMessage("You are not allowed to perform this plugin operation").
		WithContext("permission", string(permission)).
		WithSeverity("error")
}

// Code loading error constructors

func NewSymbolNotFoundError(unit, symbol string) *errors.Error {
	return errors.New(ErrCodeSymbolNotFound, "Symbol not found").
		WithUserMessage("The symbol is not provided by the loading unit").
		WithContext("unit", unit).
		WithContext("symbol", symbol).
		WithSeverity("warning")
}

func NewResourceNotFoundError(unit, resource string) *errors.Error {
	return errors.New(ErrCodeResourceNotFound, "Resource not found").
		WithUserMessage("The resource is not bundled with the loading unit").
		WithContext("unit", unit).
		WithContext("resource", resource).
		WithSeverity("warning")
}

func NewLoadingUnitError(unit, message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeLoadingUnitError, "Loading unit error: "+message).
		WithUserMessage("Plugin code could not be loaded").
		WithContext("unit", unit).
		WithSeverity("error")
}

// Collaborator error constructors

func NewCatalogError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeCatalogError, "Catalog error: "+message).
		WithUserMessage("The plugin catalog is unavailable").
		WithSeverity("error").
		AsRetryable()
}

func NewJournalError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeJournalError, "Journal error: "+message).
		WithUserMessage("Lifecycle journal operation failed").
		WithSeverity("warning")
}

func NewRestartError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeRestartError, "Restart signal error: "+message).
		WithUserMessage("The restart request could not be delivered").
		WithSeverity("error")
}

func NewAuditError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeAuditError, "Audit error: "+message).
		WithSeverity("warning")
}

// Configuration error constructors

func NewConfigNotFoundError(path string) *errors.Error {
	return errors.New(ErrCodeConfigNotFound, "Configuration file not found").
		WithUserMessage("The configuration file could not be found").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigParseError, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigValidationError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigValidationError, "Configuration validation error: "+message).
		WithUserMessage("Configuration validation failed").
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return wrapOrNew(cause, ErrCodeConfigWatcherError, "Configuration watcher error: "+message).
		WithUserMessage("Configuration monitoring failed").
		WithSeverity("error")
}
