package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/small-frappuccino/modbot/pkg/log"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	CategoryStorage    ErrorCategory = "storage"
	CategoryDiscord    ErrorCategory = "discord"
	CategoryConfig     ErrorCategory = "config"
	CategoryCommand    ErrorCategory = "command"
	CategoryValidation ErrorCategory = "validation"
	CategoryInternal   ErrorCategory = "internal"
)

// ErrorSeverity represents the severity level of errors
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ServiceError represents a standardized error in the system
type ServiceError struct {
	Category  ErrorCategory  `json:"category"`
	Severity  ErrorSeverity  `json:"severity"`
	Message   string         `json:"message"`
	Operation string         `json:"operation"`
	Component string         `json:"component"`
	Cause     error          `json:"-"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s in %s.%s: %v", e.Category, e.Severity, e.Message, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s in %s.%s", e.Category, e.Severity, e.Message, e.Component, e.Operation)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// WithContext attaches a key/value pair and returns e for chaining.
func (e *ServiceError) WithContext(key string, value any) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

// NewServiceError creates a new service error with the specified parameters
func NewServiceError(category ErrorCategory, severity ErrorSeverity, component, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		Category:  category,
		Severity:  severity,
		Message:   message,
		Operation: operation,
		Component: component,
		Cause:     cause,
		Timestamp: time.Now(),
	}
}

// IsCategory reports whether err wraps a ServiceError of the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var se *ServiceError
	return stderrors.As(err, &se) && se.Category == category
}

// ErrorHandler logs errors with a severity-appropriate level and fans them
// out to registered notifiers.
type ErrorHandler struct {
	notifiers []ErrorNotifier
}

// ErrorNotifier defines how errors should be reported
type ErrorNotifier interface {
	NotifyError(ctx context.Context, err *ServiceError) error
}

// NewErrorHandler creates a new error handler
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{}
}

// AddNotifier registers an additional error notifier
func (eh *ErrorHandler) AddNotifier(notifier ErrorNotifier) {
	eh.notifiers = append(eh.notifiers, notifier)
}

// Handle normalizes err into a ServiceError, logs it and notifies.
func (eh *ErrorHandler) Handle(ctx context.Context, err error) error {
	if err == nil {
		return nil
	}

	serviceErr := eh.normalizeError(err)
	eh.logError(serviceErr)
	for _, notifier := range eh.notifiers {
		if notifyErr := notifier.NotifyError(ctx, serviceErr); notifyErr != nil {
			log.ErrorLoggerRaw().Error("Failed to notify error", "err", notifyErr)
		}
	}
	return serviceErr
}

// normalizeError converts any error into a ServiceError
func (eh *ErrorHandler) normalizeError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}

	var restErr *discordgo.RESTError
	if stderrors.As(err, &restErr) {
		se := NewServiceError(CategoryDiscord, SeverityMedium, "unknown", "unknown", "Discord API operation failed", err)
		if restErr.Message != nil {
			se.WithContext("discord_code", restErr.Message.Code)
			if restErr.Message.Code == discordgo.ErrCodeMissingPermissions || restErr.Message.Code == discordgo.ErrCodeMissingAccess {
				se.Severity = SeverityLow
			}
		}
		return se
	}

	category := categorizeError(err)
	return NewServiceError(category, severityForCategory(category), "unknown", "unknown", err.Error(), err)
}

// categorizeError attempts to categorize an error based on its message
func categorizeError(err error) ErrorCategory {
	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "discord") || strings.Contains(errStr, "gateway"):
		return CategoryDiscord
	case strings.Contains(errStr, "sql") || strings.Contains(errStr, "database"):
		return CategoryStorage
	case strings.Contains(errStr, "config") || strings.Contains(errStr, "environment"):
		return CategoryConfig
	case strings.Contains(errStr, "command") || strings.Contains(errStr, "interaction"):
		return CategoryCommand
	case strings.Contains(errStr, "validation") || strings.Contains(errStr, "invalid"):
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

func severityForCategory(category ErrorCategory) ErrorSeverity {
	switch category {
	case CategoryStorage, CategoryConfig:
		return SeverityHigh
	case CategoryValidation, CategoryCommand:
		return SeverityLow
	default:
		return SeverityMedium
	}
}

// logError logs the error using the appropriate severity level
func (eh *ErrorHandler) logError(err *ServiceError) {
	attrs := []any{
		"category", err.Category,
		"severity", err.Severity,
		"component", err.Component,
		"operation", err.Operation,
	}
	for k, v := range err.Context {
		attrs = append(attrs, k, v)
	}
	if err.Cause != nil {
		attrs = append(attrs, "err", err.Cause)
	}

	var logger *slog.Logger
	level := slog.LevelInfo
	switch err.Severity {
	case SeverityHigh:
		logger, level = log.ApplicationLogger(), slog.LevelWarn
	case SeverityCritical:
		logger, level = log.ErrorLoggerRaw(), slog.LevelError
	default:
		logger = log.ApplicationLogger()
	}
	logger.Log(context.Background(), level, err.Message, attrs...)
}
