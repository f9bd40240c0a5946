package utils

import (
	"errors"
	"net/http"
)

type AppError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Origin  error  `json:"-"` // Original error that caused this error, if any
}

func (appErr *AppError) Error() string {
	if appErr.Origin != nil {
		return appErr.Message + ": " + appErr.Origin.Error()
	}
	return appErr.Message
}

func (appErr *AppError) Unwrap() error {
	return appErr.Origin
}

// Standard error codes for the application
const (
	// Resource errors
	ErrNotFound        = "NOT_FOUND"
	ErrMessageNotFound = "MESSAGE_NOT_FOUND"
	ErrGroupNotFound   = "GROUP_NOT_FOUND"
	ErrUserNotFound    = "USER_NOT_FOUND"
	ErrInvalidInput    = "INVALID_INPUT"

	// Authentication/Authorization errors
	ErrUnauthorized = "UNAUTHORIZED"
	ErrForbidden    = "FORBIDDEN" // User is authenticated but doesn't have permission
	ErrInvalidToken = "INVALID_TOKEN"

	// Social gate
	ErrNotFriends         = "NOT_FRIENDS"
	ErrBlockedByReceiver  = "BLOCKED_BY_RECEIVER"
	ErrBlockedBySender    = "BLOCKED_BY_SENDER"
	ErrNotGroupMember     = "NOT_GROUP_MEMBER"
	ErrAnnouncementOnly   = "ANNOUNCEMENT_RESTRICTED"
	ErrEditWindowExpired  = "EDIT_WINDOW_EXPIRED"
	ErrSelfReaction       = "SELF_REACTION"
	ErrAlreadyGroupMember = "ALREADY_GROUP_MEMBER"

	// Collaborators
	ErrUpstream = "UPSTREAM_FAILURE"

	// Rate limiting
	ErrTooManyRequests = "TOO_MANY_REQUESTS"

	ErrDatabase = "database_error"
)

// Error creation helper functions
func NewAppError(code string, message string, originalErr error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  originalErr,
	}
}

func NewForbiddenError(reason string) *AppError {
	return &AppError{
		Code:    ErrForbidden,
		Message: "Forbidden: " + reason,
	}
}

func NewInvalidInputError(reason string) *AppError {
	return &AppError{
		Code:    ErrInvalidInput,
		Message: reason,
	}
}

func NewMessageNotFoundError(messageID string) *AppError {
	return &AppError{
		Code:    ErrMessageNotFound,
		Message: "Message not found: " + messageID,
	}
}

func NewGroupNotFoundError(groupID string) *AppError {
	return &AppError{
		Code:    ErrGroupNotFound,
		Message: "Group not found: " + groupID,
	}
}

func NewUserNotFoundError(userId string) *AppError {
	return &AppError{
		Code:    ErrUserNotFound,
		Message: "User not found: " + userId,
	}
}

func NewUnauthorizedError(reason string) *AppError {
	return &AppError{
		Code:    ErrUnauthorized,
		Message: "Unauthorized: " + reason,
	}
}

func NewDatabaseError(operation string, err error) *AppError {
	return &AppError{
		Code:    ErrDatabase,
		Message: "database operation failed: " + operation,
		Origin:  err,
	}
}

// Helper method to check if an error is of a specific type
func IsErrorCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Helper method to check if an error is related to authentication
func IsAuthError(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrUnauthorized ||
			appErr.Code == ErrForbidden ||
			appErr.Code == ErrInvalidToken
	}
	return false
}

// AsAppError returns err as an AppError, wrapping unknown errors as
// upstream failures.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewAppError(ErrUpstream, "request failed", err)
}

// AppErrorToHTTPStatus converts an AppError code to an HTTP status code.
func AppErrorToHTTPStatus(errorCode string) int {
	switch errorCode {
	case ErrNotFound, ErrMessageNotFound, ErrGroupNotFound, ErrUserNotFound:
		return http.StatusNotFound
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrUnauthorized, ErrInvalidToken:
		return http.StatusUnauthorized
	case ErrForbidden, ErrNotFriends, ErrBlockedByReceiver, ErrBlockedBySender,
		ErrNotGroupMember, ErrAnnouncementOnly, ErrSelfReaction:
		return http.StatusForbidden
	case ErrEditWindowExpired, ErrAlreadyGroupMember:
		return http.StatusConflict
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrUpstream:
		return http.StatusBadGateway
	case ErrDatabase:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
