// Package errors provides structured error handling for parley services.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

// Kind groups codes into the rejection families callers must distinguish.
type Kind string

const (
	KindUnauthenticated Kind = "unauthenticated"
	KindUnauthorized    Kind = "unauthorized"
	KindTokenInvalid    Kind = "token_invalid"
	KindNotFound        Kind = "not_found"
	KindConflict        Kind = "conflict"
	KindInvalidInput    Kind = "invalid_input"
	KindInternal        Kind = "internal"
)

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Authentication errors
	CodeAuthRequired       Code = "AUTH_REQUIRED"
	CodeSessionInvalid     Code = "SESSION_INVALID"
	CodeInvalidCredentials Code = "INVALID_CREDENTIALS"

	// Authorization errors
	CodeConversationMembershipRequired Code = "CONVERSATION_MEMBERSHIP_REQUIRED"
	CodeConversationGroupOnly          Code = "CONVERSATION_GROUP_ONLY"
	CodeMessageSenderRequired          Code = "MESSAGE_SENDER_REQUIRED"

	// Purpose token errors
	CodeTokenInvalid Code = "TOKEN_INVALID"

	// User errors
	CodeUserInvalidHandle      Code = "USER_INVALID_HANDLE"
	CodeUserInvalidEmail       Code = "USER_INVALID_EMAIL"
	CodeUserEmptyDisplayName   Code = "USER_EMPTY_DISPLAY_NAME"
	CodeUserPasswordTooShort   Code = "USER_PASSWORD_TOO_SHORT"
	CodeUserPasswordTooLong    Code = "USER_PASSWORD_TOO_LONG"
	CodeUserHandleTaken        Code = "USER_HANDLE_TAKEN"
	CodeUserEmailTaken         Code = "USER_EMAIL_TAKEN"
	CodeUserEmailAlreadyVerify Code = "USER_EMAIL_ALREADY_VERIFIED"

	// Conversation errors
	CodeConversationInvalidParticipants Code = "CONVERSATION_INVALID_PARTICIPANTS"
	CodeConversationNameNotAllowed      Code = "CONVERSATION_NAME_NOT_ALLOWED"
	CodeConversationNameEmpty           Code = "CONVERSATION_NAME_EMPTY"
	CodeMessageEmpty                    Code = "MESSAGE_EMPTY"
	CodeMessageTooLong                  Code = "MESSAGE_TOO_LONG"
	CodeMessageInvalidReply             Code = "MESSAGE_INVALID_REPLY"

	// Request errors
	CodeInvalidInput  Code = "INVALID_INPUT"
	CodeInvalidPage   Code = "INVALID_PAGE"
	CodeInvalidSearch Code = "INVALID_SEARCH"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"
	CodeConflict Code = "CONFLICT"
	CodeInternal Code = "INTERNAL"
)

// Kind reports the rejection family of a code.
func (c Code) Kind() Kind {
	switch c {
	case CodeAuthRequired,
		CodeSessionInvalid,
		CodeInvalidCredentials:
		return KindUnauthenticated

	case CodeConversationMembershipRequired,
		CodeConversationGroupOnly,
		CodeMessageSenderRequired:
		return KindUnauthorized

	case CodeTokenInvalid:
		return KindTokenInvalid

	case CodeNotFound:
		return KindNotFound

	case CodeConflict,
		CodeUserHandleTaken,
		CodeUserEmailTaken,
		CodeUserEmailAlreadyVerify:
		return KindConflict

	case CodeUserInvalidHandle,
		CodeUserInvalidEmail,
		CodeUserEmptyDisplayName,
		CodeUserPasswordTooShort,
		CodeUserPasswordTooLong,
		CodeConversationInvalidParticipants,
		CodeConversationNameNotAllowed,
		CodeConversationNameEmpty,
		CodeMessageEmpty,
		CodeMessageTooLong,
		CodeMessageInvalidReply,
		CodeInvalidInput,
		CodeInvalidPage,
		CodeInvalidSearch:
		return KindInvalidInput

	default:
		return KindInternal
	}
}

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c.Kind() {
	case KindUnauthenticated:
		return http.StatusUnauthorized
	case KindUnauthorized:
		return http.StatusForbidden
	case KindTokenInvalid, KindInvalidInput:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
