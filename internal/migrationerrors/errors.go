package migrationerrors

import (
	"errors"
	"fmt"
	"strings"
)

const (
	transientAPIErrorTemplateConstant        = "%s: transient API failure (status %d): %v"
	transientAPIErrorWithoutStatusConstant   = "%s: transient API failure: %v"
	conflictErrorTemplateConstant            = "%s %q already exists in the target and is not a known migration artifact: %s"
	validationErrorTemplateConstant          = "%s: %s"
	validationErrorWithRowTemplateConstant   = "row %d: %s: %s"
	mappingErrorTemplateConstant             = "unresolved %s reference %q for %s: %s"
	mirrorConfigErrorTemplateConstant        = "push mirror for %s: %v"
	unknownOperationLabelConstant            = "request"
	defaultConflictMessageConstant           = "operator decision required"
	defaultMappingMessageConstant            = "no target identity"
	rateLimitedStatusCodeConstant            = 429
	serverErrorStatusCodeLowerBoundConstant  = 500
	serverErrorStatusCodeUpperBoundConstant  = 599
	notImplementedServerStatusCodeConstant   = 501
	mappingFieldAuthorConstant               = "author"
	mappingReferenceKindUserConstant         = "user"
	mappingPlaceholderSourceTemplateConstant = "migrated from %s, original author unknown"
	validationMessageRequiredValueConstant   = "value required"
	conflictEntityRepositoryConstant         = "repository"
	conflictEntityOrganizationConstant       = "organization"
)

// Exported entity and field labels reused across components.
const (
	ConflictEntityRepository   = conflictEntityRepositoryConstant
	ConflictEntityOrganization = conflictEntityOrganizationConstant
	MappingFieldAuthor         = mappingFieldAuthorConstant
	MappingReferenceKindUser   = mappingReferenceKindUserConstant
	ValidationMessageRequired  = validationMessageRequiredValueConstant
)

// TransientAPIError reports a retryable failure: a network blip, a rate limit, or a server-side error.
type TransientAPIError struct {
	Operation  string
	StatusCode int
	Cause      error
}

// Error describes the transient failure.
func (transientError TransientAPIError) Error() string {
	operation := transientError.Operation
	if len(strings.TrimSpace(operation)) == 0 {
		operation = unknownOperationLabelConstant
	}
	if transientError.StatusCode == 0 {
		return fmt.Sprintf(transientAPIErrorWithoutStatusConstant, operation, transientError.Cause)
	}
	return fmt.Sprintf(transientAPIErrorTemplateConstant, operation, transientError.StatusCode, transientError.Cause)
}

// Unwrap exposes the underlying cause.
func (transientError TransientAPIError) Unwrap() error {
	return transientError.Cause
}

// ConflictError reports a target entity that exists without being a recognized migration artifact.
type ConflictError struct {
	Entity     string
	Identifier string
	Message    string
}

// Error describes the conflict.
func (conflictError ConflictError) Error() string {
	message := conflictError.Message
	if len(strings.TrimSpace(message)) == 0 {
		message = defaultConflictMessageConstant
	}
	return fmt.Sprintf(conflictErrorTemplateConstant, conflictError.Entity, conflictError.Identifier, message)
}

// ValidationError reports malformed inventory or configuration input.
type ValidationError struct {
	Row       int
	FieldName string
	Message   string
}

// Error describes the validation failure.
func (validationError ValidationError) Error() string {
	if validationError.Row > 0 {
		return fmt.Sprintf(validationErrorWithRowTemplateConstant, validationError.Row, validationError.FieldName, validationError.Message)
	}
	return fmt.Sprintf(validationErrorTemplateConstant, validationError.FieldName, validationError.Message)
}

// MappingError reports a source reference that has no target counterpart.
type MappingError struct {
	Kind      string
	Reference string
	Field     string
	Message   string
}

// Error describes the unresolved reference.
func (mappingError MappingError) Error() string {
	message := mappingError.Message
	if len(strings.TrimSpace(message)) == 0 {
		message = defaultMappingMessageConstant
	}
	return fmt.Sprintf(mappingErrorTemplateConstant, mappingError.Kind, mappingError.Reference, mappingError.Field, message)
}

// MirrorConfigError reports a push mirror that could not be configured.
type MirrorConfigError struct {
	Repository string
	Cause      error
}

// Error describes the mirror configuration failure.
func (mirrorError MirrorConfigError) Error() string {
	return fmt.Sprintf(mirrorConfigErrorTemplateConstant, mirrorError.Repository, mirrorError.Cause)
}

// Unwrap exposes the underlying cause.
func (mirrorError MirrorConfigError) Unwrap() error {
	return mirrorError.Cause
}

// IsTransient reports whether the error chain contains a TransientAPIError.
func IsTransient(err error) bool {
	var transientError TransientAPIError
	return errors.As(err, &transientError)
}

// IsConflict reports whether the error chain contains a ConflictError.
func IsConflict(err error) bool {
	var conflictError ConflictError
	return errors.As(err, &conflictError)
}

// IsValidation reports whether the error chain contains a ValidationError.
func IsValidation(err error) bool {
	var validationError ValidationError
	return errors.As(err, &validationError)
}

// IsMirrorConfig reports whether the error chain contains a MirrorConfigError.
func IsMirrorConfig(err error) bool {
	var mirrorError MirrorConfigError
	return errors.As(err, &mirrorError)
}

// IsRetryableStatus reports whether an HTTP status code signals a transient condition.
func IsRetryableStatus(statusCode int) bool {
	if statusCode == rateLimitedStatusCodeConstant {
		return true
	}
	if statusCode == notImplementedServerStatusCodeConstant {
		return false
	}
	return statusCode >= serverErrorStatusCodeLowerBoundConstant && statusCode <= serverErrorStatusCodeUpperBoundConstant
}

// UnknownAuthorPlaceholder renders the note attached to items whose author has no target identity.
func UnknownAuthorPlaceholder(sourceIdentifier string) string {
	return fmt.Sprintf(mappingPlaceholderSourceTemplateConstant, sourceIdentifier)
}
