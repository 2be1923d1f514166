package migrationerrors_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	testOperationConstant            = "list projects"
	testRepositoryConstant           = "team-a/service"
	testTransientCaseConstant        = "transient_wrapped"
	testConflictCaseConstant         = "conflict_wrapped"
	testValidationCaseConstant       = "validation_wrapped"
	testMirrorCaseConstant           = "mirror_wrapped"
	testPlainErrorCaseConstant       = "plain_error"
	testWrapTemplateConstant         = "stage failed: %w"
	testPlaceholderSourceConstant    = "https://gitlab.example.com/team-a/service/-/issues/7"
	testExpectedPlaceholderConstant  = "migrated from https://gitlab.example.com/team-a/service/-/issues/7, original author unknown"
	testValidationRowMessageConstant = "row 3: source_id: value required"
)

func TestClassificationHelpers(testInstance *testing.T) {
	testCases := []struct {
		name              string
		err               error
		expectTransient   bool
		expectConflict    bool
		expectValidation  bool
		expectMirrorError bool
	}{
		{
			name:            testTransientCaseConstant,
			err:             fmt.Errorf(testWrapTemplateConstant, migrationerrors.TransientAPIError{Operation: testOperationConstant, StatusCode: 429, Cause: errors.New("slow down")}),
			expectTransient: true,
		},
		{
			name:           testConflictCaseConstant,
			err:            fmt.Errorf(testWrapTemplateConstant, migrationerrors.ConflictError{Entity: migrationerrors.ConflictEntityRepository, Identifier: testRepositoryConstant}),
			expectConflict: true,
		},
		{
			name:             testValidationCaseConstant,
			err:              fmt.Errorf(testWrapTemplateConstant, migrationerrors.ValidationError{FieldName: "source_id", Message: migrationerrors.ValidationMessageRequired}),
			expectValidation: true,
		},
		{
			name:              testMirrorCaseConstant,
			err:               fmt.Errorf(testWrapTemplateConstant, migrationerrors.MirrorConfigError{Repository: testRepositoryConstant, Cause: errors.New("unreachable")}),
			expectMirrorError: true,
		},
		{
			name: testPlainErrorCaseConstant,
			err:  errors.New("plain"),
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			require.Equal(testInstance, testCase.expectTransient, migrationerrors.IsTransient(testCase.err))
			require.Equal(testInstance, testCase.expectConflict, migrationerrors.IsConflict(testCase.err))
			require.Equal(testInstance, testCase.expectValidation, migrationerrors.IsValidation(testCase.err))
			require.Equal(testInstance, testCase.expectMirrorError, migrationerrors.IsMirrorConfig(testCase.err))
		})
	}
}

func TestRetryableStatusCodes(testInstance *testing.T) {
	require.True(testInstance, migrationerrors.IsRetryableStatus(429))
	require.True(testInstance, migrationerrors.IsRetryableStatus(502))
	require.True(testInstance, migrationerrors.IsRetryableStatus(503))
	require.False(testInstance, migrationerrors.IsRetryableStatus(501))
	require.False(testInstance, migrationerrors.IsRetryableStatus(404))
	require.False(testInstance, migrationerrors.IsRetryableStatus(409))
}

func TestErrorMessages(testInstance *testing.T) {
	require.Equal(testInstance, testExpectedPlaceholderConstant, migrationerrors.UnknownAuthorPlaceholder(testPlaceholderSourceConstant))

	validationError := migrationerrors.ValidationError{Row: 3, FieldName: "source_id", Message: migrationerrors.ValidationMessageRequired}
	require.Equal(testInstance, testValidationRowMessageConstant, validationError.Error())

	cause := errors.New("credentials rejected")
	mirrorError := migrationerrors.MirrorConfigError{Repository: testRepositoryConstant, Cause: cause}
	require.ErrorIs(testInstance, mirrorError, cause)
}
