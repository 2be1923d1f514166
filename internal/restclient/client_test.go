package restclient_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/require"

	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
	"github.com/lremane/gitlab-2-forge-migration/internal/restclient"
)

const (
	testTokenHeaderConstant     = "PRIVATE-TOKEN"
	testTokenValueConstant      = "secret"
	testOperationConstant       = "get project"
	testProjectPathConstant     = "projects/42"
	testRateLimitedCaseConstant = "rate_limited_then_success"
	testNotFoundCaseConstant    = "not_found_is_permanent"
	testExhaustedCaseConstant   = "repeated_rate_limit_exhausts_attempts"
	testProjectBodyConstant     = `{"id":42,"name":"service"}`
	testMaxAttemptsConstant     = 3
	testRetryIntervalConstant   = time.Millisecond
)

type testProject struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func TestClientRetryBehavior(testInstance *testing.T) {
	testCases := []struct {
		name             string
		failingResponses int32
		failureStatus    int
		expectError      bool
		expectTransient  bool
		expectNotFound   bool
		expectedAttempts int32
	}{
		{
			name:             testRateLimitedCaseConstant,
			failingResponses: 2,
			failureStatus:    http.StatusTooManyRequests,
			expectedAttempts: 3,
		},
		{
			name:             testNotFoundCaseConstant,
			failingResponses: 10,
			failureStatus:    http.StatusNotFound,
			expectError:      true,
			expectNotFound:   true,
			expectedAttempts: 1,
		},
		{
			name:             testExhaustedCaseConstant,
			failingResponses: 10,
			failureStatus:    http.StatusTooManyRequests,
			expectError:      true,
			expectTransient:  true,
			expectedAttempts: testMaxAttemptsConstant,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			var attemptCounter atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
				require.Equal(testInstance, testTokenValueConstant, request.Header.Get(testTokenHeaderConstant))
				currentAttempt := attemptCounter.Add(1)
				if currentAttempt <= testCase.failingResponses {
					responseWriter.WriteHeader(testCase.failureStatus)
					return
				}
				responseWriter.Header().Set("Content-Type", "application/json")
				_, _ = responseWriter.Write([]byte(testProjectBodyConstant))
			}))
			defer server.Close()

			client, creationError := restclient.NewClient(restclient.Options{
				BaseURL: server.URL,
				Headers: map[string]string{testTokenHeaderConstant: testTokenValueConstant},
				RetryPolicy: restclient.RetryPolicy{
					MaxAttempts:     testMaxAttemptsConstant,
					InitialInterval: testRetryIntervalConstant,
					MaxInterval:     testRetryIntervalConstant,
				},
			})
			require.NoError(testInstance, creationError)

			var project testProject
			_, requestError := client.DoJSON(context.Background(), restclient.Request{
				Operation: testOperationConstant,
				Method:    http.MethodGet,
				Path:      testProjectPathConstant,
			}, &project)

			require.Equal(testInstance, testCase.expectedAttempts, attemptCounter.Load())
			if !testCase.expectError {
				require.NoError(testInstance, requestError)
				require.Equal(testInstance, int64(42), project.ID)
				return
			}
			require.Error(testInstance, requestError)
			require.Equal(testInstance, testCase.expectTransient, migrationerrors.IsTransient(requestError))
			require.Equal(testInstance, testCase.expectNotFound, restclient.IsNotFound(requestError))
		})
	}
}

func TestNewClientRequiresBaseURL(testInstance *testing.T) {
	_, creationError := restclient.NewClient(restclient.Options{})
	require.Error(testInstance, creationError)
	require.True(testInstance, migrationerrors.IsValidation(creationError))
}

func TestCollectPagesPreservesPartialResults(testInstance *testing.T) {
	pageFailure := errors.New("connection reset")
	fetcher := func(executionContext context.Context, pageNumber int) ([]int, int, error) {
		switch pageNumber {
		case 1:
			return []int{1, 2}, 2, nil
		case 2:
			return []int{3}, 3, nil
		default:
			return nil, 0, pageFailure
		}
	}

	collectedItems, collectError := restclient.CollectPages(context.Background(), fetcher)
	require.ErrorIs(testInstance, collectError, pageFailure)
	require.Equal(testInstance, []int{1, 2, 3}, collectedItems)
}

func TestCollectPagesStopsOnEmptyPage(testInstance *testing.T) {
	var requestedPages []int
	fetcher := func(executionContext context.Context, pageNumber int) ([]string, int, error) {
		requestedPages = append(requestedPages, pageNumber)
		if pageNumber == 2 {
			return nil, 3, nil
		}
		return []string{"a"}, pageNumber + 1, nil
	}

	collectedItems, collectError := restclient.CollectPages(context.Background(), fetcher)
	require.NoError(testInstance, collectError)
	require.Equal(testInstance, []string{"a"}, collectedItems)
	require.Equal(testInstance, []int{1, 2}, requestedPages)
}

func TestNewClientRejectsMalformedBaseURL(testInstance *testing.T) {
	_, creationError := restclient.NewClient(restclient.Options{BaseURL: "forge.example.com api"})
	require.Error(testInstance, creationError)
	require.True(testInstance, migrationerrors.IsValidation(creationError))
	require.Contains(testInstance, creationError.Error(), "invalid base URL")
}

func TestClientWriteRetryBehavior(testInstance *testing.T) {
	testCases := []struct {
		name             string
		method           string
		failureStatus    int
		expectError      bool
		expectedAttempts int32
	}{
		{
			name:             "post_bad_gateway_not_replayed",
			method:           http.MethodPost,
			failureStatus:    http.StatusBadGateway,
			expectError:      true,
			expectedAttempts: 1,
		},
		{
			name:             "post_service_unavailable_not_replayed",
			method:           http.MethodPost,
			failureStatus:    http.StatusServiceUnavailable,
			expectError:      true,
			expectedAttempts: 1,
		},
		{
			name:             "patch_service_unavailable_replayed",
			method:           http.MethodPatch,
			failureStatus:    http.StatusServiceUnavailable,
			expectedAttempts: 2,
		},
		{
			name:             "post_rate_limited_replayed",
			method:           http.MethodPost,
			failureStatus:    http.StatusTooManyRequests,
			expectedAttempts: 2,
		},
		{
			name:             "put_bad_gateway_replayed",
			method:           http.MethodPut,
			failureStatus:    http.StatusBadGateway,
			expectedAttempts: 2,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(testInstance *testing.T) {
			var attemptCounter atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
				require.Equal(testInstance, testCase.method, request.Method)
				if attemptCounter.Add(1) == 1 {
					responseWriter.WriteHeader(testCase.failureStatus)
					return
				}
				responseWriter.WriteHeader(http.StatusCreated)
			}))
			defer server.Close()

			client, creationError := restclient.NewClient(restclient.Options{
				BaseURL: server.URL,
				RetryPolicy: restclient.RetryPolicy{
					MaxAttempts:     testMaxAttemptsConstant,
					InitialInterval: testRetryIntervalConstant,
					MaxInterval:     testRetryIntervalConstant,
				},
			})
			require.NoError(testInstance, creationError)

			_, requestError := client.Do(context.Background(), restclient.Request{
				Operation: testOperationConstant,
				Method:    testCase.method,
				Path:      testProjectPathConstant,
				Payload:   testProject{Name: "service"},
			})
			require.Equal(testInstance, testCase.expectedAttempts, attemptCounter.Load())
			if testCase.expectError {
				require.Error(testInstance, requestError)
				require.True(testInstance, migrationerrors.IsTransient(requestError))
				return
			}
			require.NoError(testInstance, requestError)
		})
	}
}

func TestCreateOnceAdoptsEntityAfterUncertainFailure(testInstance *testing.T) {
	client, creationError := restclient.NewClient(restclient.Options{
		BaseURL: "https://forge.example.com/api/v1",
		RetryPolicy: restclient.RetryPolicy{
			MaxAttempts:     testMaxAttemptsConstant,
			InitialInterval: testRetryIntervalConstant,
			MaxInterval:     testRetryIntervalConstant,
		},
	})
	require.NoError(testInstance, creationError)

	var stored []testProject
	createCalls := 0
	create := func(context.Context) (testProject, error) {
		createCalls++
		stored = append(stored, testProject{ID: 42, Name: "service"})
		return testProject{}, migrationerrors.TransientAPIError{Operation: testOperationConstant, StatusCode: http.StatusBadGateway, Cause: errors.New("bad gateway")}
	}
	find := func(context.Context) (testProject, bool, error) {
		for _, project := range stored {
			if project.Name == "service" {
				return project, true, nil
			}
		}
		return testProject{}, false, nil
	}

	project, createError := restclient.CreateOnce(context.Background(), client, testOperationConstant, create, find)
	require.NoError(testInstance, createError)
	require.Equal(testInstance, 1, createCalls)
	require.Len(testInstance, stored, 1)
	require.Equal(testInstance, int64(42), project.ID)
}

func TestCreateOnceRetriesWhenNothingWasCreated(testInstance *testing.T) {
	client, creationError := restclient.NewClient(restclient.Options{
		BaseURL: "https://forge.example.com/api/v1",
		RetryPolicy: restclient.RetryPolicy{
			MaxAttempts:     testMaxAttemptsConstant,
			InitialInterval: testRetryIntervalConstant,
			MaxInterval:     testRetryIntervalConstant,
		},
	})
	require.NoError(testInstance, creationError)

	createCalls := 0
	create := func(context.Context) (testProject, error) {
		createCalls++
		if createCalls == 1 {
			return testProject{}, migrationerrors.TransientAPIError{Operation: testOperationConstant, Cause: errors.New("connection reset")}
		}
		return testProject{ID: 7, Name: "service"}, nil
	}
	find := func(context.Context) (testProject, bool, error) {
		return testProject{}, false, nil
	}

	project, createError := restclient.CreateOnce(context.Background(), client, testOperationConstant, create, find)
	require.NoError(testInstance, createError)
	require.Equal(testInstance, 2, createCalls)
	require.Equal(testInstance, int64(7), project.ID)
}

func TestResponseErrorPreviewKeepsValidUTF8(testInstance *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(responseWriter http.ResponseWriter, request *http.Request) {
		responseWriter.WriteHeader(http.StatusBadRequest)
		_, _ = responseWriter.Write([]byte("a" + strings.Repeat("ü", 150)))
	}))
	defer server.Close()

	client, creationError := restclient.NewClient(restclient.Options{BaseURL: server.URL})
	require.NoError(testInstance, creationError)

	_, requestError := client.Do(context.Background(), restclient.Request{Operation: testOperationConstant, Method: http.MethodGet, Path: testProjectPathConstant})
	require.Error(testInstance, requestError)

	var responseError restclient.ResponseError
	require.True(testInstance, errors.As(requestError, &responseError))
	require.True(testInstance, utf8.ValidString(responseError.Body))
	require.True(testInstance, strings.HasSuffix(responseError.Body, "..."))
}
