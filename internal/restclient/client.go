package restclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"go.uber.org/zap"

	"github.com/lremane/gitlab-2-forge-migration/internal/migrationerrors"
)

const (
	contentTypeHeaderNameConstant         = "Content-Type"
	acceptHeaderNameConstant              = "Accept"
	jsonContentTypeConstant               = "application/json"
	pathSeparatorConstant                 = "/"
	queryPrefixConstant                   = "?"
	responseBodyPreviewLimitConstant      = 200
	responseBodyTruncationSuffixConstant  = "..."
	defaultRequestTimeoutConstant         = 60 * time.Second
	defaultMaxAttemptsConstant            = 5
	defaultInitialIntervalConstant        = 500 * time.Millisecond
	defaultMaxIntervalConstant            = 30 * time.Second
	requestCreationErrorTemplateConstant  = "unable to create %s request for %s: %w"
	payloadEncodingErrorTemplateConstant  = "unable to encode payload for %s: %w"
	responseReadErrorTemplateConstant     = "unable to read response for %s: %w"
	responseDecodingErrorTemplateConstant = "unable to decode response for %s: %w"
	responseErrorTemplateConstant         = "%s %s %s: HTTP %d: %s"
	baseURLParseErrorTemplateConstant     = "invalid base URL %q: %v"
	retryScheduledMessageConstant         = "retrying API request"
	reconcileRetryMessageConstant         = "create outcome unknown, checking target before retrying"
	dialOperationConstant                 = "dial"
	logFieldOperationConstant             = "operation"
	logFieldMethodConstant                = "method"
	logFieldPathConstant                  = "path"
	logFieldDelayConstant                 = "delay"
	logFieldErrorConstant                 = "error"
	minimumSuccessStatusCodeConstant      = 200
	maximumSuccessStatusCodeConstant      = 299
	httpStatusNotFoundConstant            = http.StatusNotFound
	httpStatusConflictConstant            = http.StatusConflict
	httpStatusUnprocessableEntityConstant = http.StatusUnprocessableEntity
	missingBaseURLMessageConstant         = "base URL required"
	baseURLFieldNameConstant              = "base_url"
)

// ErrBaseURLRequired indicates a client constructed without a base URL.
var ErrBaseURLRequired = errors.New(missingBaseURLMessageConstant)

// RetryPolicy bounds the retries applied to transient failures.
type RetryPolicy struct {
	MaxAttempts     uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy returns the retry policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     defaultMaxAttemptsConstant,
		InitialInterval: defaultInitialIntervalConstant,
		MaxInterval:     defaultMaxIntervalConstant,
	}
}

func (policy RetryPolicy) sanitize() RetryPolicy {
	defaults := DefaultRetryPolicy()
	if policy.MaxAttempts == 0 {
		policy.MaxAttempts = defaults.MaxAttempts
	}
	if policy.InitialInterval <= 0 {
		policy.InitialInterval = defaults.InitialInterval
	}
	if policy.MaxInterval <= 0 || policy.MaxInterval < policy.InitialInterval {
		policy.MaxInterval = defaults.MaxInterval
		if policy.MaxInterval < policy.InitialInterval {
			policy.MaxInterval = policy.InitialInterval
		}
	}
	return policy
}

// Options configures a Client.
type Options struct {
	BaseURL     string
	Headers     map[string]string
	HTTPClient  *http.Client
	RetryPolicy RetryPolicy
	Logger      *zap.Logger
}

// Request describes a single API call.
type Request struct {
	Operation string
	Method    string
	Path      string
	Query     url.Values
	Payload   any
	Headers   map[string]string
}

// Response captures the parts of an HTTP response the forge clients inspect.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// ResponseError reports a non-retryable HTTP status.
type ResponseError struct {
	Operation  string
	Method     string
	Path       string
	StatusCode int
	Body       string
}

// Error describes the failed response.
func (responseError ResponseError) Error() string {
	return fmt.Sprintf(responseErrorTemplateConstant, responseError.Operation, responseError.Method, responseError.Path, responseError.StatusCode, responseError.Body)
}

// Client performs authenticated JSON requests against one API root.
type Client struct {
	baseURL     string
	headers     map[string]string
	httpClient  *http.Client
	retryPolicy RetryPolicy
	logger      *zap.Logger
}

// NewClient validates the options and constructs a Client.
func NewClient(options Options) (*Client, error) {
	trimmedBaseURL := strings.TrimRight(strings.TrimSpace(options.BaseURL), pathSeparatorConstant)
	if len(trimmedBaseURL) == 0 {
		return nil, migrationerrors.ValidationError{FieldName: baseURLFieldNameConstant, Message: ErrBaseURLRequired.Error()}
	}
	if _, parseError := url.ParseRequestURI(trimmedBaseURL); parseError != nil {
		return nil, migrationerrors.ValidationError{FieldName: baseURLFieldNameConstant, Message: fmt.Sprintf(baseURLParseErrorTemplateConstant, trimmedBaseURL, parseError)}
	}

	httpClient := options.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRequestTimeoutConstant}
	}

	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	headers := make(map[string]string, len(options.Headers))
	for headerName, headerValue := range options.Headers {
		headers[headerName] = headerValue
	}

	return &Client{
		baseURL:     trimmedBaseURL,
		headers:     headers,
		httpClient:  httpClient,
		retryPolicy: options.RetryPolicy.sanitize(),
		logger:      logger,
	}, nil
}

// BaseURL returns the API root the client targets.
func (client *Client) BaseURL() string {
	return client.baseURL
}

// Do executes the request, retrying transient failures according to the retry policy.
func (client *Client) Do(executionContext context.Context, request Request) (Response, error) {
	var encodedPayload []byte
	if request.Payload != nil {
		payloadBytes, encodingError := json.Marshal(request.Payload)
		if encodingError != nil {
			return Response{}, fmt.Errorf(payloadEncodingErrorTemplateConstant, request.Operation, encodingError)
		}
		encodedPayload = payloadBytes
	}

	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.InitialInterval = client.retryPolicy.InitialInterval
	exponentialBackOff.MaxInterval = client.retryPolicy.MaxInterval

	attempt := func() (Response, error) {
		return client.attempt(executionContext, request, encodedPayload)
	}

	notify := func(attemptError error, delay time.Duration) {
		client.logger.Debug(
			retryScheduledMessageConstant,
			zap.String(logFieldOperationConstant, request.Operation),
			zap.String(logFieldMethodConstant, request.Method),
			zap.String(logFieldPathConstant, request.Path),
			zap.Duration(logFieldDelayConstant, delay),
			zap.String(logFieldErrorConstant, attemptError.Error()),
		)
	}

	return backoff.Retry(
		executionContext,
		attempt,
		backoff.WithBackOff(exponentialBackOff),
		backoff.WithMaxTries(client.retryPolicy.MaxAttempts),
		backoff.WithNotify(notify),
	)
}

// DoJSON executes the request and decodes a successful response body into destination.
func (client *Client) DoJSON(executionContext context.Context, request Request, destination any) (Response, error) {
	response, requestError := client.Do(executionContext, request)
	if requestError != nil {
		return response, requestError
	}
	if destination == nil || len(bytes.TrimSpace(response.Body)) == 0 {
		return response, nil
	}
	if decodingError := json.Unmarshal(response.Body, destination); decodingError != nil {
		return response, fmt.Errorf(responseDecodingErrorTemplateConstant, request.Operation, decodingError)
	}
	return response, nil
}

func (client *Client) attempt(executionContext context.Context, request Request, encodedPayload []byte) (Response, error) {
	requestURL := client.resolveURL(request.Path, request.Query)

	var bodyReader io.Reader
	if encodedPayload != nil {
		bodyReader = bytes.NewReader(encodedPayload)
	}

	httpRequest, creationError := http.NewRequestWithContext(executionContext, request.Method, requestURL, bodyReader)
	if creationError != nil {
		return Response{}, backoff.Permanent(fmt.Errorf(requestCreationErrorTemplateConstant, request.Method, request.Path, creationError))
	}

	httpRequest.Header.Set(acceptHeaderNameConstant, jsonContentTypeConstant)
	if encodedPayload != nil {
		httpRequest.Header.Set(contentTypeHeaderNameConstant, jsonContentTypeConstant)
	}
	for headerName, headerValue := range client.headers {
		httpRequest.Header.Set(headerName, headerValue)
	}
	for headerName, headerValue := range request.Headers {
		httpRequest.Header.Set(headerName, headerValue)
	}

	httpResponse, transportError := client.httpClient.Do(httpRequest)
	if transportError != nil {
		if contextError := executionContext.Err(); contextError != nil {
			return Response{}, backoff.Permanent(contextError)
		}
		transientError := migrationerrors.TransientAPIError{Operation: request.Operation, Cause: transportError}
		if isCreate(request.Method) && !isDialError(transportError) {
			return Response{}, backoff.Permanent(transientError)
		}
		return Response{}, transientError
	}
	defer httpResponse.Body.Close()

	responseBody, readError := io.ReadAll(httpResponse.Body)
	if readError != nil {
		transientError := migrationerrors.TransientAPIError{Operation: request.Operation, StatusCode: httpResponse.StatusCode, Cause: fmt.Errorf(responseReadErrorTemplateConstant, request.Operation, readError)}
		if isCreate(request.Method) {
			return Response{}, backoff.Permanent(transientError)
		}
		return Response{}, transientError
	}

	response := Response{
		StatusCode: httpResponse.StatusCode,
		Header:     httpResponse.Header.Clone(),
		Body:       responseBody,
	}

	if response.StatusCode >= minimumSuccessStatusCodeConstant && response.StatusCode <= maximumSuccessStatusCodeConstant {
		return response, nil
	}

	responseError := ResponseError{
		Operation:  request.Operation,
		Method:     request.Method,
		Path:       request.Path,
		StatusCode: response.StatusCode,
		Body:       truncate(string(responseBody), responseBodyPreviewLimitConstant),
	}

	if migrationerrors.IsRetryableStatus(response.StatusCode) {
		transientError := migrationerrors.TransientAPIError{Operation: request.Operation, StatusCode: response.StatusCode, Cause: responseError}
		// A rate-limited create was never applied; any other server error may have been.
		if isCreate(request.Method) && response.StatusCode != http.StatusTooManyRequests {
			return response, backoff.Permanent(transientError)
		}
		return response, transientError
	}

	return response, backoff.Permanent(responseError)
}

func (client *Client) resolveURL(path string, query url.Values) string {
	resolvedURL := client.baseURL + pathSeparatorConstant + strings.TrimLeft(path, pathSeparatorConstant)
	if len(query) > 0 {
		resolvedURL += queryPrefixConstant + query.Encode()
	}
	return resolvedURL
}

// StatusCode extracts the HTTP status carried by a ResponseError, or zero.
func StatusCode(err error) int {
	var responseError ResponseError
	if errors.As(err, &responseError) {
		return responseError.StatusCode
	}
	return 0
}

// IsNotFound reports whether the error is a 404 response.
func IsNotFound(err error) bool {
	return StatusCode(err) == httpStatusNotFoundConstant
}

// IsAlreadyExists reports whether the error is a 409 or 422 response, which both forges use for duplicates.
func IsAlreadyExists(err error) bool {
	statusCode := StatusCode(err)
	return statusCode == httpStatusConflictConstant || statusCode == httpStatusUnprocessableEntityConstant
}

// EscapePathSegment escapes a single path segment, including embedded slashes.
func EscapePathSegment(segment string) string {
	return url.PathEscape(segment)
}

// CreateOnce runs create under the client's retry policy without duplicating
// the created entity. Do does not replay a POST once the server may have
// applied it, so after a transient failure find is consulted first and an
// entity it reports is adopted instead of creating another one.
func CreateOnce[T any](executionContext context.Context, client *Client, operation string, create func(context.Context) (T, error), find func(context.Context) (T, bool, error)) (T, error) {
	exponentialBackOff := backoff.NewExponentialBackOff()
	exponentialBackOff.InitialInterval = client.retryPolicy.InitialInterval
	exponentialBackOff.MaxInterval = client.retryPolicy.MaxInterval

	attempted := false
	attempt := func() (T, error) {
		var zero T
		if attempted && find != nil {
			existing, found, findError := find(executionContext)
			if findError != nil {
				if migrationerrors.IsTransient(findError) {
					return zero, findError
				}
				return zero, backoff.Permanent(findError)
			}
			if found {
				return existing, nil
			}
		}
		attempted = true
		created, createError := create(executionContext)
		if createError != nil && !migrationerrors.IsTransient(createError) {
			return zero, backoff.Permanent(createError)
		}
		return created, createError
	}

	notify := func(attemptError error, delay time.Duration) {
		client.logger.Debug(
			reconcileRetryMessageConstant,
			zap.String(logFieldOperationConstant, operation),
			zap.Duration(logFieldDelayConstant, delay),
			zap.String(logFieldErrorConstant, attemptError.Error()),
		)
	}

	return backoff.Retry(
		executionContext,
		attempt,
		backoff.WithBackOff(exponentialBackOff),
		backoff.WithMaxTries(client.retryPolicy.MaxAttempts),
		backoff.WithNotify(notify),
	)
}

// isCreate reports a method whose replay can create a second entity.
func isCreate(method string) bool {
	return method == http.MethodPost
}

// isDialError reports a connection that failed before any request bytes were sent.
func isDialError(err error) bool {
	var operationError *net.OpError
	return errors.As(err, &operationError) && operationError.Op == dialOperationConstant
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut] + responseBodyTruncationSuffixConstant
}
