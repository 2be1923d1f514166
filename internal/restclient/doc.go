// Package restclient provides the JSON-over-HTTP transport shared by the
// source and target forge clients. It applies authentication headers,
// classifies failures into retryable and permanent errors, retries the
// retryable ones with bounded exponential backoff, and collects paged
// listings exhaustively.
package restclient
