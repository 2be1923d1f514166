// Package migrationerrors defines the error taxonomy shared by every
// migration component: retryable API failures, naming conflicts in the
// target forge, malformed inventory or configuration, unresolved identity
// references, and push-mirror configuration failures.
package migrationerrors
