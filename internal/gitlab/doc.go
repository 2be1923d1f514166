// Package gitlab is the read-only client for the source forge. It talks to
// the GitLab REST API v4 and normalizes every response into the typed model
// declared in types.go before it leaves the package.
package gitlab
