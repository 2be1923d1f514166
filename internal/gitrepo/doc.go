// Package gitrepo moves git data between forges.
//
// It parses and normalizes HTTP remote URLs, injects and strips
// credentials, and drives the git binary through execshell to copy every
// branch and tag from a source remote into a target remote.
package gitrepo
