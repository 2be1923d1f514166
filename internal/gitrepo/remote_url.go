package gitrepo

import (
	"fmt"
	"net/url"
	"strings"
)

const (
	httpSchemeConstant                  = "http"
	httpsSchemeConstant                 = "https"
	pathSeparatorConstant               = "/"
	gitSuffixConstant                   = ".git"
	remoteURLParseErrorTemplateConstant = "%s: %s"
	invalidRemoteURLMessageConstant     = "invalid remote url"
	unsupportedSchemeMessageConstant    = "unsupported remote protocol"
	requiredValueMessageConstant        = "value required"
)

// RemoteURLParseError indicates a remote string could not be parsed.
type RemoteURLParseError struct {
	Input   string
	Message string
}

// Error describes the parse failure.
func (parseError RemoteURLParseError) Error() string {
	return fmt.Sprintf(remoteURLParseErrorTemplateConstant, parseError.Input, parseError.Message)
}

// RemoteURL is a structured HTTP(S) git remote.
type RemoteURL struct {
	Scheme string
	Host   string
	Path   string
}

// ParseRemoteURL parses an HTTP(S) remote and discards any embedded credentials.
// Path holds the repository path without leading slash or .git suffix.
func ParseRemoteURL(remote string) (RemoteURL, error) {
	trimmedRemote := strings.TrimSpace(remote)
	if len(trimmedRemote) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: remote, Message: requiredValueMessageConstant}
	}

	parsedURL, parseError := url.Parse(trimmedRemote)
	if parseError != nil || len(parsedURL.Host) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: redactUserInfo(trimmedRemote), Message: invalidRemoteURLMessageConstant}
	}

	scheme := strings.ToLower(parsedURL.Scheme)
	if scheme != httpSchemeConstant && scheme != httpsSchemeConstant {
		return RemoteURL{}, RemoteURLParseError{Input: redactUserInfo(trimmedRemote), Message: unsupportedSchemeMessageConstant}
	}

	repositoryPath := strings.TrimSuffix(strings.Trim(parsedURL.Path, pathSeparatorConstant), gitSuffixConstant)
	if len(repositoryPath) == 0 {
		return RemoteURL{}, RemoteURLParseError{Input: redactUserInfo(trimmedRemote), Message: invalidRemoteURLMessageConstant}
	}

	return RemoteURL{Scheme: scheme, Host: strings.ToLower(parsedURL.Host), Path: repositoryPath}, nil
}

// String formats the remote as a credential-free clone URL.
func (remote RemoteURL) String() string {
	return remote.Scheme + "://" + remote.Host + pathSeparatorConstant + remote.Path + gitSuffixConstant
}

// NormalizeRemoteAddress returns a canonical form used to compare remotes:
// credentials removed, scheme and host lower-cased, trailing slash and .git stripped.
// Unparseable input is returned trimmed.
func NormalizeRemoteAddress(remote string) string {
	parsedRemote, parseError := ParseRemoteURL(remote)
	if parseError != nil {
		return strings.TrimSpace(remote)
	}
	return parsedRemote.Scheme + "://" + parsedRemote.Host + pathSeparatorConstant + parsedRemote.Path
}

// SameRemote reports whether two remote addresses point at the same repository.
func SameRemote(leftRemote string, rightRemote string) bool {
	return NormalizeRemoteAddress(leftRemote) == NormalizeRemoteAddress(rightRemote)
}

// WithCredentials returns remote with username and password embedded for HTTP transport.
func WithCredentials(remote string, username string, password string) (string, error) {
	parsedURL, parseError := url.Parse(strings.TrimSpace(remote))
	if parseError != nil || len(parsedURL.Host) == 0 {
		return "", RemoteURLParseError{Input: redactUserInfo(remote), Message: invalidRemoteURLMessageConstant}
	}
	if len(password) == 0 {
		parsedURL.User = nil
		return parsedURL.String(), nil
	}
	parsedURL.User = url.UserPassword(username, password)
	return parsedURL.String(), nil
}

func redactUserInfo(remote string) string {
	parsedURL, parseError := url.Parse(remote)
	if parseError != nil {
		return invalidRemoteURLMessageConstant
	}
	parsedURL.User = nil
	return parsedURL.String()
}
