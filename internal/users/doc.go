// Package users migrates source accounts and their SSH public keys.
package users
