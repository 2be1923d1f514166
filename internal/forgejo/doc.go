// Package forgejo is the client for the target forge. It wraps the Forgejo
// REST API v1 calls the migration needs: accounts, organizations and teams,
// repositories and their metadata, collaborators, and push mirrors.
package forgejo
