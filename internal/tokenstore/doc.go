// Package tokenstore provides persistent storage for the 123pan bearer token.
//
// Exactly one token is stored per deployment. Three backends are available:
//   - File: the raw token on local disk, written atomically with 0600 permissions
//     and guarded by an advisory lock file
//   - Keyring: OS-native credential storage (macOS Keychain, Windows Credential Manager, etc.)
//   - Env: read-only environment variable access for tokens issued out of band
//
// Stores only persist what they are told. Deciding which token is current is
// the job of the token lifecycle manager.
package tokenstore
