// Package tokensource obtains, validates and refreshes the bearer token that
// authorizes every 123pan API call.
//
// Three pieces compose into the token lifecycle:
//   - Validator asks the API whether a token is still accepted and classifies
//     the answer as OutcomeValid, OutcomeInvalid or OutcomeIndeterminate
//   - Acquirer signs in with Credentials, retrying a bounded number of times
//   - Manager runs the state machine that picks the token for the process
//
// # Lifecycle
//
//	Start → HaveCachedToken | NoCachedToken
//	HaveCachedToken → Validating → Ready | NeedAcquire
//	NoCachedToken → NeedAcquire → Acquiring → Ready | Fatal
//
// An invalid cached token is deleted from the store before a new one is
// acquired. An indeterminate check leaves the store untouched; the cached
// value is only overwritten once a replacement has actually been obtained.
//
// # Usage
//
//	validator, _ := tokensource.NewValidator(client)
//	acquirer, _ := tokensource.NewAcquirer(client, tokensource.WithMaxRetries(5))
//	manager, _ := tokensource.NewManager(store, validator, acquirer, creds)
//	token, err := manager.Run(ctx)
//	// err wraps ErrCredentialsIncomplete or ErrAcquisitionExhausted
package tokensource
