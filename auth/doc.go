// Package auth issues application-level tokens, credentials that belong to
// the integration itself rather than to a connected user. LinkedIn's
// two-legged client credentials grant and Google's service account JWT
// bearer grant both live here. User-delegated tokens are the providers
// package's job.
package auth
