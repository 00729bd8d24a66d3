// Package core implements the connection and token lifecycle for third-party
// platform accounts: the provider registry, the authorization flow, encrypted
// token storage, refresh coordination and disconnect handling.
package core
