// Package providers implements the platform adapters that speak the OAuth 2.0
// authorization-code grant against real token endpoints. CodeGrantProvider is
// the shared base; RenewableProvider adds the refresh-token grant for
// platforms that issue refresh tokens. Platform-specific packages (youtube,
// tiktok, linkedin) pin endpoints and default scopes on top of the base.
//
// Adapters classify every failure at the network boundary: a deliberate
// denial from the platform surfaces as a rejected error, an outage or timeout
// as an unavailable one. Adapters never retry; retry policy belongs to the
// caller.
package providers
