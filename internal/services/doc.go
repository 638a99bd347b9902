// Package services defines the read and write collaborators of the playlist manager and implements them.
//
// # Read path
//
// [Extractor] fetches playlist state without spending quota. [ProxyExtractor] talks to the local
// scraping proxy. Failures wrap [ErrExtraction], which classifies as a network failure; a playlist
// the proxy cannot find is reported as NOT_FOUND directly.
//
// # Write path
//
// [MutationAPI] spends quota. [YouTubeClient] implements it over the YouTube Data API v3 with an
// [oauth2] token source per project and a circuit breaker that opens after repeated server or
// transport failures. Non-2xx responses are returned as [*failures.HTTPError] so the caller can
// classify them and bill the call.
//
// # Costs
//
// The Cost* constants give the quota units charged per call. List calls return the number of
// pages fetched, which is also the number of units charged.
//
// # Credentials
//
// [OAuthConfig], [LoadToken] and [SaveToken] manage per-project tokens stored as JSON files.
package services
