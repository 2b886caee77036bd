// Package worker implements the caching worker that sits in front of one site
// origin. A CachingWorker classifies each intercepted GET request through a
// strategy.Table and runs one of three disciplines against named cache stores:
//
//   - network-first: fetch, store cacheable successes, fall back to any cached
//     copy and finally to the offline page for navigations;
//   - cache-first: serve a cached copy without touching the network, fetch
//     and store on a miss;
//   - stale-while-revalidate: serve the cached copy at once and refresh it in
//     a background goroutine.
//
// Lifecycle events are explicit methods (OnInstall, OnActivate, OnFetch,
// OnPush, OnNotificationClick, OnSync) so the HTTP front and tests drive the
// worker directly. Network failures surface as errors wrapping
// ErrNetworkUnavailable; non-2xx responses are returned, never treated as
// errors.
package worker
