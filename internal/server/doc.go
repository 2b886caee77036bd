// Package server hosts the Fiber HTTP service, request middleware chain, and
// site registry glue that wires Host/port resolution into the caching worker
// front. The app generates request IDs, maps the Host header to a SiteRoute
// built from config, and leaves paths under /-/ to the diagnostics routes.
// Keep exports narrow and accept explicit dependencies.
package server
