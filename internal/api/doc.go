// Package api is the REST client for the task server. The realtime layer
// uses it to refetch authoritative state after a connection gap; it is
// not a general-purpose SDK for the whole API surface.
package api
