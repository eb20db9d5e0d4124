// Package delivery pushes lead batches and connectivity probes to a webhook.
//
// Every call walks the same two-tier path. The primary tier POSTs JSON and
// requires a 2xx answer. When it fails, the fallback tier resends the identical
// bytes as text/plain and does not look at the response, so its success only
// means the request left the process. Callers get one of three outcomes:
// Confirmed, DispatchedUnconfirmed or Failed.
package delivery
