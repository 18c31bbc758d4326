// Package pagination walks cursor-paginated gateway endpoints.
//
// Every list response of the gateway may carry meta.next_page_link, the
// absolute URL of the following page. A page's successor is only known once
// its body is parsed, so one walk is strictly sequential:
//
//	walker := pagination.NewWalker(gatewayClient)
//	pages, err := walker.Walk(ctx, endpoint, 10, 0)
//
// The walk stops when a page has no cursor or when the pass counter reaches
// the limit. Reaching the limit is a silent truncation, not an error. A
// transport or decode failure aborts the walk and discards the pages already
// accumulated.
//
// Concurrency lives one level up: independent walks (teams and a dataset) run
// side by side in the connector package.
package pagination
