// Package http reads byte ranges of remote files.
//
// Requests are retried with exponential backoff and jitter on network and
// 5xx failures. [Client.ReadRange] pins each request to the ETag seen at
// open time so that ranges of a file that changed mid-run are not mixed.
//
//	client := http.NewClient(http.DefaultOptions())
//	info, err := client.Head(ctx, url)
//	data, err := client.ReadRange(ctx, url, ranges.Range{Start: 0, End: 1024}, info.ETag)
package http
