// Package crawler implements the resumable catalog crawl: segment discovery,
// per-segment pagination with end and loop detection, and checkpointed
// sessions that feed the raw warehouse layer.
package crawler
