package crawler

import "errors"

var (
	// ErrDiscovery means the listing page yielded no usable segments.
	ErrDiscovery = errors.New("segment discovery failed")
	// ErrPageFetch means a single page could not be fetched; only its segment is abandoned.
	ErrPageFetch = errors.New("page fetch failed")
	// ErrTransportUnusable means the transport cannot serve further requests.
	ErrTransportUnusable = errors.New("transport unusable")
	// ErrStoreWrite means a raw record or checkpoint could not be persisted.
	ErrStoreWrite = errors.New("store write failed")
)

// IsSessionFatal reports whether err must stop the whole session.
func IsSessionFatal(err error) bool {
	return errors.Is(err, ErrTransportUnusable) || errors.Is(err, ErrStoreWrite)
}
