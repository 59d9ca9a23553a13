package model

import "time"

// Shared defaults used by the model, the store and the binary.
const (
	DefaultEventCacheSize  = 5000
	DefaultEventCacheIdle  = 10 * time.Minute
	DefaultCountsCacheSize = 1000
	DefaultCountsCacheIdle = 10 * time.Minute
	DefaultCountsSlices    = 16
	DefaultQueryTimeout    = 30 * time.Second

	// LargeDetailThreshold is the event count above which switching to
	// high detail needs confirmation.
	LargeDetailThreshold = 10_000
)
