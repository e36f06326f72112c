package model

import "time"

// Shared defaults used across the daemon.
const (
	DefaultStatsInterval  = 5 * time.Second
	DefaultLogBuffer      = 1000
	DefaultTopN           = 10
	DefaultSubscriberQLen = 256
)
