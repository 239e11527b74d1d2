package statesync

import "time"

const (
	DefaultChannelSize    = 64
	DefaultPendingCeiling = 30 * time.Minute
	DefaultBalanceWindow  = 5 * time.Minute
	DefaultCheckInterval  = 30 * time.Second
)

type Config struct {
	// SourceChain and DestChain name the two sides of the bridge.
	SourceChain string
	DestChain   string

	ChannelSize int
	// PendingCeiling is how long a transfer may sit pending before it is
	// flagged inconsistent.
	PendingCeiling time.Duration
	// BalanceWindow is how long the destination side has to reflect a
	// source-side balance drop before the drift is flagged.
	BalanceWindow time.Duration
	// CheckInterval paces the in-loop consistency sweep.
	CheckInterval time.Duration
}

func (c *Config) withDefaults() *Config {
	out := *c
	if out.ChannelSize <= 0 {
		out.ChannelSize = DefaultChannelSize
	}
	if out.PendingCeiling <= 0 {
		out.PendingCeiling = DefaultPendingCeiling
	}
	if out.BalanceWindow <= 0 {
		out.BalanceWindow = DefaultBalanceWindow
	}
	if out.CheckInterval <= 0 {
		out.CheckInterval = DefaultCheckInterval
	}
	return &out
}
