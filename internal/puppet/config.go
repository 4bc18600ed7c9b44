package puppet

import "time"

const (
	DefaultConnectivityTimeout = time.Minute
	DefaultFirstLoginTimeout   = 2 * time.Minute
	DefaultScanTimeout         = 2 * time.Minute
	DefaultPersistWindow       = 5 * time.Minute
	DefaultStableInterval      = time.Second
	DefaultStableTimeout       = time.Minute
	DefaultOperationTimeout    = time.Minute
)

// Config tunes the supervisor. Zero fields take the defaults above.
type Config struct {
	// ConnectivityTimeout is how long the session may stay silent.
	ConnectivityTimeout time.Duration
	// FirstLoginTimeout replaces ConnectivityTimeout for the first feed
	// after start, leaving room for an interactive QR login.
	FirstLoginTimeout time.Duration
	ScanTimeout       time.Duration
	PersistWindow     time.Duration
	StableInterval    time.Duration
	StableTimeout     time.Duration
	// OperationTimeout bounds transport calls made from watchdog handlers.
	OperationTimeout time.Duration
	// KeepaliveSchedule is a cron expression; empty disables keepalive.
	KeepaliveSchedule string
}

func (c Config) withDefaults() Config {
	if c.ConnectivityTimeout <= 0 {
		c.ConnectivityTimeout = DefaultConnectivityTimeout
	}
	if c.FirstLoginTimeout <= 0 {
		c.FirstLoginTimeout = DefaultFirstLoginTimeout
	}
	if c.ScanTimeout <= 0 {
		c.ScanTimeout = DefaultScanTimeout
	}
	if c.PersistWindow <= 0 {
		c.PersistWindow = DefaultPersistWindow
	}
	if c.StableInterval <= 0 {
		c.StableInterval = DefaultStableInterval
	}
	if c.StableTimeout <= 0 {
		c.StableTimeout = DefaultStableTimeout
	}
	if c.OperationTimeout <= 0 {
		c.OperationTimeout = DefaultOperationTimeout
	}
	return c
}
