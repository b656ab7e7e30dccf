package schema

import "time"

// DefaultChunkLines is the number of history lines sent per data request.
const DefaultChunkLines = 500

// DefaultPatternHistory bounds the remembered search patterns per controller.
const DefaultPatternHistory = 50

// DefaultSilenceTimeout is the idle period after which a monitored session is silent.
const DefaultSilenceTimeout = 10 * time.Second

// ServiceConfig configures the session task framework.
type ServiceConfig struct {
	ChunkLines     int
	DefaultFormat  Format
	HistoryMode    HistoryMode
	HistoryMax     int
	MatchCase      bool
	MatchRegExp    bool
	PatternHistory int
	SilenceTimeout time.Duration
}

// WithDefaults fills zero values.
func (c ServiceConfig) WithDefaults() ServiceConfig {
	if c.ChunkLines <= 0 {
		c.ChunkLines = DefaultChunkLines
	}
	if c.DefaultFormat == "" {
		c.DefaultFormat = FormatPlain
	}
	if c.HistoryMode == "" {
		c.HistoryMode = HistoryUnlimited
	}
	if c.PatternHistory <= 0 {
		c.PatternHistory = DefaultPatternHistory
	}
	if c.SilenceTimeout <= 0 {
		c.SilenceTimeout = DefaultSilenceTimeout
	}
	return c
}
