package pipeline

import (
	"fmt"
	"time"
)

// Config bounds each stage of a run.
type Config struct {
	DefaultK int
	MaxK     int

	ClassifyTimeout time.Duration
	RetrieveTimeout time.Duration
	GenerateTimeout time.Duration
	ValidateTimeout time.Duration

	// GenerationRetries is the number of extra attempts after a transient
	// generation failure. Malformed output is never retried.
	GenerationRetries int
	RetryBackoff      time.Duration
	// CorpusRetryBackoff is waited once before retrying an unavailable corpus.
	CorpusRetryBackoff time.Duration
	RecordTimeout      time.Duration
}

func DefaultConfig() Config {
	return Config{
		DefaultK:           8,
		MaxK:               50,
		ClassifyTimeout:    2 * time.Second,
		RetrieveTimeout:    5 * time.Second,
		GenerateTimeout:    60 * time.Second,
		ValidateTimeout:    5 * time.Second,
		GenerationRetries:  1,
		RetryBackoff:       500 * time.Millisecond,
		CorpusRetryBackoff: 250 * time.Millisecond,
		RecordTimeout:      5 * time.Second,
	}
}

// Validate fills zero values from DefaultConfig and rejects negative ones.
func (c Config) Validate() (Config, error) {
	d := DefaultConfig()
	if c.DefaultK == 0 {
		c.DefaultK = d.DefaultK
	}
	if c.MaxK == 0 {
		c.MaxK = d.MaxK
	}
	for _, p := range []*time.Duration{&c.ClassifyTimeout, &c.RetrieveTimeout, &c.GenerateTimeout, &c.ValidateTimeout, &c.RecordTimeout} {
		if *p < 0 {
			return c, fmt.Errorf("pipeline: negative timeout %s", *p)
		}
	}
	if c.ClassifyTimeout == 0 {
		c.ClassifyTimeout = d.ClassifyTimeout
	}
	if c.RetrieveTimeout == 0 {
		c.RetrieveTimeout = d.RetrieveTimeout
	}
	if c.GenerateTimeout == 0 {
		c.GenerateTimeout = d.GenerateTimeout
	}
	if c.ValidateTimeout == 0 {
		c.ValidateTimeout = d.ValidateTimeout
	}
	if c.RecordTimeout == 0 {
		c.RecordTimeout = d.RecordTimeout
	}
	if c.GenerationRetries < 0 || c.RetryBackoff < 0 || c.CorpusRetryBackoff < 0 {
		return c, fmt.Errorf("pipeline: retries and backoff must not be negative")
	}
	if c.DefaultK < 1 || c.MaxK < c.DefaultK {
		return c, fmt.Errorf("pipeline: need 1 <= default k (%d) <= max k (%d)", c.DefaultK, c.MaxK)
	}
	return c, nil
}
