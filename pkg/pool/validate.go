package pool

import (
	"fmt"

	"github.com/ajitpratap0/syncpool/pkg/errors"
)

// limit/sentinel range outside which a bounded pool either resizes constantly or
// never reaches its limit; only ever a warning
const (
	recommendedLimitRatio = 10
	recommendedLimitMax   = 100
)

// Sentinel returns the low-water mark that triggers growth
func (c Config) Sentinel() int { return c.AllocBlock / 4 }

// Validate checks the sizing rules. Problems that make the pool unusable are returned
// as a config error; questionable but workable sizing comes back as warnings.
// Zero Limit and AllocBlock are checked as given, so callers that want defaults must
// apply them first.
func (c Config) Validate() ([]string, error) {
	fail := func(format string, args ...interface{}) error {
		return errors.Newf(errors.ErrorTypeConfig, format, args...).WithComponent(c.Name)
	}

	sentinel := c.Sentinel()
	if c.AllocBlock < 0 || sentinel == 0 {
		return nil, fail("allocation block size too small (%d)", c.AllocBlock)
	}
	if c.AllocBlock < sentinel {
		return nil, fail("allocation block size (%d) < allocation sentinel (%d)", c.AllocBlock, sentinel)
	}

	limit := c.Limit
	if limit == 0 || limit == Unbounded {
		return nil, nil
	}
	if limit < 0 {
		return nil, fail("allocation limit (%d) is negative", limit)
	}
	if limit < sentinel {
		return nil, fail("allocation limit (%d) < allocation sentinel (%d)", limit, sentinel)
	}

	ratio := limit / sentinel
	var warnings []string
	if limit%c.AllocBlock != 0 {
		warnings = append(warnings, fmt.Sprintf(
			"allocation limit (%d) is not a multiple of allocation block size (%d)", limit, c.AllocBlock))
	}
	if ratio < recommendedLimitRatio || ratio > recommendedLimitMax {
		warnings = append(warnings, fmt.Sprintf(
			"allocation limit (%d) is %dx the sentinel (%d), recommended %dx-%dx",
			limit, ratio, sentinel, recommendedLimitRatio, recommendedLimitMax))
	}
	return warnings, nil
}
