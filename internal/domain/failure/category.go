// Package failure maps arbitrary errors onto a fixed taxonomy with a retry policy per category.
package failure

import "time"

// Category is the failure class of an error.
type Category string

// Failure categories.
const (
	Network            Category = "NETWORK"
	Timeout            Category = "TIMEOUT"
	RateLimit          Category = "RATE_LIMIT"
	ServiceUnavailable Category = "SERVICE_UNAVAILABLE"
	Authentication     Category = "AUTHENTICATION"
	Authorization      Category = "AUTHORIZATION"
	Validation         Category = "VALIDATION"
	Configuration      Category = "CONFIGURATION"
	Unknown            Category = "UNKNOWN"
)

// Severity is the operational impact of a failure.
type Severity string

// Severity levels.
const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Policy is the fixed retry policy attached to a category.
type Policy struct {
	Severity     Severity
	Retryable    bool
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64
}

var policies = map[Category]Policy{
	Network: {
		Severity: SeverityMedium, Retryable: true, MaxRetries: 3,
		BaseDelay: time.Second, MaxDelay: 10 * time.Second, JitterFactor: 0.1,
	},
	RateLimit: {
		Severity: SeverityMedium, Retryable: true, MaxRetries: 5,
		BaseDelay: 2 * time.Second, MaxDelay: 30 * time.Second, JitterFactor: 0.2,
	},
	Authentication: {Severity: SeverityHigh},
	Authorization:  {Severity: SeverityHigh},
	Timeout: {
		Severity: SeverityMedium, Retryable: true, MaxRetries: 2,
		BaseDelay: 1500 * time.Millisecond, MaxDelay: 15 * time.Second, JitterFactor: 0.1,
	},
	ServiceUnavailable: {
		Severity: SeverityHigh, Retryable: true, MaxRetries: 3,
		BaseDelay: 5 * time.Second, MaxDelay: 60 * time.Second, JitterFactor: 0.3,
	},
	Validation:    {Severity: SeverityLow},
	Configuration: {Severity: SeverityCritical},
	// Unknown failures get a single conservative retry.
	Unknown: {
		Severity: SeverityMedium, Retryable: true, MaxRetries: 1,
		BaseDelay: time.Second, MaxDelay: 5 * time.Second, JitterFactor: 0.1,
	},
}

// PolicyFor returns the policy of a category. Unrecognized categories get the Unknown policy.
func PolicyFor(c Category) Policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[Unknown]
}
