package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// ValidationError is a single invalid field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every invalid field of a Config.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidRoles returns the agent roles that can be configured.
func ValidRoles() []string {
	return []string{"solver", "verifier"}
}

// ValidLogLevels returns the accepted logging.level values.
func ValidLogLevels() []string {
	return []string{"trace", "debug", "info", "warn", "error"}
}

// ValidLogFormats returns the accepted logging.format values.
func ValidLogFormats() []string {
	return []string{"json", "console"}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() ValidationErrors {
	var errs ValidationErrors
	errs = append(errs, c.validateEthereum()...)
	errs = append(errs, c.validateAgent()...)
	errs = append(errs, c.validateMonitor()...)
	errs = append(errs, c.validateExecution()...)
	errs = append(errs, c.validateStorage()...)
	errs = append(errs, c.validateLogging()...)
	return errs
}

func (c *Config) validateEthereum() []ValidationError {
	var errs []ValidationError
	e := c.Ethereum
	if u, err := url.Parse(e.RPCURL); e.RPCURL == "" || err != nil || u.Scheme == "" {
		errs = append(errs, ValidationError{Field: "ethereum.rpc_url", Value: e.RPCURL, Message: "must be an absolute URL"})
	}
	if len(e.PrivateKeys) == 0 {
		errs = append(errs, ValidationError{Field: "ethereum.private_keys", Value: 0, Message: "at least one key is required"})
	}
	for i, key := range e.PrivateKeys {
		if len(strings.TrimPrefix(key, "0x")) != 64 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("ethereum.private_keys[%d]", i), Value: "<redacted>", Message: "must be 32 hex bytes"})
		}
	}
	for field, addr := range map[string]string{"ethereum.incentive_layer": e.IncentiveLayer, "ethereum.dispute_layer": e.DisputeLayer} {
		if !common.IsHexAddress(addr) {
			errs = append(errs, ValidationError{Field: field, Value: addr, Message: "must be a hex address"})
		}
	}
	slices.SortFunc(errs, func(a, b ValidationError) int { return strings.Compare(a.Field, b.Field) })
	return errs
}

func (c *Config) validateAgent() []ValidationError {
	var errs []ValidationError
	a := c.Agent
	if len(a.Roles) == 0 {
		errs = append(errs, ValidationError{Field: "agent.roles", Value: a.Roles, Message: "at least one role is required"})
	}
	for _, role := range a.Roles {
		if !slices.Contains(ValidRoles(), role) {
			errs = append(errs, ValidationError{Field: "agent.roles", Value: role, Message: fmt.Sprintf("must be one of %v", ValidRoles())})
		}
	}
	if a.Throttle < 1 {
		errs = append(errs, ValidationError{Field: "agent.throttle", Value: a.Throttle, Message: "must be at least 1"})
	}
	if a.WaitTime < 0 {
		errs = append(errs, ValidationError{Field: "agent.wait_time", Value: a.WaitTime, Message: "must not be negative"})
	}
	if a.TickInterval <= 0 {
		errs = append(errs, ValidationError{Field: "agent.tick_interval", Value: a.TickInterval, Message: "must be positive"})
	}
	if stake := a.Stake(); stake == nil || stake.Sign() <= 0 {
		errs = append(errs, ValidationError{Field: "agent.challenge_stake", Value: a.ChallengeStake, Message: "must be a positive integer amount of wei"})
	}
	return errs
}

func (c *Config) validateMonitor() []ValidationError {
	var errs []ValidationError
	if c.Monitor.PollInterval <= 0 {
		errs = append(errs, ValidationError{Field: "monitor.poll_interval", Value: c.Monitor.PollInterval, Message: "must be positive"})
	}
	if c.Monitor.BatchSize == 0 {
		errs = append(errs, ValidationError{Field: "monitor.batch_size", Value: c.Monitor.BatchSize, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateExecution() []ValidationError {
	var errs []ValidationError
	if c.Execution.Interpreter == "" {
		errs = append(errs, ValidationError{Field: "execution.interpreter", Value: "", Message: "is required"})
	}
	if c.Execution.CacheSize < 0 {
		errs = append(errs, ValidationError{Field: "execution.cache_size", Value: c.Execution.CacheSize, Message: "must not be negative"})
	}
	return errs
}

func (c *Config) validateStorage() []ValidationError {
	var errs []ValidationError
	if api := c.Storage.IPFSAPI; api != "" {
		if u, err := url.Parse(api); err != nil || u.Scheme == "" || u.Host == "" {
			errs = append(errs, ValidationError{Field: "storage.ipfs_api", Value: api, Message: "must be an absolute URL"})
		}
	}
	if c.Storage.Timeout <= 0 {
		errs = append(errs, ValidationError{Field: "storage.timeout", Value: c.Storage.Timeout, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateLogging() []ValidationError {
	var errs []ValidationError
	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errs = append(errs, ValidationError{Field: "logging.level", Value: c.Logging.Level, Message: fmt.Sprintf("must be one of %v", ValidLogLevels())})
	}
	if !slices.Contains(ValidLogFormats(), c.Logging.Format) {
		errs = append(errs, ValidationError{Field: "logging.format", Value: c.Logging.Format, Message: fmt.Sprintf("must be one of %v", ValidLogFormats())})
	}
	return errs
}
