package contract

// DefaultGas is used for methods without an explicit limit.
const DefaultGas uint64 = 1000000

// GasLimits maps a contract method name to the gas limit used when sending it.
type GasLimits map[string]uint64

// DefaultGasLimits returns the per-method limits the agents were tuned with.
func DefaultGasLimits() GasLimits {
	return GasLimits{
		"createTask":          1000000,
		"createSimpleTask":    1000000,
		"commitSolution":      1000000,
		"revealSolution":      1000000,
		"endChallengePeriod":  100000,
		"runVerificationGame": 1000000,
		"finalizeTask":        1000000,
		"makeChallenge":       350000,
		"initialize":          1000000,
		"report":              100000,
		"query":               100000,
		"postPhases":          400000,
		"selectPhase":         100000,
		"callJudge":           5000000,
		"callCustomJudge":     500000,
	}
}

// For returns the configured limit for method.
func (g GasLimits) For(method string) uint64 {
	if limit, ok := g[method]; ok && limit > 0 {
		return limit
	}
	return DefaultGas
}

// Merge returns a copy of g overridden by other.
func (g GasLimits) Merge(other map[string]uint64) GasLimits {
	merged := make(GasLimits, len(g)+len(other))
	for k, v := range g {
		merged[k] = v
	}
	for k, v := range other {
		merged[k] = v
	}
	return merged
}
