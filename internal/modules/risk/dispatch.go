package risk

// VaR dispatches a VaR computation to the implementation for the method.
// Parametric methods resolve their estimator through the set.
func VaR(returns []float64, alpha float64, method Method, set *EstimatorSet) (Metric, error) {
	switch method {
	case MethodHistorical:
		return VaRHistorical(returns, alpha)
	case MethodEVT:
		return VaREVT(returns, alpha, DefaultEVTThresholdQuantile)
	default:
		est, err := set.Get(method)
		if err != nil {
			return Metric{}, err
		}
		return VaRParametric(returns, alpha, est)
	}
}

// ES dispatches an Expected Shortfall computation analogously to VaR.
func ES(returns []float64, alpha float64, method Method, set *EstimatorSet) (Metric, error) {
	switch method {
	case MethodHistorical:
		return ESHistorical(returns, alpha)
	case MethodEVT:
		return ESEVT(returns, alpha, DefaultEVTThresholdQuantile)
	default:
		est, err := set.Get(method)
		if err != nil {
			return Metric{}, err
		}
		return ESParametric(returns, alpha, est)
	}
}
