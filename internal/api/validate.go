package api

import (
	"fmt"
	"net/url"

	"drtdispatch/internal/model"
)

func validateOptimizeRequest(req *model.OptimizeRequest, maxWorkers int) error {
	switch {
	case len(req.Matrix) == 0 && req.Dataset == "":
		return fmt.Errorf("either matrix or dataset is required")
	case len(req.Matrix) > 0 && req.Dataset != "":
		return fmt.Errorf("matrix and dataset are mutually exclusive")
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("callbackUrl must be an absolute http(s) url")
		}
	}
	return validateParams(req.Params, maxWorkers)
}

func validateParams(p model.RunParams, maxWorkers int) error {
	if p.MaxIterations < 0 || p.Workers < 0 || p.TimeBudgetMs < 0 || p.NoImprovement < 0 || p.VariationWindow < 0 {
		return fmt.Errorf("iteration, worker and budget params must be >= 0")
	}
	if p.Workers > maxWorkers {
		return fmt.Errorf("workers %d exceeds the limit of %d", p.Workers, maxWorkers)
	}
	if p.Cooling != 0 && (p.Cooling <= 0 || p.Cooling >= 1) {
		return fmt.Errorf("cooling must be in (0,1)")
	}
	for _, w := range p.RuinWeights {
		if w < 0 {
			return fmt.Errorf("ruinWeights must be >= 0")
		}
	}
	return nil
}
