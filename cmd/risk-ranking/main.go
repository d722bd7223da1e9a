// Command risk-ranking tiers and ranks the DQI tables.
package main

import (
	"context"

	"github.com/clinicalops/trialrisk/internal/cli"
	"github.com/clinicalops/trialrisk/internal/pipeline"
)

func main() {
	cli.Main("risk-ranking", func(ctx context.Context, p *pipeline.Pipeline) error {
		_, err := p.RankRisk(ctx)
		return err
	})
}
