// Command generate-summary renders the executive summary from the risk tables.
package main

import (
	"context"

	"github.com/clinicalops/trialrisk/internal/cli"
	"github.com/clinicalops/trialrisk/internal/pipeline"
)

func main() {
	cli.Main("generate-summary", func(ctx context.Context, p *pipeline.Pipeline) error {
		_, err := p.GenerateSummary(ctx)
		return err
	})
}
