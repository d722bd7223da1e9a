// Command compute-dqi scores the extracted signals into study and site DQI
// tables, running the configured anomaly detector over sites.
package main

import (
	"context"

	"github.com/clinicalops/trialrisk/internal/cli"
	"github.com/clinicalops/trialrisk/internal/pipeline"
)

func main() {
	cli.Main("compute-dqi", func(ctx context.Context, p *pipeline.Pipeline) error {
		_, err := p.ComputeDQI(ctx)
		return err
	})
}
