// Command scan-schema inventories the raw study exports under the data
// directory and writes the schema summary and schema map.
package main

import (
	"context"

	"github.com/clinicalops/trialrisk/internal/cli"
	"github.com/clinicalops/trialrisk/internal/pipeline"
)

func main() {
	cli.Main("scan-schema", func(ctx context.Context, p *pipeline.Pipeline) error {
		_, err := p.DiscoverSchema(ctx)
		return err
	})
}
