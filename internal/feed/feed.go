// Package feed produces oracle samples from the primary on-chain source and
// the secondary market venue.
package feed

import (
	"context"
	"encoding/json"

	"amm-quote-engine/internal/oracle"
)

// PrimarySource reads the primary oracle (a Chainlink aggregator) and reports
// the block height the reading was taken at.
type PrimarySource interface {
	FetchPrimary(ctx context.Context) (oracle.Sample, uint64, error)
}

// SecondarySource reads the secondary market venue and returns the raw venue
// payload for auditing.
type SecondarySource interface {
	FetchSecondary(ctx context.Context) (oracle.Sample, json.RawMessage, error)
}
