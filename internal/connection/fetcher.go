package connection

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/handcraft-labs/handcraft-event-listener/internal/models"
	"github.com/handcraft-labs/handcraft-event-listener/pkg/utils"
)

// TransactionFetcher replays confirmed transactions through the RPC manager
// with bounded concurrency and a client-side rate limit, so a large backfill
// cannot saturate the node
type TransactionFetcher struct {
	manager Manager
	limiter *rate.Limiter
	workers int
	logger  *logrus.Logger
}

// FetchResult pairs one requested signature with its payload or error
type FetchResult struct {
	Signature string
	Payload   *models.TransactionPayload
	Err       error
}

// NewTransactionFetcher creates a fetcher with the given worker count and
// requests-per-second budget
func NewTransactionFetcher(manager Manager, workers int, rps float64) *TransactionFetcher {
	if workers <= 0 {
		workers = 4
	}
	if rps <= 0 {
		rps = 10
	}

	return &TransactionFetcher{
		manager: manager,
		limiter: rate.NewLimiter(rate.Limit(rps), workers),
		workers: workers,
		logger:  utils.GetLogger(),
	}
}

// FetchAll fetches every signature and returns results in input order.
// Individual failures are reported per signature, not as a batch failure.
func (f *TransactionFetcher) FetchAll(ctx context.Context, signatures []string) []FetchResult {
	results := make([]FetchResult, len(signatures))

	sem := make(chan struct{}, f.workers)
	var wg sync.WaitGroup

	for i, sig := range signatures {
		wg.Add(1)
		go func(idx int, signature string) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			if err := f.limiter.Wait(ctx); err != nil {
				results[idx] = FetchResult{Signature: signature, Err: err}
				return
			}

			payload, err := f.manager.GetTransaction(ctx, signature)
			if err != nil {
				f.logger.WithFields(logrus.Fields{
					"signature": utils.ShortSignature(signature),
					"error":     err,
				}).Warn("Failed to fetch transaction for replay")
			}
			results[idx] = FetchResult{Signature: signature, Payload: payload, Err: err}
		}(i, sig)
	}

	wg.Wait()
	return results
}
