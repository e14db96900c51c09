package gateway

import (
	"context"
	"sync"

	"github.com/upb/ai-gateway/services/providers"
)

// BatchResult is the outcome of one batch item. Exactly one of Response and
// Err is set.
type BatchResult struct {
	Index    int
	Response *providers.ChatResponse
	Err      error
}

// BatchChat runs independent requests with bounded parallelism. The result
// slice has one entry per request, in input order, and a failing item never
// affects the others. Items still waiting for a slot when ctx ends are not
// started; they fail as abandoned and are accounted like any other failure.
func (s *Service) BatchChat(ctx context.Context, reqs []*providers.ChatRequest) []BatchResult {
	results := make([]BatchResult, len(reqs))
	semaphore := make(chan struct{}, s.config.BatchConcurrency)
	var wg sync.WaitGroup

	for i, req := range reqs {
		wg.Add(1)
		go func(i int, req *providers.ChatRequest) {
			defer wg.Done()
			results[i].Index = i

			if ctx.Err() == nil {
				select {
				case semaphore <- struct{}{}:
					defer func() { <-semaphore }()
				case <-ctx.Done():
				}
			}
			if err := ctx.Err(); err != nil {
				results[i].Err = s.abandon(ctx, req, err)
				return
			}

			results[i].Response, results[i].Err = s.Chat(ctx, req)
		}(i, req)
	}

	wg.Wait()
	return results
}

// abandon fails an item that never reached its adapter. Items that would
// have passed the pre-checks record a transport failure.
func (s *Service) abandon(ctx context.Context, req *providers.ChatRequest, cause error) error {
	c, err := s.prepare(context.WithoutCancel(ctx), req)
	if err != nil {
		return err
	}
	return s.fail(c, abandoned(req, cause))
}

func abandoned(req *providers.ChatRequest, cause error) *GatewayError {
	if req == nil {
		return &GatewayError{Kind: KindTransport, Message: "request abandoned by caller", Err: cause}
	}
	return newError(req, KindTransport, "request abandoned by caller", cause)
}
