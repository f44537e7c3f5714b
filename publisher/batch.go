package publisher

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"
)

// item is one pending publish in a Batch.
type item struct {
	topic   string
	message map[string]interface{}
}

// Batch is a fluent builder that sends all added items in parallel and
// aggregates their results. Failures never short-circuit the batch.
type Batch struct {
	p     *Publisher
	opts  Options
	items []item
}

// Batch returns a fluent builder with empty Options and no items.
func (p *Publisher) Batch() *Batch {
	return &Batch{p: p}
}

// Add appends a topic/message pair to the batch.
func (b *Batch) Add(topic string, message map[string]interface{}) *Batch {
	b.items = append(b.items, item{topic: topic, message: message})
	return b
}

// WithOptions sets the publish options applied to every item. A later
// call replaces the options of an earlier one; fields are not merged.
func (b *Batch) WithOptions(opts Options) *Batch {
	b.opts = opts
	return b
}

// BatchResult aggregates the outcome of a Batch.Publish call.
type BatchResult struct {
	Total     int
	Succeeded int
	Failed    int
	PerItem   []Result
}

// Publish sends every item in parallel and aggregates a BatchResult.
// Each item gets its own generated event_id: a shared EventID set via
// WithOptions is ignored, since reusing one idempotency key across
// distinct batch items would collapse them at the bus.
func (b *Batch) Publish(ctx context.Context) BatchResult {
	opts := b.opts
	opts.EventID = ""

	perItem := make([]Result, len(b.items))
	var wg sync.WaitGroup
	var mu sync.Mutex
	var errs *multierror.Error
	wg.Add(len(b.items))

	for i, it := range b.items {
		go func(i int, it item) {
			defer wg.Done()
			res, err := b.p.Publish(ctx, it.topic, it.message, opts)
			if err != nil {
				res = Result{Success: false, Reason: err.Error()}
			}
			if !res.Success {
				mu.Lock()
				errs = multierror.Append(errs, fmt.Errorf("%s: %s", it.topic, res.Reason))
				mu.Unlock()
			}
			perItem[i] = res
		}(i, it)
	}
	wg.Wait()

	out := BatchResult{Total: len(perItem), PerItem: perItem}
	for _, r := range perItem {
		if r.Success {
			out.Succeeded++
		} else {
			out.Failed++
		}
	}
	if errs.ErrorOrNil() != nil {
		b.p.log.Warn("batch publish: some items failed", zap.Error(errs), zap.Int("failed", out.Failed), zap.Int("total", out.Total))
	}
	return out
}
