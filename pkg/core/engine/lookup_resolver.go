package engine

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/bsv-blockchain/go-sdk/overlay/lookup"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/go-multierror"
	"github.com/sourcegraph/conc"
)

// LookupResolverProvider answers lookup questions using other overlay nodes.
type LookupResolverProvider interface {
	SLAPTrackers() []string
	SetSLAPTrackers(trackers []string)
	Query(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error)
}

// LookupResolver posts lookup questions to every configured tracker and merges the output lists.
type LookupResolver struct {
	client *resty.Client

	mu       sync.RWMutex
	trackers []string
}

// NewLookupResolver creates a resolver without trackers.
func NewLookupResolver(trackers ...string) *LookupResolver {
	return &LookupResolver{
		client:   resty.New().SetTimeout(DefaultRemoteTimeout),
		trackers: slices.Clone(trackers),
	}
}

// WithClient replaces the HTTP client used for tracker requests.
func (l *LookupResolver) WithClient(client *resty.Client) *LookupResolver {
	l.client = client
	return l
}

// SetSLAPTrackers configures the trackers. An empty slice leaves them unchanged.
func (l *LookupResolver) SetSLAPTrackers(trackers []string) {
	if len(trackers) == 0 {
		return
	}
	l.mu.Lock()
	l.trackers = slices.Clone(trackers)
	l.mu.Unlock()
}

// SLAPTrackers returns the currently configured trackers.
func (l *LookupResolver) SLAPTrackers() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return slices.Clone(l.trackers)
}

// Query asks every tracker. It fails only when no tracker answered.
func (l *LookupResolver) Query(ctx context.Context, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	trackers := l.SLAPTrackers()
	merged := &lookup.LookupAnswer{Type: lookup.AnswerTypeOutputList}
	if len(trackers) == 0 {
		return merged, nil
	}

	var mu sync.Mutex
	var errs *multierror.Error
	answered := 0
	seen := make(map[string]struct{})
	var wg conc.WaitGroup
	for _, tracker := range trackers {
		wg.Go(func() {
			answer, err := l.queryTracker(ctx, tracker, question)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, err)
				return
			}
			answered++
			if answer.Type != lookup.AnswerTypeOutputList {
				return
			}
			for _, output := range answer.Outputs {
				key := fmt.Sprintf("%x.%d", output.Beef, output.OutputIndex)
				if _, ok := seen[key]; ok {
					continue
				}
				seen[key] = struct{}{}
				merged.Outputs = append(merged.Outputs, output)
			}
		})
	}
	wg.Wait()
	if answered == 0 {
		return nil, errs.ErrorOrNil()
	}
	return merged, nil
}

func (l *LookupResolver) queryTracker(ctx context.Context, tracker string, question *lookup.LookupQuestion) (*lookup.LookupAnswer, error) {
	answer := &lookup.LookupAnswer{}
	resp, err := l.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(question).
		SetResult(answer).
		Post(strings.TrimSuffix(tracker, "/") + "/lookup")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrPeerUnresponsive, tracker, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s/lookup returned %d", ErrPeerRequestFailed, tracker, resp.StatusCode())
	}
	return answer, nil
}
