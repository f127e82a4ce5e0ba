package connectivity

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/c360/offlinekit/errors"
)

// Probe periodically sends HEAD to a health URL. Any response below 500 counts
// as reachable; transport errors and 5xx count as failures.
type Probe struct {
	*broadcaster
	url  string
	opts options

	mu       sync.Mutex
	failures int
	cancel   context.CancelFunc
	done     chan struct{}
}

var _ Monitor = (*Probe)(nil)

// NewProbe creates a probe that starts Online until checks say otherwise.
func NewProbe(url string, opts ...Option) (*Probe, error) {
	if url == "" {
		return nil, errors.WrapInvalid(errors.ErrMissingConfig, "Probe", "NewProbe", "health url is required")
	}
	o := applyOptions(opts)
	if o.client == nil {
		o.client = &http.Client{}
	}
	return &Probe{
		broadcaster: newBroadcaster("probe", Online, o.logger, o.registry),
		url:         url,
		opts:        o,
	}, nil
}

// Check runs one probe, updates the state and returns it.
func (p *Probe) Check(ctx context.Context) State {
	err := p.probe(ctx)

	p.mu.Lock()
	if err == nil {
		p.failures = 0
	} else {
		p.failures++
	}
	failures := p.failures
	p.mu.Unlock()

	if err == nil {
		p.set(Online)
		return Online
	}

	p.logger.Debug("Connectivity probe failed", "url", p.url, "failures", failures, "error", err)
	if failures >= p.opts.failureThreshold {
		p.set(Offline)
	}
	return p.State()
}

func (p *Probe) probe(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, p.opts.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return err
	}
	resp, err := p.opts.client.Do(req)
	if err != nil {
		return errors.NewNetworkError(err)
	}
	resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return errors.NewServerError(resp.StatusCode, resp.Status)
	}
	return nil
}

// Start checks immediately and then every interval until ctx ends or Stop.
func (p *Probe) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.cancel != nil {
		p.mu.Unlock()
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "Probe", "Start", "start probe")
	}
	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})
	done := p.done
	p.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(p.opts.interval)
		defer ticker.Stop()

		p.Check(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				p.Check(ctx)
			}
		}
	}()
	return nil
}

// Stop halts probing and waits for the loop to exit.
func (p *Probe) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}
