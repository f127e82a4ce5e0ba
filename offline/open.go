package offline

import (
	"context"
	"net/http"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	"github.com/nats-io/nats.go/jetstream"
	"golang.org/x/time/rate"

	"github.com/c360/offlinekit/config"
	"github.com/c360/offlinekit/connectivity"
	"github.com/c360/offlinekit/errors"
	"github.com/c360/offlinekit/natsclient"
	"github.com/c360/offlinekit/pkg/tlsutil"
	"github.com/c360/offlinekit/remote"
	"github.com/c360/offlinekit/storage"
	"github.com/c360/offlinekit/storage/filestore"
	"github.com/c360/offlinekit/storage/kvstore"
	"github.com/c360/offlinekit/storage/memstore"
)

// Open builds any collaborator missing from deps out of cfg, then creates and
// starts the Subsystem. Resources it creates are released by Close.
//
//   - Fetcher and Executor: a remote.HTTPClient on cfg.Remote.BaseURL
//   - Storage: cfg.Storage.Backend (memory, file or nats)
//   - Monitor: cfg.Connectivity.Source (manual, nats or probe)
func Open(ctx context.Context, cfg config.Config, deps Deps) (*Subsystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	b := &builder{cfg: cfg, deps: deps}
	s, err := b.build(ctx)
	if err != nil {
		b.release()
		return nil, err
	}
	s.closers = b.closers

	if err := s.Start(ctx); err != nil {
		s.cache.Close()
		b.release()
		return nil, err
	}
	return s, nil
}

// Monitor returns the connectivity source. A manual source is a
// *connectivity.Manual the host drives with SetOnline.
func (s *Subsystem) Monitor() connectivity.Monitor {
	return s.monitor
}

type builder struct {
	cfg     config.Config
	deps    Deps
	nats    *natsclient.Client
	http    *http.Client
	closers []func(context.Context) error
}

func (b *builder) build(ctx context.Context) (*Subsystem, error) {
	if b.deps.Fetcher == nil || b.deps.Executor == nil {
		client, err := b.remoteClient()
		if err != nil {
			return nil, err
		}
		if b.deps.Fetcher == nil {
			b.deps.Fetcher = client
		}
		if b.deps.Executor == nil {
			b.deps.Executor = client
		}
	}

	if b.deps.Storage == nil {
		store, err := b.storage(ctx)
		if err != nil {
			return nil, err
		}
		b.deps.Storage = store
	}

	if b.deps.Monitor == nil {
		monitor, err := b.monitor(ctx)
		if err != nil {
			return nil, err
		}
		b.deps.Monitor = monitor
	}

	return New(b.cfg, b.deps)
}

func (b *builder) remoteClient() (*remote.HTTPClient, error) {
	rc := b.cfg.Remote
	httpClient, err := b.httpClient()
	if err != nil {
		return nil, err
	}
	opts := []remote.Option{
		remote.WithHTTPClient(httpClient),
		remote.WithTimeout(b.cfg.RequestTimeout.Std()),
		remote.WithLogger(b.deps.Logger),
		remote.WithMetrics(b.deps.Metrics),
		remote.WithClock(b.deps.Clock),
	}
	if rc.Token != "" {
		opts = append(opts, remote.WithTokenSource(remote.StaticToken(rc.Token)))
	}
	if rc.RateLimit > 0 {
		burst := rc.Burst
		if burst <= 0 {
			burst = 1
		}
		opts = append(opts, remote.WithRateLimit(rate.Limit(rc.RateLimit), burst))
	}
	return remote.NewHTTPClient(rc.BaseURL, opts...)
}

func (b *builder) storage(ctx context.Context) (storage.Store, error) {
	switch b.cfg.Storage.Backend {
	case config.StorageFile:
		return filestore.New(osfs.New(b.cfg.Storage.Dir), ".")
	case config.StorageNATS:
		client, err := b.natsClient(ctx)
		if err != nil {
			return nil, err
		}
		bucket, err := client.CreateKeyValueBucket(ctx, jetstream.KeyValueConfig{
			Bucket:      b.cfg.Storage.Bucket,
			Description: "offlinekit durable state",
			History:     1,
		})
		if err != nil {
			return nil, err
		}
		return kvstore.New(client.NewKVStore(bucket))
	default:
		return memstore.New(), nil
	}
}

func (b *builder) monitor(ctx context.Context) (connectivity.Monitor, error) {
	opts := []connectivity.Option{
		connectivity.WithLogger(b.deps.Logger),
		connectivity.WithMetrics(b.deps.Metrics),
	}
	switch b.cfg.Connectivity.Source {
	case config.SourceNATS:
		client, err := b.natsClient(ctx)
		if err != nil {
			return nil, err
		}
		m := connectivity.NewNATSMonitor(client, opts...)
		b.closers = append(b.closers, func(context.Context) error {
			m.Close()
			return nil
		})
		return m, nil
	case config.SourceProbe:
		httpClient, err := b.httpClient()
		if err != nil {
			return nil, err
		}
		opts = append(opts, connectivity.WithHTTPClient(httpClient))
		if iv := b.cfg.Connectivity.ProbeInterval.Std(); iv > 0 {
			opts = append(opts, connectivity.WithInterval(iv))
		}
		if t := b.cfg.RequestTimeout.Std(); t > 0 {
			opts = append(opts, connectivity.WithTimeout(t))
		}
		p, err := connectivity.NewProbe(b.cfg.Connectivity.ProbeURL, opts...)
		if err != nil {
			return nil, err
		}
		if err := p.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func(context.Context) error {
			p.Stop()
			return nil
		})
		return p, nil
	default:
		return connectivity.NewManual(connectivity.Online, opts...), nil
	}
}

// httpClient is shared by the API client and the probe so both trust the same
// roots and present the same client certificate.
func (b *builder) httpClient() (*http.Client, error) {
	if b.http == nil {
		client, err := tlsutil.NewHTTPClient(b.cfg.Remote.TLS)
		if err != nil {
			return nil, err
		}
		b.http = client
	}
	return b.http, nil
}

// natsClient connects once and is shared by the storage backend and the
// connectivity source.
func (b *builder) natsClient(ctx context.Context) (*natsclient.Client, error) {
	if b.nats != nil {
		return b.nats, nil
	}
	if b.deps.NATS != nil {
		b.nats = b.deps.NATS
		return b.nats, nil
	}
	nc := b.cfg.NATS
	opts := []natsclient.ClientOption{
		natsclient.WithMetrics(b.deps.Metrics),
	}
	if b.deps.Logger != nil {
		opts = append(opts, natsclient.WithLogger(natsclient.SlogLogger(b.deps.Logger)))
	}
	if nc.Name != "" {
		opts = append(opts, natsclient.WithName(nc.Name))
	}
	if nc.Username != "" {
		opts = append(opts, natsclient.WithCredentials(nc.Username, nc.Password))
	}
	if nc.Token != "" {
		opts = append(opts, natsclient.WithToken(nc.Token))
	}
	if nc.DrainTimeout > 0 {
		opts = append(opts, natsclient.WithDrainTimeout(nc.DrainTimeout.Std()))
	}

	client, err := natsclient.NewClient(nc.URL, opts...)
	if err != nil {
		return nil, err
	}
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return nil, errors.WrapTransient(err, componentName, "Open", "connect to nats")
	}
	b.nats = client
	b.closers = append(b.closers, client.Close)
	return client, nil
}

// release undoes a partial build.
func (b *builder) release() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i](ctx)
	}
}
