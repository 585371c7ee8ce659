package registry

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/metrics"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/oauth/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
)

type Config struct {
	URL          string        `env:"REGISTRY_URL"`
	Token        string        `env:"REGISTRY_TOKEN"`
	Interval     time.Duration `env:"REGISTRY_SYNC_INTERVAL" envDefault:"1m"`
	ResourceTag  string        `env:"REGISTRY_RESOURCE_TAG" envDefault:"oauth-resource"`
	Clients      []string      `env:"REGISTRY_SYNC_CLIENTS" envSeparator:","`
	MaxTries     uint          `env:"REGISTRY_MAX_TRIES" envDefault:"3"`
	RetryInitial time.Duration `env:"REGISTRY_RETRY_INITIAL" envDefault:"500ms"`
}

// Enabled reports whether there is a registry and anything to sync.
func (c Config) Enabled() bool {
	return c.URL != "" && len(c.Clients) > 0
}

// Clients is the client store subset the sync writes through.
type Clients interface {
	Get(ctx context.Context, clientID string) (*entity.Client, error)
	UpdateResourceIDs(ctx context.Context, clientID string, ids []string) error
}

// Sync result labels.
const (
	ResultUpdated   = "updated"
	ResultUnchanged = "unchanged"
	ResultError     = "error"
)

type Sync struct {
	cfg      Config
	registry ServiceRegistry
	clients  Clients
	clock    clockwork.Clock
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

func NewSync(cfg Config, reg ServiceRegistry, clients Clients, clock clockwork.Clock, m *metrics.Metrics,
	logger *zap.SugaredLogger) *Sync {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Sync{cfg: cfg, registry: reg, clients: clients, clock: clock, metrics: m, logger: logger}
}

// Run syncs once immediately and then on every interval until ctx is done.
// Failed runs are logged and retried on the next tick.
func (s *Sync) Run(ctx context.Context) error {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	s.logger.Infow("resource sync started", "interval", interval, "clients", s.cfg.Clients)
	ticker := s.clock.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warnw("resource sync failed", "err", err)
		}
		select {
		case <-ctx.Done():
			s.logger.Infow("resource sync stopped")
			return nil
		case <-ticker.Chan():
		}
	}
}

// RunOnce reads the tagged services and writes them as the resource ids of
// every configured client whose ids differ. It returns how many clients
// were updated. An empty tagged set never clears existing ids.
func (s *Sync) RunOnce(ctx context.Context) (int, error) {
	resources, err := s.resources(ctx)
	if err != nil {
		s.metrics.SyncRun(ResultError)
		return 0, err
	}
	if len(resources) == 0 {
		s.logger.Warnw("registry lists no tagged services, keeping resource ids", "tag", s.cfg.ResourceTag)
		s.metrics.SyncRun(ResultUnchanged)
		return 0, nil
	}

	updated := 0
	var errs []error
	for _, id := range s.cfg.Clients {
		c, err := s.clients.Get(ctx, id)
		if err != nil {
			if errors.Is(err, apperr.ErrClientNotFound) {
				s.logger.Warnw("sync client not registered", "client_id", id)
				continue
			}
			errs = append(errs, err)
			continue
		}
		if c.ResourceIDs.Equal(resources) {
			continue
		}
		if err := s.clients.UpdateResourceIDs(ctx, id, resources); err != nil {
			errs = append(errs, err)
			continue
		}
		s.logger.Infow("client resource ids updated", "client_id", id, "resource_ids", []string(resources))
		updated++
	}
	if err := errors.Join(errs...); err != nil {
		s.metrics.SyncRun(ResultError)
		return updated, err
	}
	if updated > 0 {
		s.metrics.SyncRun(ResultUpdated)
	} else {
		s.metrics.SyncRun(ResultUnchanged)
	}
	return updated, nil
}

func (s *Sync) resources(ctx context.Context) (database.StringList, error) {
	expBackoff := backoff.NewExponentialBackOff()
	if s.cfg.RetryInitial > 0 {
		expBackoff.InitialInterval = s.cfg.RetryInitial
		expBackoff.MaxInterval = 20 * s.cfg.RetryInitial
		expBackoff.Reset()
	}
	tries := s.cfg.MaxTries
	if tries == 0 {
		tries = 1
	}
	services, err := backoff.Retry(ctx, func() (map[string][]string, error) {
		return s.registry.ListServices(ctx)
	},
		backoff.WithBackOff(expBackoff),
		backoff.WithMaxTries(tries),
		backoff.WithNotify(func(err error, d time.Duration) {
			s.logger.Debugw("registry call failed, retrying", "err", err, "after", d)
		}),
	)
	if err != nil {
		return nil, err
	}
	var out database.StringList
	for name, tags := range services {
		if s.cfg.ResourceTag == "" || database.StringList(tags).Contains(s.cfg.ResourceTag) {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out, nil
}
