package lifecycle

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/openvlab/openvlab/pkg/mgmt"
	"github.com/openvlab/openvlab/pkg/telemetry"
)

// ControllerConfig bounds the controller's convergence polling.
type ControllerConfig struct {
	// ShortWait bounds host state convergence.
	ShortWait time.Duration

	// LongWait bounds storage domain state convergence. Domain
	// transitions involve the whole pool and take far longer than host
	// transitions.
	LongWait time.Duration

	// PollInterval is the delay between convergence checks.
	PollInterval time.Duration
}

// Controller drives ordered activation and deactivation of storage domains
// and hosts against the management API, polling for state convergence
// within bounded time.
//
// The controller is invoked group-by-group: callers enforce master-first
// ordering on activation and non-master-first on deactivation, because the
// master domain holds the pool metadata and must be available first and
// longest.
type Controller struct {
	api          mgmt.Client
	log          zerolog.Logger
	metrics      *telemetry.Metrics
	shortWait    time.Duration
	longWait     time.Duration
	pollInterval time.Duration
}

// NewController creates a controller. metrics may be nil.
func NewController(api mgmt.Client, log zerolog.Logger, metrics *telemetry.Metrics, cfg ControllerConfig) *Controller {
	if cfg.ShortWait == 0 {
		cfg.ShortWait = DefaultShortWait
	}
	if cfg.LongWait == 0 {
		cfg.LongWait = DefaultLongWait
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Controller{
		api:          api,
		log:          log.With().Str("component", "lifecycle").Logger(),
		metrics:      metrics,
		shortWait:    cfg.ShortWait,
		longWait:     cfg.LongWait,
		pollInterval: cfg.PollInterval,
	}
}

// ActivateStorageDomains issues an activate request for every domain in the
// group, then polls each domain's owning data center until it reports
// active. Request failures propagate immediately.
func (c *Controller) ActivateStorageDomains(ctx context.Context, domains []mgmt.StorageDomain) error {
	return c.transitionStorageDomains(ctx, domains, mgmt.StorageDomainActive)
}

// DeactivateStorageDomains is the symmetric operation, polling for
// maintenance. Callers deactivate non-master domains before the master so
// the pool metadata stays available until all dependents are quiesced.
func (c *Controller) DeactivateStorageDomains(ctx context.Context, domains []mgmt.StorageDomain) error {
	return c.transitionStorageDomains(ctx, domains, mgmt.StorageDomainMaintenance)
}

func (c *Controller) transitionStorageDomains(ctx context.Context, domains []mgmt.StorageDomain, want mgmt.StorageDomainState) error {
	for _, sd := range domains {
		var err error
		if want == mgmt.StorageDomainActive {
			err = c.api.ActivateStorageDomain(ctx, sd.DataCenterID, sd.ID)
		} else {
			err = c.api.DeactivateStorageDomain(ctx, sd.DataCenterID, sd.ID)
		}
		// PolicyPropagate: storage domain rejections are never swallowed.
		if _, err := PolicyPropagate.Handle(err); err != nil {
			return fmt.Errorf("storage domain %s: %w", sd.Name, err)
		}
		c.log.Info().Str("domain", sd.Name).Str("target", string(want)).Msg("storage domain transition requested")
	}

	for _, sd := range domains {
		sd := sd
		entity := fmt.Sprintf("storage domain %s", sd.Name)
		err := c.waitFor(ctx, c.longWait, entity, string(want), func(ctx context.Context) (bool, error) {
			cur, err := c.api.GetStorageDomain(ctx, sd.DataCenterID, sd.Name)
			if err != nil {
				return false, err
			}
			return cur.State == want, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// ActivateAllStorageDomains activates every storage domain of every data
// center, masters first.
func (c *Controller) ActivateAllStorageDomains(ctx context.Context) error {
	return c.forEachDataCenter(ctx, func(ctx context.Context, masters, others []mgmt.StorageDomain) error {
		if err := c.ActivateStorageDomains(ctx, masters); err != nil {
			return err
		}
		return c.ActivateStorageDomains(ctx, others)
	})
}

// DeactivateAllStorageDomains deactivates every storage domain of every
// data center, masters last.
func (c *Controller) DeactivateAllStorageDomains(ctx context.Context) error {
	return c.forEachDataCenter(ctx, func(ctx context.Context, masters, others []mgmt.StorageDomain) error {
		if err := c.DeactivateStorageDomains(ctx, others); err != nil {
			return err
		}
		return c.DeactivateStorageDomains(ctx, masters)
	})
}

func (c *Controller) forEachDataCenter(ctx context.Context, fn func(ctx context.Context, masters, others []mgmt.StorageDomain) error) error {
	dcs, err := c.api.ListDataCenters(ctx)
	if err != nil {
		return err
	}
	for _, dc := range dcs {
		sds, err := c.api.ListStorageDomains(ctx, dc.ID)
		if err != nil {
			return err
		}
		var masters, others []mgmt.StorageDomain
		for _, sd := range sds {
			if sd.Master {
				masters = append(masters, sd)
			} else {
				others = append(others, sd)
			}
		}
		if err := fn(ctx, masters, others); err != nil {
			return err
		}
	}
	return nil
}

// DeactivateAllHosts sends every host to maintenance. The engine rejects
// deactivation while a host is busy, so rejected hosts are requeued within
// the same pass until every request has been accepted; the pass then polls
// each host for maintenance within the short bound.
func (c *Controller) DeactivateAllHosts(ctx context.Context) error {
	hosts, err := c.api.ListHosts(ctx)
	if err != nil {
		return err
	}

	queue := make([]mgmt.Host, len(hosts))
	copy(queue, hosts)

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		host := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		requeue, err := PolicyRequeue.Handle(c.api.DeactivateHost(ctx, host.ID))
		if err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}
		if requeue {
			c.log.Warn().Str("host", host.Name).Msg("deactivation rejected, requeueing")
			queue = append([]mgmt.Host{host}, queue...)
			continue
		}
		c.log.Info().Str("host", host.Name).Msg("host sent to maintenance")
	}

	return c.waitForHosts(ctx, hosts, mgmt.HostMaintenance)
}

// ActivateAllHosts issues an activate request to every host, ignoring
// transient rejections (the convergence poll retries implicitly), then
// polls each host for up within the short bound.
func (c *Controller) ActivateAllHosts(ctx context.Context) error {
	hosts, err := c.api.ListHosts(ctx)
	if err != nil {
		return err
	}

	for _, host := range hosts {
		if _, err := PolicySwallow.Handle(c.api.ActivateHost(ctx, host.ID)); err != nil {
			return fmt.Errorf("host %s: %w", host.Name, err)
		}
	}

	return c.waitForHosts(ctx, hosts, mgmt.HostUp)
}

func (c *Controller) waitForHosts(ctx context.Context, hosts []mgmt.Host, want mgmt.HostState) error {
	for _, host := range hosts {
		host := host
		entity := fmt.Sprintf("host %s", host.Name)
		err := c.waitFor(ctx, c.shortWait, entity, string(want), func(ctx context.Context) (bool, error) {
			cur, err := c.api.GetHost(ctx, host.Name)
			if err != nil {
				return false, err
			}
			return cur.State == want, nil
		})
		if err != nil {
			return err
		}
	}
	return nil
}
