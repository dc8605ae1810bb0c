// Package mgmt defines the narrow client interface to the engine's
// management API, along with the entities the lifecycle core operates on.
// The REST implementation is thin glue; the core only ever sees the Client
// interface.
package mgmt

import "context"

// StorageDomainState is the observable state of a storage domain within its
// data center.
type StorageDomainState string

const (
	StorageDomainActive      StorageDomainState = "active"
	StorageDomainMaintenance StorageDomainState = "maintenance"
	// StorageDomainLocked marks a domain mid-transition; pollers keep
	// waiting through it.
	StorageDomainLocked StorageDomainState = "locked"
)

// HostState is the observable state of a hypervisor host.
type HostState string

const (
	HostUp          HostState = "up"
	HostMaintenance HostState = "maintenance"
	// HostPreparing marks a host mid-transition.
	HostPreparing HostState = "preparing_for_maintenance"
)

// DataCenter groups storage domains under one pool.
type DataCenter struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// StorageDomain belongs to exactly one data center. At most one domain per
// data center carries the Master flag; the master holds the pool metadata
// and must be active whenever any sibling domain is active.
type StorageDomain struct {
	ID           string             `json:"id"`
	Name         string             `json:"name"`
	DataCenterID string             `json:"data_center_id"`
	Master       bool               `json:"master"`
	State        StorageDomainState `json:"state"`
}

// Host is a hypervisor host registered with the engine.
type Host struct {
	ID    string    `json:"id"`
	Name  string    `json:"name"`
	State HostState `json:"state"`
}

// Client is the management API surface the lifecycle core consumes. Any
// call may fail with a *RequestError representing a transient rejection;
// how that is handled (swallowed, requeued, propagated) is the caller's
// policy, not the client's.
//
// Implementations must be safe for concurrent read calls; mutating calls
// are independent per entity and carry no cross-call ordering.
type Client interface {
	ListDataCenters(ctx context.Context) ([]DataCenter, error)
	ListStorageDomains(ctx context.Context, dataCenterID string) ([]StorageDomain, error)
	GetStorageDomain(ctx context.Context, dataCenterID, name string) (*StorageDomain, error)
	ActivateStorageDomain(ctx context.Context, dataCenterID, id string) error
	DeactivateStorageDomain(ctx context.Context, dataCenterID, id string) error

	ListHosts(ctx context.Context) ([]Host, error)
	GetHost(ctx context.Context, name string) (*Host, error)
	ActivateHost(ctx context.Context, id string) error
	DeactivateHost(ctx context.Context, id string) error
}
