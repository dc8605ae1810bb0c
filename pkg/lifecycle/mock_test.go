package lifecycle

import (
	"context"
	"fmt"
	"sync"

	"github.com/openvlab/openvlab/pkg/mgmt"
)

// Mock management API for testing. Activation and deactivation requests
// flip entity state immediately unless a lag or rejection is configured,
// and every call is appended to an ordered log.
type fakeAPI struct {
	mu      sync.Mutex
	dcs     []mgmt.DataCenter
	domains map[string][]*mgmt.StorageDomain
	hosts   []*mgmt.Host

	// rejectDeactivateHost maps host ID to the number of transient
	// rejections before the request is accepted.
	rejectDeactivateHost map[string]int
	// rejectActivateHost is the activation counterpart.
	rejectActivateHost map[string]int
	// stuckDomains never leave their current state.
	stuckDomains map[string]bool
	// domainLag maps domain ID to the number of polls spent locked
	// before the requested state is reported.
	domainLag map[string]int

	failActivateHost error

	calls []string
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		domains:              make(map[string][]*mgmt.StorageDomain),
		rejectDeactivateHost: make(map[string]int),
		rejectActivateHost:   make(map[string]int),
		stuckDomains:         make(map[string]bool),
		domainLag:            make(map[string]int),
	}
}

func (f *fakeAPI) addDataCenter(id string) {
	f.dcs = append(f.dcs, mgmt.DataCenter{ID: id, Name: id})
}

func (f *fakeAPI) addStorageDomain(dcID, id string, master bool, state mgmt.StorageDomainState) {
	f.domains[dcID] = append(f.domains[dcID], &mgmt.StorageDomain{
		ID:           id,
		Name:         id,
		DataCenterID: dcID,
		Master:       master,
		State:        state,
	})
}

func (f *fakeAPI) addHost(id string, state mgmt.HostState) {
	f.hosts = append(f.hosts, &mgmt.Host{ID: id, Name: id, State: state})
}

func (f *fakeAPI) record(call string) {
	f.calls = append(f.calls, call)
}

func (f *fakeAPI) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *fakeAPI) ListDataCenters(ctx context.Context) ([]mgmt.DataCenter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]mgmt.DataCenter, len(f.dcs))
	copy(out, f.dcs)
	return out, nil
}

func (f *fakeAPI) ListStorageDomains(ctx context.Context, dcID string) ([]mgmt.StorageDomain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mgmt.StorageDomain
	for _, sd := range f.domains[dcID] {
		out = append(out, *sd)
	}
	return out, nil
}

func (f *fakeAPI) GetStorageDomain(ctx context.Context, dcID, name string) (*mgmt.StorageDomain, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	sd := f.findDomain(dcID, name)
	if sd == nil {
		return nil, fmt.Errorf("no storage domain %s in %s", name, dcID)
	}
	if f.domainLag[sd.ID] > 0 {
		f.domainLag[sd.ID]--
		cur := *sd
		cur.State = mgmt.StorageDomainLocked
		return &cur, nil
	}
	cur := *sd
	return &cur, nil
}

func (f *fakeAPI) ActivateStorageDomain(ctx context.Context, dcID, id string) error {
	return f.transitionDomain(dcID, id, mgmt.StorageDomainActive, "activate-sd")
}

func (f *fakeAPI) DeactivateStorageDomain(ctx context.Context, dcID, id string) error {
	return f.transitionDomain(dcID, id, mgmt.StorageDomainMaintenance, "deactivate-sd")
}

func (f *fakeAPI) transitionDomain(dcID, id string, want mgmt.StorageDomainState, verb string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record(verb + ":" + id)
	sd := f.findDomain(dcID, id)
	if sd == nil {
		return fmt.Errorf("no storage domain %s in %s", id, dcID)
	}
	if !f.stuckDomains[id] {
		sd.State = want
	}
	return nil
}

func (f *fakeAPI) findDomain(dcID, nameOrID string) *mgmt.StorageDomain {
	for _, sd := range f.domains[dcID] {
		if sd.ID == nameOrID || sd.Name == nameOrID {
			return sd
		}
	}
	return nil
}

func (f *fakeAPI) ListHosts(ctx context.Context) ([]mgmt.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []mgmt.Host
	for _, h := range f.hosts {
		out = append(out, *h)
	}
	return out, nil
}

func (f *fakeAPI) GetHost(ctx context.Context, name string) (*mgmt.Host, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, h := range f.hosts {
		if h.Name == name {
			cur := *h
			return &cur, nil
		}
	}
	return nil, fmt.Errorf("no host %s", name)
}

func (f *fakeAPI) ActivateHost(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("activate-host:" + id)
	if f.failActivateHost != nil {
		return f.failActivateHost
	}
	if f.rejectActivateHost[id] > 0 {
		f.rejectActivateHost[id]--
		return &mgmt.RequestError{Op: "activate host", Status: 409, Transient: true}
	}
	for _, h := range f.hosts {
		if h.ID == id {
			h.State = mgmt.HostUp
		}
	}
	return nil
}

func (f *fakeAPI) DeactivateHost(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("deactivate-host:" + id)
	if f.rejectDeactivateHost[id] > 0 {
		f.rejectDeactivateHost[id]--
		return &mgmt.RequestError{Op: "deactivate host", Status: 409, Transient: true}
	}
	for _, h := range f.hosts {
		if h.ID == id {
			h.State = mgmt.HostMaintenance
		}
	}
	return nil
}

// Mock remote control for testing.
type fakeRemote struct {
	mu       sync.Mutex
	actions  []string
	failStop map[string]bool
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{failStop: make(map[string]bool)}
}

func (r *fakeRemote) log(action string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
}

func (r *fakeRemote) actionLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.actions))
	copy(out, r.actions)
	return out
}

func (r *fakeRemote) WaitReady(ctx context.Context) error {
	r.log("wait-ready")
	return nil
}

func (r *fakeRemote) StartService(ctx context.Context, name string) error {
	r.log("start:" + name)
	return nil
}

func (r *fakeRemote) StopService(ctx context.Context, name string) error {
	r.mu.Lock()
	fail := r.failStop[name]
	r.mu.Unlock()
	r.log("stop:" + name)
	if fail {
		return fmt.Errorf("stop %s failed", name)
	}
	return nil
}

func (r *fakeRemote) RunScript(ctx context.Context, localPath string) error {
	r.log("script:" + localPath)
	return nil
}

func (r *fakeRemote) Download(ctx context.Context, remotePath, localPath string) error {
	r.log("download:" + remotePath)
	return nil
}

// Mock snapshotter for testing.
type fakeSnapper struct {
	mu       sync.Mutex
	captured []string
	reverted []string
	failWith error
}

func (s *fakeSnapper) Capture(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return s.failWith
	}
	s.captured = append(s.captured, name)
	return nil
}

func (s *fakeSnapper) Revert(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reverted = append(s.reverted, name)
	return nil
}
