package lifecycle

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/openvlab/openvlab/pkg/mgmt"
)

func testController(api mgmt.Client) *Controller {
	return NewController(api, zerolog.Nop(), nil, ControllerConfig{
		ShortWait:    200 * time.Millisecond,
		LongWait:     200 * time.Millisecond,
		PollInterval: time.Millisecond,
	})
}

func indexOf(log []string, call string) int {
	for i, c := range log {
		if c == call {
			return i
		}
	}
	return -1
}

func TestActivateAllStorageDomainsMastersFirst(t *testing.T) {
	api := newFakeAPI()
	api.addDataCenter("dc1")
	api.addStorageDomain("dc1", "master_sd", true, mgmt.StorageDomainMaintenance)
	api.addStorageDomain("dc1", "sd2", false, mgmt.StorageDomainMaintenance)

	c := testController(api)
	if err := c.ActivateAllStorageDomains(context.Background()); err != nil {
		t.Fatalf("ActivateAllStorageDomains() = %v", err)
	}

	log := api.callLog()
	mi := indexOf(log, "activate-sd:master_sd")
	oi := indexOf(log, "activate-sd:sd2")
	if mi < 0 || oi < 0 {
		t.Fatalf("missing activation calls: %v", log)
	}
	if mi > oi {
		t.Errorf("master activated after non-master: %v", log)
	}
}

func TestDeactivateAllStorageDomainsMastersLast(t *testing.T) {
	api := newFakeAPI()
	api.addDataCenter("dc1")
	api.addStorageDomain("dc1", "master_sd", true, mgmt.StorageDomainActive)
	api.addStorageDomain("dc1", "sd2", false, mgmt.StorageDomainActive)

	c := testController(api)
	if err := c.DeactivateAllStorageDomains(context.Background()); err != nil {
		t.Fatalf("DeactivateAllStorageDomains() = %v", err)
	}

	log := api.callLog()
	mi := indexOf(log, "deactivate-sd:master_sd")
	oi := indexOf(log, "deactivate-sd:sd2")
	if mi < 0 || oi < 0 {
		t.Fatalf("missing deactivation calls: %v", log)
	}
	if mi < oi {
		t.Errorf("master deactivated before non-master: %v", log)
	}
}

func TestStorageDomainPollWaitsThroughLocked(t *testing.T) {
	api := newFakeAPI()
	api.addDataCenter("dc1")
	api.addStorageDomain("dc1", "sd1", true, mgmt.StorageDomainMaintenance)
	api.domainLag["sd1"] = 3

	c := testController(api)
	if err := c.ActivateAllStorageDomains(context.Background()); err != nil {
		t.Fatalf("activation did not wait through locked state: %v", err)
	}
}

func TestStorageDomainConvergenceTimeout(t *testing.T) {
	api := newFakeAPI()
	api.addDataCenter("dc1")
	api.addStorageDomain("dc1", "sd1", true, mgmt.StorageDomainMaintenance)
	api.stuckDomains["sd1"] = true

	c := testController(api)
	err := c.ActivateAllStorageDomains(context.Background())
	var convErr *ConvergenceError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *ConvergenceError, got %v", err)
	}
	if !strings.Contains(convErr.Entity, "sd1") {
		t.Errorf("unexpected entity: %q", convErr.Entity)
	}
	if convErr.Want != string(mgmt.StorageDomainActive) {
		t.Errorf("Want = %q, want %q", convErr.Want, mgmt.StorageDomainActive)
	}
}

func TestDeactivateAllHostsRequeuesRejectedHost(t *testing.T) {
	api := newFakeAPI()
	api.addHost("h1", mgmt.HostUp)
	api.addHost("h2", mgmt.HostUp)
	api.rejectDeactivateHost["h1"] = 2

	c := testController(api)
	if err := c.DeactivateAllHosts(context.Background()); err != nil {
		t.Fatalf("DeactivateAllHosts() = %v", err)
	}

	attempts := 0
	for _, call := range api.callLog() {
		if call == "deactivate-host:h1" {
			attempts++
		}
	}
	if attempts != 3 {
		t.Errorf("h1 deactivation attempted %d times, want 3", attempts)
	}

	hosts, _ := api.ListHosts(context.Background())
	for _, h := range hosts {
		if h.State != mgmt.HostMaintenance {
			t.Errorf("host %s in state %q, want maintenance", h.Name, h.State)
		}
	}
}

func TestActivateAllHostsSwallowsTransientRejection(t *testing.T) {
	api := newFakeAPI()
	api.addHost("h1", mgmt.HostMaintenance)
	api.rejectActivateHost["h1"] = 1

	// The rejected request is swallowed, so the poll would time out if the
	// host never came up on its own. Flip it up from a side channel the way
	// the engine's own monitoring would.
	go func() {
		time.Sleep(10 * time.Millisecond)
		api.mu.Lock()
		api.hosts[0].State = mgmt.HostUp
		api.mu.Unlock()
	}()

	c := testController(api)
	if err := c.ActivateAllHosts(context.Background()); err != nil {
		t.Fatalf("ActivateAllHosts() = %v", err)
	}
}

func TestActivateAllHostsPropagatesNonTransientFailure(t *testing.T) {
	api := newFakeAPI()
	api.addHost("h1", mgmt.HostMaintenance)
	api.failActivateHost = &mgmt.RequestError{Op: "activate host", Status: 500, Transient: false}

	c := testController(api)
	err := c.ActivateAllHosts(context.Background())
	if err == nil {
		t.Fatal("expected non-transient failure to propagate")
	}
	var reqErr *mgmt.RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("expected *RequestError in chain, got %v", err)
	}
}

func TestDeactivateAllHostsStopsOnCancelledContext(t *testing.T) {
	api := newFakeAPI()
	api.addHost("h1", mgmt.HostUp)
	// Reject forever so the requeue loop would spin without the context
	// check.
	api.rejectDeactivateHost["h1"] = 1 << 30

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	c := testController(api)
	err := c.DeactivateAllHosts(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
