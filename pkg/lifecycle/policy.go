package lifecycle

import "github.com/openvlab/openvlab/pkg/mgmt"

// RetryPolicy decides what happens to a transient per-entity API rejection.
// Non-transient failures always propagate regardless of policy. The policy
// is an explicit value per operation rather than ad hoc error swallowing,
// so it can be tested in isolation.
type RetryPolicy int

const (
	// PolicyPropagate surfaces every rejection to the caller. Used for
	// storage domain requests.
	PolicyPropagate RetryPolicy = iota

	// PolicySwallow ignores transient rejections. Used for host
	// activation, where convergence polling retries implicitly.
	PolicySwallow

	// PolicyRequeue retries the entity in the same pass. Used for host
	// deactivation, which the engine rejects while the host is busy.
	PolicyRequeue
)

func (p RetryPolicy) String() string {
	switch p {
	case PolicySwallow:
		return "swallow"
	case PolicyRequeue:
		return "requeue"
	default:
		return "propagate"
	}
}

// Handle classifies a per-entity request failure under the policy. requeue
// is true when the entity should be attempted again in the same pass; err
// is non-nil when the failure must propagate.
func (p RetryPolicy) Handle(err error) (requeue bool, out error) {
	if err == nil {
		return false, nil
	}
	if !mgmt.IsTransient(err) {
		return false, err
	}
	switch p {
	case PolicySwallow:
		return false, nil
	case PolicyRequeue:
		return true, nil
	default:
		return false, err
	}
}
