// Package resource holds the two lifetime tables of the bridge.
//
// Registry pins guest values under integer slots so host-side handles
// can keep them alive independent of the guest VM's stack discipline.
// HostTable deduplicates wrapped host objects exposed into the guest,
// keyed by object identity and protocol flags, holding the host object
// strongly and the guest-side wrapper weakly so that reclamation is
// driven by the collector that owns each side.
//
// Registry and HostTable are not internally synchronized: every caller
// must hold the bridge lock. PendingQueue is the one exception: it is
// written from finalizers, which cannot block on that lock.
package resource
