// Doc comment for package registry usage patterns.
//
// # Worker registry
//
//	workers := registry.New[string, worker.Worker]()
//	workers.Register("ChargeCard", chargeCardWorker)
//
//	w, ok := workers.Get(step.WorkerName)
//	if !ok {
//	    // unknown worker: dispatcher fails the step per policy
//	}
//
// # In-flight tracking
//
// The dispatcher uses a second registry keyed by (saga id, step id) to
// bound concurrent dispatch to its configured capacity:
//
//	inflight := registry.New[inFlightKey, struct{}]()
//	key := inFlightKey{sagaID: sagaID, stepID: stepID}
//	if inflight.Len() < capacity {
//	    inflight.Register(key, struct{}{})
//	    // dispatch...
//	}
//	// on reap:
//	inflight.Delete(key)
//
// All Registry methods are safe for concurrent use.
package registry
