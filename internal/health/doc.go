// Package health holds the liveness and readiness probes served on the ops
// listener.
//
// Probes compose with [All] and [Any]. [ShutdownGate] fails readiness as soon
// as a drain starts so the load balancer stops routing before the public
// listener shuts down. [DirWritable] checks that the content directory still
// accepts writes.
package health
