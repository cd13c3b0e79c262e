// Package lifecycle drives one session's compute unit through its states.
//
// The Manager handles the create/start/probe/stop lifecycle of notebook
// sessions on a runtime backend. It separates lifecycle concerns from
// admission and single-flight, which belong to the registry.
//
// Usage:
//
//	m := lifecycle.NewManager(runtimes, prober, opts, logger)
//	s := lifecycle.NewSession("alice", "", prof)
//	if err := m.Launch(ctx, s); err != nil {
//	    return err // s is Failed, or Stopping/Removed if a stop interrupted it
//	}
//	defer m.Stop(ctx, s)
//
// States advance Requested -> Pulling -> Starting -> Probing -> Running ->
// Stopping -> Removed. Pulling, Starting and Probing may instead end in
// Failed. Budgets are enforced here, not by the backend: a backend call that
// ignores its context is abandoned once the deadline passes.
package lifecycle
