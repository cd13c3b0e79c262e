// Package event provides a pub-sub bus for session lifecycle events.
//
// The registry publishes an event when it admits a spawn, when a session
// becomes reachable, when a spawn fails and when a session is stopped.
// Subscribers such as the hub's audit log observe these without the
// registry knowing about them.
//
// # Main Types
//
//   - [Event]: Interface that all events implement, providing EventType() and Timestamp()
//   - [SessionEvent]: An Event that also names the session it concerns
//   - [Bus]: Synchronous pub-sub dispatcher, safe for concurrent use
//
// # Session Events
//
//   - [SessionSpawningEvent]: session.spawning
//   - [SessionRunningEvent]: session.running
//   - [SessionFailedEvent]: session.failed
//   - [SessionStoppedEvent]: session.stopped, with a reason of requested, culled or shutdown
//
// Handlers run synchronously on the publishing goroutine. A panicking
// handler is logged and does not prevent delivery to the others.
//
//	bus := event.NewBus(logger)
//	bus.Subscribe(event.TypeSessionFailed, func(e event.Event) {
//	    failed := e.(event.SessionFailedEvent)
//	    alert(failed.User, failed.Err)
//	})
package event
