// Package audit records who changed group roles, memberships and
// configuration, and which access checks were denied.
//
// Listener turns mutation events from an events.Bus into audit entries and
// DenialInterceptor plugs into the access engine to record denials. Both
// write through a Logger; LogrusLogger emits structured logrus entries
// tagged component=audit.
//
//	bus.Subscribe(audit.Listener(audit.NewLogrusLogger(logger)))
//	engine.AddInterceptor(audit.DenialInterceptor(auditLogger))
package audit
