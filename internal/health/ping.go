package health

import "context"

// HealthPinger can be implemented by components to expose a specialized
// health check. HealthPing must return nil when the component is healthy.
// The engine has two implementations: the postgres/sqlite store Pinger
// (a PingContext against the DB) and instance.Registry, which treats a
// successful heartbeat write as proof of both DB and membership health.
type HealthPinger interface {
	HealthPing(ctx context.Context) error
}
