// Package plans resolves an owner to the quota limits of their billing plan.
//
// Plan names come from the external identity service; the limits behind a
// name come from a local Table. Resolution never fails: any lookup problem
// yields the table's default plan.
package plans

import "context"

// Built-in plan names.
const (
	Free  = "free"
	Pro   = "pro"
	Power = "power"
)

// Limits bounds what one owner may run.
type Limits struct {
	// Name is the plan the limits were resolved from.
	Name string
	// MaxMemoryMBPerBot caps the memory ceiling of any single sandbox.
	MaxMemoryMBPerBot int
	// MaxRunningBots caps how many of the owner's bots may run at once.
	MaxRunningBots int
}

// Table maps plan names to limits.
type Table struct {
	// Default names the plan used when the owner's plan is unknown.
	Default string
	Plans   map[string]Limits
}

// DefaultTable returns the built-in free/pro/power tiers with free as default.
func DefaultTable() Table {
	return Table{
		Default: Free,
		Plans: map[string]Limits{
			Free:  {Name: Free, MaxMemoryMBPerBot: 128, MaxRunningBots: 1},
			Pro:   {Name: Pro, MaxMemoryMBPerBot: 512, MaxRunningBots: 5},
			Power: {Name: Power, MaxMemoryMBPerBot: 1024, MaxRunningBots: 20},
		},
	}
}

// Lookup returns the limits for name, falling back to the default plan for
// unrecognized names. A table whose default is itself missing falls back to
// the built-in free tier.
func (t Table) Lookup(name string) Limits {
	if l, ok := t.Plans[name]; ok {
		return l
	}
	if l, ok := t.Plans[t.Default]; ok {
		return l
	}
	return DefaultTable().Plans[Free]
}

// Fallback returns the default plan's limits.
func (t Table) Fallback() Limits {
	return t.Lookup(t.Default)
}

// Resolver resolves an owner identity to plan limits.
type Resolver interface {
	Resolve(ctx context.Context, ownerID string) Limits
}

// StaticResolver gives every owner the table's default plan. It is used when
// no identity service is configured.
type StaticResolver struct {
	Table Table
}

// Resolve implements Resolver.
func (r StaticResolver) Resolve(_ context.Context, _ string) Limits {
	return r.Table.Fallback()
}
