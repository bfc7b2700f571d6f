package plugin

import (
	"github.com/maxpert/geyser/admin"
	"github.com/maxpert/geyser/event"
)

var _ admin.StatusProvider = (*Plugin)(nil)

// Environments reports the state of every publisher for the admin API
func (p *Plugin) Environments() []admin.EnvironmentStatus {
	out := make([]admin.EnvironmentStatus, 0, len(p.publishers))
	for _, pub := range p.publishers {
		list := pub.Filter().Allowlist()

		var kinds []string
		for _, k := range []event.Kind{event.KindAccount, event.KindSlot, event.KindTransaction} {
			if pub.Wants(k) {
				kinds = append(kinds, k.String())
			}
		}

		out = append(out, admin.EnvironmentStatus{
			Name:       pub.Name(),
			Type:       string(pub.Type()),
			Kinds:      kinds,
			Programs:   list.Len(),
			Remote:     list.HasRemote(),
			Refreshing: list.Refreshing(),
		})
	}
	return out
}

// AllowlistPrograms returns the current allow-list of an environment
func (p *Plugin) AllowlistPrograms(name string) ([]string, bool) {
	for _, pub := range p.publishers {
		if pub.Name() != name {
			continue
		}
		snapshot := pub.Filter().Allowlist().Snapshot()
		out := make([]string, len(snapshot))
		for i, id := range snapshot {
			out[i] = id.String()
		}
		return out, true
	}
	return nil, false
}
