package filter

import (
	"sort"

	"codeberg.org/nostrcore/relaysdk/event"
)

// Results pairs one query's ordered result set with the fingerprint of the
// filter that produced it, so a merge knows whether a shared limit still
// applies: limit binds per query, not across different queries.
type Results struct {
	Fingerprint uint64
	Limit       *uint
	Events      event.S
}

// NewResults tags evs with f's fingerprint and limit. evs is assumed
// already in canonical order (created_at desc, id asc), as every store and
// fetch path returns it.
func NewResults(f *F, evs event.S) Results {
	return Results{Fingerprint: f.Fingerprint(), Limit: f.Limit, Events: evs}
}

// Merge combines two result sets element-wise, deduplicating by id and
// restoring canonical order. The limit survives only when both sets came
// from the same filter fingerprint; merging results of different queries
// yields an unbounded set.
func (r Results) Merge(o Results) Results {
	out := Results{Fingerprint: r.Fingerprint, Limit: r.Limit}
	if r.Fingerprint != o.Fingerprint {
		out.Fingerprint = 0
		out.Limit = nil
	}
	seen := make(map[string]struct{}, len(r.Events)+len(o.Events))
	merged := make(event.S, 0, len(r.Events)+len(o.Events))
	for _, evs := range []event.S{r.Events, o.Events} {
		for _, ev := range evs {
			if ev == nil {
				continue
			}
			if _, dup := seen[string(ev.Id)]; dup {
				continue
			}
			seen[string(ev.Id)] = struct{}{}
			merged = append(merged, ev)
		}
	}
	sort.Sort(merged)
	if out.Limit != nil && uint(len(merged)) > *out.Limit {
		merged = merged[:*out.Limit]
	}
	out.Events = merged
	return out
}
