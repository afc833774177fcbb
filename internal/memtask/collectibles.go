package memtask

import (
	"context"

	"github.com/taskgraph/tgraph/pkg/backend"
	"github.com/taskgraph/tgraph/pkg/id"
	"github.com/taskgraph/tgraph/pkg/runtimeapi"
	"github.com/taskgraph/tgraph/pkg/value"
)

// ReadTaskCollectibles returns the deduplicated union of trait collected
// by t and every task reachable from it through structural (parent->child)
// edges — collectibles bubble up the call tree the way they do in
// turbo-tasks, not just within the single task that emitted them.
func (b *Backend) ReadTaskCollectibles(ctx context.Context, t id.TaskId, trait id.TraitTypeId, reader id.TaskId, api runtimeapi.RuntimeAPI) backend.RawVcSet {
	if reader.IsValid() {
		b.recordDep(reader, depKey{kind: depCollectible, task: t, trait: trait})
	}

	seen := make(map[id.TaskId]struct{}, 8)
	acc := make(map[value.RawVc]struct{})
	b.collectCollectibles(t, trait, seen, acc)

	items := make([]value.RawVc, 0, len(acc))
	for v := range acc {
		items = append(items, v)
	}
	return backend.NewRawVcSet(items...)
}

func (b *Backend) collectCollectibles(t id.TaskId, trait id.TraitTypeId, seen map[id.TaskId]struct{}, acc map[value.RawVc]struct{}) {
	if _, ok := seen[t]; ok {
		return
	}
	seen[t] = struct{}{}

	st, ok := b.get(t)
	if !ok {
		return
	}
	st.mu.Lock()
	for item, count := range st.collectibles[trait] {
		if count > 0 {
			acc[item] = struct{}{}
		}
	}
	children := make([]id.TaskId, 0, len(st.children))
	for c := range st.children {
		children = append(children, c)
	}
	st.mu.Unlock()

	for _, c := range children {
		b.collectCollectibles(c, trait, seen, acc)
	}
}

// EmitCollectible adds item to t's collectible multiset for trait and
// invalidates every reader of that (task, trait) collectible set.
func (b *Backend) EmitCollectible(trait id.TraitTypeId, item value.RawVc, t id.TaskId, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}
	st.mu.Lock()
	if st.collectibles == nil {
		st.collectibles = make(map[id.TraitTypeId]map[value.RawVc]int)
	}
	if st.collectibles[trait] == nil {
		st.collectibles[trait] = make(map[value.RawVc]int)
	}
	st.collectibles[trait][item]++
	st.mu.Unlock()

	b.publish(collectibleTopic(t, trait))
	b.invalidateReadersOf(depKey{kind: depCollectible, task: t, trait: trait}, api)
}

// UnemitCollectible removes one prior emission of item from t's
// collectible multiset for trait; emit then unemit of the same pair in
// the same task yields an empty set for that trait.
func (b *Backend) UnemitCollectible(trait id.TraitTypeId, item value.RawVc, t id.TaskId, api runtimeapi.RuntimeAPI) {
	st, ok := b.get(t)
	if !ok {
		return
	}
	st.mu.Lock()
	if st.collectibles[trait] != nil && st.collectibles[trait][item] > 0 {
		st.collectibles[trait][item]--
	}
	st.mu.Unlock()

	b.publish(collectibleTopic(t, trait))
	b.invalidateReadersOf(depKey{kind: depCollectible, task: t, trait: trait}, api)
}
