package providers

// MergeGroups partitions providers into sets whose stops may be combined.
//
// A provider is a member once it declares a mergeable mapping or is named as
// a true partner by another provider. A mergeable value that is not a
// mapping counts as undeclared. Every declared true edge unions both
// ends, so groups are transitive and a provider belongs to exactly one group.
// Providers that are not members never merge, not even with themselves.
type MergeGroups struct {
	parent map[string]string
	rank   map[string]int
}

// NewMergeGroups builds the groups from registry entries
func NewMergeGroups(list []Provider) *MergeGroups {
	g := &MergeGroups{
		parent: make(map[string]string),
		rank:   make(map[string]int),
	}
	for _, p := range list {
		if _, ok := p.mergeableMap(); !ok {
			continue
		}
		g.add(p.OnestopID)
		for _, partner := range p.MergePartners() {
			g.add(partner)
			g.union(p.OnestopID, partner)
		}
	}
	// Flatten so that lookups never walk more than one hop.
	for id := range g.parent {
		g.parent[id] = g.find(id)
	}
	return g
}

func (g *MergeGroups) add(id string) {
	if _, ok := g.parent[id]; !ok {
		g.parent[id] = id
	}
}

func (g *MergeGroups) find(id string) string {
	root := id
	for g.parent[root] != root {
		root = g.parent[root]
	}
	for id != root {
		next := g.parent[id]
		g.parent[id] = root
		id = next
	}
	return root
}

func (g *MergeGroups) union(a, b string) {
	ra, rb := g.find(a), g.find(b)
	if ra == rb {
		return
	}
	switch {
	case g.rank[ra] < g.rank[rb]:
		g.parent[ra] = rb
	case g.rank[ra] > g.rank[rb]:
		g.parent[rb] = ra
	default:
		g.parent[rb] = ra
		g.rank[ra]++
	}
}

// Root returns the representative of the provider's group
func (g *MergeGroups) Root(id string) (string, bool) {
	if g == nil {
		return "", false
	}
	root, ok := g.parent[id]
	return root, ok
}

// CanMerge reports whether stops of the two providers may be combined
func (g *MergeGroups) CanMerge(a, b string) bool {
	ra, okA := g.Root(a)
	rb, okB := g.Root(b)
	return okA && okB && ra == rb
}
