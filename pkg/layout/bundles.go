package layout

import (
	"sort"

	"github.com/opst/assetgraph/pkg/domain"
)

// IdentifyBundles groups nodes by common prefixes of their asset keys.
//
// Each prefix shared by 2 or more nodes is a bundle, identified by the token of the prefix.
// A node is a direct member of its most specific bundle only,
// and a bundle nested in another bundle is a member of it.
//
// # Returns
//
// - map[string][]string: bundle id -> ids of members, in the order of nodes.
func IdentifyBundles(nodes []Node) map[string][]string {
	type prefix struct {
		token   string
		depth   int
		members []string
	}
	prefixes := map[string]*prefix{}
	order := []*prefix{}

	for _, n := range nodes {
		id, key, ok := n.identity()
		if !ok {
			continue
		}
		for i := 1; i < len(key.Path); i++ {
			token := key.Prefix(i).Token()
			p, ok := prefixes[token]
			if !ok {
				p = &prefix{token: token, depth: i}
				prefixes[token] = p
				order = append(order, p)
			}
			p.members = append(p.members, id)
		}
	}

	// deeper first. prefixes in the same depth never share nodes.
	sort.SliceStable(order, func(i, j int) bool {
		if order[i].depth != order[j].depth {
			return order[i].depth > order[j].depth
		}
		return order[i].token < order[j].token
	})

	bundles := map[string][]string{}
	assigned := map[string]string{}
	for _, p := range order {
		if len(p.members) < 2 {
			continue
		}
		seen := map[string]bool{}
		members := []string{}
		for _, id := range p.members {
			for {
				b, ok := assigned[id]
				if !ok {
					break
				}
				id = b
			}
			if seen[id] {
				continue
			}
			seen[id] = true
			members = append(members, id)
		}
		for _, id := range members {
			assigned[id] = p.token
		}
		bundles[p.token] = members
	}
	return bundles
}

// bundleParents inverts bundles: member id -> bundle id.
func bundleParents(bundles map[string][]string) map[string]string {
	parents := map[string]string{}
	for b, members := range bundles {
		for _, m := range members {
			parents[m] = b
		}
	}
	return parents
}

func (n Node) identity() (string, domain.AssetKey, bool) {
	key := n.AssetKey
	if key.IsZero() {
		k, err := domain.ParseToken(n.ID)
		if err != nil {
			return "", domain.AssetKey{}, false
		}
		key = k
	} else if key.Validate() != nil {
		return "", domain.AssetKey{}, false
	}
	id := n.ID
	if id == "" {
		id = key.Token()
	}
	return id, key, true
}
