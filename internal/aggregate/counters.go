package aggregate

import (
	"net/netip"
	"sort"

	"github.com/gatewatch/gatewatch/internal/model"
)

type centry struct {
	count int64
	order int // first-seen rank, used as the stable tie-break
}

// counterMap counts occurrences per label while remembering first-seen order.
type counterMap struct {
	m    map[string]*centry
	next int
}

func newCounterMap() *counterMap {
	return &counterMap{m: make(map[string]*centry)}
}

func (c *counterMap) inc(key string) {
	e, ok := c.m[key]
	if !ok {
		e = &centry{order: c.next}
		c.next++
		c.m[key] = e
	}
	e.count++
}

// top returns up to n entries sorted by count descending, ties broken by
// first-seen order.
func (c *counterMap) top(n int) []model.TopEntry {
	type kv struct {
		key string
		e   *centry
	}
	all := make([]kv, 0, len(c.m))
	for k, e := range c.m {
		all = append(all, kv{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.count != all[j].e.count {
			return all[i].e.count > all[j].e.count
		}
		return all[i].e.order < all[j].e.order
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]model.TopEntry, len(all))
	for i, x := range all {
		out[i] = model.TopEntry{Key: x.key, Count: x.e.count}
	}
	return out
}

func (c *counterMap) plain() map[string]int64 {
	out := make(map[string]int64, len(c.m))
	for k, e := range c.m {
		out[k] = e.count
	}
	return out
}

type tupleKey struct {
	src  string
	dest string
}

// tupleCounter counts (source, destination) pairs with first-seen ordering.
type tupleCounter struct {
	m    map[tupleKey]*centry
	next int
}

func newTupleCounter() *tupleCounter {
	return &tupleCounter{m: make(map[tupleKey]*centry)}
}

func (c *tupleCounter) inc(src, dest string) {
	k := tupleKey{src, dest}
	e, ok := c.m[k]
	if !ok {
		e = &centry{order: c.next}
		c.next++
		c.m[k] = e
	}
	e.count++
}

func (c *tupleCounter) top(n int) []model.BlockedCategorySource {
	type kv struct {
		key tupleKey
		e   *centry
	}
	all := make([]kv, 0, len(c.m))
	for k, e := range c.m {
		all = append(all, kv{k, e})
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].e.count != all[j].e.count {
			return all[i].e.count > all[j].e.count
		}
		return all[i].e.order < all[j].e.order
	})
	if len(all) > n {
		all = all[:n]
	}
	out := make([]model.BlockedCategorySource, len(all))
	for i, x := range all {
		out[i] = model.BlockedCategorySource{
			SrcIP:       x.key.src,
			Destination: x.key.dest,
			Count:       x.e.count,
		}
	}
	return out
}

// resolveDestination prefers a hostname over the destination IP when the
// hostname is present, differs from the IP, and is not itself a dotted-quad
// literal.
func resolveDestination(hostname, dstIP string) string {
	if hostname != "" && hostname != dstIP && !isIPv4Literal(hostname) {
		return hostname
	}
	return dstIP
}

func isIPv4Literal(s string) bool {
	a, err := netip.ParseAddr(s)
	return err == nil && a.Is4()
}
