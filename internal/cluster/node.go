// Package cluster implements the directory that resolves a cell Identity to
// the node currently responsible for it (spec.md §4.3), backed by consul
// membership and a consistent-hash ring for deterministic placement.
package cluster

// Node is a single silo process in the cluster.
type Node struct {
	ID   string
	Addr string
}

func (n Node) String() string { return n.ID }
