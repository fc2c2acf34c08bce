// Package cluster implements Cluster Membership, component J: node
// discovery via renewable leases under `/nodes/{id}`, shard-to-node
// assignment by hashing stream names into a ring, and cooperative
// lease handover (flush, then release) per spec.md §4.J.
package cluster

import (
	"context"
	"encoding/json"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"go.obscore.dev/obscore/internal/metastore"
)

// ErrCluster is the general-purpose error class for this package.
var ErrCluster = errs.Class("cluster")

// nodesPrefix is the metastore key prefix under which every node's lease
// lives, per spec.md §4.J's "/nodes/{id}" lease key.
const nodesPrefix = "/nodes/"

// Role is a capability a node may hold; a node may hold more than one at
// once, per spec.md §4.J ("ingester, querier, compactor may coexist").
type Role string

// Roles spec.md §4.J names.
const (
	RoleIngester  Role = "ingester"
	RoleQuerier   Role = "querier"
	RoleCompactor Role = "compactor"
)

// Node is one live cluster member as observed through its `/nodes/{id}`
// lease value.
type Node struct {
	ID    string `json:"id"`
	Addr  string `json:"addr"`
	Roles []Role `json:"roles"`
}

func (n Node) hasRole(role Role) bool {
	for _, r := range n.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// FlushFunc is called for every shard this node must relinquish before its
// lease is released, so the handover is flush-then-release, never
// release-then-flush, per spec.md §4.J.
type FlushFunc func(ctx context.Context, stream string) error

// Config bounds Membership's lease renewal loop.
type Config struct {
	// TTL is how long a node's lease is valid without renewal.
	TTL time.Duration
	// RenewInterval should be comfortably shorter than TTL (a fraction of
	// it) so a transient renew failure doesn't immediately drop the node.
	RenewInterval time.Duration
}

// DefaultConfig matches spec.md §4.J's "ttl + clock-skew" re-assignment
// window, using a 5s clock-skew bound as spec.md §3 states for node leases.
func DefaultConfig() Config {
	return Config{TTL: 15 * time.Second, RenewInterval: 5 * time.Second}
}

// Membership tracks this node's own lease plus the live set of peers, and
// answers shard-ownership queries for the Query Planner (spec.md §4.G
// "Dispatch") and the ingestion path.
type Membership struct {
	log   *zap.Logger
	store metastore.Store
	cfg   Config
	self  Node

	mu    sync.RWMutex
	lease metastore.LeaseID
	peers map[string]Node // keyed by node id, includes self once joined
}

// New constructs a Membership for self, not yet joined to the cluster.
func New(log *zap.Logger, store metastore.Store, cfg Config, self Node) *Membership {
	return &Membership{log: log, store: store, cfg: cfg, self: self, peers: map[string]Node{self.ID: self}}
}

// Join claims self's lease and starts the renewal loop plus the peer watch,
// both bound to ctx. It returns once the initial lease is held and the peer
// set has been populated from a catch-up scan.
func (m *Membership) Join(ctx context.Context) error {
	value, err := json.Marshal(m.self)
	if err != nil {
		return ErrCluster.Wrap(err)
	}
	key := nodesPrefix + m.self.ID
	lease, err := m.store.Lease(ctx, key, m.cfg.TTL)
	if err != nil {
		return ErrCluster.Wrap(err)
	}
	if err := m.store.Put(ctx, key, 0, value); err != nil && !metastore.ErrConflict.Has(err) {
		return ErrCluster.Wrap(err)
	}

	m.mu.Lock()
	m.lease = lease
	m.mu.Unlock()

	if err := m.refreshPeers(ctx); err != nil {
		m.log.Warn("initial peer scan failed", zap.Error(err))
	}

	events, err := m.store.Watch(ctx, nodesPrefix, 0)
	if err != nil {
		return ErrCluster.Wrap(err)
	}
	go m.watchPeers(ctx, events)
	go m.renewLoop(ctx)
	return nil
}

func (m *Membership) refreshPeers(ctx context.Context) error {
	items, err := m.store.Scan(ctx, nodesPrefix, "", "", 0)
	if err != nil {
		return ErrCluster.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range items {
		var n Node
		if err := json.Unmarshal(item.Value, &n); err != nil {
			continue
		}
		m.peers[n.ID] = n
	}
	return nil
}

func (m *Membership) watchPeers(ctx context.Context, events <-chan metastore.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			id := strings.TrimPrefix(e.Item.Key, nodesPrefix)
			m.mu.Lock()
			switch e.Type {
			case metastore.EventDelete:
				delete(m.peers, id)
			default:
				var n Node
				if err := json.Unmarshal(e.Item.Value, &n); err == nil {
					m.peers[n.ID] = n
				}
			}
			m.mu.Unlock()
		}
	}
}

func (m *Membership) renewLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.mu.RLock()
			lease := m.lease
			m.mu.RUnlock()
			if lease == "" {
				continue
			}
			if err := m.store.Renew(ctx, lease, m.cfg.TTL); err != nil {
				m.log.Warn("lease renewal failed", zap.Error(err))
			}
		}
	}
}

// Leave performs the cooperative handover spec.md §4.J requires: flush is
// called once per stream this node currently owns (via flush), and only
// once every call returns does the node release its lease, so no shard is
// ever left without a live owner mid-handover.
func (m *Membership) Leave(ctx context.Context, streams []string, flush FlushFunc) error {
	for _, stream := range streams {
		if nodeID, local := m.Owner("", stream); !local && nodeID != m.self.ID {
			continue
		}
		if err := flush(ctx, stream); err != nil {
			return ErrCluster.Wrap(err)
		}
	}
	m.mu.RLock()
	lease := m.lease
	m.mu.RUnlock()
	if lease == "" {
		return nil
	}
	if err := m.store.Release(ctx, lease); err != nil {
		return ErrCluster.Wrap(err)
	}
	return m.store.Delete(ctx, nodesPrefix+m.self.ID)
}

// Owner implements query/planner.Owner: it hashes stream into the ring
// formed by every live peer carrying the querier role (falling back to any
// live peer if none declare that role yet), per spec.md §4.J's "hashing
// stream-name into a ring" rule. org is accepted for interface compatibility
// but shard assignment is per-stream, not per-org, per spec.md §4.J.
func (m *Membership) Owner(org, stream string) (nodeID string, local bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	candidates := m.ringCandidates()
	if len(candidates) == 0 {
		return m.self.ID, true
	}
	owner := candidates[shardIndex(stream, len(candidates))]
	return owner, owner == m.self.ID
}

func (m *Membership) ringCandidates() []string {
	var withRole []string
	var all []string
	for id, n := range m.peers {
		all = append(all, id)
		if n.hasRole(RoleIngester) || n.hasRole(RoleQuerier) {
			withRole = append(withRole, id)
		}
	}
	if len(withRole) > 0 {
		sort.Strings(withRole)
		return withRole
	}
	sort.Strings(all)
	return all
}

// shardIndex hashes key via FNV-1a into [0, n). The ring is rebuilt from
// the current sorted candidate list on every call rather than cached,
// trading a small amount of CPU for never serving a stale ring after a
// membership change; at cluster sizes spec.md targets this is negligible.
func shardIndex(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32()) % n
}

// Peers returns a snapshot of the currently known live nodes.
func (m *Membership) Peers() []Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Node, 0, len(m.peers))
	for _, n := range m.peers {
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
