package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
	"github.com/rmax-ai/policycanvas/pkg/graph"
)

const (
	nodesSet    = "policycanvas:nodes"
	edgesSet    = "policycanvas:edges"
	versionKey  = "policycanvas:graph:version"
	selectedKey = "policycanvas:graph:selected"
)

// SnapshotCache mirrors the latest graph snapshot into redis, one key per
// element, so read-only consumers can look up nodes and edges without the daemon.
type SnapshotCache struct {
	client *redis.Client
}

func NewSnapshotCache(client *redis.Client) *SnapshotCache {
	return &SnapshotCache{client: client}
}

func nodeKey(id string) string { return fmt.Sprintf("policycanvas:node:%s", id) }
func edgeKey(id string) string { return fmt.Sprintf("policycanvas:edge:%s", id) }

// Set replaces the mirrored graph with snap in a single transaction.
// An older snapshot never overwrites a newer one.
func (c *SnapshotCache) Set(ctx context.Context, snap graph.Snapshot) error {
	current, err := c.Version(ctx)
	if err != nil {
		return err
	}
	if current > snap.Version {
		return nil
	}

	oldNodes, err := c.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s: %w", nodesSet, err)
	}
	oldEdges, err := c.client.SMembers(ctx, edgesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s: %w", edgesSet, err)
	}

	_, err = c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if stale := append(oldNodes, oldEdges...); len(stale) > 0 {
			pipe.Del(ctx, stale...)
		}
		pipe.Del(ctx, nodesSet, edgesSet)

		for _, n := range snap.Nodes {
			data, err := json.Marshal(n)
			if err != nil {
				return fmt.Errorf("failed to marshal node %s: %w", n.ID, err)
			}
			pipe.Set(ctx, nodeKey(n.ID), data, 0)
			pipe.SAdd(ctx, nodesSet, nodeKey(n.ID))
		}
		for _, e := range snap.Edges {
			data, err := json.Marshal(e)
			if err != nil {
				return fmt.Errorf("failed to marshal edge %s: %w", e.ID, err)
			}
			pipe.Set(ctx, edgeKey(e.ID), data, 0)
			pipe.SAdd(ctx, edgesSet, edgeKey(e.ID))
		}

		pipe.Set(ctx, versionKey, snap.Version, 0)
		pipe.Set(ctx, selectedKey, snap.SelectedID, 0)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to mirror snapshot v%d: %w", snap.Version, err)
	}
	return nil
}

// Version returns the mirrored snapshot version, 0 if nothing is mirrored.
func (c *SnapshotCache) Version(ctx context.Context) (uint64, error) {
	raw, err := c.client.Get(ctx, versionKey).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to GET %s: %w", versionKey, err)
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("corrupt %s %q: %w", versionKey, raw, err)
	}
	return v, nil
}

// Node returns a mirrored node.
func (c *SnapshotCache) Node(ctx context.Context, id string) (graph.Node, bool, error) {
	var n graph.Node
	ok, err := c.getJSON(ctx, nodeKey(id), &n)
	return n, ok, err
}

// Edge returns a mirrored edge.
func (c *SnapshotCache) Edge(ctx context.Context, id string) (graph.Edge, bool, error) {
	var e graph.Edge
	ok, err := c.getJSON(ctx, edgeKey(id), &e)
	return e, ok, err
}

func (c *SnapshotCache) getJSON(ctx context.Context, key string, v any) (bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to GET %s: %w", key, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return true, nil
}

// Get rebuilds the mirrored snapshot. Element order is not preserved.
func (c *SnapshotCache) Get(ctx context.Context) (graph.Snapshot, error) {
	version, err := c.Version(ctx)
	if err != nil {
		return graph.Snapshot{}, err
	}
	snap := graph.Snapshot{Version: version, Nodes: []graph.Node{}, Edges: []graph.Edge{}}

	selected, err := c.client.Get(ctx, selectedKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return graph.Snapshot{}, fmt.Errorf("failed to GET %s: %w", selectedKey, err)
	}
	snap.SelectedID = selected

	if err := c.collect(ctx, nodesSet, func(raw []byte) error {
		var n graph.Node
		if err := json.Unmarshal(raw, &n); err != nil {
			return err
		}
		snap.Nodes = append(snap.Nodes, n)
		return nil
	}); err != nil {
		return graph.Snapshot{}, err
	}
	if err := c.collect(ctx, edgesSet, func(raw []byte) error {
		var e graph.Edge
		if err := json.Unmarshal(raw, &e); err != nil {
			return err
		}
		snap.Edges = append(snap.Edges, e)
		return nil
	}); err != nil {
		return graph.Snapshot{}, err
	}
	return snap, nil
}

func (c *SnapshotCache) collect(ctx context.Context, set string, fn func([]byte) error) error {
	keys, err := c.client.SMembers(ctx, set).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s: %w", set, err)
	}
	if len(keys) == 0 {
		return nil
	}
	values, err := c.client.MGet(ctx, keys...).Result()
	if err != nil {
		return fmt.Errorf("failed to MGET %s members: %w", set, err)
	}
	for i, val := range values {
		str, ok := val.(string)
		if !ok {
			continue
		}
		if err := fn([]byte(str)); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", keys[i], err)
		}
	}
	return nil
}

// Clear removes everything the cache wrote.
func (c *SnapshotCache) Clear(ctx context.Context) error {
	nodes, err := c.client.SMembers(ctx, nodesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s during clear: %w", nodesSet, err)
	}
	edges, err := c.client.SMembers(ctx, edgesSet).Result()
	if err != nil {
		return fmt.Errorf("failed to SMEMBERS %s during clear: %w", edgesSet, err)
	}
	keys := append(append(nodes, edges...), nodesSet, edgesSet, versionKey, selectedKey)
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("failed to DEL keys: %w", err)
	}
	return nil
}
