// Package registrar implements the cluster control-plane "leader": it
// records liveness beacons, evaluates readiness against a required-node
// list, serves inventory, and hands out monotonic cluster-wide ids
// (spec §4.2).
package registrar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/unicornparson/lunaricorn/pkg/cluster"
)

// ErrNotReady is returned by List/GetEnv when one or more required nodes
// have not beaconed within the alive window.
var ErrNotReady = errors.New("not ready")

// ErrValidation is returned when a beacon request is missing required fields.
var ErrValidation = errors.New("invalid request")

// Config holds the registrar's tuning parameters, loaded from
// leader_config.yaml (spec §6.4).
type Config struct {
	AliveTimeout  int64    `yaml:"alive_timeout"`
	RequiredNodes []string `yaml:"required_nodes"`
}

// nodeStore is the subset of Store the registrar's decision logic needs.
// Defining it here (rather than depending on *Store directly) lets tests
// exercise Beacon/Ready/List against an in-memory fake.
type nodeStore interface {
	Beacon(ctx context.Context, n cluster.Node, now int64) error
	Alive(ctx context.Context, now, aliveTimeout int64) ([]cluster.Node, error)
	NextID(ctx context.Context, key cluster.StateKey) (int64, error)
}

// Registrar is the explicit, struct-based replacement for the source's
// global Leader singleton (spec §9 Design Notes): constructed once in main
// and shared by reference with the HTTP handler.
type Registrar struct {
	store         nodeStore
	logger        *slog.Logger
	aliveTimeout  int64
	requiredNodes []string
	clusterConfig func() (map[string]any, error)
	now           func() int64
}

// New constructs a Registrar. getClusterConfig loads the opaque document
// returned by GetEnv (spec §4.2 get_env), typically reading
// cluster_config.yaml from disk.
func New(store nodeStore, logger *slog.Logger, cfg Config, getClusterConfig func() (map[string]any, error)) *Registrar {
	return &Registrar{
		store:         store,
		logger:        logger,
		aliveTimeout:  cfg.AliveTimeout,
		requiredNodes: cfg.RequiredNodes,
		clusterConfig: getClusterConfig,
		now:           func() int64 { return time.Now().Unix() },
	}
}

// Beacon validates and upserts a node record. Partial inputs (missing
// name/type/key) are rejected with ErrValidation.
func (r *Registrar) Beacon(ctx context.Context, req cluster.BeaconRequest) error {
	if req.NodeName == "" {
		return fmt.Errorf("%w: Invalid or missing node_name", ErrValidation)
	}
	if req.NodeType == "" {
		return fmt.Errorf("%w: Invalid or missing node_type", ErrValidation)
	}
	if req.InstanceKey == "" {
		return fmt.Errorf("%w: Invalid or missing instance_key", ErrValidation)
	}

	node := cluster.Node{
		Name: req.NodeName,
		Type: req.NodeType,
		Key:  req.InstanceKey,
		Host: req.Host,
		Port: req.Port,
	}
	now := r.now()
	if err := r.store.Beacon(ctx, node, now); err != nil {
		return fmt.Errorf("updating node: %w", err)
	}
	r.logger.Info("beacon received", "node_name", req.NodeName, "node_type", req.NodeType, "instance_key", req.InstanceKey)
	return nil
}

// activeNodes returns the nodes currently within the alive window.
func (r *Registrar) activeNodes(ctx context.Context) ([]cluster.Node, error) {
	return r.store.Alive(ctx, r.now(), r.aliveTimeout)
}

// Ready reports whether every required node is alive.
func (r *Registrar) Ready(ctx context.Context) (bool, error) {
	alive, err := r.activeNodes(ctx)
	if err != nil {
		return false, err
	}
	aliveNames := make(map[string]bool, len(alive))
	for _, n := range alive {
		aliveNames[n.Name] = true
	}
	for _, required := range r.requiredNodes {
		if !aliveNames[required] {
			return false, nil
		}
	}
	return true, nil
}

// List returns the live inventory, or ErrNotReady when a required node is
// missing.
func (r *Registrar) List(ctx context.Context) ([]cluster.Node, error) {
	ready, err := r.Ready(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrNotReady
	}
	return r.activeNodes(ctx)
}

// DetailedStatus assembles {nodes_summary, required_nodes} from the union of
// required names and alive names, regardless of readiness.
func (r *Registrar) DetailedStatus(ctx context.Context) (cluster.ClusterInfo, error) {
	alive, err := r.activeNodes(ctx)
	if err != nil {
		return cluster.ClusterInfo{}, err
	}
	aliveNames := make(map[string]bool, len(alive))
	for _, n := range alive {
		aliveNames[n.Name] = true
	}

	summary := make(map[string]string, len(r.requiredNodes))
	for _, name := range r.requiredNodes {
		summary[name] = "off"
	}
	for name := range aliveNames {
		summary[name] = "on"
	}

	seen := make(map[string]bool, len(r.requiredNodes))
	var uniqueRequired []string
	for _, name := range r.requiredNodes {
		if !seen[name] {
			seen[name] = true
			uniqueRequired = append(uniqueRequired, name)
		}
	}

	return cluster.ClusterInfo{
		NodesSummary:  summary,
		RequiredNodes: uniqueRequired,
	}, nil
}

// GetEnv returns the cluster configuration document, or ErrNotReady.
func (r *Registrar) GetEnv(ctx context.Context) (map[string]any, error) {
	ready, err := r.Ready(ctx)
	if err != nil {
		return nil, err
	}
	if !ready {
		return nil, ErrNotReady
	}
	return r.clusterConfig()
}

// NextMessageID returns the next MESSAGE_ID counter value.
func (r *Registrar) NextMessageID(ctx context.Context) (int64, error) {
	return r.store.NextID(ctx, cluster.MessageIDKey)
}

// NextObjectID returns the next OBJECT_ID counter value.
func (r *Registrar) NextObjectID(ctx context.Context) (int64, error) {
	return r.store.NextID(ctx, cluster.ObjectIDKey)
}
