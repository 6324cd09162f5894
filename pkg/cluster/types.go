// Package cluster holds the record types shared by the registrar and the
// cluster client: node inventory and the cluster-wide id counters (spec §3).
package cluster

// Node is a single entry in the cluster inventory (the `last_seen` table).
// Uniqueness is on Key; a beacon with a known key updates Name/Type/Host/Port
// and stamps LastSeen in place rather than inserting a new row.
type Node struct {
	ID       int64  `json:"-"`
	Name     string `json:"name"`
	Type     string `json:"type"`
	Key      string `json:"key"`
	Host     string `json:"host,omitempty"`
	Port     int    `json:"port,omitempty"`
	LastSeen int64  `json:"last_seen"`
}

// StateKey names a well-known singleton row in the cluster_state table.
type StateKey string

const (
	// MessageIDKey is the cluster-wide monotonic message id counter.
	MessageIDKey StateKey = "MESSAGE_ID"
	// ObjectIDKey is the cluster-wide monotonic object id counter.
	ObjectIDKey StateKey = "OBJECT_ID"
)

// BeaconRequest is the body of POST /v1/imalive.
type BeaconRequest struct {
	NodeName    string         `json:"node_name"`
	NodeType    string         `json:"node_type"`
	InstanceKey string         `json:"instance_key"`
	Host        string         `json:"host,omitempty"`
	Port        int            `json:"port,omitempty"`
	Additional  map[string]any `json:"additional,omitempty"`
}

// ListResponse is the body of GET /v1/list.
type ListResponse struct {
	Services   []Node `json:"services"`
	TotalCount int    `json:"total_count"`
	Timestamp  string `json:"timestamp"`
}

// ClusterInfo is the body of GET /v1/clusterinfo.
type ClusterInfo struct {
	NodesSummary  map[string]string `json:"nodes_summary"`
	RequiredNodes []string          `json:"required_nodes"`
	NodeStates    map[string]NodeState `json:"node_states,omitempty"`
}

// NodeState is the richer ok/msg pair the original leader service tracked
// per node (see SPEC_FULL.md §5), defined as an optional ClusterInfo field.
// The registrar does not record node states and DetailedStatus never sets
// NodeStates, so node_states is omitted from /v1/clusterinfo responses.
type NodeState struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}
