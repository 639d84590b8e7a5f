package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// DefaultTTL applies when a node asks for caching without a TTL
const DefaultTTL = 5 * time.Minute

// Cache stores node outputs keyed by the inputs that produced them, so
// repeated runs of a deterministic node can skip the program entirely.
// Implementations treat lookup errors as misses.
type Cache interface {
	Get(ctx context.Context, key string) (map[string]interface{}, bool)
	Set(ctx context.Context, key string, outputs map[string]interface{}, ttl time.Duration)
	Close() error
}

// OutputKey derives a deterministic key for one node run. Two runs share
// a key only when the node, its program version and its assembled inputs
// all match.
func OutputKey(workflowID, nodeID, versionID string, inputs map[string]interface{}) string {
	payload, err := json.Marshal(struct {
		WorkflowID string                 `json:"workflowId"`
		NodeID     string                 `json:"nodeId"`
		VersionID  string                 `json:"versionId"`
		Inputs     map[string]interface{} `json:"inputs"`
	}{workflowID, nodeID, versionID, inputs})
	if err != nil {
		// Unmarshalable inputs get a per-run key and simply never hit.
		payload = []byte(workflowID + "/" + nodeID + "/" + time.Now().String())
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
