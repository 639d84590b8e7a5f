package contract

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/progrunhq/progrun/internal/workflow/model"
)

// DataType identifies the payload encoding of a contract
type DataType string

const (
	DataTypeJSON   DataType = "json"
	DataTypeXML    DataType = "xml"
	DataTypeCSV    DataType = "csv"
	DataTypeBinary DataType = "binary"
	DataTypeText   DataType = "text"
)

// Lineage records where a contract's data came from
type Lineage struct {
	SourceNodes        []string `json:"sourceNodes"`
	TransformationPath []string `json:"transformationPath,omitempty"`
	Dependencies       []string `json:"dependencies,omitempty"`
}

// TransformationRecord is one applied transformation in a contract's history
type TransformationRecord struct {
	Kind       model.TransformKind `json:"kind"`
	Expression string              `json:"expression,omitempty"`
	AppliedAt  time.Time           `json:"appliedAt"`
}

// Metadata describes a contract's payload and provenance
type Metadata struct {
	ContentType       string                 `json:"contentType,omitempty"`
	Size              int                    `json:"size"`
	Transformations   []TransformationRecord `json:"transformations,omitempty"`
	ValidationResults []string               `json:"validationResults,omitempty"`
	Lineage           Lineage                `json:"lineage"`
}

// DataContract is the immutable envelope around a value flowing along an
// edge. Produced by exactly one node execution, consumed zero or more times.
type DataContract struct {
	ContractID   string                 `json:"contractId"`
	SourceNodeID string                 `json:"sourceNodeId"`
	TargetNodeID string                 `json:"targetNodeId"`
	DataType     DataType               `json:"dataType"`
	Data         interface{}            `json:"data"`
	Metadata     Metadata               `json:"metadata"`
	Schema       map[string]interface{} `json:"schema,omitempty"`
	Version      int                    `json:"version"`
	Timestamp    time.Time              `json:"timestamp"`
	Checksum     string                 `json:"checksum,omitempty"`
}

// newContract seals a value into a contract
func newContract(sourceNodeID, targetNodeID string, data interface{}, lineage Lineage, transformations []TransformationRecord) *DataContract {
	encoded, _ := json.Marshal(data)
	sum := sha256.Sum256(encoded)

	sort.Strings(lineage.SourceNodes)

	return &DataContract{
		ContractID:   uuid.New().String(),
		SourceNodeID: sourceNodeID,
		TargetNodeID: targetNodeID,
		DataType:     DataTypeJSON,
		Data:         data,
		Metadata: Metadata{
			ContentType:     "application/json",
			Size:            len(encoded),
			Transformations: transformations,
			Lineage:         lineage,
		},
		Version:   1,
		Timestamp: time.Now(),
		Checksum:  hex.EncodeToString(sum[:]),
	}
}
