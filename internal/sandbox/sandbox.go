// Package sandbox materializes version files into isolated working
// directories and generates UI-binding stubs.
package sandbox

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/progrunhq/progrun/internal/filestore"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

// Sandbox is an exclusively-owned working directory for one execution
type Sandbox struct {
	ExecutionID string
	Root        string
	InputDir    string
	OutputDir   string

	releaseOnce sync.Once
}

// Release removes the sandbox directory. Safe to call more than once and on
// every exit path.
func (s *Sandbox) Release() error {
	var err error
	s.releaseOnce.Do(func() {
		err = os.RemoveAll(s.Root)
	})
	return err
}

// Materializer lays out version files and the generated stub into sandboxes
type Materializer struct {
	store filestore.Store
	root  string
	log   logger.Logger
}

// NewMaterializer creates a materializer writing sandboxes under root
func NewMaterializer(store filestore.Store, root string, log logger.Logger) *Materializer {
	return &Materializer{store: store, root: root, log: log}
}

// Materialize fetches every file of the version into a fresh sandbox,
// verifies content hashes, generates the UI-binding stub when a component is
// attached, and creates the input/ and output/ subdirectories.
func (m *Materializer) Materialize(ctx context.Context, program *model.Program, version *model.Version, component *model.UiComponent, executionID string) (*Sandbox, error) {
	if executionID == "" {
		executionID = uuid.New().String()
	}

	root := filepath.Join(m.root, executionID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, progerr.Materialization("failed to create sandbox", err)
	}

	sb := &Sandbox{
		ExecutionID: executionID,
		Root:        root,
		InputDir:    filepath.Join(root, "input"),
		OutputDir:   filepath.Join(root, "output"),
	}

	if err := m.materializeInto(ctx, sb, program, version, component); err != nil {
		sb.Release()
		return nil, err
	}

	m.log.Debug("sandbox materialized",
		"execution_id", executionID,
		"program_id", program.ID,
		"files", len(version.Files),
	)
	return sb, nil
}

func (m *Materializer) materializeInto(ctx context.Context, sb *Sandbox, program *model.Program, version *model.Version, component *model.UiComponent) error {
	for _, file := range version.Files {
		data, err := m.store.Get(ctx, program.ID, version.ID, file.Path)
		if err != nil {
			return progerr.Materialization(fmt.Sprintf("missing version file %s", file.Path), err)
		}
		if file.Hash != "" && hashOf(data) != file.Hash {
			return progerr.Materialization(fmt.Sprintf("hash mismatch for %s", file.Path), nil)
		}

		path := filepath.Join(sb.Root, filepath.FromSlash(file.Path))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return progerr.Materialization("failed to create file directory", err)
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return progerr.Materialization(fmt.Sprintf("failed to write %s", file.Path), err)
		}
	}

	if component != nil {
		stub, err := GenerateStub(program.Language, component)
		if err != nil {
			return progerr.Materialization("failed to generate ui stub", err)
		}
		path := filepath.Join(sb.Root, stub.FileName)
		if err := os.WriteFile(path, []byte(stub.Source), 0o644); err != nil {
			return progerr.Materialization("failed to write ui stub", err)
		}
	}

	for _, dir := range []string{sb.InputDir, sb.OutputDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return progerr.Materialization("failed to create sandbox subdirectory", err)
		}
	}
	return nil
}
