package sandbox

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/filestore"
	"github.com/progrunhq/progrun/internal/platform/logger"
	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

func hashHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func seedVersion(t *testing.T, store filestore.Store, files map[string][]byte) (*model.Program, *model.Version) {
	t.Helper()

	program, err := model.NewProgram("adder", model.LanguagePython)
	require.NoError(t, err)
	version, err := model.NewVersion(program.ID, 1)
	require.NoError(t, err)
	require.NoError(t, version.Approve())

	for path, data := range files {
		key, err := store.Put(context.Background(), program.ID, version.ID, path, data, "text/plain")
		require.NoError(t, err)
		version.Files = append(version.Files, model.VersionFile{
			Path:       path,
			StorageKey: key,
			Hash:       hashHex(data),
			Size:       int64(len(data)),
		})
	}
	return program, version
}

func TestMaterialize(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(store, t.TempDir(), logger.Nop())

	program, version := seedVersion(t, store, map[string][]byte{
		"main.py":      []byte("print('hi')\n"),
		"lib/util.py":  []byte("def f(): pass\n"),
		"data/cfg.txt": []byte("threshold=3\n"),
	})

	sb, err := m.Materialize(context.Background(), program, version, nil, "exec-1")
	require.NoError(t, err)
	defer sb.Release()

	assert.Equal(t, "exec-1", sb.ExecutionID)

	data, err := os.ReadFile(filepath.Join(sb.Root, "main.py"))
	require.NoError(t, err)
	assert.Equal(t, "print('hi')\n", string(data))

	_, err = os.Stat(filepath.Join(sb.Root, "lib", "util.py"))
	assert.NoError(t, err, "nested paths are preserved")

	for _, dir := range []string{sb.InputDir, sb.OutputDir} {
		info, err := os.Stat(dir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	}
}

func TestMaterializeHashMismatch(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(store, t.TempDir(), logger.Nop())

	program, version := seedVersion(t, store, map[string][]byte{
		"main.py": []byte("print('hi')\n"),
	})
	version.Files[0].Hash = "deadbeef"

	_, err = m.Materialize(context.Background(), program, version, nil, "exec-1")
	require.Error(t, err)
	assert.Equal(t, progerr.CodeMaterialization, progerr.CodeOf(err))
}

func TestMaterializeMissingFile(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(store, t.TempDir(), logger.Nop())

	program, version := seedVersion(t, store, nil)
	version.Files = []model.VersionFile{{Path: "gone.py"}}

	_, err = m.Materialize(context.Background(), program, version, nil, "exec-1")
	require.Error(t, err)
	assert.Equal(t, progerr.CodeMaterialization, progerr.CodeOf(err))
}

func TestMaterializeWritesStub(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(store, t.TempDir(), logger.Nop())

	program, version := seedVersion(t, store, map[string][]byte{
		"main.py": []byte("import ui_input\n"),
	})
	component := &model.UiComponent{
		ProgramID: program.ID,
		VersionID: version.ID,
		Name:      "order form",
		Configuration: map[string]interface{}{
			"elements": []interface{}{
				map[string]interface{}{"id": "qty", "type": "number_input", "required": true},
			},
		},
	}

	sb, err := m.Materialize(context.Background(), program, version, component, "exec-1")
	require.NoError(t, err)
	defer sb.Release()

	data, err := os.ReadFile(filepath.Join(sb.Root, "ui_component.py"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "class OrderForm:")
	assert.Contains(t, string(data), `"qty"`)
}

func TestReleaseIsIdempotent(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(store, t.TempDir(), logger.Nop())

	program, version := seedVersion(t, store, map[string][]byte{"main.py": []byte("pass\n")})

	sb, err := m.Materialize(context.Background(), program, version, nil, "exec-1")
	require.NoError(t, err)

	require.NoError(t, sb.Release())
	require.NoError(t, sb.Release())

	_, err = os.Stat(sb.Root)
	assert.True(t, os.IsNotExist(err))
}

func TestMaterializeGeneratesExecutionID(t *testing.T) {
	store, err := filestore.NewLocalStore(t.TempDir())
	require.NoError(t, err)
	m := NewMaterializer(store, t.TempDir(), logger.Nop())

	program, version := seedVersion(t, store, map[string][]byte{"main.py": []byte("pass\n")})

	sb, err := m.Materialize(context.Background(), program, version, nil, "")
	require.NoError(t, err)
	defer sb.Release()

	assert.NotEmpty(t, sb.ExecutionID)
}
