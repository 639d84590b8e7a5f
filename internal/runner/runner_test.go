package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/program/model"
)

func testConfig() config.RunnerConfig {
	return config.RunnerConfig{
		PythonBin: "python3",
		NodeBin:   "node",
		JavaBin:   "java",
		JavacBin:  "javac",
		DotnetBin: "dotnet",
	}
}

func TestRegistryGet(t *testing.T) {
	registry := DefaultRegistry(testConfig())

	tests := []struct {
		language model.Language
		wantCmd  string
	}{
		{model.LanguagePython, "python3"},
		{model.LanguageNodeJS, "node"},
		{model.LanguageJava, "java"},
		{model.LanguageCSharp, "dotnet"},
	}
	for _, tt := range tests {
		t.Run(string(tt.language), func(t *testing.T) {
			r, err := registry.Get(tt.language)
			require.NoError(t, err)
			assert.True(t, r.CanHandle(tt.language))

			inv, err := r.Build(context.Background(), &BuildSpec{SandboxRoot: t.TempDir()})
			require.NoError(t, err)
			assert.Equal(t, tt.wantCmd, inv.Cmd)
		})
	}
}

func TestRegistryGetUnknownLanguage(t *testing.T) {
	registry := DefaultRegistry(testConfig())

	_, err := registry.Get(model.Language("cobol"))
	assert.Error(t, err)
}

func TestPythonBuild(t *testing.T) {
	r := NewPythonRunner(testConfig())
	root := t.TempDir()

	inv, err := r.Build(context.Background(), &BuildSpec{
		SandboxRoot: root,
		Parameters:  map[string]interface{}{"x": 3},
	})
	require.NoError(t, err)

	assert.Equal(t, "python3", inv.Cmd)
	assert.Equal(t, []string{"main.py", `{"x":3}`}, inv.Args)
	assert.Equal(t, root, inv.Dir)
	assert.Empty(t, inv.Setup)
}

func TestPythonBuildDefaultsParameters(t *testing.T) {
	r := NewPythonRunner(testConfig())

	inv, err := r.Build(context.Background(), &BuildSpec{
		SandboxRoot: t.TempDir(),
		EntryFile:   "run.py",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"run.py", "{}"}, inv.Args)
}

func TestNodeJsEntryFallback(t *testing.T) {
	r := NewNodeJsRunner(testConfig())

	t.Run("index.js preferred", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, "index.js"), []byte("//"), 0o644))

		inv, err := r.Build(context.Background(), &BuildSpec{SandboxRoot: root})
		require.NoError(t, err)
		assert.Equal(t, "index.js", inv.Args[0])
	})

	t.Run("falls back to main.js", func(t *testing.T) {
		inv, err := r.Build(context.Background(), &BuildSpec{SandboxRoot: t.TempDir()})
		require.NoError(t, err)
		assert.Equal(t, "main.js", inv.Args[0])
	})
}

func TestJavaBuildCompilesFirst(t *testing.T) {
	r := NewJavaRunner(testConfig())
	root := t.TempDir()

	inv, err := r.Build(context.Background(), &BuildSpec{
		SandboxRoot: root,
		EntryFile:   "app/Runner.java",
	})
	require.NoError(t, err)

	require.Len(t, inv.Setup, 1)
	assert.Equal(t, "javac", inv.Setup[0].Cmd)
	assert.Equal(t, []string{"-d", ".", "app/Runner.java"}, inv.Setup[0].Args)

	assert.Equal(t, "java", inv.Cmd)
	assert.Equal(t, []string{"-cp", ".", "Runner", "{}"}, inv.Args)
}

func TestCSharpBuildUsesProject(t *testing.T) {
	r := NewCSharpRunner(testConfig())

	inv, err := r.Build(context.Background(), &BuildSpec{
		SandboxRoot: t.TempDir(),
		Parameters:  map[string]interface{}{"name": "ada"},
	})
	require.NoError(t, err)

	require.Len(t, inv.Setup, 1)
	assert.Equal(t, []string{"build", "--nologo", "-v", "q"}, inv.Setup[0].Args)
	assert.Equal(t, []string{"run", "--project", ".", "--", `{"name":"ada"}`}, inv.Args)
}

func TestEnvironmentOverlay(t *testing.T) {
	t.Setenv("RUNNER_TEST_MARKER", "from-process")

	r := NewPythonRunner(testConfig())
	inv, err := r.Build(context.Background(), &BuildSpec{
		SandboxRoot: t.TempDir(),
		Environment: map[string]string{"NODE_PARAM": "42"},
	})
	require.NoError(t, err)

	assert.Contains(t, inv.Env, "RUNNER_TEST_MARKER=from-process")
	assert.Contains(t, inv.Env, "NODE_PARAM=42")
}
