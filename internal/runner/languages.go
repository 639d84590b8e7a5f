package runner

import (
	"context"
	"os"
	"path/filepath"
	"strings"

	"github.com/progrunhq/progrun/internal/platform/config"
	"github.com/progrunhq/progrun/internal/program/model"
)

// PythonRunner invokes the system interpreter on the entry file
type PythonRunner struct {
	bin string
}

// NewPythonRunner creates a Python runner
func NewPythonRunner(cfg config.RunnerConfig) *PythonRunner {
	return &PythonRunner{bin: cfg.PythonBin}
}

// CanHandle reports whether this runner supports the language
func (r *PythonRunner) CanHandle(language model.Language) bool {
	return language == model.LanguagePython
}

// Build produces the invocation for a sandbox
func (r *PythonRunner) Build(ctx context.Context, spec *BuildSpec) (*Invocation, error) {
	params, err := encodeParameters(spec.Parameters)
	if err != nil {
		return nil, err
	}

	entry := spec.EntryFile
	if entry == "" {
		entry = "main.py"
	}

	return &Invocation{
		Cmd:  r.bin,
		Args: []string{entry, params},
		Env:  mergeEnv(os.Environ(), spec.Environment),
		Dir:  spec.SandboxRoot,
	}, nil
}

// NodeJsRunner invokes node on the entry file
type NodeJsRunner struct {
	bin string
}

// NewNodeJsRunner creates a Node.js runner
func NewNodeJsRunner(cfg config.RunnerConfig) *NodeJsRunner {
	return &NodeJsRunner{bin: cfg.NodeBin}
}

// CanHandle reports whether this runner supports the language
func (r *NodeJsRunner) CanHandle(language model.Language) bool {
	return language == model.LanguageNodeJS
}

// Build produces the invocation for a sandbox
func (r *NodeJsRunner) Build(ctx context.Context, spec *BuildSpec) (*Invocation, error) {
	params, err := encodeParameters(spec.Parameters)
	if err != nil {
		return nil, err
	}

	entry := spec.EntryFile
	if entry == "" {
		entry = "index.js"
		if _, err := os.Stat(filepath.Join(spec.SandboxRoot, entry)); os.IsNotExist(err) {
			entry = "main.js"
		}
	}

	return &Invocation{
		Cmd:  r.bin,
		Args: []string{entry, params},
		Env:  mergeEnv(os.Environ(), spec.Environment),
		Dir:  spec.SandboxRoot,
	}, nil
}

// JavaRunner compiles the entry source and runs the resulting class
type JavaRunner struct {
	javaBin  string
	javacBin string
}

// NewJavaRunner creates a Java runner
func NewJavaRunner(cfg config.RunnerConfig) *JavaRunner {
	return &JavaRunner{javaBin: cfg.JavaBin, javacBin: cfg.JavacBin}
}

// CanHandle reports whether this runner supports the language
func (r *JavaRunner) CanHandle(language model.Language) bool {
	return language == model.LanguageJava
}

// Build produces the invocation for a sandbox
func (r *JavaRunner) Build(ctx context.Context, spec *BuildSpec) (*Invocation, error) {
	params, err := encodeParameters(spec.Parameters)
	if err != nil {
		return nil, err
	}

	entry := spec.EntryFile
	if entry == "" {
		entry = "Main.java"
	}
	className := strings.TrimSuffix(filepath.Base(entry), ".java")

	return &Invocation{
		Cmd:  r.javaBin,
		Args: []string{"-cp", ".", className, params},
		Env:  mergeEnv(os.Environ(), spec.Environment),
		Dir:  spec.SandboxRoot,
		Setup: []Step{
			{Cmd: r.javacBin, Args: []string{"-d", ".", entry}},
		},
	}, nil
}

// CSharpRunner builds and runs the sandbox project with dotnet
type CSharpRunner struct {
	bin string
}

// NewCSharpRunner creates a C# runner
func NewCSharpRunner(cfg config.RunnerConfig) *CSharpRunner {
	return &CSharpRunner{bin: cfg.DotnetBin}
}

// CanHandle reports whether this runner supports the language
func (r *CSharpRunner) CanHandle(language model.Language) bool {
	return language == model.LanguageCSharp
}

// Build produces the invocation for a sandbox
func (r *CSharpRunner) Build(ctx context.Context, spec *BuildSpec) (*Invocation, error) {
	params, err := encodeParameters(spec.Parameters)
	if err != nil {
		return nil, err
	}

	return &Invocation{
		Cmd:  r.bin,
		Args: []string{"run", "--project", ".", "--", params},
		Env:  mergeEnv(os.Environ(), spec.Environment),
		Dir:  spec.SandboxRoot,
		Setup: []Step{
			{Cmd: r.bin, Args: []string{"build", "--nologo", "-v", "q"}},
		},
	}, nil
}

// DefaultRegistry creates a registry with every supported language runner
func DefaultRegistry(cfg config.RunnerConfig) *Registry {
	registry := NewRegistry()
	registry.Register(NewPythonRunner(cfg))
	registry.Register(NewNodeJsRunner(cfg))
	registry.Register(NewJavaRunner(cfg))
	registry.Register(NewCSharpRunner(cfg))
	return registry
}
