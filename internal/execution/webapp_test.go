package execution

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
)

func TestWebAppFile(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := env.seedProgram(t, "unused\n")
	program.UIType = "web_app"
	require.NoError(t, env.programs.Update(ctx, program))

	_, err := env.store.Put(ctx, program.ID, program.CurrentVersionID, "index.html", []byte("<html>app</html>"), "text/html")
	require.NoError(t, err)
	_, err = env.store.Put(ctx, program.ID, program.CurrentVersionID, "assets/app.js", []byte("console.log('hi')"), "")
	require.NoError(t, err)

	t.Run("empty path serves index", func(t *testing.T) {
		data, contentType, err := env.service.WebAppFile(ctx, program.ID, "")
		require.NoError(t, err)
		assert.Equal(t, "<html>app</html>", string(data))
		assert.Contains(t, contentType, "text/html")
	})

	t.Run("nested asset", func(t *testing.T) {
		data, contentType, err := env.service.WebAppFile(ctx, program.ID, "/assets/app.js")
		require.NoError(t, err)
		assert.Equal(t, "console.log('hi')", string(data))
		assert.NotEmpty(t, contentType)
	})

	t.Run("missing asset", func(t *testing.T) {
		_, _, err := env.service.WebAppFile(ctx, program.ID, "missing.css")
		assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))
	})
}

func TestWebAppFileRejectsNonWebApps(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := env.seedProgram(t, "true\n")

	_, _, err := env.service.WebAppFile(ctx, program.ID, "index.html")
	assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err))

	_, _, err = env.service.WebAppFile(ctx, "missing", "index.html")
	assert.Equal(t, progerr.CodeNotFound, progerr.CodeOf(err))
}

func TestDeployWebApp(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	program := env.seedProgram(t, "unused\n")
	program.UIType = "web_app"
	require.NoError(t, env.programs.Update(ctx, program))
	_, err := env.store.Put(ctx, program.ID, program.CurrentVersionID, "index.html", []byte("<html></html>"), "text/html")
	require.NoError(t, err)

	execution, url, err := env.service.DeployWebApp(ctx, ExecuteRequest{
		ProgramID: program.ID,
		UserID:    "user-1",
	})
	require.NoError(t, err)

	assert.Equal(t, "/programs/"+program.ID+"/webapp", url)
	assert.Equal(t, model.ExecutionCompleted, execution.Status)
	assert.Equal(t, url, execution.Results.Output)
	assert.NotNil(t, execution.CompletedAt)

	stored, err := env.service.Status(ctx, execution.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionCompleted, stored.Status)
}

func TestDeployWebAppValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	t.Run("not a web app", func(t *testing.T) {
		program := env.seedProgram(t, "true\n")
		_, _, err := env.service.DeployWebApp(ctx, ExecuteRequest{ProgramID: program.ID})
		assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err))
	})

	t.Run("missing index", func(t *testing.T) {
		program := env.seedProgram(t, "true\n")
		program.UIType = "web_app"
		require.NoError(t, env.programs.Update(ctx, program))

		_, _, err := env.service.DeployWebApp(ctx, ExecuteRequest{ProgramID: program.ID})
		assert.Equal(t, progerr.CodeValidation, progerr.CodeOf(err))
	})
}
