package execution

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/progrunhq/progrun/internal/progerr"
	"github.com/progrunhq/progrun/internal/program/model"
	"github.com/progrunhq/progrun/internal/stream"
)

// DeployWebApp records a deployment execution for a web-app program and
// returns the URL its assets are served from. Web apps run in the user's
// browser, so no process is spawned; the execution completes as soon as
// the approved files are verified to exist.
func (s *Service) DeployWebApp(ctx context.Context, req ExecuteRequest) (*model.Execution, string, error) {
	program, err := s.programs.FindByID(ctx, req.ProgramID)
	if err != nil {
		return nil, "", err
	}
	if program.UIType != "web_app" {
		return nil, "", progerr.Validation("program is not a web app")
	}

	versionID := req.VersionID
	if versionID == "" {
		versionID = program.CurrentVersionID
	}
	if versionID == "" {
		return nil, "", progerr.Validation(fmt.Sprintf("program %s has no current version", program.ID))
	}
	version, err := s.versions.FindByID(ctx, versionID)
	if err != nil {
		return nil, "", err
	}
	if version.ProgramID != program.ID {
		return nil, "", progerr.Validation(fmt.Sprintf("version %s does not belong to program %s", versionID, program.ID))
	}
	if !version.Executable() {
		return nil, "", progerr.Validation(fmt.Sprintf("version %s is not approved", versionID))
	}
	if _, err := s.store.Get(ctx, program.ID, version.ID, "index.html"); err != nil {
		return nil, "", progerr.Validation("web app has no index.html")
	}

	execution := model.NewExecution(program.ID, version.ID, req.UserID, req.Parameters)
	if err := s.executions.Create(ctx, execution); err != nil {
		return nil, "", err
	}

	url := fmt.Sprintf("/programs/%s/webapp", program.ID)
	s.hub.Publish(stream.Event{
		ExecutionID: execution.ID,
		UserID:      req.UserID,
		Type:        stream.EventStarted,
		Data:        map[string]interface{}{"url": url},
		Timestamp:   time.Now(),
	})

	execution.Finish(model.ExecutionCompleted, model.ExecutionResults{Output: url}, model.ResourceUsage{})
	if err := s.executions.Update(ctx, execution); err != nil {
		return nil, "", err
	}
	s.archiveExecution(ctx, execution)

	s.log.Info("web app deployed", "executionId", execution.ID,
		"programId", program.ID, "versionId", version.ID, "url", url)
	return execution, url, nil
}

// WebAppFile resolves a static asset of a deployed web-app program. Web
// apps are not spawned as processes; their approved version files are
// served directly.
func (s *Service) WebAppFile(ctx context.Context, programID, path string) ([]byte, string, error) {
	program, err := s.programs.FindByID(ctx, programID)
	if err != nil {
		return nil, "", err
	}
	if program.UIType != "web_app" {
		return nil, "", progerr.Validation("program is not a web app")
	}
	if program.CurrentVersionID == "" {
		return nil, "", progerr.Validation("web app has no current version")
	}

	version, err := s.versions.FindByID(ctx, program.CurrentVersionID)
	if err != nil {
		return nil, "", err
	}
	if !version.Executable() {
		return nil, "", progerr.Validation("current version is not approved")
	}

	path = strings.TrimPrefix(strings.TrimSpace(path), "/")
	if path == "" {
		path = "index.html"
	}

	data, err := s.store.Get(ctx, program.ID, version.ID, path)
	if err != nil {
		return nil, "", err
	}

	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}
