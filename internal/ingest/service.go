package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fbarre96/pollenisator/internal/entities"
	"github.com/fbarre96/pollenisator/internal/fleet"
	"github.com/fbarre96/pollenisator/internal/parsers"
	"github.com/fbarre96/pollenisator/pkg/models"
	"go.uber.org/zap"
)

// Service processes worker status events and result files.
type Service struct {
	ent        *entities.Service
	fleet      *fleet.FleetStore
	registry   *parsers.Registry
	resultsDir string
	logger     *zap.Logger
	now        func() time.Time
}

// NewService creates the ingest service.
func NewService(ent *entities.Service, fl *fleet.FleetStore, registry *parsers.Registry, resultsDir string, logger *zap.Logger) *Service {
	return &Service{
		ent:        ent,
		fleet:      fl,
		registry:   registry,
		resultsDir: resultsDir,
		logger:     logger,
		now:        time.Now,
	}
}

// ErrToolNotFound is returned for status or import calls on unknown tools.
var ErrToolNotFound = fmt.Errorf("tool not found")

// SetStatus applies a worker-reported status transition. Transitions on a
// tool already in a terminal state are ignored so a late "running" cannot
// resurrect a finished tool.
func (s *Service) SetStatus(ctx context.Context, pentest, toolID, status, workerName, notes string) error {
	tool, err := s.ent.Store().GetTool(ctx, pentest, toolID)
	if err != nil {
		return err
	}
	if tool == nil {
		return ErrToolNotFound
	}
	if tool.Terminal() && (status == models.StatusRunning || status == models.StatusReady) {
		s.logger.Debug("late status event ignored",
			zap.String("tool", toolID), zap.String("status", status))
		return nil
	}

	switch status {
	case models.StatusRunning:
		tool.SetPrimaryStatus(models.StatusRunning)
		tool.ScannerIP = workerName
		tool.Dated = s.now().Format(models.ToolDateLayout)
		tool.Datef = models.NoneDate
		if err := s.addRunningTool(ctx, workerName, pentest, toolID); err != nil {
			s.logger.Warn("running-tool accounting failed", zap.Error(err))
		}
	case models.StatusReady:
		worker := tool.ScannerIP
		tool.SetPrimaryStatus(models.StatusReady)
		tool.ScannerIP = ""
		tool.Dated = models.NoneDate
		tool.Datef = models.NoneDate
		s.dropRunningTool(ctx, worker, toolID)
	case models.StatusDone, models.StatusError, models.StatusTimedOut:
		tool.SetPrimaryStatus(status)
		tool.Datef = s.now().Format(models.ToolDateLayout)
		if status == models.StatusError && notes != "" {
			tool.Notes = notes
		}
		s.dropRunningTool(ctx, tool.ScannerIP, toolID)
	default:
		return fmt.Errorf("unknown status %q", status)
	}

	if err := s.ent.Store().UpdateTool(ctx, tool); err != nil {
		return err
	}
	return s.recomputeCheckStatus(ctx, pentest, tool.CheckIID)
}

// MarkAsDone finishes a tool, optionally recording its result file path. An
// empty path clears any previously stored result.
func (s *Service) MarkAsDone(ctx context.Context, pentest, toolID, resultFile string) error {
	tool, err := s.ent.Store().GetTool(ctx, pentest, toolID)
	if err != nil {
		return err
	}
	if tool == nil {
		return ErrToolNotFound
	}
	tool.SetPrimaryStatus(models.StatusDone)
	tool.Datef = s.now().Format(models.ToolDateLayout)
	tool.ResultFile = resultFile
	s.dropRunningTool(ctx, tool.ScannerIP, toolID)
	if err := s.ent.Store().UpdateTool(ctx, tool); err != nil {
		return err
	}
	return s.recomputeCheckStatus(ctx, pentest, tool.CheckIID)
}

// ImportResult stores a result file, parses it and feeds discovered targets
// back into the entity layer. Returns the parser that was used.
func (s *Service) ImportResult(ctx context.Context, pentest, toolID, pluginHint, filename string, data []byte) (string, error) {
	tool, err := s.ent.Store().GetTool(ctx, pentest, toolID)
	if err != nil {
		return "", err
	}
	if tool == nil {
		return "", ErrToolNotFound
	}

	name, parser, err := s.resolveParser(ctx, tool, pluginHint)
	if err != nil {
		return "", err
	}

	path, err := s.saveResult(pentest, toolID, filename, data)
	if err != nil {
		return "", err
	}

	result, err := parser.Parse(pentest, data, tool.Text)
	if err != nil {
		if serr := s.SetStatus(ctx, pentest, toolID, models.StatusError, "", err.Error()); serr != nil {
			s.logger.Warn("error status not recorded", zap.Error(serr))
		}
		return name, err
	}

	s.applyTargets(ctx, pentest, result.Targets)
	for _, tag := range result.Tags {
		if _, err := s.ent.AddTag(ctx, &models.Tag{
			Pentest:  pentest,
			ItemID:   toolID,
			ItemType: "tool",
			Name:     tag,
		}); err != nil {
			s.logger.Warn("result tag not applied", zap.String("tag", tag), zap.Error(err))
		}
	}

	tool, err = s.ent.Store().GetTool(ctx, pentest, toolID)
	if err != nil || tool == nil {
		return name, err
	}
	tool.SetPrimaryStatus(models.StatusDone)
	tool.Datef = s.now().Format(models.ToolDateLayout)
	tool.ResultFile = path
	tool.Plugin = name
	tool.Notes = result.Notes
	if tool.Notes == "" {
		tool.Notes = "No results found by plugin."
	}
	s.dropRunningTool(ctx, tool.ScannerIP, toolID)
	if err := s.ent.Store().UpdateTool(ctx, tool); err != nil {
		return name, err
	}
	if err := s.recomputeCheckStatus(ctx, pentest, tool.CheckIID); err != nil {
		return name, err
	}

	s.logger.Info("result imported",
		zap.String("pentest", pentest),
		zap.String("tool", toolID),
		zap.String("parser", name),
		zap.Int("targets", len(result.Targets)),
	)
	return name, nil
}

// resolveParser picks the parser: explicit hint first, then the command's
// declared plugin, then auto-detection on the command line, and finally the
// passthrough parser.
func (s *Service) resolveParser(ctx context.Context, tool *models.Tool, hint string) (string, parsers.Plugin, error) {
	if hint != "" && hint != "auto-detect" {
		p, ok := s.registry.Get(hint)
		if !ok {
			return "", nil, fmt.Errorf("unknown parser %q", hint)
		}
		return hint, p, nil
	}
	if tool.CommandID != "" {
		cmd, err := s.ent.Store().GetCommand(ctx, tool.CommandID)
		if err != nil {
			return "", nil, err
		}
		if cmd != nil && cmd.Plugin != "" && cmd.Plugin != "auto-detect" {
			if p, ok := s.registry.Get(cmd.Plugin); ok {
				return cmd.Plugin, p, nil
			}
		}
	}
	if name, p, ok := s.registry.Detect(tool.Text); ok {
		return name, p, nil
	}
	p, ok := s.registry.Get(parsers.DefaultPluginName)
	if !ok {
		return "", nil, fmt.Errorf("no parser available")
	}
	return parsers.DefaultPluginName, p, nil
}

// saveResult writes the uploaded file under the results directory.
func (s *Service) saveResult(pentest, toolID, filename string, data []byte) (string, error) {
	dir := filepath.Join(s.resultsDir, pentest, toolID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("create results dir: %w", err)
	}
	path := filepath.Join(dir, filepath.Base(filename))
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("write result file: %w", err)
	}
	return path, nil
}

// applyTargets feeds parsed targets back into the entity layer so the usual
// trigger pipeline runs for each discovery. Individual failures are logged
// and do not abort the import.
func (s *Service) applyTargets(ctx context.Context, pentest string, targets []parsers.Target) {
	for _, target := range targets {
		var err error
		switch {
		case target.Host != nil:
			target.Host.Pentest = pentest
			_, err = s.ent.AddHost(ctx, target.Host)
		case target.Port != nil:
			target.Port.Pentest = pentest
			err = s.applyPort(ctx, target.Port)
		case target.Computer != nil:
			target.Computer.Pentest = pentest
			_, err = s.ent.AddComputer(ctx, target.Computer)
		case target.User != nil:
			target.User.Pentest = pentest
			_, err = s.ent.AddUser(ctx, target.User)
		case target.Share != nil:
			target.Share.Pentest = pentest
			err = s.applyShare(ctx, target.Share)
		}
		if err != nil {
			s.logger.Warn("discovered target not applied", zap.Error(err))
		}
	}
}

// applyPort inserts a port, or updates the stored service when a rescan
// reports a different one. The update path re-fires the service triggers.
func (s *Service) applyPort(ctx context.Context, p *models.Port) error {
	res, err := s.ent.AddPort(ctx, p)
	if err != nil {
		return err
	}
	if res.Ok || p.Service == "" {
		return nil
	}
	existing, err := s.ent.Store().GetPort(ctx, p.Pentest, res.IID)
	if err != nil || existing == nil {
		return err
	}
	if existing.Service == p.Service && existing.Product == p.Product {
		return nil
	}
	existing.Service = p.Service
	existing.Product = p.Product
	return s.ent.UpdatePort(ctx, existing)
}

func (s *Service) applyShare(ctx context.Context, sh *models.Share) error {
	res, err := s.ent.AddShare(ctx, sh)
	if err != nil {
		return err
	}
	if !res.Ok && len(sh.Files) > 0 {
		return s.ent.MergeShareFiles(ctx, sh.Pentest, res.IID, sh.Files)
	}
	return nil
}

// recomputeCheckStatus derives a check-instance's aggregate status from its
// tools: done when every tool finished, running when any is running.
func (s *Service) recomputeCheckStatus(ctx context.Context, pentest, checkIID string) error {
	if checkIID == "" {
		return nil
	}
	ci, err := s.ent.Store().GetCheckInstance(ctx, pentest, checkIID)
	if err != nil || ci == nil {
		return err
	}
	tools, err := s.ent.Store().ListToolsByCheckInstance(ctx, pentest, checkIID)
	if err != nil {
		return err
	}

	status := ""
	if len(tools) > 0 {
		allDone := true
		for i := range tools {
			if !tools[i].Terminal() {
				allDone = false
			}
			if tools[i].PrimaryStatus() == models.StatusRunning {
				status = models.StatusRunning
			}
		}
		if allDone {
			status = "done"
		}
	}
	if status == ci.Status {
		return nil
	}
	return s.ent.Store().UpdateCheckInstanceStatus(ctx, pentest, checkIID, status)
}

// addRunningTool records the tool on the worker's running list.
func (s *Service) addRunningTool(ctx context.Context, workerName, pentest, toolID string) error {
	if s.fleet == nil || workerName == "" {
		return nil
	}
	worker, err := s.fleet.GetWorker(ctx, workerName)
	if err != nil || worker == nil {
		return err
	}
	for _, rt := range worker.RunningTools {
		if rt.ToolID == toolID {
			return nil
		}
	}
	running := append(worker.RunningTools, models.RunningTool{Pentest: pentest, ToolID: toolID})
	return s.fleet.SetRunningTools(ctx, workerName, running)
}

// dropRunningTool removes the tool from the worker's running list.
func (s *Service) dropRunningTool(ctx context.Context, workerName, toolID string) {
	if s.fleet == nil || workerName == "" {
		return
	}
	worker, err := s.fleet.GetWorker(ctx, workerName)
	if err != nil || worker == nil {
		return
	}
	kept := worker.RunningTools[:0]
	for _, rt := range worker.RunningTools {
		if rt.ToolID != toolID {
			kept = append(kept, rt)
		}
	}
	if len(kept) == len(worker.RunningTools) {
		return
	}
	if err := s.fleet.SetRunningTools(ctx, workerName, kept); err != nil {
		s.logger.Warn("running-tool accounting failed", zap.Error(err))
	}
}
