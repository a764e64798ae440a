package fileinject

import (
	"fmt"
	"os"
	"strconv"

	"github.com/vivekkundariya/envctl/internal/application/ports"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
	"github.com/vivekkundariya/envctl/internal/infrastructure/fsutil"
	"github.com/vivekkundariya/envctl/internal/ui"
)

func (a *Adapter) readLocal(target ports.DeployTarget, path string) (*envstate.DeployedState, error) {
	state := envstate.NewDeployedState(target.Scope)
	state.Metadata["path"] = path

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return state, nil
		}
		return nil, failure.Mark(fmt.Errorf("failed to read %s: %w", path, err), failure.ErrUnreachable)
	}

	file, err := parseEnv(data)
	if err != nil {
		return nil, failure.Validation("fix or remove "+path, "%s: %v", path, err)
	}
	state.Hashes = file.hashes()
	state.Exists = true
	state.Metadata["file_hash"] = secret.HashValue(data)

	if raw, err := os.ReadFile(path + MetaSuffix); err == nil {
		if m, err := parseMeta(raw); err == nil {
			state.UpdatedAt = m.UpdatedAt
			if m.FileHash != state.Metadata["file_hash"] {
				state.Metadata["sidecar"] = "stale"
			}
		}
	} else {
		state.Metadata["sidecar"] = "missing"
	}
	return state, nil
}

func (a *Adapter) injectLocal(target ports.DeployTarget, path, mode string, set []envstate.Entry, del []string, log *ports.ExecutionLog) error {
	file := envFile{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if file, err = parseEnv(data); err != nil {
			log.Record("read", "", ports.StepFailed, err.Error())
			return failure.Validation("fix or remove "+path, "%s: %v", path, err)
		}
		log.Record("read", "", ports.StepOK, path)
	case os.IsNotExist(err):
		log.Record("read", "", ports.StepSkipped, "no existing file")
	default:
		log.Record("read", "", ports.StepFailed, err.Error())
		return failure.Mark(fmt.Errorf("failed to read %s: %w", path, err), failure.ErrUnreachable)
	}

	if err := file.merge(set, del); err != nil {
		log.Record("merge", "", ports.StepFailed, err.Error())
		return err
	}
	content, err := file.render()
	if err != nil {
		log.Record("render", "", ports.StepFailed, err.Error())
		return err
	}

	perm, _ := strconv.ParseUint(mode, 8, 32)
	if err := fsutil.WriteFileAtomic(path, content, os.FileMode(perm)); err != nil {
		log.Record("write", "", ports.StepFailed, err.Error())
		return failure.Mark(err, failure.ErrUnreachable)
	}
	log.Record("write", "", ports.StepOK, path)

	sidecar, err := newMeta(target.Scope, a.Name(), file, content, a.now())
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(path+MetaSuffix, sidecar, 0600); err != nil {
		log.Record("write_sidecar", "", ports.StepFailed, err.Error())
		return failure.Mark(err, failure.ErrUnreachable)
	}
	log.Record("write_sidecar", "", ports.StepOK, path+MetaSuffix)

	ui.Debug("Wrote %d keys to %s", len(file), path)
	return nil
}
