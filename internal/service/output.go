package service

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/store"
	"github.com/draftforge/draftforge/internal/store/model"
)

type OutputService struct {
	store store.Store
}

func NewOutputService(s store.Store) *OutputService {
	return &OutputService{store: s}
}

func (s *OutputService) checkOutput(ctx context.Context, orgID string, outputID uuid.UUID) (*model.Output, error) {
	output, err := s.store.Output().Get(ctx, outputID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrOutputNotFound(outputID)
		}
		return nil, err
	}

	project, err := s.store.Project().Get(ctx, output.ProjectID)
	if err != nil {
		return nil, NewErrOutputNotFound(outputID)
	}
	if project.OrgID != orgID {
		return nil, NewErrOutputNotFound(outputID)
	}
	return output, nil
}

func (s *OutputService) Get(ctx context.Context, orgID string, outputID uuid.UUID) (*model.Output, error) {
	return s.checkOutput(ctx, orgID, outputID)
}

func (s *OutputService) GetByStage(ctx context.Context, orgID string, projectID uuid.UUID, stage string) (*model.Output, error) {
	project, err := s.store.Project().Get(ctx, projectID)
	if err != nil || project.OrgID != orgID {
		return nil, NewErrProjectNotFound(projectID)
	}

	output, err := s.store.Output().GetByStage(ctx, projectID, stage)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrResourceNotFound(projectID, "output for stage "+stage+" of project")
		}
		return nil, err
	}
	return output, nil
}

func (s *OutputService) LatestVersion(ctx context.Context, orgID string, outputID uuid.UUID) (*model.OutputVersion, error) {
	if _, err := s.checkOutput(ctx, orgID, outputID); err != nil {
		return nil, err
	}

	version, err := s.store.Output().LatestVersion(ctx, outputID)
	if err != nil {
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrResourceNotFound(outputID, "version of output")
		}
		return nil, err
	}
	return version, nil
}

func (s *OutputService) ListVersions(ctx context.Context, orgID string, outputID uuid.UUID) ([]model.OutputVersion, error) {
	if _, err := s.checkOutput(ctx, orgID, outputID); err != nil {
		return nil, err
	}
	return s.store.Output().ListVersions(ctx, outputID)
}

// ApproveVersion promotes one version of an output and demotes the version
// approved before it, atomically. At most one version per output is approved
// at any time.
func (s *OutputService) ApproveVersion(ctx context.Context, orgID string, outputID, versionID uuid.UUID) (*model.OutputVersion, error) {
	if _, err := s.checkOutput(ctx, orgID, outputID); err != nil {
		return nil, err
	}

	ctx, err := s.store.NewTransactionContext(ctx)
	if err != nil {
		return nil, err
	}

	version, err := s.store.Output().Approve(ctx, outputID, versionID)
	if err != nil {
		_, _ = store.Rollback(ctx)
		if errors.Is(err, store.ErrRecordNotFound) {
			return nil, NewErrResourceNotFound(versionID, "output version")
		}
		return nil, err
	}

	if _, err := store.Commit(ctx); err != nil {
		return nil, err
	}
	return version, nil
}

// CreateEditedVersion appends a manually edited version to the stage's
// history, creating the output identity on first edit.
func (s *OutputService) CreateEditedVersion(ctx context.Context, orgID string, projectID uuid.UUID, stage string, content []byte) (*model.OutputVersion, error) {
	project, err := s.store.Project().Get(ctx, projectID)
	if err != nil || project.OrgID != orgID {
		return nil, NewErrProjectNotFound(projectID)
	}

	output, err := s.store.Output().GetByStage(ctx, projectID, stage)
	if err != nil {
		if !errors.Is(err, store.ErrRecordNotFound) {
			return nil, err
		}
		output, err = s.store.Output().Create(ctx, model.Output{
			ID:        uuid.New(),
			ProjectID: projectID,
			Stage:     stage,
		})
		if err != nil {
			return nil, err
		}
	}

	return s.store.Output().AddVersion(ctx, output.ID, model.OutputVersion{
		Content: content,
		Type:    model.VersionTypeEdited,
		Status:  model.VersionStatusGenerated,
	})
}
