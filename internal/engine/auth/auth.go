package auth

import (
	"context"
	"fmt"

	"tasklane/internal/app"
	"tasklane/internal/domain"
	"tasklane/internal/repo"
)

// ForbiddenError indicates the caller may not touch the resource.
type ForbiddenError struct {
	Resource string
}

func (e ForbiddenError) Error() string {
	return fmt.Sprintf("access to %s denied", e.Resource)
}

// Service checks tenant and space access against the store.
type Service struct {
	Repo repo.Repo
}

// Folder loads the folder and rejects it when it belongs to another tenant.
func (s Service) Folder(ctx context.Context, q repo.DBTX, rc app.RequestContext, folderID string) (domain.Folder, error) {
	f, err := s.Repo.GetFolder(ctx, q, folderID)
	if err != nil {
		return f, err
	}
	if f.TenantID != rc.TenantID {
		return domain.Folder{}, ForbiddenError{Resource: "folder " + folderID}
	}
	return f, nil
}

func (s Service) Workflow(ctx context.Context, q repo.DBTX, rc app.RequestContext, workflowID string) (domain.Workflow, error) {
	wf, err := s.Repo.GetWorkflow(ctx, q, workflowID)
	if err != nil {
		return wf, err
	}
	if wf.TenantID != rc.TenantID {
		return domain.Workflow{}, ForbiddenError{Resource: "workflow " + workflowID}
	}
	return wf, nil
}

// SpaceMember requires the caller to be a member of spaceID.
func (s Service) SpaceMember(ctx context.Context, q repo.DBTX, rc app.RequestContext, spaceID string) error {
	ok, err := s.Repo.IsSpaceMember(ctx, q, spaceID, rc.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return ForbiddenError{Resource: "space " + spaceID}
	}
	return nil
}
