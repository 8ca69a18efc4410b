package app

import (
	"context"
	"fmt"
	"slices"

	"tasklane/internal/config"
	"tasklane/internal/domain"
	"tasklane/internal/repo"
)

// RequestContext carries the caller's identity into every engine call.
type RequestContext struct {
	TenantID string
	UserID   string
	Roles    []string
}

func (rc RequestContext) HasRole(role string) bool {
	return slices.Contains(rc.Roles, role)
}

// Validate rejects a context without tenant or user.
func (rc RequestContext) Validate() error {
	if rc.TenantID == "" {
		return domain.BadRequestf("tenant id required")
	}
	if rc.UserID == "" {
		return domain.BadRequestf("user id required")
	}
	return nil
}

// ApplySeed upserts the tenants, spaces, workflows and folders of seed in one
// transaction. Re-applying the same seed is a no-op.
func ApplySeed(ctx context.Context, r repo.Repo, seed *config.Seed) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, t := range seed.Tenants {
		name := t.Name
		if name == "" {
			name = t.ID
		}
		if err := r.InsertTenant(ctx, tx, domain.Tenant{ID: t.ID, Name: name}); err != nil {
			return fmt.Errorf("seed tenant %s: %w", t.ID, err)
		}
		for _, sp := range t.Spaces {
			if err := r.InsertSpace(ctx, tx, domain.Space{ID: sp.ID, TenantID: t.ID, Name: sp.Name}); err != nil {
				return fmt.Errorf("seed space %s: %w", sp.ID, err)
			}
			for user, role := range sp.Members {
				if err := r.AddSpaceMember(ctx, tx, sp.ID, user, role); err != nil {
					return fmt.Errorf("seed member %s: %w", user, err)
				}
			}
			for _, tag := range sp.Tags {
				if err := r.InsertTag(ctx, tx, domain.Tag{ID: sp.ID + ":" + tag, SpaceID: sp.ID, Name: tag}); err != nil {
					return fmt.Errorf("seed tag %s: %w", tag, err)
				}
			}
			for name, typ := range sp.Fields {
				f := domain.CustomField{ID: sp.ID + ":" + name, SpaceID: sp.ID, Name: name, Type: typ}
				if err := r.InsertCustomField(ctx, tx, f); err != nil {
					return fmt.Errorf("seed custom field %s: %w", name, err)
				}
			}
		}
		for _, wf := range t.Workflows {
			if err := seedWorkflow(ctx, r, tx, t.ID, wf); err != nil {
				return err
			}
		}
		for _, f := range t.Folders {
			folder := domain.Folder{ID: f.ID, TenantID: t.ID, SpaceID: f.Space, WorkflowID: f.Workflow, Name: f.Name}
			if err := r.InsertFolder(ctx, tx, folder); err != nil {
				return fmt.Errorf("seed folder %s: %w", f.ID, err)
			}
		}
	}
	return tx.Commit()
}

func seedWorkflow(ctx context.Context, r repo.Repo, q repo.DBTX, tenantID string, wf config.SeedWorkflow) error {
	if err := r.InsertWorkflow(ctx, q, domain.Workflow{ID: wf.ID, TenantID: tenantID, Name: wf.Name}); err != nil {
		return fmt.Errorf("seed workflow %s: %w", wf.ID, err)
	}
	existing, err := r.ListStates(ctx, q, wf.ID)
	if err != nil {
		return err
	}
	known := map[string]bool{}
	for _, st := range existing {
		known[st.ID] = true
	}
	for i, s := range wf.States {
		st := StateFromSeed(wf.ID, i, s)
		if known[st.ID] {
			err = r.UpdateState(ctx, q, st)
		} else {
			err = r.InsertState(ctx, q, st)
		}
		if err != nil {
			return fmt.Errorf("seed state %s: %w", s.ID, err)
		}
	}
	return nil
}

// StateFromSeed converts a seeded state definition at position idx.
func StateFromSeed(workflowID string, idx int, s config.SeedState) domain.WorkflowState {
	st := domain.WorkflowState{
		ID:          s.ID,
		WorkflowID:  workflowID,
		Code:        s.Code,
		Index:       idx,
		Constraints: []domain.StateConstraint{},
	}
	if s.SystemStageID != "" {
		stage := s.SystemStageID
		st.SystemStageID = &stage
	}
	for _, c := range s.Constraints {
		st.Constraints = append(st.Constraints, domain.StateConstraint{
			SwimlaneConstraint: c.Swimlanes,
			UserConstraint:     c.Users,
			RoleConstraint:     c.Roles,
		})
	}
	if a := s.Approval; a != nil {
		id := a.ID
		if id == "" {
			id = s.ID + ":approval"
		}
		required := a.RequiredApprovals
		if required <= 0 {
			required = 1
		}
		ac := &domain.ApprovalConstraint{
			ID:                id,
			WorkflowStateID:   s.ID,
			AcceptState:       a.AcceptState,
			RejectState:       a.RejectState,
			UserIDs:           a.Users,
			AuthorizedUserIDs: a.AuthorizedUsers,
			RequiredApprovals: required,
			DueIn:             a.DueIn,
		}
		if a.DueInType != "" {
			dt := a.DueInType
			ac.DueInType = &dt
		}
		st.ApprovalConstraint = ac
	}
	return st
}
