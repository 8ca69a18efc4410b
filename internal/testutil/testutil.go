// Package testutil opens migrated, seeded databases for tests.
package testutil

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	"tasklane/internal/app"
	"tasklane/internal/config"
	"tasklane/internal/db"
	"tasklane/internal/migrate"
	"tasklane/internal/repo"
)

// Users seeded as space members. Member ids are UUIDs so they pass assignee
// validation.
const (
	U1 = "00000000-0000-4000-8000-000000000001"
	U2 = "00000000-0000-4000-8000-000000000002"
	U3 = "00000000-0000-4000-8000-000000000003"
	// Outsider belongs to no space.
	Outsider = "00000000-0000-4000-8000-0000000000ff"
)

// SeedYAML is the fixture every package test starts from.
//
// wf1: todo -> review (approval by U2, accept=done, reject=todo) -> done
// (only U1 or role lead may come from todo) -> blocked. sp2 only has U1.
const SeedYAML = `
tenants:
  - id: t1
    name: Acme
    spaces:
      - id: sp1
        name: Main
        members: {"00000000-0000-4000-8000-000000000001": owner, "00000000-0000-4000-8000-000000000002": member, "00000000-0000-4000-8000-000000000003": member}
        tags: [bug, feature]
        custom_fields: {points: number}
      - id: sp2
        name: Other
        members: {"00000000-0000-4000-8000-000000000001": owner}
        tags: [bug]
        custom_fields: {points: number}
    workflows:
      - id: wf1
        name: Board
        states:
          - {id: s-todo, code: todo}
          - id: s-review
            code: review
            approval: {id: ac-review, accept_state: done, reject_state: todo, users: ["00000000-0000-4000-8000-000000000002"], due_in: 2, due_in_type: days}
          - id: s-done
            code: done
            system_stage_id: closed
            constraints:
              - {swimlanes: [todo], users: ["00000000-0000-4000-8000-000000000001"], roles: [lead]}
          - {id: s-blocked, code: blocked}
      - id: wf2
        name: Other
        states:
          - {id: s2-todo, code: todo}
          - {id: s2-done, code: done}
          - {id: s2-later, code: later}
    folders:
      - {id: f1, name: F1, space: sp1, workflow: wf1}
      - {id: f2, name: F2, space: sp1, workflow: wf1}
      - {id: f3, name: F3, space: sp2, workflow: wf2}
  - id: t2
    name: Globex
    spaces:
      - {id: sp9, name: Theirs}
    workflows:
      - id: wf9
        name: Theirs
        states:
          - {id: s9-todo, code: todo}
    folders:
      - {id: f9, name: F9, space: sp9, workflow: wf9}
`

// Open returns a migrated database in a temp workspace seeded with SeedYAML.
func Open(t *testing.T) *sql.DB {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, migrate.Migrate(conn))
	seed, err := config.SeedFromYAML([]byte(SeedYAML))
	require.NoError(t, err)
	require.NoError(t, app.ApplySeed(context.Background(), repo.Repo{DB: conn}, seed))
	return conn
}
