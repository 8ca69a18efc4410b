package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Seed describes tenants, spaces, workflows and folders to bootstrap a workspace.
type Seed struct {
	Tenants []struct {
		ID     string `yaml:"id"`
		Name   string `yaml:"name"`
		Spaces []struct {
			ID      string            `yaml:"id"`
			Name    string            `yaml:"name"`
			Members map[string]string `yaml:"members"`
			Tags    []string          `yaml:"tags"`
			Fields  map[string]string `yaml:"custom_fields"`
		} `yaml:"spaces"`
		Workflows []SeedWorkflow `yaml:"workflows"`
		Folders   []struct {
			ID       string `yaml:"id"`
			Name     string `yaml:"name"`
			Space    string `yaml:"space"`
			Workflow string `yaml:"workflow"`
		} `yaml:"folders"`
	} `yaml:"tenants"`
}

type SeedWorkflow struct {
	ID     string      `yaml:"id"`
	Name   string      `yaml:"name"`
	States []SeedState `yaml:"states"`
}

type SeedState struct {
	ID            string `yaml:"id"`
	Code          string `yaml:"code"`
	SystemStageID string `yaml:"system_stage_id"`
	Constraints   []struct {
		Swimlanes []string `yaml:"swimlanes"`
		Users     []string `yaml:"users"`
		Roles     []string `yaml:"roles"`
	} `yaml:"constraints"`
	Approval *struct {
		ID                string   `yaml:"id"`
		AcceptState       string   `yaml:"accept_state"`
		RejectState       string   `yaml:"reject_state"`
		Users             []string `yaml:"users"`
		AuthorizedUsers   []string `yaml:"authorized_users"`
		RequiredApprovals int      `yaml:"required_approvals"`
		DueIn             *int     `yaml:"due_in"`
		DueInType         string   `yaml:"due_in_type"`
	} `yaml:"approval"`
}

// Validate checks references inside the seed.
func (s *Seed) Validate() error {
	for _, t := range s.Tenants {
		if t.ID == "" {
			return fmt.Errorf("seed tenant id is required")
		}
		spaces := map[string]bool{}
		for _, sp := range t.Spaces {
			if sp.ID == "" {
				return fmt.Errorf("tenant %s has a space without id", t.ID)
			}
			spaces[sp.ID] = true
		}
		workflows := map[string]bool{}
		for _, wf := range t.Workflows {
			if wf.ID == "" || len(wf.States) == 0 {
				return fmt.Errorf("tenant %s has a workflow without id or states", t.ID)
			}
			codes := map[string]bool{}
			for _, st := range wf.States {
				if st.ID == "" || st.Code == "" {
					return fmt.Errorf("workflow %s has a state without id or code", wf.ID)
				}
				if codes[st.Code] {
					return fmt.Errorf("workflow %s repeats state code %s", wf.ID, st.Code)
				}
				codes[st.Code] = true
			}
			for _, st := range wf.States {
				if st.Approval == nil {
					continue
				}
				if !codes[st.Approval.AcceptState] || !codes[st.Approval.RejectState] {
					return fmt.Errorf("state %s approval references unknown accept/reject state", st.ID)
				}
			}
			workflows[wf.ID] = true
		}
		for _, f := range t.Folders {
			if !spaces[f.Space] {
				return fmt.Errorf("folder %s references unknown space %s", f.ID, f.Space)
			}
			if !workflows[f.Workflow] {
				return fmt.Errorf("folder %s references unknown workflow %s", f.ID, f.Workflow)
			}
		}
	}
	return nil
}

// SeedFromFile reads and validates a seed file.
func SeedFromFile(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return SeedFromYAML(data)
}

// SeedFromYAML parses and validates a seed document.
func SeedFromYAML(data []byte) (*Seed, error) {
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("invalid seed yaml: %w", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}
