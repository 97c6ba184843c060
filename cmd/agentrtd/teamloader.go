package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/itsneelabh/agentrt/core"
)

// yamlTeamLoader resolves a team id to its definition by reading
// <dir>/<teamId>.yaml, the on-disk format core.TeamDefinitionLoader's doc
// comment names as the compiled-down form of the product's team
// definitions.
type yamlTeamLoader struct {
	dir string
}

// newYAMLTeamLoader builds a loader rooted at dir. dir is not created —
// a missing directory just means every Load fails with ErrRecordNotFound,
// the same "absence is a lookup miss, not a startup error" posture
// core.FileKVStore takes toward its own root.
func newYAMLTeamLoader(dir string) *yamlTeamLoader {
	return &yamlTeamLoader{dir: dir}
}

type yamlTeamDefinition struct {
	ID      string             `yaml:"id"`
	Members []yamlMemberRecord `yaml:"members"`
}

type yamlMemberRecord struct {
	ID           string `yaml:"id"`
	Role         string `yaml:"role"`
	SystemPrompt string `yaml:"system_prompt"`
}

func (l *yamlTeamLoader) Load(ctx context.Context, teamID string) (*core.TeamDefinition, error) {
	if teamID == "" {
		return nil, core.NewFrameworkError("yamlTeamLoader.Load", core.KindValidationFailure, fmt.Errorf("team id is empty"))
	}

	path := filepath.Join(l.dir, filepath.FromSlash(teamID)+".yaml")
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, core.ErrRecordNotFound
		}
		return nil, core.NewFrameworkError("yamlTeamLoader.Load", core.KindInternal, err)
	}

	var doc yamlTeamDefinition
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, core.NewFrameworkError("yamlTeamLoader.Load", core.KindValidationFailure, fmt.Errorf("parse team %q: %w", teamID, err))
	}
	if len(doc.Members) == 0 {
		return nil, core.NewFrameworkError("yamlTeamLoader.Load", core.KindValidationFailure, fmt.Errorf("team %q has no members", teamID))
	}

	def := &core.TeamDefinition{ID: teamID, Members: make([]core.MemberDefinition, 0, len(doc.Members))}
	for _, m := range doc.Members {
		def.Members = append(def.Members, core.MemberDefinition{
			ID:           m.ID,
			Role:         m.Role,
			SystemPrompt: m.SystemPrompt,
		})
	}
	return def, nil
}
