package pg

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"bugtracker.org/internal/auth"
)

type roles struct{ s *Store }

func (r roles) FindRoles(ctx context.Context, names []auth.Role) ([]auth.RoleDefinition, error) {
	if len(names) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(names))
	args := make([]any, len(names))
	for i, n := range names {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = string(n)
	}
	rows, err := r.s.db.QueryContext(ctx,
		`select name, permissions from roles where name in (`+strings.Join(placeholders, ", ")+`) order by name`,
		args...)
	if err != nil {
		return nil, fmt.Errorf("find roles: %w", err)
	}
	defer rows.Close()

	var out []auth.RoleDefinition
	for rows.Next() {
		var (
			def   auth.RoleDefinition
			name  string
			perms []byte
		)
		if err := rows.Scan(&name, &perms); err != nil {
			return nil, err
		}
		def.Name = auth.Role(name)
		if err := json.Unmarshal(perms, &def.Permissions); err != nil {
			return nil, fmt.Errorf("decode permissions of %q: %w", name, err)
		}
		out = append(out, def)
	}
	return out, rows.Err()
}
