package main

import (
	"fmt"
	"path/filepath"

	"github.com/pressly/goose/v3"
)

// createMigration writes an empty timestamped SQL migration into dir.
func createMigration(dir, name string) (string, error) {
	if name == "" {
		return "", fmt.Errorf("migration name is required: use -name")
	}
	if err := goose.Create(nil, dir, name, "sql"); err != nil {
		return "", fmt.Errorf("failed to create migration: %w", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*_"+name+".sql"))
	if err != nil || len(matches) == 0 {
		return dir, nil
	}
	return matches[len(matches)-1], nil
}
