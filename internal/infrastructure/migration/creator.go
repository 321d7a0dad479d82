package migration

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/template"
	"time"
)

const (
	upSuffix      = ".up.sql"
	downSuffix    = ".down.sql"
	versionDigits = 6
)

const migrationUpTemplate = `-- Migration: {{.Name}}
-- Created: {{.Timestamp}}
-- Description: {{.Description}}

`

const migrationDownTemplate = `-- Migration: {{.Name}} (Rollback)
-- Created: {{.Timestamp}}

`

// MigrationFile describes a generated up/down pair
type MigrationFile struct {
	Version     uint
	Name        string
	Description string
	Timestamp   string
	UpPath      string
	DownPath    string
}

// CreateMigration writes the next sequential up/down pair into dir
func CreateMigration(dir, name, description string) (*MigrationFile, error) {
	base := sanitizeName(name)
	if base == "" {
		return nil, fmt.Errorf("invalid migration name %q", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create migrations directory: %w", err)
	}

	existing, err := ListMigrations(os.DirFS(dir))
	if err != nil {
		return nil, err
	}
	var next uint = 1
	if n := len(existing); n > 0 {
		next = existing[n-1].Version + 1
	}

	fileBase := fmt.Sprintf("%0*d_%s", versionDigits, next, base)
	mf := &MigrationFile{
		Version:     next,
		Name:        name,
		Description: description,
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		UpPath:      filepath.Join(dir, fileBase+upSuffix),
		DownPath:    filepath.Join(dir, fileBase+downSuffix),
	}

	if err := writeFromTemplate(mf.UpPath, migrationUpTemplate, mf); err != nil {
		return nil, fmt.Errorf("failed to create up migration: %w", err)
	}
	if err := writeFromTemplate(mf.DownPath, migrationDownTemplate, mf); err != nil {
		_ = os.Remove(mf.UpPath)
		return nil, fmt.Errorf("failed to create down migration: %w", err)
	}
	return mf, nil
}

func writeFromTemplate(path, content string, data *MigrationFile) error {
	tmpl, err := template.New("migration").Parse(content)
	if err != nil {
		return fmt.Errorf("failed to parse template: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", path, err)
	}
	defer f.Close()

	return tmpl.Execute(f, data)
}

// sanitizeName lower-cases name and collapses separators into underscores
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ' || r == '-' || r == '_':
			if s := b.String(); s != "" && !strings.HasSuffix(s, "_") {
				b.WriteByte('_')
			}
		}
	}
	return strings.TrimSuffix(b.String(), "_")
}

// Entry is one migration found in a source
type Entry struct {
	Version uint
	Name    string
}

// String returns the file base name of the migration
func (e Entry) String() string {
	return fmt.Sprintf("%0*d_%s", versionDigits, e.Version, e.Name)
}

// ListMigrations returns the up migrations in fsys ordered by version.
// A missing directory yields an empty list.
func ListMigrations(fsys fs.FS) ([]Entry, error) {
	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		if os.IsNotExist(err) {
			return []Entry{}, nil
		}
		return nil, fmt.Errorf("failed to read migrations: %w", err)
	}

	result := make([]Entry, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, upSuffix) {
			continue
		}
		versionPart, rest, ok := strings.Cut(strings.TrimSuffix(name, upSuffix), "_")
		if !ok {
			continue
		}
		version, err := strconv.ParseUint(versionPart, 10, 32)
		if err != nil {
			continue
		}
		result = append(result, Entry{Version: uint(version), Name: rest})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Version < result[j].Version })
	return result, nil
}
