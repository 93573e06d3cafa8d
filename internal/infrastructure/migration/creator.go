package migration

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// versionLayout is the UTC timestamp prefix used by every file under migrations/.
const versionLayout = "20060102150405"

var titleSeparators = regexp.MustCompile(`[^a-z0-9]+`)

// Pair is a generated up/down migration.
type Pair struct {
	Version  string
	Title    string
	UpPath   string
	DownPath string
}

// CreateMigration writes an empty up/down pair into dir, versioned by the current UTC time.
func CreateMigration(dir, name, description string) (*Pair, error) {
	return createAt(dir, name, description, time.Now())
}

func createAt(dir, name, description string, at time.Time) (*Pair, error) {
	title := sanitizeName(name)
	if title == "" {
		return nil, fmt.Errorf("migration name %q has no usable characters", name)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create migrations directory: %w", err)
	}

	version := at.UTC().Format(versionLayout)
	base := version + "_" + title
	p := &Pair{
		Version:  version,
		Title:    title,
		UpPath:   filepath.Join(dir, base+".up.sql"),
		DownPath: filepath.Join(dir, base+".down.sql"),
	}

	header := "-- " + title + "\n"
	if description != "" {
		header += "-- " + description + "\n"
	}
	up := header + "-- Amount columns are BIGINT raw credit units.\n\n"
	down := header + "-- Reverts " + filepath.Base(p.UpPath) + "\n\n"

	if err := writeNew(p.UpPath, up); err != nil {
		return nil, err
	}
	if err := writeNew(p.DownPath, down); err != nil {
		_ = os.Remove(p.UpPath)
		return nil, err
	}
	return p, nil
}

// writeNew never overwrites an existing migration.
func writeNew(path, content string) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(content); err != nil {
		_ = f.Close()
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

// sanitizeName lowercases name and collapses every other run of characters into one underscore.
func sanitizeName(name string) string {
	return strings.Trim(titleSeparators.ReplaceAllString(strings.ToLower(name), "_"), "_")
}

// ListMigrations returns the migration base names found in dir, oldest first.
// A missing directory yields an empty list.
func ListMigrations(dir string) ([]string, error) {
	return listMigrations(os.DirFS(dir), ".")
}

func listMigrations(fsys fs.FS, dir string) ([]string, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migrations directory: %w", err)
	}

	names := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if base, ok := strings.CutSuffix(entry.Name(), ".up.sql"); ok {
			names = append(names, base)
		}
	}
	return names, nil
}
