// Package scaffold writes a starter retro.yml.
package scaffold

import (
	"bytes"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"github.com/dyluth/retro/internal/config"
)

//go:embed templates/*
var templatesFS embed.FS

// Options are the values filled into the generated configuration.
type Options struct {
	Instance  string
	RedisURL  string // empty keeps boards in memory
	IndexPath string
}

func (o Options) withDefaults() Options {
	if o.Instance == "" {
		o.Instance = config.DefaultInstance
	}
	if o.IndexPath == "" {
		o.IndexPath = "retro-index.db"
	}
	return o
}

// Initialize writes retro.yml into dir and checks the result loads.
// If force is true, an existing retro.yml is replaced.
func Initialize(dir string, opts Options, force bool) (string, error) {
	path := filepath.Join(dir, config.DefaultPath)

	if force {
		if err := handleForce(path); err != nil {
			return "", err
		}
	}

	content, err := render(opts.withDefaults())
	if err != nil {
		return "", err
	}

	if err := os.WriteFile(path, content, 0644); err != nil {
		return "", fmt.Errorf("failed to write %s: %w", path, err)
	}

	if _, err := config.Load(path); err != nil {
		return "", fmt.Errorf("created %s is not a valid configuration: %w", path, err)
	}

	return path, nil
}

// handleForce removes an existing configuration if --force was specified
func handleForce(path string) error {
	if _, err := os.Stat(path); err == nil {
		fmt.Printf("⚠️  Removing existing %s...\n", filepath.Base(path))
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	return nil
}

func render(opts Options) ([]byte, error) {
	raw, err := templatesFS.ReadFile("templates/retro.yml.tmpl")
	if err != nil {
		return nil, fmt.Errorf("failed to read retro.yml template: %w", err)
	}

	tmpl, err := template.New("retro.yml").Parse(string(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse retro.yml template: %w", err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, opts); err != nil {
		return nil, fmt.Errorf("failed to render retro.yml: %w", err)
	}
	return buf.Bytes(), nil
}

// PrintSuccess prints the success message with the created file
func PrintSuccess(path string, opts Options) {
	fmt.Println("\n✅ Successfully initialized Retro configuration!")
	fmt.Println("\nCreated:")
	fmt.Printf("  ✓ %s\n", path)
	fmt.Println("\nNext steps:")
	if opts.RedisURL == "" {
		fmt.Println("  1. Add a redis.url to share boards with the CLI")
		fmt.Println("  2. Run 'retro serve' to start the API")
	} else {
		fmt.Println("  1. Run 'retro serve' to start the API")
		fmt.Println("  2. Create a board with 'retro board create \"Sprint 1\" --template retro'")
	}
}
