// Package catalog reads bot definitions from a directory of YAML files,
// one file per bot named <bot_id>.yaml.
//
//	token: ${NEWS_BOT_TOKEN}
//	graph_file: news.flow.json   # relative to the catalog dir
//	# or
//	graph:
//	  nodes: [...]
//	  edges: [...]
package catalog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"

	"github.com/samber/lo"
	"gopkg.in/yaml.v3"

	errors "github.com/Proton-105/flowbot/internal/errors"
	"github.com/Proton-105/flowbot/internal/flow"
	"github.com/Proton-105/flowbot/internal/manager"
)

var botIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,48}$`)

type file struct {
	Token     string         `yaml:"token"`
	GraphFile string         `yaml:"graph_file"`
	Graph     *flow.Document `yaml:"graph"`
}

// Catalog is a manager.Source over a directory.
type Catalog struct {
	dir string
	log *slog.Logger
}

func New(dir string, log *slog.Logger) *Catalog {
	if log == nil {
		log = slog.Default()
	}
	return &Catalog{dir: dir, log: log}
}

// Dir returns the catalog directory.
func (c *Catalog) Dir() string {
	return c.dir
}

// IDs lists the bots that have a definition file, sorted.
func (c *Catalog) IDs(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read bot catalog %q: %w", c.dir, err)
	}

	ids := lo.FilterMap(entries, func(e os.DirEntry, _ int) (string, bool) {
		if e.IsDir() {
			return "", false
		}
		return botIDFromFile(e.Name())
	})
	slices.Sort(ids)
	return ids, nil
}

// Definition loads the definition of botID. The token is expanded from the
// environment so that credentials can stay out of the file.
func (c *Catalog) Definition(_ context.Context, botID string) (*manager.Definition, error) {
	if !botIDPattern.MatchString(botID) {
		return nil, fmt.Errorf("bot %q: %w", botID, manager.ErrUnknownBot)
	}

	path, ok := c.definitionPath(botID)
	if !ok {
		return nil, fmt.Errorf("bot %q: %w", botID, manager.ErrUnknownBot)
	}

	// #nosec G304: the path is built from a validated bot id inside the catalog dir
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("read %s", path), err)
	}

	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.NewConfigError(fmt.Sprintf("parse %s", path), err)
	}

	def := &manager.Definition{
		ID:    botID,
		Token: strings.TrimSpace(os.ExpandEnv(f.Token)),
		Graph: f.Graph,
	}

	if f.GraphFile != "" {
		doc, err := flow.LoadFile(c.resolve(f.GraphFile))
		if err != nil {
			return nil, errors.NewConfigError(fmt.Sprintf("bot %s", botID), err)
		}
		def.Graph = doc
	}

	return def, nil
}

// GraphFiles maps the absolute path of every external graph file to the
// bots that use it.
func (c *Catalog) GraphFiles(ctx context.Context) map[string][]string {
	ids, err := c.IDs(ctx)
	if err != nil {
		c.log.Warn("failed to list bot catalog", slog.Any("error", err))
		return nil
	}

	out := make(map[string][]string)
	for _, id := range ids {
		path, _ := c.definitionPath(id)
		// #nosec G304: the path comes from a directory listing of the catalog dir
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var f file
		if yaml.Unmarshal(data, &f) != nil || f.GraphFile == "" {
			continue
		}
		graph := c.resolve(f.GraphFile)
		out[graph] = append(out[graph], id)
	}
	return out
}

func (c *Catalog) definitionPath(botID string) (string, bool) {
	for _, ext := range []string{".yaml", ".yml"} {
		path := filepath.Join(c.dir, botID+ext)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

func (c *Catalog) resolve(path string) string {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.dir, path)
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

func botIDFromFile(name string) (string, bool) {
	ext := filepath.Ext(name)
	if ext != ".yaml" && ext != ".yml" {
		return "", false
	}
	id := strings.TrimSuffix(name, ext)
	return id, botIDPattern.MatchString(id)
}
