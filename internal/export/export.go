// Package export writes flow configuration snapshots as pipe-delimited
// CSV artifacts and serves them back from the configured storage backend.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/phuslu/log"

	"github.com/dvhoang/cpidash/internal/sap"
	"github.com/dvhoang/cpidash/internal/storage"
)

const (
	artifactPrefix = "configurations_"
	artifactSuffix = ".csv"
	contentType    = "text/csv"
)

// ErrBadName is returned for artifact names that do not look like files
// this store produced.
var ErrBadName = errors.New("invalid export name")

// ErrBadEnvironment is returned for environment tags that cannot be
// embedded in an artifact name.
var ErrBadEnvironment = errors.New("invalid environment")

var csvHeader = []string{
	"iFlow_ID",
	"iFlow_Name",
	"iFlow_Version",
	"Parameter_Key",
	"Parameter_Value",
	"Parameter_Type",
	"Saved_At",
}

// FlowConfigurations pairs a flow with its externalized parameters.
type FlowConfigurations struct {
	Flow           sap.Flow                `json:"flow"`
	Configurations []sap.FlowConfiguration `json:"configurations"`
}

// Artifact describes a stored export file.
type Artifact struct {
	Name        string `json:"name"`
	Environment string `json:"environment,omitempty"`
	Size        int64  `json:"size"`
	Rows        int    `json:"rows,omitempty"`
	CreatedAt   int64  `json:"createdAt"`
}

// NormalizeEnvironment validates an environment tag and folds it to
// upper case. Tags become part of the artifact name, so only letters,
// digits and dashes are allowed, sixteen characters at most.
func NormalizeEnvironment(env string) (string, error) {
	env = strings.TrimSpace(env)
	if env == "" || len(env) > 16 {
		return "", fmt.Errorf("%w: %q", ErrBadEnvironment, env)
	}
	for _, r := range env {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
		default:
			return "", fmt.Errorf("%w: %q", ErrBadEnvironment, env)
		}
	}
	return strings.ToUpper(env), nil
}

// Store writes and lists export artifacts.
type Store struct {
	storage storage.Storage
	clock   func() time.Time
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithClock overrides the time source, used by tests.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore creates an export store on top of the given storage backend.
func NewStore(st storage.Storage, opts ...StoreOption) *Store {
	s := &Store{
		storage: st,
		clock:   time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WriteConfigurations renders the given flows as a pipe-delimited CSV
// and stores it under a timestamped, environment-tagged name. Flows
// without configurations still appear as a single row with empty
// parameter columns. The environment never enters the CSV itself, it
// only groups artifacts by name.
func (s *Store) WriteConfigurations(ctx context.Context, environment string, entries []FlowConfigurations) (*Artifact, error) {
	env, err := NormalizeEnvironment(environment)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("no configurations to export")
	}

	now := s.clock().UTC()
	savedAt := now.Format("2006-01-02 15:04:05")

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '|'

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}

	rows := 0
	for _, entry := range entries {
		flow := entry.Flow
		if len(entry.Configurations) == 0 {
			if err := w.Write([]string{flow.ID, flow.Name, flow.Version, "", "", "", savedAt}); err != nil {
				return nil, fmt.Errorf("failed to write csv row: %w", err)
			}
			rows++
			continue
		}
		for _, cfg := range entry.Configurations {
			record := []string{flow.ID, flow.Name, flow.Version, cfg.Key, cfg.Value, cfg.Type, savedAt}
			if err := w.Write(record); err != nil {
				return nil, fmt.Errorf("failed to write csv row: %w", err)
			}
			rows++
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}

	// Environment goes after the timestamp so a name sort stays a time
	// sort across environments.
	name := artifactPrefix + now.Format("20060102_150405") + "_" + env + artifactSuffix
	size := int64(buf.Len())

	info, err := s.storage.Put(ctx, name, &buf, size, contentType)
	if err != nil {
		return nil, fmt.Errorf("failed to store export: %w", err)
	}

	log.Info().
		Str("name", name).
		Str("environment", env).
		Int("rows", rows).
		Int64("size", info.Size).
		Msg("Export written")

	return &Artifact{
		Name:        name,
		Environment: env,
		Size:        info.Size,
		Rows:        rows,
		CreatedAt:   now.UnixMilli(),
	}, nil
}

// List returns stored export artifacts, newest first.
func (s *Store) List(ctx context.Context) ([]Artifact, error) {
	objects, err := s.storage.List(ctx, storage.ListOptions{Prefix: artifactPrefix})
	if err != nil {
		return nil, fmt.Errorf("failed to list exports: %w", err)
	}

	artifacts := make([]Artifact, 0, len(objects))
	for _, obj := range objects {
		artifacts = append(artifacts, Artifact{
			Name:        obj.Key,
			Environment: environmentFromName(obj.Key),
			Size:        obj.Size,
			CreatedAt:   obj.LastModified.UnixMilli(),
		})
	}

	// Artifact names embed their creation timestamp, so a name sort is
	// a time sort even when backend mtimes are unreliable.
	sort.Slice(artifacts, func(i, j int) bool {
		return artifacts[i].Name > artifacts[j].Name
	})

	return artifacts, nil
}

// Open returns a reader for the named artifact.
func (s *Store) Open(ctx context.Context, name string) (io.ReadCloser, *storage.ObjectInfo, error) {
	if err := validateName(name); err != nil {
		return nil, nil, err
	}
	return s.storage.Get(ctx, name)
}

// Delete removes the named artifact.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return s.storage.Delete(ctx, name)
}

// validateName rejects anything that is not a plain export file name,
// callers pass user input straight through.
func validateName(name string) error {
	if name == "" || name != filepath.Base(name) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	if !strings.HasPrefix(name, artifactPrefix) || !strings.HasSuffix(name, artifactSuffix) {
		return fmt.Errorf("%w: %q", ErrBadName, name)
	}
	return nil
}

// environmentFromName recovers the environment tag from an artifact
// name. Names from before environments were tagged have only the two
// timestamp segments and yield an empty string.
func environmentFromName(name string) string {
	trimmed := strings.TrimSuffix(strings.TrimPrefix(name, artifactPrefix), artifactSuffix)
	parts := strings.Split(trimmed, "_")
	if len(parts) != 3 {
		return ""
	}
	return parts[2]
}
