package state

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JYBWOB/k8s-for-zj/internal/logger"
)

// Phase names a persisted phase document.
type Phase string

const (
	PhaseGraph      Phase = "graph"
	PhaseDeploy     Phase = "deploy"
	PhaseBridges    Phase = "pier"
	PhaseFederation Phase = "union"
)

var (
	ErrStateNotFound = errors.New("state document not found")
	ErrStateCorrupt  = errors.New("state document corrupt")
)

type (
	// Record is a phase document that can check its own schema.
	Record interface {
		Validate() error
	}

	// Backend stores opaque documents by key. Get returns ErrStateNotFound
	// for missing keys; Put replaces the whole document atomically.
	Backend interface {
		Get(ctx context.Context, key string) ([]byte, error)
		Put(ctx context.Context, key string, data []byte) error
	}

	Store struct {
		backend Backend
		logger  *slog.Logger
	}
)

func NewStore(backend Backend) *Store {
	return &Store{
		backend: backend,
		logger:  logger.Named("state_store"),
	}
}

func Key(topology string, phase Phase) string {
	return topology + "/" + string(phase) + ".json"
}

// Save validates and fully replaces the document for (topology, phase).
func (s *Store) Save(ctx context.Context, topology string, phase Phase, record Record) error {
	if err := record.Validate(); err != nil {
		return fmt.Errorf("refusing to save invalid '%s' document: %w", phase, err)
	}

	content, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal '%s' document: %w", phase, err)
	}

	key := Key(topology, phase)
	if err := s.backend.Put(ctx, key, append(content, '\n')); err != nil {
		return fmt.Errorf("failed to write '%s': %w", key, err)
	}

	s.logger.With("topology", topology, "phase", phase).Debug("state document saved")

	return nil
}

// Load decodes the document for (topology, phase) into target. Unknown fields
// and schema violations are reported as ErrStateCorrupt.
func (s *Store) Load(ctx context.Context, topology string, phase Phase, target Record) error {
	key := Key(topology, phase)

	data, err := s.backend.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return fmt.Errorf("%w: '%s'", ErrStateNotFound, key)
		}
		return fmt.Errorf("failed to read '%s': %w", key, err)
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(target); err != nil {
		return fmt.Errorf("%w: '%s': %w", ErrStateCorrupt, key, err)
	}
	if _, err := decoder.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: '%s': trailing data after document", ErrStateCorrupt, key)
	}
	if err := target.Validate(); err != nil {
		return fmt.Errorf("%w: '%s': %w", ErrStateCorrupt, key, err)
	}

	return nil
}
