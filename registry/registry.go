// Package registry keeps registered manifests and activated block
// instances. Activation binds a manifest to an operator's policy settings,
// which then stay fixed for the life of the instance.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/rustyeddy/blockkit/ledger"
	"github.com/rustyeddy/blockkit/manifest"
	"github.com/rustyeddy/blockkit/pkg/id"
	"github.com/rustyeddy/blockkit/policy"
)

var (
	ErrUnknownInstance = errors.New("unknown block instance")
	ErrUnknownManifest = errors.New("unknown manifest")
	ErrInstanceExists  = errors.New("block instance already active")
	ErrKindMismatch    = errors.New("policy kind does not match manifest block_type")
	ErrNotActivatable  = errors.New("block kind has no policy and cannot be activated")
)

// Instance is an activated block.
type Instance struct {
	ID             string            `json:"instance_id"`
	ManifestDigest string            `json:"manifest_digest"`
	Manifest       manifest.Manifest `json:"manifest"`
	Settings       policy.Settings   `json:"-"`
	ActivatedAt    time.Time         `json:"activated_at"`
}

// Registered is a manifest accepted by Register.
type Registered struct {
	Digest   string            `json:"digest"`
	Manifest manifest.Manifest `json:"manifest"`
}

type Registry struct {
	ledger *ledger.Ledger
	log    *slog.Logger

	mu        sync.RWMutex
	manifests map[string]manifest.Manifest // by digest
	instances map[string]*Instance
}

func New(l *ledger.Ledger, log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		ledger:    l,
		log:       log.With("component", "registry"),
		manifests: make(map[string]manifest.Manifest),
		instances: make(map[string]*Instance),
	}
}

// Register validates a raw JSON manifest and stores it under its digest.
// Registering the same manifest twice is harmless.
func (r *Registry) Register(raw []byte) (Registered, error) {
	m, err := manifest.Decode(raw)
	if err != nil {
		return Registered{}, err
	}
	return r.RegisterManifest(m)
}

// RegisterManifest stores an already decoded manifest.
func (r *Registry) RegisterManifest(m manifest.Manifest) (Registered, error) {
	digest, err := m.Digest()
	if err != nil {
		return Registered{}, err
	}

	r.mu.Lock()
	_, known := r.manifests[digest]
	r.manifests[digest] = m
	r.mu.Unlock()

	if !known {
		r.log.Info("manifest registered", "name", m.Name, "version", m.Version, "block_type", m.BlockType, "digest", digest)
	}
	return Registered{Digest: digest, Manifest: m}, nil
}

// LookupManifest returns a registered manifest by digest.
func (r *Registry) LookupManifest(digest string) (manifest.Manifest, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.manifests[digest]
	if !ok {
		return manifest.Manifest{}, fmt.Errorf("%w: %s", ErrUnknownManifest, digest)
	}
	return m, nil
}

// Activate binds settings to a manifest under instanceID (generated when
// empty) and opens the instance's ledger entry, starting its authorization
// window now.
func (r *Registry) Activate(ctx context.Context, instanceID string, m manifest.Manifest, s policy.Settings) (*Instance, error) {
	if m.BlockType == manifest.Custodial {
		return nil, fmt.Errorf("%w: %s", ErrNotActivatable, m.Name)
	}
	if s == nil {
		return nil, fmt.Errorf("%w: settings are required", policy.ErrInvalidSettings)
	}
	if s.Kind() != m.BlockType {
		return nil, fmt.Errorf("%w: %s is %s, settings are %s", ErrKindMismatch, m.Name, m.BlockType, s.Kind())
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}

	reg, err := r.RegisterManifest(m)
	if err != nil {
		return nil, err
	}
	if instanceID == "" {
		instanceID = id.Instance()
	}

	inst := &Instance{
		ID:             instanceID,
		ManifestDigest: reg.Digest,
		Manifest:       m,
		Settings:       s,
		ActivatedAt:    r.ledger.Now(),
	}

	r.mu.Lock()
	if _, exists := r.instances[instanceID]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrInstanceExists, instanceID)
	}
	r.instances[instanceID] = inst
	r.mu.Unlock()

	days, _ := s.DurationDays()
	if _, err := r.ledger.Open(ctx, instanceID, days, inst.ActivatedAt); err != nil {
		r.mu.Lock()
		delete(r.instances, instanceID)
		r.mu.Unlock()
		return nil, fmt.Errorf("open ledger for %s: %w", instanceID, err)
	}

	r.log.Info("block activated", "instance", instanceID, "manifest", m.Key(), "kind", s.Kind(), "duration_days", days)
	return inst, nil
}

// Instance returns the active instance with the given id, or an error
// wrapping ErrUnknownInstance.
func (r *Registry) Instance(instanceID string) (*Instance, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	inst, ok := r.instances[instanceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownInstance, instanceID)
	}
	return inst, nil
}

// Instances lists active instances by id.
func (r *Registry) Instances() []*Instance {
	r.mu.RLock()
	out := make([]*Instance, 0, len(r.instances))
	for _, inst := range r.instances {
		out = append(out, inst)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Settings returns the active policy of an instance. It satisfies
// compliance.SettingsSource.
func (r *Registry) Settings(_ context.Context, instanceID string) (policy.Settings, error) {
	inst, err := r.Instance(instanceID)
	if err != nil {
		return nil, err
	}
	return inst.Settings, nil
}

// Manifest returns the manifest an instance was activated with.
func (r *Registry) Manifest(instanceID string) (manifest.Manifest, error) {
	inst, err := r.Instance(instanceID)
	if err != nil {
		return manifest.Manifest{}, err
	}
	return inst.Manifest, nil
}

// Renew starts a fresh authorization window for an instance, clearing its
// cumulative spend.
func (r *Registry) Renew(ctx context.Context, instanceID string) (ledger.Entry, error) {
	if _, err := r.Instance(instanceID); err != nil {
		return ledger.Entry{}, err
	}
	e, err := r.ledger.ResetWindow(ctx, instanceID, r.ledger.Now())
	if err != nil {
		return ledger.Entry{}, err
	}
	r.log.Info("authorization renewed", "instance", instanceID, "window_end", e.WindowEnd())
	return e, nil
}
