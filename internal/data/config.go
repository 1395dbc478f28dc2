package data

import (
	"encoding/hex"

	"github.com/snapbox/snapbox/internal/errors"
)

// PackSizeConfig bounds how large a Packer lets a pack of one BlobType
// grow (spec §4.5: "target, grow_factor, limit").
type PackSizeConfig struct {
	Target     uint64 `json:"target,omitempty"`
	GrowFactor uint64 `json:"grow_factor,omitempty"`
	Limit      uint64 `json:"limit,omitempty"`
}

// Config is the repository-wide constants stored (encrypted) as the single
// config file (spec §3 ConfigFile).
type Config struct {
	Version uint   `json:"version"`
	ID      string `json:"id"`
	// ChunkerPolynomial is the hex-encoded irreducible polynomial driving
	// content-defined chunking for every file archived into this repository.
	ChunkerPolynomial string `json:"chunker_polynomial"`

	// CompressionLevel is nil for "use the version default", or a pointer
	// to an explicit level (0 meaning "library default" on version 2, and
	// meaning "no compression" would be the swapped reading flagged in
	// spec §9 — see DESIGN.md open-question resolution).
	CompressionLevel *int `json:"compression,omitempty"`

	PackSize map[string]PackSizeConfig `json:"pack_size,omitempty"`

	// MinPackSizePercent / MaxPackSizePercent implement the packer
	// tolerance window from spec §4.5. Zero/absent MaxPackSizePercent
	// means unlimited.
	MinPackSizePercent uint `json:"min_pack_size_percent,omitempty"`
	MaxPackSizePercent uint `json:"max_pack_size_percent,omitempty"`
}

// SupportedVersions are the ConfigFile versions this core understands.
var SupportedVersions = map[uint]bool{1: true, 2: true}

// Validate checks the invariants from spec §3: version is supported,
// version 1 forbids compression, the polynomial is valid hex.
func (c *Config) Validate() error {
	if !SupportedVersions[c.Version] {
		return errors.WithKind(errors.ErrPolicy, errors.Errorf("unsupported repository version %d", c.Version))
	}
	if c.Version == 1 && c.CompressionLevel != nil {
		return errors.WithKind(errors.ErrPolicy, errors.New("version 1 repositories do not support compression"))
	}
	if _, err := hex.DecodeString(c.ChunkerPolynomial); err != nil {
		return errors.WithKind(errors.ErrInput, errors.Wrap(err, "invalid chunker polynomial"))
	}
	return nil
}

// PackSizeFor returns the configured (target, growFactor, limit) for t,
// with restic-style defaults when unset: 16 MiB target for data, 4 MiB for
// tree, grow factor 32, no hard limit.
func (c *Config) PackSizeFor(t BlobType) PackSizeConfig {
	const (
		defaultDataTarget = 16 << 20
		defaultTreeTarget = 4 << 20
		defaultGrowFactor = 32
	)

	if cfg, ok := c.PackSize[t.String()]; ok {
		if cfg.Target == 0 {
			if t == TreeBlob {
				cfg.Target = defaultTreeTarget
			} else {
				cfg.Target = defaultDataTarget
			}
		}
		if cfg.GrowFactor == 0 {
			cfg.GrowFactor = defaultGrowFactor
		}
		return cfg
	}

	target := uint64(defaultDataTarget)
	if t == TreeBlob {
		target = defaultTreeTarget
	}
	return PackSizeConfig{Target: target, GrowFactor: defaultGrowFactor}
}
