// Copyright 2020 hhorai. All rights reserved.
// Use of this source code is governed by a MIT license that can be found
// in the LICENSE file.

// Package gnbconfig loads the cell, RACH and GTP-U tunnel configuration a
// gNB core process starts with, the one place gopkg.in/yaml.v3 is imported
// (SPEC_FULL.md section 13).
package gnbconfig

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// PUSCHCandidate mirrors rasched.PUSCHCandidate in YAML form.
type PUSCHCandidate struct {
	K2 uint32 `yaml:"k2"`
}

// Cell is one cell's resource-grid and RA scheduling configuration.
type Cell struct {
	Index             int              `yaml:"index"`
	NofSlotsPerFrame  uint32           `yaml:"nof_slots_per_frame"`
	PRACHDuration     uint32           `yaml:"prach_duration"`
	RaRespWindowSlots uint32           `yaml:"ra_resp_window_slots"`
	Numerology        uint8            `yaml:"numerology"`
	PUSCHCandidates   []PUSCHCandidate `yaml:"pusch_candidates"`
}

// Tunnel is one NG-U (N3) GTP-U tunnel's configuration.
type Tunnel struct {
	TEID           uint32        `yaml:"teid"`
	PeerTEID       uint32        `yaml:"peer_teid"`
	PeerAddr       string        `yaml:"peer_addr"`
	TReordering    time.Duration `yaml:"t_reordering"`
	AMBRBitsPerSec uint64        `yaml:"ambr_bits_per_sec"`
	AMBRBurstBytes uint64        `yaml:"ambr_burst_bytes"`
	IgnoreUEAMBR   bool          `yaml:"ignore_ue_ambr"`

	// N3 TUN gateway for this PDU session. IFName is left empty to skip
	// bringing up a TUN device (e.g. in tests or a gtpu-codec-only
	// deployment).
	IFName        string `yaml:"if_name"`
	UEAddr        string `yaml:"ue_addr"`
	UEAddrMaskLen int    `yaml:"ue_addr_mask_len"`
	RouteTable    int    `yaml:"route_table"`
	DefaultQFI    uint8  `yaml:"default_qfi"`
}

// Config is the complete document loaded from a single YAML file.
type Config struct {
	Cells       []Cell   `yaml:"cells"`
	Tunnels     []Tunnel `yaml:"tunnels"`
	N3BindAddr  string   `yaml:"n3_bind_addr"`
	MetricsAddr string   `yaml:"metrics_addr"`
	LogLevel    string   `yaml:"log_level"`
}

// Load reads and parses the configuration document at path.
func Load(path string) (Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("gnbconfig: read %s: %w", path, err)
	}
	var cfg Config
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("gnbconfig: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return Config{}, fmt.Errorf("gnbconfig: %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.N3BindAddr == "" {
		c.N3BindAddr = "0.0.0.0:2152"
	}
	if c.MetricsAddr == "" {
		c.MetricsAddr = ":9090"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	for i := range c.Cells {
		if c.Cells[i].NofSlotsPerFrame == 0 {
			c.Cells[i].NofSlotsPerFrame = 20
		}
		if c.Cells[i].PRACHDuration == 0 {
			c.Cells[i].PRACHDuration = 1
		}
	}
}

func (c *Config) validate() error {
	if len(c.Cells) == 0 {
		return fmt.Errorf("at least one cell must be configured")
	}
	seenIdx := map[int]bool{}
	for _, cell := range c.Cells {
		if seenIdx[cell.Index] {
			return fmt.Errorf("duplicate cell index %d", cell.Index)
		}
		seenIdx[cell.Index] = true
		if cell.Numerology > 3 {
			return fmt.Errorf("cell %d: numerology %d out of range [0,3]", cell.Index, cell.Numerology)
		}
	}
	seenTEID := map[uint32]bool{}
	for _, tun := range c.Tunnels {
		if seenTEID[tun.TEID] {
			return fmt.Errorf("duplicate tunnel TEID %d", tun.TEID)
		}
		seenTEID[tun.TEID] = true
	}
	return nil
}
