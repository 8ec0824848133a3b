package adx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"sync"
)

// CatalogSource supplies a catalog generation from persistent storage.
// Implementations: FileSource (static JSON) and PostgresCatalogSource.
type CatalogSource interface {
	Demands(ctx context.Context) ([]Demand, error)
	SspInfo(ctx context.Context) ([]SSP, error)
	SspPlacements(ctx context.Context) ([]SspPlacement, error)
	DspPlacements(ctx context.Context) ([]DspPlacement, error)
}

// Catalog holds the current generation of demands, placements and SSP
// metadata. Readers take snapshots; Update swaps both placement sets
// atomically behind a brief write lock. The lock is never held across I/O.
type Catalog struct {
	mu            sync.RWMutex
	demands       []Demand
	ssps          []SSP
	sspPlacements []SspPlacement
	dspPlacements []DspPlacement
	logger        *slog.Logger
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *slog.Logger) *Catalog {
	return &Catalog{logger: logger}
}

// SetDemands validates and publishes a new demand generation.
func (c *Catalog) SetDemands(demands []Demand) error {
	seen := make(map[uint64]bool, len(demands))
	for i := range demands {
		if err := demands[i].Validate(); err != nil {
			return err
		}
		if seen[demands[i].ID] {
			return fmt.Errorf("duplicate demand id %d", demands[i].ID)
		}
		seen[demands[i].ID] = true
	}
	c.mu.Lock()
	c.demands = demands
	c.mu.Unlock()
	return nil
}

// SetSspInfo publishes a new SSP metadata generation.
func (c *Catalog) SetSspInfo(ssps []SSP) {
	c.mu.Lock()
	c.ssps = ssps
	c.mu.Unlock()
}

// Update atomically swaps both placement sets. Readers observe either
// the full old generation or the full new one, never a mix.
func (c *Catalog) Update(sspPlacements []SspPlacement, dspPlacements []DspPlacement) {
	c.mu.Lock()
	c.sspPlacements = sspPlacements
	c.dspPlacements = dspPlacements
	c.mu.Unlock()
}

// ActiveDemands returns a snapshot of the enabled demands.
func (c *Catalog) ActiveDemands() []Demand {
	c.mu.RLock()
	defer c.mu.RUnlock()
	active := make([]Demand, 0, len(c.demands))
	for _, d := range c.demands {
		if d.Status {
			active = append(active, d)
		}
	}
	return active
}

// SspPlacements returns a snapshot of the SSP placement set.
func (c *Catalog) SspPlacements() []SspPlacement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SspPlacement, len(c.sspPlacements))
	copy(out, c.sspPlacements)
	return out
}

// DspPlacements returns a snapshot of the DSP placement set.
func (c *Catalog) DspPlacements() []DspPlacement {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]DspPlacement, len(c.dspPlacements))
	copy(out, c.dspPlacements)
	return out
}

// SspInfo returns a snapshot of the SSP metadata.
func (c *Catalog) SspInfo() []SSP {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]SSP, len(c.ssps))
	copy(out, c.ssps)
	return out
}

// SspByUUID resolves an SSP by its UUID.
func (c *Catalog) SspByUUID(uuid string) (SSP, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, s := range c.ssps {
		if s.UUID == uuid {
			return s, true
		}
	}
	return SSP{}, false
}

// SspPlacementByUUID resolves the enabled SSP placement for an SSP UUID.
func (c *Catalog) SspPlacementByUUID(uuid string) (SspPlacement, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.sspPlacements {
		if p.SspUUID == uuid && p.Status == PlacementEnabled {
			return p, true
		}
	}
	return SspPlacement{}, false
}

// ProfitRate resolves the revenue-share markdown for a winning DSP from
// its placement record, falling back to the 20% baseline.
func (c *Catalog) ProfitRate(dspID uint64) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.dspPlacements {
		if p.DspID == dspID && p.Status == PlacementEnabled && p.ProfitRate > 0 {
			return p.ProfitRate
		}
	}
	return DefaultProfitRate
}

// LoadFrom pulls a full generation from a source and publishes it. The
// source is read outside the lock; only the swaps take it.
func (c *Catalog) LoadFrom(ctx context.Context, src CatalogSource) error {
	demands, err := src.Demands(ctx)
	if err != nil {
		return fmt.Errorf("load demands: %w", err)
	}
	ssps, err := src.SspInfo(ctx)
	if err != nil {
		return fmt.Errorf("load ssp info: %w", err)
	}
	sspPlacements, err := src.SspPlacements(ctx)
	if err != nil {
		return fmt.Errorf("load ssp placements: %w", err)
	}
	dspPlacements, err := src.DspPlacements(ctx)
	if err != nil {
		return fmt.Errorf("load dsp placements: %w", err)
	}
	if len(demands) > 0 {
		if err := c.SetDemands(demands); err != nil {
			return err
		}
	}
	c.SetSspInfo(ssps)
	c.Update(sspPlacements, dspPlacements)
	c.logger.Info("Catalog loaded",
		"demands", len(demands),
		"ssps", len(ssps),
		"ssp_placements", len(sspPlacements),
		"dsp_placements", len(dspPlacements),
	)
	return nil
}

const demandNameAlphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// SyntheticDemands generates 5-10 demands against bidURL for local runs
// without a persistent source: sequential ids from 1, names suffixed
// _dsp, per-DSP timeouts in [100, 1000) ms, at least one enabled.
func SyntheticDemands(r *rand.Rand, bidURL string) []Demand {
	n := 5 + r.Intn(6)
	demands := make([]Demand, n)
	anyActive := false
	for i := range demands {
		nameLen := 5 + r.Intn(11)
		name := make([]byte, nameLen)
		for j := range name {
			name[j] = demandNameAlphabet[r.Intn(len(demandNameAlphabet))]
		}
		timeout := int64(100 + r.Intn(900))
		status := r.Intn(2) == 1
		anyActive = anyActive || status
		demands[i] = Demand{
			ID:      uint64(i + 1),
			Name:    string(name) + "_dsp",
			URL:     bidURL,
			Status:  status,
			Timeout: &timeout,
		}
	}
	if !anyActive {
		demands[0].Status = true
	}
	return demands
}

// FileSource reads the static JSON config files once per load.
type FileSource struct {
	Dir string
}

// NewFileSource points at a directory holding ssp_info.json,
// ssp_placements.json and dsp_placements.json.
func NewFileSource(dir string) *FileSource {
	return &FileSource{Dir: dir}
}

func readJSONFile[T any](path string) ([]T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []T
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return out, nil
}

// Demands reads an optional demands.json; the demand set is usually
// seeded synthetically instead.
func (f *FileSource) Demands(ctx context.Context) ([]Demand, error) {
	return readJSONFile[Demand](filepath.Join(f.Dir, "demands.json"))
}

func (f *FileSource) SspInfo(ctx context.Context) ([]SSP, error) {
	return readJSONFile[SSP](filepath.Join(f.Dir, "ssp_info.json"))
}

func (f *FileSource) SspPlacements(ctx context.Context) ([]SspPlacement, error) {
	return readJSONFile[SspPlacement](filepath.Join(f.Dir, "ssp_placements.json"))
}

func (f *FileSource) DspPlacements(ctx context.Context) ([]DspPlacement, error) {
	return readJSONFile[DspPlacement](filepath.Join(f.Dir, "dsp_placements.json"))
}
