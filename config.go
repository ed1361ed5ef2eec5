package grids

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the file-level configuration of a Manager and the defaults of
// the grids created through it.
type Config struct {
	Log    LogConfig    `yaml:"log"`
	Memory MemoryConfig `yaml:"memory"`
	Grid   GridConfig   `yaml:"grid"`
}

type MemoryConfig struct {
	BudgetBytes  int64  `yaml:"budget_bytes"`
	ReserveBytes int64  `yaml:"reserve_bytes"`
	EvictBatch   int    `yaml:"evict_batch"`
	SwapPath     string `yaml:"swap_path"`

	// MinAvailableBytes enables SystemMonitor, HeapLimitBytes enables
	// HeapMonitor; when both are set the system monitor wins.
	MinAvailableBytes uint64 `yaml:"min_available_bytes"`
	HeapLimitBytes    uint64 `yaml:"heap_limit_bytes"`
	SampleEvery       int    `yaml:"sample_every"`
}

type GridConfig struct {
	Kind       string `yaml:"kind"`
	ChunkNRows int32  `yaml:"chunk_rows"`
	ChunkNCols int32  `yaml:"chunk_cols"`
	Dir        string `yaml:"dir"`
	TileSize   int    `yaml:"tile_size"`
	Stats      string `yaml:"stats"`
}

func DefaultConfig() Config {
	return Config{
		Log: LogConfig{Level: "info", Encoding: "json"},
		Memory: MemoryConfig{
			BudgetBytes:  1 << 30,
			ReserveBytes: 1 << 20,
			EvictBatch:   4,
		},
		Grid: GridConfig{
			Kind:       KindDense.String(),
			ChunkNRows: defaultChunkSize,
			ChunkNCols: defaultChunkSize,
			TileSize:   defaultTileSize,
			Stats:      StatsRecompute.String(),
		},
	}
}

// LoadConfig reads a YAML file over DefaultConfig. ${NAME} references are
// replaced with environment variables before parsing.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse YAML: %w", err)
	}
	return cfg, nil
}

// substituteEnvVars replaces ${VAR_NAME} with environment variable values
func substituteEnvVars(content string) string {
	var buf strings.Builder
	for {
		start := strings.Index(content, "${")
		if start == -1 {
			break
		}
		end := strings.IndexByte(content[start:], '}')
		if end == -1 {
			break
		}
		end += start
		buf.WriteString(content[:start])
		buf.WriteString(os.Getenv(content[start+2 : end]))
		content = content[end+1:]
	}
	buf.WriteString(content)
	return buf.String()
}

// Validate checks the configuration and applies the adjustments grids
// would otherwise make silently. The returned notices describe them.
func (c *Config) Validate() (notices []string, err error) {
	if c.Memory.BudgetBytes < 0 || c.Memory.ReserveBytes < 0 {
		return nil, fmt.Errorf("%w: memory sizes can't be negative", ErrInvalidOptions)
	}
	if c.Memory.BudgetBytes > 0 && c.Memory.ReserveBytes >= c.Memory.BudgetBytes {
		return nil, fmt.Errorf("%w: reserve_bytes must be below budget_bytes", ErrInvalidOptions)
	}
	kind, err := ParseKind(c.Grid.Kind)
	if err != nil {
		return nil, fmt.Errorf("%w: grid.kind: %v", ErrInvalidOptions, err)
	}
	if _, err := ParseStatsMode(c.Grid.Stats); err != nil {
		return nil, fmt.Errorf("%w: grid.stats: %v", ErrInvalidOptions, err)
	}
	if c.Grid.ChunkNRows < 0 || c.Grid.ChunkNCols < 0 {
		return nil, fmt.Errorf("%w: negative chunk size", ErrInvalidOptions)
	}
	if (kind == KindFile || kind == KindTiled) && c.Grid.Dir == "" {
		return nil, fmt.Errorf("%w: grid.dir is required for %s chunks", ErrInvalidOptions, kind)
	}
	if kind == KindPacked && int64(c.Grid.ChunkNRows)*int64(c.Grid.ChunkNCols) > MaxPackedCells {
		notices = append(notices, fmt.Sprintf("grid.kind packed holds at most %d cells per chunk: chunk size %dx%d reduced to %dx%d",
			MaxPackedCells, c.Grid.ChunkNRows, c.Grid.ChunkNCols, packedChunkSide, packedChunkSide))
		c.Grid.ChunkNRows, c.Grid.ChunkNCols = packedChunkSide, packedChunkSide
	}
	return notices, nil
}

// ManagerOptions turns the memory section into options for NewManager.
func (c *Config) ManagerOptions(logger *zap.Logger, reg prometheus.Registerer) ManagerOptions {
	opt := ManagerOptions{
		BudgetBytes:  c.Memory.BudgetBytes,
		ReserveBytes: c.Memory.ReserveBytes,
		EvictBatch:   c.Memory.EvictBatch,
		SwapPath:     c.Memory.SwapPath,
		Logger:       logger,
		Registerer:   reg,
	}
	switch {
	case c.Memory.MinAvailableBytes > 0:
		opt.Monitor = &SystemMonitor{MinAvailable: c.Memory.MinAvailableBytes, Every: c.Memory.SampleEvery}
	case c.Memory.HeapLimitBytes > 0:
		opt.Monitor = &HeapMonitor{Limit: c.Memory.HeapLimitBytes, Every: c.Memory.SampleEvery}
	}
	return opt
}

// GridOptionsFromConfig returns options for a grid using the defaults of
// the grid section.
func GridOptionsFromConfig[T Number](c *Config, name string, nrows, ncols int64, noData T) (GridOptions[T], error) {
	kind, err := ParseKind(c.Grid.Kind)
	if err != nil {
		return GridOptions[T]{}, err
	}
	stats, err := ParseStatsMode(c.Grid.Stats)
	if err != nil {
		return GridOptions[T]{}, err
	}
	return GridOptions[T]{
		Name:       name,
		NRows:      nrows,
		NCols:      ncols,
		ChunkNRows: c.Grid.ChunkNRows,
		ChunkNCols: c.Grid.ChunkNCols,
		NoData:     noData,
		Kind:       kind,
		Dir:        c.Grid.Dir,
		TileSize:   c.Grid.TileSize,
		Stats:      stats,
	}, nil
}
