// Package config loads the run configuration.
//
// Files are YAML or JSON, read through viper; SPATIALCOMPARE_* environment
// variables override scalar settings. Optional settings are pointers so an
// omitted field is distinguishable from a zero value; the Get* methods
// supply defaults.
package config

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/viper"

	"github.com/banshee-data/spatialcompare/internal/category"
	"github.com/banshee-data/spatialcompare/internal/roi"
)

const envPrefix = "SPATIALCOMPARE"

// Store kinds.
const (
	StoreFile   = "file"
	StoreSQLite = "sqlite"
)

// RunConfig is the root configuration. It is read once and treated as
// immutable afterwards.
type RunConfig struct {
	Workers         *int    `mapstructure:"workers" json:"workers,omitempty"`
	Debug           *bool   `mapstructure:"debug" json:"debug,omitempty"`
	ReferenceSource *string `mapstructure:"reference_source" json:"reference_source,omitempty"`
	OutputPrefix    *string `mapstructure:"output_prefix" json:"output_prefix,omitempty"`

	Years     map[string]*YearConfig `mapstructure:"years" json:"years"`
	Mask      *MaskConfig            `mapstructure:"mask" json:"mask,omitempty"`
	Store     StoreConfig            `mapstructure:"store" json:"store"`
	Histogram *HistogramConfig       `mapstructure:"histogram" json:"histogram,omitempty"`
	Log       LogConfig              `mapstructure:"log" json:"log"`
}

// YearConfig lists the sources and outputs of one year.
type YearConfig struct {
	Sources        []string              `mapstructure:"sources" json:"sources"`
	Outputs        OutputConfig          `mapstructure:"outputs" json:"outputs"`
	Classification *ClassificationConfig `mapstructure:"classification" json:"classification,omitempty"`
}

// OutputConfig names the grids a year writes. Empty fields fall back to
// "<prefix><year>_<name>".
type OutputConfig struct {
	Mean          string `mapstructure:"mean" json:"mean,omitempty"`
	Std           string `mapstructure:"std" json:"std,omitempty"`
	Deviation     string `mapstructure:"deviation" json:"deviation,omitempty"`
	Variation     string `mapstructure:"variation" json:"variation,omitempty"`
	CategoryMean  string `mapstructure:"category_mean" json:"category_mean,omitempty"`
	Difference    string `mapstructure:"difference" json:"difference,omitempty"`
	DifferencePct string `mapstructure:"difference_pct" json:"difference_pct,omitempty"`
	CategoryCV    string `mapstructure:"category_cv" json:"category_cv,omitempty"`
}

// ClassificationConfig declares a classification grid and its key domain.
type ClassificationConfig struct {
	ID       string   `mapstructure:"id" json:"id"`
	Variable string   `mapstructure:"variable" json:"variable"`
	Kind     string   `mapstructure:"kind" json:"kind,omitempty"` // numeric (default) or text
	Keys     []string `mapstructure:"keys" json:"keys"`
	// AttributeTable maps raster codes to attribute rows. Optional: without
	// it the raster code is the key.
	AttributeTable map[string]map[string]string `mapstructure:"attribute_table" json:"attribute_table,omitempty"`
}

// MaskConfig selects the run's mask.
type MaskConfig struct {
	UseBackup        *bool        `mapstructure:"use_backup" json:"use_backup,omitempty"`
	BackupID         string       `mapstructure:"backup_id" json:"backup_id,omitempty"`
	ClassificationID string       `mapstructure:"classification_id" json:"classification_id,omitempty"`
	Variable         string       `mapstructure:"variable" json:"variable,omitempty"`
	Kind             string       `mapstructure:"kind" json:"kind,omitempty"`
	Keys             []string     `mapstructure:"keys" json:"keys,omitempty"`
	Boundary         roi.Boundary `mapstructure:"boundary" json:"boundary,omitempty"`
	// AttributeTable maps classification codes to attribute rows, as in
	// ClassificationConfig. Required for text keys.
	AttributeTable map[string]map[string]string `mapstructure:"attribute_table" json:"attribute_table,omitempty"`
}

// StoreConfig selects the grid store backend.
type StoreConfig struct {
	Kind *string `mapstructure:"kind" json:"kind,omitempty"`
	Path *string `mapstructure:"path" json:"path,omitempty"`
}

// HistogramConfig enables histogram exports of the mean grid.
type HistogramConfig struct {
	Min         float64 `mapstructure:"min" json:"min"`
	Max         float64 `mapstructure:"max" json:"max"`
	BucketWidth float64 `mapstructure:"bucket_width" json:"bucket_width"`
	Dir         *string `mapstructure:"dir" json:"dir,omitempty"`
	HTML        *bool   `mapstructure:"html" json:"html,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  *string `mapstructure:"level" json:"level,omitempty"`
	Format *string `mapstructure:"format" json:"format,omitempty"`
}

// envKeys are the scalar settings overridable from the environment.
var envKeys = []string{
	"workers", "debug", "reference_source", "output_prefix",
	"store.kind", "store.path", "log.level", "log.format",
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Unmarshal only sees keys viper knows about; bind the overridable ones.
	for _, k := range envKeys {
		_ = v.BindEnv(k)
	}
	return v
}

// Load reads the YAML or JSON file at path, applies environment
// overrides and validates the result.
func Load(path string) (*RunConfig, error) {
	cleanPath := filepath.Clean(path)
	switch ext := strings.ToLower(filepath.Ext(cleanPath)); ext {
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("config file must be .yaml, .yml or .json, got %q", ext)
	}

	v := newViper()
	v.SetConfigFile(cleanPath)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file %q: %w", cleanPath, err)
	}
	cfg := &RunConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *RunConfig) Validate() error {
	if c.Workers != nil && *c.Workers < 1 {
		return fmt.Errorf("workers must be positive, got %d", *c.Workers)
	}
	switch k := c.Store.GetKind(); k {
	case StoreFile, StoreSQLite:
	default:
		return fmt.Errorf("store.kind must be %q or %q, got %q", StoreFile, StoreSQLite, k)
	}
	if len(c.Years) == 0 {
		return fmt.Errorf("no years configured")
	}
	for name, y := range c.Years {
		year, err := strconv.Atoi(name)
		if err != nil {
			return fmt.Errorf("year key %q is not an integer", name)
		}
		if y == nil || len(y.Sources) == 0 {
			return fmt.Errorf("year %d: no sources", year)
		}
		if ref := c.GetReferenceSource(); ref != "" && !contains(y.Sources, ref) {
			return fmt.Errorf("year %d: reference source %q is not among its sources", year, ref)
		}
		if y.Classification != nil {
			if _, err := y.Classification.Domain(); err != nil {
				return fmt.Errorf("year %d classification: %w", year, err)
			}
		}
	}
	if m := c.Mask; m != nil {
		if m.GetUseBackup() {
			if m.BackupID == "" {
				return fmt.Errorf("mask.use_backup requires mask.backup_id")
			}
		} else {
			if m.ClassificationID == "" {
				return fmt.Errorf("mask requires classification_id unless use_backup is set")
			}
			q, err := m.Query()
			if err != nil {
				return fmt.Errorf("mask: %w", err)
			}
			if q.Keys[0].Kind() == category.KindText && len(m.AttributeTable) == 0 {
				return fmt.Errorf("mask: text keys require an attribute_table")
			}
			if _, err := m.Table(); err != nil {
				return fmt.Errorf("mask: %w", err)
			}
		}
	}
	if h := c.Histogram; h != nil {
		if h.BucketWidth <= 0 {
			return fmt.Errorf("histogram.bucket_width must be positive, got %g", h.BucketWidth)
		}
		if h.Max <= h.Min {
			return fmt.Errorf("histogram.max (%g) must exceed histogram.min (%g)", h.Max, h.Min)
		}
	}
	return nil
}

// Year returns the configuration of year.
func (c *RunConfig) Year(year int) (*YearConfig, error) {
	y, ok := c.Years[strconv.Itoa(year)]
	if !ok || y == nil {
		return nil, fmt.Errorf("year %d is not configured (have %v)", year, c.YearList())
	}
	return y, nil
}

// YearList returns the configured years in ascending order.
func (c *RunConfig) YearList() []int {
	out := make([]int, 0, len(c.Years))
	for name := range c.Years {
		if y, err := strconv.Atoi(name); err == nil {
			out = append(out, y)
		}
	}
	sort.Ints(out)
	return out
}

// GetWorkers returns the aggregation concurrency limit, never below 1.
func (c *RunConfig) GetWorkers() int {
	if c.Workers == nil {
		return 4
	}
	return max(*c.Workers, 1)
}

// GetDebug reports whether intermediate annual grids are persisted.
func (c *RunConfig) GetDebug() bool {
	if c.Debug == nil {
		return false
	}
	return *c.Debug
}

// GetReferenceSource returns the source whose geometry outputs align to.
// Empty means the first source of the year.
func (c *RunConfig) GetReferenceSource() string {
	if c.ReferenceSource == nil {
		return ""
	}
	return *c.ReferenceSource
}

// GetOutputPrefix returns the prefix of default output ids.
func (c *RunConfig) GetOutputPrefix() string {
	if c.OutputPrefix == nil {
		return ""
	}
	return *c.OutputPrefix
}

// OutputID returns the configured id of output name for year, or the
// default "<prefix><year>_<name>" when unset.
func (c *RunConfig) OutputID(year int, configured, name string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("%s%d_%s", c.GetOutputPrefix(), year, name)
}

// GetKind returns the store backend kind.
func (s StoreConfig) GetKind() string {
	if s.Kind == nil || *s.Kind == "" {
		return StoreFile
	}
	return strings.ToLower(*s.Kind)
}

// GetPath returns the store root directory or database file.
func (s StoreConfig) GetPath() string {
	if s.Path != nil && *s.Path != "" {
		return *s.Path
	}
	if s.GetKind() == StoreSQLite {
		return "spatialcompare.db"
	}
	return "data"
}

// GetLevel returns the log level.
func (l LogConfig) GetLevel() string {
	if l.Level == nil {
		return "info"
	}
	return *l.Level
}

// GetFormat returns the log encoding.
func (l LogConfig) GetFormat() string {
	if l.Format == nil {
		return "console"
	}
	return *l.Format
}

// GetUseBackup reports whether the precomputed mask is used.
func (m *MaskConfig) GetUseBackup() bool {
	if m.UseBackup == nil {
		return false
	}
	return *m.UseBackup
}

// Query returns the parsed attribute query of the mask.
func (m *MaskConfig) Query() (roi.Query, error) {
	if m.Variable == "" {
		return roi.Query{}, fmt.Errorf("variable is required")
	}
	kind, err := category.ParseKind(m.Kind)
	if err != nil {
		return roi.Query{}, err
	}
	keys, err := parseKeys(kind, m.Keys)
	if err != nil {
		return roi.Query{}, err
	}
	if len(keys) == 0 {
		return roi.Query{}, fmt.Errorf("no keys selected for %s", m.Variable)
	}
	return roi.Query{Variable: m.Variable, Keys: keys}, nil
}

// Table returns the parsed mask attribute table, or nil when none is
// declared.
func (m *MaskConfig) Table() (category.AttributeTable, error) {
	return parseTable(m.Kind, m.Variable, m.AttributeTable)
}

// GetDir returns the directory histogram files are written to.
func (h *HistogramConfig) GetDir() string {
	if h.Dir == nil {
		return "."
	}
	return *h.Dir
}

// GetHTML reports whether an HTML chart accompanies the PNG.
func (h *HistogramConfig) GetHTML() bool {
	if h.HTML == nil {
		return false
	}
	return *h.HTML
}

// Domain returns the declared key domain.
func (c *ClassificationConfig) Domain() (category.Domain, error) {
	if c.ID == "" {
		return category.Domain{}, fmt.Errorf("id is required")
	}
	if c.Variable == "" {
		return category.Domain{}, fmt.Errorf("variable is required")
	}
	kind, err := category.ParseKind(c.Kind)
	if err != nil {
		return category.Domain{}, err
	}
	keys, err := parseKeys(kind, c.Keys)
	if err != nil {
		return category.Domain{}, err
	}
	if len(keys) == 0 {
		return category.Domain{}, fmt.Errorf("no keys declared for %s", c.Variable)
	}
	return category.Domain{Variable: c.Variable, Keys: keys}, nil
}

// Table returns the parsed attribute table, or nil when none is declared.
// Values of the key variable use the declared kind; other columns are text.
func (c *ClassificationConfig) Table() (category.AttributeTable, error) {
	return parseTable(c.Kind, c.Variable, c.AttributeTable)
}

func parseTable(kindName, variable string, raw map[string]map[string]string) (category.AttributeTable, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	kind, err := category.ParseKind(kindName)
	if err != nil {
		return nil, err
	}
	table := make(category.AttributeTable, len(raw))
	for codeStr, row := range raw {
		code, err := strconv.Atoi(codeStr)
		if err != nil {
			return nil, fmt.Errorf("attribute table code %q is not an integer", codeStr)
		}
		parsed := make(map[string]category.Key, len(row))
		for col, val := range row {
			if !strings.EqualFold(col, variable) {
				parsed[col] = category.Text(val)
				continue
			}
			k, err := category.ParseKey(kind, val)
			if err != nil {
				return nil, fmt.Errorf("attribute table code %d: %w", code, err)
			}
			parsed[col] = k
		}
		table[code] = parsed
	}
	return table, nil
}

func parseKeys(kind category.Kind, raw []string) ([]category.Key, error) {
	keys := make([]category.Key, 0, len(raw))
	for _, s := range raw {
		k, err := category.ParseKey(kind, s)
		if err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
