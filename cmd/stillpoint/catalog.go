package main

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed assets/ambience.yaml
var builtinAmbienceYAML []byte

//go:embed assets/exercises.yaml
var builtinExercisesYAML []byte

// Ambience is one selectable ambient track. Entries are immutable once loaded.
type Ambience struct {
	Key         string `yaml:"key" json:"key"`
	Title       string `yaml:"title" json:"title"`
	Description string `yaml:"description" json:"description"`
	Glyph       string `yaml:"glyph" json:"glyph"`
	Source      string `yaml:"source" json:"source"`
}

// Catalog is the ordered, read-only list of ambience entries.
type Catalog struct {
	entries []Ambience
	byKey   map[string]int
}

// NewCatalog validates entries and builds a Catalog. Keys must be unique and
// every entry needs a source.
func NewCatalog(entries []Ambience) (*Catalog, error) {
	c := &Catalog{
		entries: make([]Ambience, 0, len(entries)),
		byKey:   make(map[string]int, len(entries)),
	}
	for i, a := range entries {
		if a.Key == "" {
			return nil, fmt.Errorf("ambience[%d]: key is empty", i)
		}
		if a.Source == "" {
			return nil, fmt.Errorf("ambience %q: source is empty", a.Key)
		}
		if _, dup := c.byKey[a.Key]; dup {
			return nil, fmt.Errorf("ambience %q: duplicate key", a.Key)
		}
		c.byKey[a.Key] = len(c.entries)
		c.entries = append(c.entries, a)
	}
	return c, nil
}

func (c *Catalog) Get(key string) (Ambience, bool) {
	if c == nil {
		return Ambience{}, false
	}
	i, ok := c.byKey[key]
	if !ok {
		return Ambience{}, false
	}
	return c.entries[i], true
}

// Next returns the entry after key, wrapping at the end. An unknown or empty
// key yields the first entry.
func (c *Catalog) Next(key string) (Ambience, bool) {
	if c == nil || len(c.entries) == 0 {
		return Ambience{}, false
	}
	i, ok := c.byKey[key]
	if !ok {
		return c.entries[0], true
	}
	return c.entries[(i+1)%len(c.entries)], true
}

func (c *Catalog) Entries() []Ambience {
	if c == nil {
		return nil
	}
	out := make([]Ambience, len(c.entries))
	copy(out, c.entries)
	return out
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}

// ExercisePhase is one instruction+duration step of a breathing cycle.
type ExercisePhase struct {
	Instruction     string `yaml:"instruction" json:"instruction"`
	DurationSeconds int    `yaml:"duration_seconds" json:"duration_seconds"`
	Cue             string `yaml:"cue,omitempty" json:"cue,omitempty"`
}

func (p ExercisePhase) Duration() time.Duration {
	return time.Duration(p.DurationSeconds) * time.Second
}

// ExerciseDefinition is a named, repeatable sequence of phases.
type ExerciseDefinition struct {
	Key         string          `yaml:"key" json:"key"`
	Name        string          `yaml:"name" json:"name"`
	Description string          `yaml:"description,omitempty" json:"description,omitempty"`
	Cycles      int             `yaml:"cycles" json:"cycles"`
	Phases      []ExercisePhase `yaml:"phases" json:"phases"`
}

// CycleSeconds is the length of one full pass over the phases.
func (d ExerciseDefinition) CycleSeconds() int {
	total := 0
	for _, p := range d.Phases {
		total += p.DurationSeconds
	}
	return total
}

func (d ExerciseDefinition) TotalSeconds() int {
	return d.CycleSeconds() * d.Cycles
}

var errMalformedExercise = errors.New("malformed exercise definition")

// Validate rejects definitions the session timer cannot run.
func (d ExerciseDefinition) Validate() error {
	if d.Key == "" {
		return fmt.Errorf("%w: key is empty", errMalformedExercise)
	}
	if len(d.Phases) == 0 {
		return fmt.Errorf("%w: %q has no phases", errMalformedExercise, d.Key)
	}
	if d.Cycles <= 0 {
		return fmt.Errorf("%w: %q cycles must be > 0", errMalformedExercise, d.Key)
	}
	for i, p := range d.Phases {
		if p.DurationSeconds <= 0 {
			return fmt.Errorf("%w: %q phase %d duration must be > 0", errMalformedExercise, d.Key, i)
		}
		if p.Cue != "" {
			if _, ok := toneForCue(p.Cue); !ok {
				return fmt.Errorf("%w: %q phase %d has unknown cue %q", errMalformedExercise, d.Key, i, p.Cue)
			}
		}
	}
	return nil
}

// ExerciseLibrary is the ordered set of exercise definitions.
type ExerciseLibrary struct {
	defs  []ExerciseDefinition
	byKey map[string]int
}

func NewExerciseLibrary(defs []ExerciseDefinition) (*ExerciseLibrary, error) {
	l := &ExerciseLibrary{
		defs:  make([]ExerciseDefinition, 0, len(defs)),
		byKey: make(map[string]int, len(defs)),
	}
	for _, d := range defs {
		if err := d.Validate(); err != nil {
			return nil, err
		}
		if _, dup := l.byKey[d.Key]; dup {
			return nil, fmt.Errorf("exercise %q: duplicate key", d.Key)
		}
		l.byKey[d.Key] = len(l.defs)
		l.defs = append(l.defs, d)
	}
	return l, nil
}

func (l *ExerciseLibrary) Get(key string) (ExerciseDefinition, bool) {
	if l == nil {
		return ExerciseDefinition{}, false
	}
	i, ok := l.byKey[key]
	if !ok {
		return ExerciseDefinition{}, false
	}
	return l.defs[i], true
}

func (l *ExerciseLibrary) Definitions() []ExerciseDefinition {
	if l == nil {
		return nil
	}
	out := make([]ExerciseDefinition, len(l.defs))
	copy(out, l.defs)
	return out
}

// ParseCatalog decodes an ambience YAML document.
func ParseCatalog(b []byte) (*Catalog, error) {
	var doc struct {
		Ambience []Ambience `yaml:"ambience"`
	}
	if err := decodeStrict(b, &doc); err != nil {
		return nil, fmt.Errorf("decode ambience yaml: %w", err)
	}
	return NewCatalog(doc.Ambience)
}

// ParseExercises decodes an exercises YAML document.
func ParseExercises(b []byte) (*ExerciseLibrary, error) {
	var doc struct {
		Exercises []ExerciseDefinition `yaml:"exercises"`
	}
	if err := decodeStrict(b, &doc); err != nil {
		return nil, fmt.Errorf("decode exercises yaml: %w", err)
	}
	return NewExerciseLibrary(doc.Exercises)
}

func decodeStrict(b []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	return dec.Decode(v)
}

// CatalogSet bundles the two read-only libraries the engine looks things up in.
type CatalogSet struct {
	Ambience  *Catalog
	Exercises *ExerciseLibrary
}

// LoadCatalogSet loads the override files named in cfg, falling back to the
// built-in documents for any file that is not configured.
func LoadCatalogSet(cfg CatalogConfig) (CatalogSet, error) {
	ambienceDoc := builtinAmbienceYAML
	if cfg.AmbienceFile != "" {
		b, err := os.ReadFile(ExpandPath(cfg.AmbienceFile))
		if err != nil {
			return CatalogSet{}, fmt.Errorf("read ambience file: %w", err)
		}
		ambienceDoc = b
	}
	exercisesDoc := builtinExercisesYAML
	if cfg.ExercisesFile != "" {
		b, err := os.ReadFile(ExpandPath(cfg.ExercisesFile))
		if err != nil {
			return CatalogSet{}, fmt.Errorf("read exercises file: %w", err)
		}
		exercisesDoc = b
	}

	amb, err := ParseCatalog(ambienceDoc)
	if err != nil {
		return CatalogSet{}, err
	}
	ex, err := ParseExercises(exercisesDoc)
	if err != nil {
		return CatalogSet{}, err
	}
	return CatalogSet{Ambience: amb, Exercises: ex}, nil
}

// catalogHolder publishes the current CatalogSet to goroutines outside the
// daemon loop (HTTP handlers). The engine keeps its own copy in state.
type catalogHolder struct {
	p atomic.Pointer[CatalogSet]
}

func (h *catalogHolder) Load() CatalogSet {
	if s := h.p.Load(); s != nil {
		return *s
	}
	return CatalogSet{}
}

func (h *catalogHolder) Store(s CatalogSet) { h.p.Store(&s) }
