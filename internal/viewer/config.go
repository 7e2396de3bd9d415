package viewer

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/stackscope/stackscope/pkg/profile/capture"
)

type ListenConfig struct {
	// Addr is the host:port the HTTP facade binds.
	Addr string `yaml:"addr"`
}

type RenderConfig struct {
	// MinWeight drops blocks narrower than this fraction of the view window.
	// Zero keeps the renderer default.
	MinWeight float64 `yaml:"min_weight"`

	// MaxDepth truncates stacks deeper than this many levels.
	// Negative means unlimited.
	MaxDepth int `yaml:"max_depth"`
}

type Config struct {
	Listen ListenConfig `yaml:"listen"`

	// SamplingInterval is the fallback sampling interval, in the capture's
	// time units, for captures that do not declare one.
	SamplingInterval int64 `yaml:"sampling_interval"`

	// HideMarkerPairs replaces the marker pairs that delimit hidden stack
	// regions for captures that do not declare their own.
	HideMarkerPairs []capture.MarkerPair `yaml:"hide_marker_pairs,omitempty"`

	// InitialHiddenState controls whether marker-delimited regions start
	// hidden. A capture's own setting wins over this one.
	InitialHiddenState *bool `yaml:"initial_hidden_state,omitempty"`

	// InternalFrames lists label regexps dropped during parsing.
	InternalFrames []string `yaml:"internal_frames,omitempty"`

	// CollapsedLabels seeds the label collapse set of new sessions.
	CollapsedLabels []string `yaml:"collapsed_labels,omitempty"`

	// SourceRoot resolves relative source file names on disk when a capture
	// names files without inlining their text.
	SourceRoot string `yaml:"source_root"`

	MaxSessions int `yaml:"max_sessions"`

	Render RenderConfig `yaml:"render"`
}

const (
	defaultListenAddr  = ":8080"
	defaultMaxSessions = 32
	defaultMaxDepth    = 255
)

func defaultValue[T comparable](ptr *T, value T) {
	var zero T
	if *ptr == zero {
		*ptr = value
	}
}

func (c *Config) fillDefault() {
	defaultValue(&c.Listen.Addr, defaultListenAddr)
	defaultValue(&c.MaxSessions, defaultMaxSessions)
	defaultValue(&c.Render.MaxDepth, defaultMaxDepth)
}

// elidePredicate compiles InternalFrames into the parser's frame filter.
// Returns nil when no patterns are configured.
func (c *Config) elidePredicate() (func(string) bool, error) {
	if len(c.InternalFrames) == 0 {
		return nil, nil
	}

	res := make([]*regexp.Regexp, 0, len(c.InternalFrames))
	for _, expr := range c.InternalFrames {
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("bad internal_frames pattern %q: %w", expr, err)
		}
		res = append(res, re)
	}

	return func(label string) bool {
		for _, re := range res {
			if re.MatchString(label) {
				return true
			}
		}
		return false
	}, nil
}

func ParseConfig(configPath string) (*Config, error) {
	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("can't open config file: %w", err)
	}
	defer file.Close()

	var conf Config

	dec := yaml.NewDecoder(file)
	dec.KnownFields(true)
	err = dec.Decode(&conf)
	if err != nil {
		return nil, fmt.Errorf("can't parse config: %s, with error: %w", configPath, err)
	}

	conf.fillDefault()

	if _, err := conf.elidePredicate(); err != nil {
		return nil, err
	}

	return &conf, nil
}
