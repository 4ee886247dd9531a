// Package profiles maps a client's appRoute to the persona a live session is
// opened with.
//
// Profiles ship embedded in the binary (profiles.yaml plus markdown prompts)
// and may be overridden by a YAML file of the same shape on disk.
package profiles

import (
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/vango-go/vai-live/pkg/core/live"
)

//go:embed profiles.yaml prompts/*.md
var embedded embed.FS

// OpeningTurn is sent as the first user turn so the model speaks first.
const OpeningTurn = "[Call connected. Begin the conversation.]"

// Profile is a resolved persona.
type Profile struct {
	Name                string
	Routes              []string
	SystemInstruction   string
	Voice               string
	ProactiveAudio      bool
	InputTranscription  bool
	OutputTranscription bool
	OpeningTurn         string
}

// LiveConfig builds the remote session configuration for p.
func (p Profile) LiveConfig() live.Config {
	return live.Config{
		Modality:            live.ModalityAudio,
		SystemInstruction:   p.SystemInstruction,
		Voice:               p.Voice,
		TurnDetection:       live.DefaultTurnDetection(),
		ProactiveAudio:      p.ProactiveAudio,
		InputTranscription:  p.InputTranscription,
		OutputTranscription: p.OutputTranscription,
	}
}

type fileProfile struct {
	Routes         []string `yaml:"routes"`
	Prompt         string   `yaml:"prompt"`
	Instruction    string   `yaml:"instruction"`
	Voice          string   `yaml:"voice"`
	ProactiveAudio *bool    `yaml:"proactive_audio"`
	OpeningTurn    string   `yaml:"opening_turn"`
	Transcription  struct {
		Input  bool `yaml:"input"`
		Output bool `yaml:"output"`
	} `yaml:"transcription"`
}

type fileSet struct {
	Default  string                 `yaml:"default"`
	Profiles map[string]fileProfile `yaml:"profiles"`
}

// Registry resolves routes to profiles. It is immutable after Load.
type Registry struct {
	byName   map[string]Profile
	byRoute  map[string]string
	fallback string
}

// Load reads the embedded profiles and, when overridePath is non-empty,
// merges the profiles defined there on top. Override prompt paths are
// resolved relative to the override file.
func Load(overridePath string) (*Registry, error) {
	data, err := embedded.ReadFile("profiles.yaml")
	if err != nil {
		return nil, fmt.Errorf("read embedded profiles: %w", err)
	}
	var base fileSet
	if err := yaml.Unmarshal(data, &base); err != nil {
		return nil, fmt.Errorf("parse embedded profiles: %w", err)
	}
	reg := &Registry{byName: map[string]Profile{}, byRoute: map[string]string{}}
	if err := reg.merge(base, func(p string) ([]byte, error) { return embedded.ReadFile(p) }); err != nil {
		return nil, err
	}

	if strings.TrimSpace(overridePath) != "" {
		data, err := os.ReadFile(overridePath)
		if err != nil {
			return nil, fmt.Errorf("read profiles file: %w", err)
		}
		var override fileSet
		if err := yaml.Unmarshal(data, &override); err != nil {
			return nil, fmt.Errorf("parse profiles file %s: %w", overridePath, err)
		}
		dir := filepath.Dir(overridePath)
		readPrompt := func(p string) ([]byte, error) {
			if !filepath.IsAbs(p) {
				p = filepath.Join(dir, p)
			}
			return os.ReadFile(p)
		}
		if err := reg.merge(override, readPrompt); err != nil {
			return nil, err
		}
	}

	if _, ok := reg.byName[reg.fallback]; !ok {
		return nil, fmt.Errorf("default profile %q is not defined", reg.fallback)
	}
	return reg, nil
}

func (r *Registry) merge(set fileSet, readPrompt func(string) ([]byte, error)) error {
	names := make([]string, 0, len(set.Profiles))
	for name := range set.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		fp := set.Profiles[name]
		instruction := strings.TrimSpace(fp.Instruction)
		if instruction == "" && fp.Prompt != "" {
			raw, err := readPrompt(fp.Prompt)
			if err != nil {
				return fmt.Errorf("profile %q: read prompt: %w", name, err)
			}
			instruction = strings.TrimSpace(string(raw))
		}
		if instruction == "" {
			return fmt.Errorf("profile %q: prompt or instruction is required", name)
		}
		p := Profile{
			Name:                name,
			SystemInstruction:   instruction,
			Voice:               strings.TrimSpace(fp.Voice),
			ProactiveAudio:      fp.ProactiveAudio == nil || *fp.ProactiveAudio,
			InputTranscription:  fp.Transcription.Input,
			OutputTranscription: fp.Transcription.Output,
			OpeningTurn:         strings.TrimSpace(fp.OpeningTurn),
		}
		if p.OpeningTurn == "" {
			p.OpeningTurn = OpeningTurn
		}
		if old, ok := r.byName[name]; ok {
			for _, route := range old.Routes {
				delete(r.byRoute, route)
			}
		}
		for _, route := range fp.Routes {
			route = strings.TrimSpace(route)
			if route == "" {
				continue
			}
			if owner, taken := r.byRoute[route]; taken && owner != name {
				return fmt.Errorf("profile %q: route %q already belongs to %q", name, route, owner)
			}
			r.byRoute[route] = name
			p.Routes = append(p.Routes, route)
		}
		r.byName[name] = p
	}
	if d := strings.TrimSpace(set.Default); d != "" {
		r.fallback = d
	}
	if r.fallback == "" {
		return errors.New("profiles: default profile name is required")
	}
	return nil
}

// ForRoute returns the profile bound to appRoute, or the default profile.
func (r *Registry) ForRoute(appRoute string) Profile {
	if name, ok := r.byRoute[strings.TrimSpace(appRoute)]; ok {
		return r.byName[name]
	}
	return r.byName[r.fallback]
}

// Names lists the loaded profile names in sorted order.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Get returns the profile called name.
func (r *Registry) Get(name string) (Profile, bool) {
	p, ok := r.byName[name]
	return p, ok
}

// Default is the name of the profile used for unmatched routes.
func (r *Registry) Default() string { return r.fallback }
