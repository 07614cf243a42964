// Package profiles manages scan profiles: named scan settings plus analysis
// focus instructions, stored as markdown files with YAML frontmatter.
package profiles

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/CosmoTheDev/zapmcp/models"
)

//go:embed defaults/*.md
var defaultsFS embed.FS

var (
	ErrNotFound = errors.New("profile not found")
	ErrInvalid  = errors.New("invalid profile")
)

// Profile is a parsed scan profile.
type Profile struct {
	// Name is the machine-readable identifier (matches the filename without .md).
	Name string `yaml:"name" json:"name"`
	// Description is a one-line human-readable summary.
	Description string `yaml:"description" json:"description"`
	// Kind is the default scan type for requests using this profile.
	Kind models.ScanKind `yaml:"kind" json:"scan_type,omitempty"`
	// ReportFormat is the default report format.
	ReportFormat models.ReportFormat `yaml:"report_format" json:"report_format,omitempty"`
	// Timeout bounds the running phase, e.g. "30m". Zero leaves the orchestrator default.
	Timeout time.Duration `yaml:"timeout" json:"timeout,omitempty"`
	// Config holds scanner parameters merged under the request's own.
	Config map[string]string `yaml:"config" json:"scan_config,omitempty"`
	// Body is the markdown content after the YAML frontmatter.
	// It is appended to the analysis prompt as focus instructions.
	Body string `yaml:"-" json:"focus,omitempty"`
	// Bundled is true if this profile was loaded from the embedded defaults.
	Bundled bool `yaml:"-" json:"bundled"`
}

// source is one directory of profile files. Later sources shadow earlier ones.
type source struct {
	fsys    fs.FS
	bundled bool
	label   string
}

func sources(profilesDir string) []source {
	bundled, _ := fs.Sub(defaultsFS, "defaults")
	out := []source{{fsys: bundled, bundled: true, label: "bundled"}}
	if profilesDir != "" {
		out = append(out, source{fsys: os.DirFS(profilesDir), label: profilesDir})
	}
	return out
}

// Load reads a profile by name, preferring the user profile directory over
// the bundled defaults.
func Load(name, profilesDir string) (*Profile, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}

	srcs := sources(profilesDir)
	for i := len(srcs) - 1; i >= 0; i-- {
		p, err := srcs[i].read(name + ".md")
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return p, nil
	}
	return nil, fmt.Errorf("profiles: %w: %q", ErrNotFound, name)
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, `/\.`) || name != filepath.Base(name) {
		return fmt.Errorf("profiles: %w name %q", ErrInvalid, name)
	}
	return nil
}

// Save writes content as the user profile name.md after checking that it
// parses. A frontmatter name that differs from name is rejected.
func Save(profilesDir, name string, content []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	if profilesDir == "" {
		return fmt.Errorf("profiles: %w: no profiles directory", ErrInvalid)
	}
	p, err := parse(content)
	if err != nil {
		return fmt.Errorf("profiles: %w: %v", ErrInvalid, err)
	}
	if p.Name != "" && p.Name != name {
		return fmt.Errorf("profiles: %w: frontmatter name %q does not match %q", ErrInvalid, p.Name, name)
	}
	if err := os.MkdirAll(profilesDir, 0o750); err != nil {
		return fmt.Errorf("profiles: create dir %s: %w", profilesDir, err)
	}
	if err := os.WriteFile(filepath.Join(profilesDir, name+".md"), content, 0o640); err != nil {
		return fmt.Errorf("profiles: write %s: %w", name, err)
	}
	return nil
}

// Remove deletes the user profile name.md. Bundled profiles cannot be
// removed; a user file shadowing one can.
func Remove(profilesDir, name string) error {
	if err := checkName(name); err != nil {
		return err
	}
	if profilesDir == "" {
		return fmt.Errorf("profiles: %w: %q", ErrNotFound, name)
	}
	err := os.Remove(filepath.Join(profilesDir, name+".md"))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("profiles: %w in %s: %q", ErrNotFound, profilesDir, name)
	}
	if err != nil {
		return fmt.Errorf("profiles: remove %s: %w", name, err)
	}
	return nil
}

// List returns every available profile sorted by name. User profiles shadow
// bundled ones of the same name; malformed files are skipped with a warning.
func List(profilesDir string) ([]Profile, error) {
	byName := make(map[string]Profile)
	for _, src := range sources(profilesDir) {
		entries, err := fs.ReadDir(src.fsys, ".")
		if err != nil {
			if src.bundled {
				return nil, fmt.Errorf("profiles: reading embedded defaults: %w", err)
			}
			if !errors.Is(err, fs.ErrNotExist) {
				slog.Warn("profiles: cannot read profile directory", "dir", src.label, "error", err)
			}
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".md") {
				continue
			}
			p, err := src.read(entry.Name())
			if err != nil {
				slog.Warn("profiles: skipping malformed profile", "source", src.label, "file", entry.Name(), "error", err)
				continue
			}
			byName[p.Name] = *p
		}
	}

	out := slices.Collect(maps.Values(byName))
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (src source) read(file string) (*Profile, error) {
	data, err := fs.ReadFile(src.fsys, file)
	if err != nil {
		return nil, err
	}
	p, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("profiles: parse %s/%s: %w", src.label, file, err)
	}
	if p.Name == "" {
		p.Name = strings.TrimSuffix(file, ".md")
	}
	p.Bundled = src.bundled
	return p, nil
}

// DefaultDir returns the default profiles directory: ~/.zapmcp/profiles/.
func DefaultDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".zapmcp", "profiles")
}

// Init creates profilesDir and copies in any bundled profile it lacks.
// Existing files are left alone so user edits survive upgrades.
func Init(profilesDir string) error {
	if err := os.MkdirAll(profilesDir, 0o750); err != nil {
		return fmt.Errorf("profiles: create dir %s: %w", profilesDir, err)
	}
	return fs.WalkDir(defaultsFS, "defaults", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".md") {
			return err
		}
		dest := filepath.Join(profilesDir, d.Name())
		if _, err := os.Stat(dest); err == nil {
			return nil
		}
		data, err := defaultsFS.ReadFile(path)
		if err != nil {
			return err
		}
		if err := os.WriteFile(dest, data, 0o640); err != nil {
			slog.Warn("profiles: failed to write default profile", "file", dest, "error", err)
		}
		return nil
	})
}

const frontmatterDelim = "---"

// parse splits a profile file into YAML frontmatter and markdown body. A
// file without frontmatter is all body.
func parse(data []byte) (*Profile, error) {
	data = bytes.TrimLeft(data, " \t\n\r")
	rest, ok := bytes.CutPrefix(data, []byte(frontmatterDelim))
	if !ok {
		return &Profile{Body: strings.TrimSpace(string(data))}, nil
	}

	front, body, ok := bytes.Cut(rest, []byte("\n"+frontmatterDelim))
	if !ok {
		return nil, fmt.Errorf("unterminated YAML frontmatter (missing closing ---)")
	}

	var p Profile
	if err := yaml.Unmarshal(front, &p); err != nil {
		return nil, fmt.Errorf("invalid YAML frontmatter: %w", err)
	}
	if p.Kind != "" && !p.Kind.Valid() {
		return nil, fmt.Errorf("unknown scan kind %q", p.Kind)
	}
	if p.ReportFormat != "" && !p.ReportFormat.Valid() {
		return nil, fmt.Errorf("unknown report format %q", p.ReportFormat)
	}
	if p.Timeout < 0 {
		return nil, fmt.Errorf("negative timeout %s", p.Timeout)
	}
	p.Body = strings.TrimSpace(string(body))
	return &p, nil
}

// Apply fills the fields req leaves empty from the profile. Scanner config
// keys already set on the request win.
func (p *Profile) Apply(req *models.ScanRequest) {
	if req.Kind == "" {
		req.Kind = p.Kind
	}
	if req.ReportFormat == "" {
		req.ReportFormat = p.ReportFormat
	}
	if req.Timeout == 0 {
		req.Timeout = p.Timeout
	}
	if len(p.Config) > 0 {
		merged := maps.Clone(p.Config)
		maps.Copy(merged, req.Config)
		req.Config = merged
	}
	if req.Focus == "" {
		req.Focus = p.Body
	}
}

// Resolve loads the profile named by req.Profile, if any, and applies it.
// An unknown profile is an invalid request.
func Resolve(req *models.ScanRequest, profilesDir string) error {
	if req.Profile == "" {
		return nil
	}
	p, err := Load(req.Profile, profilesDir)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrInvalidRequest, err)
	}
	p.Apply(req)
	return nil
}
