// Package registry loads the instrumentation manifest produced at build time:
// the static mapping of instrumented method id to source location.
package registry

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"

	"droidlog/internal/model"

	"github.com/bmatcuk/doublestar/v4"
)

// ErrEmptyManifest is returned when the manifest lists no methods.
var ErrEmptyManifest = errors.New("manifest lists no instrumented methods")

// Registry is the immutable id -> method mapping.
type Registry struct {
	path          string
	targetPackage string
	methods       map[string]model.MethodRecord
	ids           []string
}

// locationEntry accepts the object form of a manifest value.
type locationEntry struct {
	File     string `json:"file"`
	Path     string `json:"path"`
	FileName string `json:"fileName"`
	Source   string `json:"source"`
}

// Load reads the manifest at manifestPath. targetPackage (for example org.wikipedia)
// is used to recover the logical package of each file. Every failure is a
// *model.ConfigError.
func Load(manifestPath, targetPackage string) (*Registry, error) {
	raw, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, &model.ConfigError{Path: manifestPath, Err: err}
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, &model.ConfigError{Path: manifestPath, Err: fmt.Errorf("decode manifest: %w", err)}
	}
	if len(entries) == 0 {
		return nil, &model.ConfigError{Path: manifestPath, Err: ErrEmptyManifest}
	}

	reg := &Registry{
		path:          manifestPath,
		targetPackage: targetPackage,
		methods:       make(map[string]model.MethodRecord, len(entries)),
		ids:           make([]string, 0, len(entries)),
	}
	pattern := packagePattern(targetPackage)

	for id, value := range entries {
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return nil, &model.ConfigError{Path: manifestPath, Err: fmt.Errorf("method id %q is not numeric", id)}
		}
		file, err := decodeLocation(value)
		if err != nil {
			return nil, &model.ConfigError{Path: manifestPath, Err: fmt.Errorf("method %s: %w", id, err)}
		}
		reg.methods[id] = model.MethodRecord{
			ID:       id,
			FileName: file,
			Package:  derivePackage(file, targetPackage, pattern),
		}
		reg.ids = append(reg.ids, id)
	}

	sort.Slice(reg.ids, func(i, j int) bool {
		a, _ := strconv.ParseUint(reg.ids[i], 10, 64)
		b, _ := strconv.ParseUint(reg.ids[j], 10, 64)
		return a < b
	})

	return reg, nil
}

func decodeLocation(raw json.RawMessage) (string, error) {
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		if strings.TrimSpace(asString) == "" {
			return "", errors.New("empty file path")
		}
		return asString, nil
	}

	var entry locationEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return "", fmt.Errorf("decode location: %w", err)
	}
	for _, candidate := range []string{entry.File, entry.Path, entry.FileName, entry.Source} {
		if strings.TrimSpace(candidate) != "" {
			return candidate, nil
		}
	}
	return "", errors.New("location has no file path")
}

// packagePattern turns org.example.app into **/org/example/app/**.
func packagePattern(targetPackage string) string {
	if targetPackage == "" {
		return ""
	}
	return "**/" + strings.ReplaceAll(targetPackage, ".", "/") + "/**"
}

// derivePackage returns the dotted directory path of file starting at the
// target package segment, or model.RootPackage when the file lives outside
// the target tree.
func derivePackage(file, targetPackage, pattern string) string {
	if pattern == "" {
		return model.RootPackage
	}
	relative := strings.TrimPrefix(strings.ReplaceAll(file, "\\", "/"), "/")
	ok, err := doublestar.Match(pattern, relative)
	if err != nil || !ok {
		return model.RootPackage
	}

	normalized := "/" + relative
	segment := "/" + strings.ReplaceAll(targetPackage, ".", "/") + "/"
	start := strings.LastIndex(normalized, segment)
	if start < 0 {
		return model.RootPackage
	}
	dir := path.Dir(normalized[start+1:])
	return strings.ReplaceAll(dir, "/", ".")
}

// Path returns the manifest location the registry was loaded from.
func (r *Registry) Path() string { return r.path }

// TargetPackage returns the package used for package derivation.
func (r *Registry) TargetPackage() string { return r.targetPackage }

// Len returns the number of instrumented methods.
func (r *Registry) Len() int { return len(r.ids) }

// Lookup returns the method record for id.
func (r *Registry) Lookup(id string) (model.MethodRecord, bool) {
	m, ok := r.methods[id]
	return m, ok
}

// IDs returns every method id in ascending numeric order. The slice is a copy.
func (r *Registry) IDs() []string {
	out := make([]string, len(r.ids))
	copy(out, r.ids)
	return out
}

// Methods returns every method record ordered by id.
func (r *Registry) Methods() []model.MethodRecord {
	out := make([]model.MethodRecord, 0, len(r.ids))
	for _, id := range r.ids {
		out = append(out, r.methods[id])
	}
	return out
}

// Packages counts instrumented methods per derived package.
func (r *Registry) Packages() map[string]int {
	counts := make(map[string]int)
	for _, m := range r.methods {
		counts[m.Package]++
	}
	return counts
}
