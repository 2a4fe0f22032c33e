// Package stack parses and validates Python application stacks submitted for provenance checks
// and advises: a Pipfile and, optionally, its Pipfile.lock.
package stack

import (
	"encoding/json"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

// ErrInvalidStack is returned for stacks that cannot be parsed or are inconsistent.
var ErrInvalidStack = errors.New("invalid application stack supplied")

// ApplicationStack is the stack as submitted by a client.
type ApplicationStack struct {
	Requirements     string `json:"requirements" validate:"required"`
	RequirementsLock string `json:"requirements_lock,omitempty"`
}

// Source is a package index declared in a Pipfile.
type Source struct {
	Name      string `toml:"name" json:"name"`
	URL       string `toml:"url" json:"url"`
	VerifySSL bool   `toml:"verify_ssl" json:"verify_ssl"`
}

// Pipfile holds the declared requirements.
type Pipfile struct {
	Sources     []Source               `toml:"source"`
	Packages    map[string]interface{} `toml:"packages"`
	DevPackages map[string]interface{} `toml:"dev-packages"`
	Requires    map[string]interface{} `toml:"requires"`
}

// LockedPackage is a pinned package in a Pipfile.lock.
type LockedPackage struct {
	Version string   `json:"version,omitempty"`
	Hashes  []string `json:"hashes,omitempty"`
	Index   string   `json:"index,omitempty"`
	Markers string   `json:"markers,omitempty"`
	Git     string   `json:"git,omitempty"`
	Path    string   `json:"path,omitempty"`
}

// Lock holds the pinned requirements.
type Lock struct {
	Meta    map[string]interface{}   `json:"_meta"`
	Default map[string]LockedPackage `json:"default"`
	Develop map[string]LockedPackage `json:"develop"`
}

// Project is a parsed and validated application stack.
type Project struct {
	Pipfile *Pipfile
	Lock    *Lock

	requirements map[string]interface{}
	locked       map[string]interface{}
}

var nameSeparators = regexp.MustCompile(`[-_.]+`)

// NormalizeName returns the canonical form of a Python package name.
func NormalizeName(name string) string {
	return strings.ToLower(nameSeparators.ReplaceAllString(name, "-"))
}

// Parse validates an application stack. When lockRequired is set the stack must carry a lock file.
func Parse(stack ApplicationStack, lockRequired bool) (*Project, error) {
	if strings.TrimSpace(stack.Requirements) == "" {
		return nil, errors.Wrap(ErrInvalidStack, "no requirements provided")
	}

	project := &Project{Pipfile: &Pipfile{}}
	if _, err := toml.Decode(stack.Requirements, project.Pipfile); err != nil {
		return nil, errors.Wrapf(ErrInvalidStack, "failed to parse requirements: %v", err)
	}
	if _, err := toml.Decode(stack.Requirements, &project.requirements); err != nil {
		return nil, errors.Wrapf(ErrInvalidStack, "failed to parse requirements: %v", err)
	}
	if err := checkFinite("requirements", project.requirements); err != nil {
		return nil, err
	}
	if err := project.Pipfile.validate(); err != nil {
		return nil, err
	}

	if strings.TrimSpace(stack.RequirementsLock) == "" {
		if lockRequired {
			return nil, errors.Wrap(ErrInvalidStack, "no requirements lock provided")
		}
		return project, nil
	}

	project.Lock = &Lock{}
	if err := json.Unmarshal([]byte(stack.RequirementsLock), project.Lock); err != nil {
		return nil, errors.Wrapf(ErrInvalidStack, "failed to parse requirements lock: %v", err)
	}
	if err := json.Unmarshal([]byte(stack.RequirementsLock), &project.locked); err != nil {
		return nil, errors.Wrapf(ErrInvalidStack, "failed to parse requirements lock: %v", err)
	}
	if err := project.validateLock(); err != nil {
		return nil, err
	}
	return project, nil
}

// checkFinite rejects NaN and infinite numbers anywhere in a decoded document. They are valid TOML
// but have no JSON representation.
func checkFinite(path string, value interface{}) error {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Wrapf(ErrInvalidStack, "%s is not a finite number", path)
		}
	case map[string]interface{}:
		for key, item := range v {
			if err := checkFinite(path+"."+key, item); err != nil {
				return err
			}
		}
	case []map[string]interface{}:
		for _, item := range v {
			if err := checkFinite(path, item); err != nil {
				return err
			}
		}
	case []interface{}:
		for _, item := range v {
			if err := checkFinite(path, item); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipfile) validate() error {
	indexes := map[string]bool{}
	for _, source := range p.Sources {
		if source.Name == "" || source.URL == "" {
			return errors.Wrap(ErrInvalidStack, "package source requires a name and an url")
		}
		indexes[source.Name] = true
	}

	for _, section := range []map[string]interface{}{p.Packages, p.DevPackages} {
		for name, spec := range section {
			switch s := spec.(type) {
			case string:
				if strings.TrimSpace(s) == "" {
					return errors.Wrapf(ErrInvalidStack, "empty version specification for %s", name)
				}
			case map[string]interface{}:
				if index, ok := s["index"].(string); ok && !indexes[index] {
					return errors.Wrapf(ErrInvalidStack, "package %s uses undeclared index %s", name, index)
				}
			default:
				return errors.Wrapf(ErrInvalidStack, "unsupported specification for %s", name)
			}
		}
	}
	return nil
}

func (p *Project) validateLock() error {
	if p.Lock.Default == nil {
		return errors.Wrap(ErrInvalidStack, "requirements lock has no default section")
	}
	if err := checkLocked(p.Pipfile.Packages, p.Lock.Default, "default"); err != nil {
		return err
	}
	if err := checkLocked(p.Pipfile.DevPackages, p.Lock.Develop, "develop"); err != nil {
		return err
	}

	for _, section := range []map[string]LockedPackage{p.Lock.Default, p.Lock.Develop} {
		for name, locked := range section {
			if locked.Version == "" && locked.Git == "" && locked.Path == "" {
				return errors.Wrapf(ErrInvalidStack, "package %s is not pinned in requirements lock", name)
			}
			if locked.Version != "" && !strings.HasPrefix(locked.Version, "==") {
				return errors.Wrapf(ErrInvalidStack, "package %s is not pinned to a single version", name)
			}
		}
	}
	return nil
}

func checkLocked(declared map[string]interface{}, locked map[string]LockedPackage, section string) error {
	normalized := map[string]bool{}
	for name := range locked {
		normalized[NormalizeName(name)] = true
	}

	missing := []string{}
	for name := range declared {
		if !normalized[NormalizeName(name)] {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return errors.Wrapf(ErrInvalidStack, "packages %s are missing in the %s section of requirements lock",
			strings.Join(missing, ", "), section)
	}
	return nil
}

// ToMap returns the project as a generic mapping suitable for fingerprinting and job parameters.
func (p *Project) ToMap() map[string]interface{} {
	result := map[string]interface{}{"requirements": p.requirements}
	if p.locked != nil {
		result["requirements_locked"] = p.locked
	} else {
		result["requirements_locked"] = nil
	}
	return result
}
