package verify

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"librarian/internal/claims"
)

// FalseStatement is a statement known to be false. Scope limits it to the
// traces (queries) whose ids match one of the glob patterns; an empty scope
// applies everywhere. ClaimType, when set, limits it to that claim type.
type FalseStatement struct {
	ID        string   `json:"id" yaml:"id" toml:"id"`
	Text      string   `json:"text" yaml:"text" toml:"text"`
	ClaimType string   `json:"claimType,omitempty" yaml:"claim_type,omitempty" toml:"claim_type"`
	Scope     []string `json:"scope,omitempty" yaml:"scope,omitempty" toml:"scope"`
	Reason    string   `json:"reason,omitempty" yaml:"reason,omitempty" toml:"reason"`
}

type falseListFile struct {
	Statements []FalseStatement `json:"statements" yaml:"statements" toml:"statements"`
}

// FalseList matches claim text against known false statements
type FalseList struct {
	byText map[string][]FalseStatement
	count  int
}

// NewFalseList indexes statements by normalized text
func NewFalseList(statements []FalseStatement) *FalseList {
	l := &FalseList{byText: make(map[string][]FalseStatement)}
	for i, s := range statements {
		key := claims.NormalizeText(s.Text)
		if key == "" {
			continue
		}
		if s.ID == "" {
			s.ID = fmt.Sprintf("fs-%d", i+1)
		}
		s.ClaimType = strings.ToLower(strings.TrimSpace(s.ClaimType))
		l.byText[key] = append(l.byText[key], s)
		l.count++
	}
	return l
}

// LoadFalseList reads a YAML, TOML or JSON statement file, chosen by extension
func LoadFalseList(file string) (*FalseList, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read false statement list: %w", err)
	}

	var parsed falseListFile
	switch strings.ToLower(filepath.Ext(file)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &parsed)
	case ".toml":
		_, err = toml.Decode(string(data), &parsed)
	case ".json":
		err = json.Unmarshal(data, &parsed)
	default:
		return nil, fmt.Errorf("unsupported false statement list format: %s", file)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse false statement list %s: %w", file, err)
	}
	return NewFalseList(parsed.Statements), nil
}

// Len returns the number of indexed statements
func (l *FalseList) Len() int {
	if l == nil {
		return 0
	}
	return l.count
}

// Match returns the first statement matching text that applies to the claim
// type and to at least one of traceIDs.
func (l *FalseList) Match(text, claimType string, traceIDs []string) (FalseStatement, bool) {
	if l == nil {
		return FalseStatement{}, false
	}
	claimType = strings.ToLower(strings.TrimSpace(claimType))
	for _, s := range l.byText[claims.NormalizeText(text)] {
		if s.ClaimType != "" && s.ClaimType != claimType {
			continue
		}
		if inScope(s.Scope, traceIDs) {
			return s, true
		}
	}
	return FalseStatement{}, false
}

func inScope(scope, traceIDs []string) bool {
	if len(scope) == 0 {
		return true
	}
	for _, pattern := range scope {
		for _, id := range traceIDs {
			if ok, err := path.Match(pattern, id); err == nil && ok {
				return true
			}
		}
	}
	return false
}
