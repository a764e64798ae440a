// Package envstate holds the environment contract and the desired, deployed
// and diff models the reconciliation engine works on.
package envstate

import (
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// Value types a contract variable may declare.
const (
	TypeString = "string"
	TypeInt    = "int"
	TypeFloat  = "float"
	TypeBool   = "bool"
	TypeJSON   = "json"
	TypeEnum   = "enum"
	TypeURL    = "url"
)

// Types lists the supported value types.
var Types = []string{TypeString, TypeInt, TypeFloat, TypeBool, TypeJSON, TypeEnum, TypeURL}

// Lifecycle states.
const (
	StateActive     = "active"
	StateDeprecated = "deprecated"
	StateRemoved    = "removed"
)

// States lists the lifecycle states.
var States = []string{StateActive, StateDeprecated, StateRemoved}

var keyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// ValidKey reports whether key is a well-formed variable name.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// Variable is one contract declaration.
type Variable struct {
	Key         string
	Type        string
	Options     []string
	Secret      bool
	SecretRef   string
	IAM         bool
	Default     *string
	Required    bool
	Description string

	// Scopes limits the variable to these environments; nil means all
	Scopes []string

	State          string
	DeprecateAfter string
	Replacement    string
	RenameFrom     string
}

// InScope reports whether the variable applies to env.
func (v Variable) InScope(env string) bool {
	return v.Scopes == nil || slices.Contains(v.Scopes, env)
}

// Removed reports whether the variable's lifecycle has ended.
func (v Variable) Removed() bool {
	return v.State == StateRemoved
}

// Deprecated reports whether the variable is on its way out.
func (v Variable) Deprecated() bool {
	return v.State == StateDeprecated
}

// CheckValue checks a literal against the variable's type. The returned
// error never quotes the value.
func (v Variable) CheckValue(value string) error {
	var err error
	switch v.Type {
	case "", TypeString:
	case TypeInt:
		_, err = strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	case TypeFloat:
		_, err = strconv.ParseFloat(strings.TrimSpace(value), 64)
	case TypeBool:
		_, err = strconv.ParseBool(strings.TrimSpace(value))
	case TypeJSON:
		if !json.Valid([]byte(value)) {
			err = fmt.Errorf("invalid json")
		}
	case TypeEnum:
		if len(v.Options) > 0 && !slices.Contains(v.Options, value) {
			return fmt.Errorf("%s must be one of %s", v.Key, strings.Join(v.Options, ", "))
		}
	case TypeURL:
		u, perr := url.Parse(value)
		if perr != nil || u.Scheme == "" {
			err = fmt.Errorf("invalid url")
		}
	default:
		return fmt.Errorf("%s has unsupported type %q", v.Key, v.Type)
	}
	if err != nil {
		return fmt.Errorf("%s expects a %s value", v.Key, v.Type)
	}
	return nil
}

// Contract is the ordered set of variables an environment must provide.
type Contract struct {
	Variables []Variable
	index     map[string]int
}

// NewContract builds a contract. Duplicate keys are reported by the loader;
// here the first declaration wins.
func NewContract(vars []Variable) *Contract {
	c := &Contract{index: make(map[string]int, len(vars))}
	for _, v := range vars {
		if _, dup := c.index[v.Key]; dup {
			continue
		}
		c.index[v.Key] = len(c.Variables)
		c.Variables = append(c.Variables, v)
	}
	return c
}

// Lookup returns the variable declared under key.
func (c *Contract) Lookup(key string) (Variable, bool) {
	i, ok := c.index[key]
	if !ok {
		return Variable{}, false
	}
	return c.Variables[i], true
}

// UsingSecretRef returns the variables bound to the given secret-ref name.
func (c *Contract) UsingSecretRef(ref string) []Variable {
	var out []Variable
	for _, v := range c.Variables {
		if v.Secret && v.SecretRef == ref {
			out = append(out, v)
		}
	}
	return out
}

// IAMPredicate decides whether a key is identity/access related and
// therefore excluded from automatic apply.
type IAMPredicate func(Variable) bool

// NewIAMPredicate returns a predicate matching variables tagged iam: true or
// whose key matches one of the glob patterns (path.Match syntax, matched
// case-insensitively).
func NewIAMPredicate(patterns []string) IAMPredicate {
	normalized := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			normalized = append(normalized, strings.ToUpper(p))
		}
	}
	return func(v Variable) bool {
		if v.IAM {
			return true
		}
		key := strings.ToUpper(v.Key)
		for _, p := range normalized {
			if ok, _ := path.Match(p, key); ok {
				return true
			}
		}
		return false
	}
}

// ValidPattern reports whether p is a well-formed IAM key pattern.
func ValidPattern(p string) bool {
	_, err := path.Match(p, "")
	return err == nil
}
