package fileinject

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/vivekkundariya/envctl/internal/domain/envstate"
	"github.com/vivekkundariya/envctl/internal/domain/failure"
	"github.com/vivekkundariya/envctl/internal/domain/secret"
)

// MetaSuffix is appended to the injected file path for the sidecar
const MetaSuffix = ".meta.json"

// meta is the sidecar written next to every injected file. It holds hashes
// only.
type meta struct {
	Scope     string            `json:"scope"`
	Provider  string            `json:"provider"`
	Keys      map[string]string `json:"keys"`
	FileHash  string            `json:"file_hash"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// envFile is the parsed content of an injected file
type envFile map[string]string

// parseEnv reads dotenv content. Errors name a line, never content: the
// parser's own messages quote the rest of the file.
func parseEnv(data []byte) (envFile, error) {
	if len(strings.TrimSpace(string(data))) == 0 {
		return envFile{}, nil
	}
	values, err := godotenv.Unmarshal(string(data))
	if err != nil {
		return nil, fmt.Errorf("malformed entry at line %d", malformedLine(string(data)))
	}
	return values, nil
}

// malformedLine is the first line after the longest prefix that parses
func malformedLine(data string) int {
	lines := strings.SplitAfter(data, "\n")
	good := 0
	for i := range lines {
		if _, err := godotenv.Unmarshal(strings.Join(lines[:i+1], "")); err == nil {
			good = i + 1
		}
	}
	if good >= len(lines) {
		return len(lines)
	}
	return good + 1
}

// quoteEscaper escapes what godotenv unescapes inside double quotes.
// godotenv.Marshal rewrites integer-looking values ("007" becomes 7), so
// rendering is done here.
var quoteEscaper = strings.NewReplacer(
	`\`, `\\`,
	"\n", `\n`,
	"\r", `\r`,
	`"`, `\"`,
	`$`, `\$`,
)

// quote picks the first form godotenv reads back byte for byte: single
// quotes, then bare, then escaped double quotes. godotenv strips every
// trailing quote of a double-quoted value and treats a closing quote after
// a backslash as escaped, so some values have no form at all.
func quote(v string) (string, bool) {
	switch {
	case !strings.ContainsAny(v, "'\n\r") && !strings.HasSuffix(v, `\`):
		return "'" + v + "'", true
	case bare(v):
		return v, true
	case !strings.HasSuffix(v, `"`) && !strings.HasSuffix(v, `\`):
		return `"` + quoteEscaper.Replace(v) + `"`, true
	}
	return "", false
}

// bare reports whether v survives unquoted: no comment or expansion
// markers, no line breaks, no surrounding space, no opening quote
func bare(v string) bool {
	if v == "" || strings.ContainsAny(v, "#$\n\r") {
		return false
	}
	if strings.TrimSpace(v) != v {
		return false
	}
	return v[0] != '\'' && v[0] != '"'
}

// render produces a stable dotenv file, keys sorted
func (f envFile) render() ([]byte, error) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		q, ok := quote(f[k])
		if !ok {
			return nil, failure.Validation(
				"a value ending in a quote or backslash cannot also hold a single quote or line break",
				"value of %s has no dotenv encoding that reads back unchanged", k)
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(q)
		b.WriteByte('\n')
	}
	return []byte(b.String()), nil
}

func (f envFile) hashes() map[string]string {
	out := make(map[string]string, len(f))
	for k, v := range f {
		out[k] = secret.HashValue([]byte(v))
	}
	return out
}

// Inject makes envFile a secret.Sink, so resolved handles go straight into
// the file content
func (f envFile) Inject(key string, value []byte) error {
	f[key] = string(value)
	return nil
}

// merge applies set and delete on top of the existing content. Keys not
// named keep their current value.
func (f envFile) merge(set []envstate.Entry, del []string) error {
	for _, e := range set {
		if err := e.InjectTo(f); err != nil {
			return fmt.Errorf("failed to inject %s: %w", e.Key, err)
		}
	}
	for _, k := range del {
		delete(f, k)
	}
	return nil
}

func newMeta(scope envstate.Scope, provider string, f envFile, content []byte, now time.Time) ([]byte, error) {
	m := meta{
		Scope:     scope.String(),
		Provider:  provider,
		Keys:      f.hashes(),
		FileHash:  secret.HashValue(content),
		UpdatedAt: now.UTC(),
	}
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode sidecar: %w", err)
	}
	return append(data, '\n'), nil
}

func parseMeta(data []byte) (*meta, error) {
	var m meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse sidecar: %w", err)
	}
	return &m, nil
}
