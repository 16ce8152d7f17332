// Package redact masks configured secret values out of text before it is
// logged or persisted.
package redact

import (
	"sort"
	"strings"
	"sync"
)

// Mask replaces every occurrence of a secret.
const Mask = "***"

// Sanitizer holds the active secret list. Safe for concurrent use; the list
// can be swapped at runtime when configuration reloads.
type Sanitizer struct {
	mu       sync.RWMutex
	secrets  []string
	replacer *strings.Replacer
}

// New returns a Sanitizer masking the given secrets. Empty values are ignored.
func New(secrets ...string) *Sanitizer {
	s := &Sanitizer{}
	s.SetSecrets(secrets...)
	return s
}

// SetSecrets replaces the secret list.
func (s *Sanitizer) SetSecrets(secrets ...string) {
	kept := make([]string, 0, len(secrets))
	seen := make(map[string]bool, len(secrets))
	for _, secret := range secrets {
		if secret == "" || seen[secret] {
			continue
		}
		seen[secret] = true
		kept = append(kept, secret)
	}
	// Longest first so a secret containing another is masked whole.
	sort.SliceStable(kept, func(i, j int) bool { return len(kept[i]) > len(kept[j]) })

	var replacer *strings.Replacer
	if len(kept) > 0 {
		pairs := make([]string, 0, len(kept)*2)
		for _, secret := range kept {
			pairs = append(pairs, secret, Mask)
		}
		replacer = strings.NewReplacer(pairs...)
	}

	s.mu.Lock()
	s.secrets = kept
	s.replacer = replacer
	s.mu.Unlock()
}

// Len reports how many distinct secrets are configured.
func (s *Sanitizer) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.secrets)
}

// Sanitize returns text with every configured secret replaced by Mask.
// A nil Sanitizer returns text unchanged.
func (s *Sanitizer) Sanitize(text string) string {
	if s == nil {
		return text
	}
	s.mu.RLock()
	replacer := s.replacer
	s.mu.RUnlock()

	if replacer == nil {
		return text
	}
	return replacer.Replace(text)
}
