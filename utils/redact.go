package utils

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
)

// RedactionPattern defines a pattern to detect and mask
type RedactionPattern struct {
	Name        string
	Regex       *regexp.Regexp
	Replacement string // e.g. "EMAIL_%s"
	Priority    int    // higher runs first
}

// Redactor masks sensitive values in text sent to an LLM provider and
// restores them in the reply. Placeholders are stable per value.
type Redactor struct {
	mu       sync.RWMutex
	mapping  map[string]string // placeholder -> original
	reverse  map[string]string // original -> placeholder
	patterns []RedactionPattern
	disabled map[string]bool
}

// NewRedactor creates a redactor with the default patterns
func NewRedactor(config PrivacyConfig) *Redactor {
	r := &Redactor{
		mapping:  make(map[string]string),
		reverse:  make(map[string]string),
		disabled: make(map[string]bool),
	}
	for _, name := range config.DisabledPatterns {
		r.disabled[name] = true
	}

	r.patterns = []RedactionPattern{
		{
			Name:        "Bearer Token",
			Regex:       regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]{20,}`),
			Replacement: "BEARER_TOKEN_%s",
			Priority:    100,
		},
		{
			Name:        "API Key",
			Regex:       regexp.MustCompile(`(?i)(?:api[_-]?key|apikey|access[_-]?key|secret[_-]?key)[\s:=]+[a-zA-Z0-9_\-]{20,}`),
			Replacement: "API_KEY_%s",
			Priority:    95,
		},
		{
			Name:        "OpenAI Key",
			Regex:       regexp.MustCompile(`\bsk-[a-zA-Z0-9_\-]{20,}`),
			Replacement: "API_KEY_%s",
			Priority:    94,
		},
		{
			Name:        "JWT Token",
			Regex:       regexp.MustCompile(`eyJ[a-zA-Z0-9_\-]+\.eyJ[a-zA-Z0-9_\-]+\.[a-zA-Z0-9_\-]+`),
			Replacement: "JWT_TOKEN_%s",
			Priority:    90,
		},
		{
			Name:        "URL with Auth",
			Regex:       regexp.MustCompile(`https?://[^:/\s]+:[^@\s]+@[^\s\)\"\']+`),
			Replacement: "URL_WITH_AUTH_%s",
			Priority:    80,
		},
		{
			Name:        "Password",
			Regex:       regexp.MustCompile(`(?i)(?:password|passwd|pwd|senha)[\s:=]+[^\s,\)\"\']+`),
			Replacement: "PASSWORD_%s",
			Priority:    70,
		},
		{
			Name:        "Email",
			Regex:       regexp.MustCompile(`\b[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}\b`),
			Replacement: "EMAIL_%s",
			Priority:    55,
		},
		{
			Name:        "CNPJ",
			Regex:       regexp.MustCompile(`\b\d{2}\.\d{3}\.\d{3}/\d{4}-\d{2}\b`),
			Replacement: "CNPJ_%s",
			Priority:    52,
		},
		{
			Name:        "CPF",
			Regex:       regexp.MustCompile(`\b\d{3}\.\d{3}\.\d{3}-\d{2}\b`),
			Replacement: "CPF_%s",
			Priority:    51,
		},
		{
			Name:        "Phone Number",
			Regex:       regexp.MustCompile(`(?:\+55\s?)?\(?\b\d{2}\)?\s?9?\d{4}-\d{4}\b`),
			Replacement: "PHONE_%s",
			Priority:    50,
		},
		{
			Name:        "IPv4 Address",
			Regex:       regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\.){3}(?:25[0-5]|2[0-4][0-9]|[01]?[0-9][0-9]?)\b`),
			Replacement: "IP_ADDRESS_%s",
			Priority:    45,
		},
		{
			Name:        "AWS Access Key",
			Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
			Replacement: "AWS_ACCESS_KEY_%s",
			Priority:    35,
		},
	}
	sort.SliceStable(r.patterns, func(i, j int) bool {
		return r.patterns[i].Priority > r.patterns[j].Priority
	})

	return r
}

// AddPattern registers a custom pattern
func (r *Redactor) AddPattern(name, regexPattern, replacement string, priority int) error {
	re, err := regexp.Compile(regexPattern)
	if err != nil {
		return fmt.Errorf("invalid regex pattern: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, RedactionPattern{
		Name:        name,
		Regex:       re,
		Replacement: replacement,
		Priority:    priority,
	})
	sort.SliceStable(r.patterns, func(i, j int) bool {
		return r.patterns[i].Priority > r.patterns[j].Priority
	})
	return nil
}

func placeholderFor(template, value string) string {
	hash := md5.Sum([]byte(value))
	return fmt.Sprintf(template, hex.EncodeToString(hash[:])[:8])
}

// Redact replaces sensitive values in text with placeholders
func (r *Redactor) Redact(text string) string {
	if text == "" {
		return text
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := text
	for _, pattern := range r.patterns {
		if r.disabled[pattern.Name] {
			continue
		}
		for _, original := range pattern.Regex.FindAllString(result, -1) {
			if r.isPlaceholder(original) {
				continue
			}
			placeholder, ok := r.reverse[original]
			if !ok {
				placeholder = placeholderFor(pattern.Replacement, original)
				r.mapping[placeholder] = original
				r.reverse[original] = placeholder
			}
			result = strings.ReplaceAll(result, original, placeholder)
		}
	}

	return result
}

// Restore puts the original values back in place of known placeholders
func (r *Redactor) Restore(text string) string {
	if text == "" {
		return text
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	result := text
	for placeholder, original := range r.mapping {
		result = strings.ReplaceAll(result, placeholder, original)
	}
	return result
}

// Count returns the number of distinct values redacted so far
func (r *Redactor) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.mapping)
}

func (r *Redactor) isPlaceholder(value string) bool {
	_, ok := r.mapping[value]
	return ok
}
