package secrets

// Rule is one detection pattern. When Keywords is non-empty the pattern is
// only tried if one keyword occurs case-insensitively in the text.
type Rule struct {
	ID       string
	Pattern  string
	Keywords []string
}

// DefaultRules covers credentials commonly pasted into chat.
func DefaultRules() []Rule {
	return []Rule{
		{ID: "private-key", Pattern: `-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----[\s\S]*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?:[- ]BLOCK)?-----`},
		{ID: "aws-access-key-id", Pattern: `\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`},
		{ID: "openai-key", Pattern: `\bsk-(?:proj-)?[A-Za-z0-9_-]{20,}`},
		{ID: "github-token", Pattern: `\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b`},
		{ID: "github-fine-grained", Pattern: `\bgithub_pat_[A-Za-z0-9_]{22,}`},
		{ID: "gitlab-token", Pattern: `\bglpat-[A-Za-z0-9\-]{20,}`},
		{ID: "slack-token", Pattern: `\bxox[abposr]-[A-Za-z0-9-]{10,}`},
		{ID: "stripe-key", Pattern: `\b(?:sk|rk)_live_[A-Za-z0-9]{24,}`},
		{ID: "jwt", Pattern: `\beyJ[A-Za-z0-9_-]{10,}\.eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`},
		{ID: "bearer-token", Pattern: `(?i)\bbearer\s+[A-Za-z0-9._~+/=-]{16,}`, Keywords: []string{"bearer"}},
		{ID: "connection-string-password", Pattern: `(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@`, Keywords: []string{"://"}},
		{ID: "generic-secret", Pattern: `(?i)\b(?:api[_-]?key|secret|password|passwd|pwd|token)\s*[:=]\s*['"]?[^\s'"]{8,}['"]?`, Keywords: []string{"key", "secret", "pass", "pwd", "token"}},
	}
}
