package rules

var jsLike = []string{"javascript", "typescript"}

// Builtin returns the built-in rule definitions in evaluation order.
func Builtin() []Definition {
	return []Definition{
		// Secrets and credentials
		{
			ID:          "SEC001",
			Name:        "Hardcoded AWS Access Key",
			Description: "Detected a hardcoded AWS Access Key ID. Never commit credentials to version control.",
			Severity:    "critical",
			CWEID:       "CWE-798",
			OWASP:       "A07:2021",
			Pattern:     `(A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}`,
			Languages:   []string{"javascript", "typescript", "python", "java", "go", "php"},
		},
		{
			ID:            "SEC002",
			Name:          "Hardcoded AWS Secret Key",
			Description:   "Detected a potential AWS Secret Access Key. This grants access to your AWS resources.",
			Severity:      "critical",
			CWEID:         "CWE-798",
			OWASP:         "A07:2021",
			Pattern:       `(?:^|[^A-Za-z0-9/+=])([A-Za-z0-9/+=]{40})`,
			Group:         1,
			NotFollowedBy: `[A-Za-z0-9/+=]`,
			Languages:     []string{"javascript", "typescript", "python", "java", "go", "php"},
		},
		{
			ID:          "SEC003",
			Name:        "Hardcoded Private Key",
			Description: "Detected a private key block (RSA/DSA/EC).",
			Severity:    "critical",
			CWEID:       "CWE-798",
			OWASP:       "A07:2021",
			Pattern:     `-----BEGIN ((EC|PGP|DSA|RSA|OPENSSH) )?PRIVATE KEY( BLOCK)?-----`,
			Languages:   []string{"javascript", "typescript", "python", "java", "go", "php"},
		},
		{
			ID:          "SEC004",
			Name:        "Hardcoded API Key / Token",
			Description: "Detected a variable named 'apiKey', 'token', or 'secret' with a string assignment.",
			Severity:    "high",
			CWEID:       "CWE-798",
			OWASP:       "A07:2021",
			Pattern:     `(const|let|var|String)\s+(apiKey|api_key|accessToken|access_token|secret|token)\s*=\s*['"][a-zA-Z0-9_\-]{20,}['"]`,
			Languages:   []string{"javascript", "typescript", "java"},
		},
		{
			ID:          "SEC005",
			Name:        "Hardcoded Password",
			Description: "Detected a hardcoded password assignment.",
			Severity:    "high",
			CWEID:       "CWE-259",
			OWASP:       "A07:2021",
			Pattern:     `(password|passwd|pwd|pass)\s*=\s*['"][^'"]{3,}['"]`,
			Languages:   []string{"javascript", "typescript", "python", "java"},
		},

		// Injection
		{
			ID:          "INJ001",
			Name:        "SQL Injection (String Concatenation)",
			Description: "Detected SQL query construction using string concatenation. Use parameterized queries instead.",
			Severity:    "critical",
			CWEID:       "CWE-89",
			OWASP:       "A03:2021",
			Pattern:     `(?i)(SELECT|INSERT|UPDATE|DELETE)\s+.*(\+|concat).*(WHERE|VALUES|SET)`,
			Languages:   []string{"javascript", "typescript", "python", "java"},
		},
		{
			ID:          "INJ002",
			Name:        "Command Injection (exec/spawn)",
			Description: "Detected execution of system commands with potentially unsafe arguments.",
			Severity:    "critical",
			CWEID:       "CWE-78",
			OWASP:       "A03:2021",
			Pattern:     `(child_process|cp)\.(exec|spawn|execSync|spawnSync)\s*\(\s*[^,)]+`,
			Languages:   jsLike,
		},
		{
			ID:          "INJ003",
			Name:        "Unsafe Eval",
			Description: "Usage of eval() allows execution of arbitrary code.",
			Severity:    "high",
			CWEID:       "CWE-95",
			OWASP:       "A03:2021",
			Pattern:     `\beval\s*\(`,
			Languages:   []string{"javascript", "typescript", "python"},
		},

		// Cross-site scripting
		{
			ID:          "XSS001",
			Name:        "React dangerouslySetInnerHTML",
			Description: "Directly setting HTML bypasses React's XSS protection.",
			Severity:    "high",
			CWEID:       "CWE-79",
			OWASP:       "A03:2021",
			Kind:        string(KindLiteral),
			Pattern:     "dangerouslySetInnerHTML",
			Languages:   jsLike,
		},
		{
			ID:          "XSS002",
			Name:        "Unsafe InnerHTML Assignment",
			Description: "Assigning to innerHTML can lead to XSS if content is not sanitized.",
			Severity:    "medium",
			CWEID:       "CWE-79",
			OWASP:       "A03:2021",
			Pattern:     `\.innerHTML\s*=`,
			Languages:   jsLike,
		},

		// Authentication
		{
			ID:          "AUTH001",
			Name:        "Weak JWT Secret",
			Description: "Detected a potentially weak or hardcoded JWT secret.",
			Severity:    "high",
			CWEID:       "CWE-312",
			OWASP:       "A01:2021",
			Pattern:     `jwt\.sign\s*\([^,]+,\s*['"](secret|key|123456)['"]`,
			Languages:   jsLike,
		},

		// Cryptography
		{
			ID:          "CRY001",
			Name:        "Weak Hashing Algorithm (MD5/SHA1)",
			Description: "MD5 and SHA1 are collision-prone. Use SHA-256 or better.",
			Severity:    "medium",
			CWEID:       "CWE-327",
			OWASP:       "A02:2021",
			Pattern:     `(?i)createHash\s*\(\s*['"](md5|sha1)['"]\s*\)`,
			Languages:   jsLike,
		},
		{
			ID:          "CRY002",
			Name:        "Insecure Random Number Generator",
			Description: "Math.random() is not cryptographically secure. Use crypto.getRandomValues().",
			Severity:    "low",
			CWEID:       "CWE-330",
			OWASP:       "A02:2021",
			Kind:        string(KindLiteral),
			Pattern:     "Math.random()",
			Languages:   jsLike,
		},

		// Logging and data exposure
		{
			ID:          "LOG001",
			Name:        "Console Log of Sensitive Data",
			Description: "Logging sensitive data (tokens, passwords) exposes them to logs.",
			Severity:    "medium",
			CWEID:       "CWE-532",
			OWASP:       "A09:2021",
			Pattern:     `(?i)console\.(log|info|error|warn)\s*\(.*(password|token|secret|key|auth)`,
			Languages:   jsLike,
		},
		{
			ID:          "LOG002",
			Name:        "Debugger Statement",
			Description: "Debugger statements should not be present in production code.",
			Severity:    "low",
			CWEID:       "CWE-489",
			OWASP:       "A05:2021",
			Pattern:     `\bdebugger;?`,
			Languages:   jsLike,
		},
	}
}
