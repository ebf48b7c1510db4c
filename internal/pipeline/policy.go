package pipeline

import (
	"fmt"
	"os"
	"strings"
)

// DefaultPolicy is the platform policy used when no policy file is configured
const DefaultPolicy = `Platform Misinformation Policy:
1. Health Misinformation: Content that makes false or misleading health claims that could cause harm is prohibited, except when clearly marked as personal experience or opinion.
2. Civic Misinformation: False information about elections, voting, or democratic processes is prohibited.
3. Financial Misinformation: False or misleading financial advice that could cause financial harm is prohibited.
4. Contextual Exceptions: Satire, clearly labeled opinion, and personal experiences are generally allowed even if factually incorrect.
5. Risk-Based Enforcement: Higher risk content requires stricter enforcement.`

// LoadPolicy reads policy text from path. An empty path returns DefaultPolicy.
func LoadPolicy(path string) (string, error) {
	if path == "" {
		return DefaultPolicy, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read policy file: %w", err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", fmt.Errorf("policy file %s is empty", path)
	}
	return text, nil
}
