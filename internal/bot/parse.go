package bot

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"pricewatch_bot/internal/registry"
)

// ParseAddArgs extracts a query name and search URL from /add arguments.
// The URL is always the last whitespace-separated token; everything before
// it is the name.
func ParseAddArgs(args string) (name, rawURL string, err error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return "", "", fmt.Errorf("usage: /add <name> <url>")
	}

	rawURL = parts[len(parts)-1]
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("invalid url %q", rawURL)
	}

	name = strings.Join(parts[:len(parts)-1], " ")
	return name, rawURL, nil
}

// ParseIDArg extracts a numeric query ID from a command argument string.
func ParseIDArg(args string) (int64, error) {
	s := strings.TrimSpace(args)
	if s == "" {
		return 0, fmt.Errorf("query ID is required")
	}
	id, err := strconv.ParseInt(strings.Fields(s)[0], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid query ID %q", s)
	}
	return id, nil
}

// ParseIntervalArgs extracts a query ID and check interval in minutes.
func ParseIntervalArgs(args string) (int64, int, error) {
	parts := strings.Fields(args)
	if len(parts) < 2 {
		return 0, 0, fmt.Errorf("usage: /interval <id> <minutes>")
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid query ID %q", parts[0])
	}
	mins, err := strconv.Atoi(parts[1])
	if err != nil || mins < registry.MinIntervalMinutes || mins > 1440 {
		return 0, 0, fmt.Errorf("interval must be between %d and 1440 minutes", registry.MinIntervalMinutes)
	}
	return id, mins, nil
}

// ParseLanguageArg validates a two-letter language code argument.
func ParseLanguageArg(args string) (string, error) {
	s := strings.ToLower(strings.TrimSpace(args))
	if len(s) != 2 || strings.ContainsFunc(s, func(r rune) bool { return r < 'a' || r > 'z' }) {
		return "", fmt.Errorf("invalid language code %q", args)
	}
	return s, nil
}
