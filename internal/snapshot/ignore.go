package snapshot

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// ignoreFileNames are the gitignore-style files read from the repository
// root, in order.
var ignoreFileNames = []string{".gitignore", ".codesweepignore"}

// parseIgnoreFiles reads the repository's ignore files and returns combined
// exclude patterns. Missing files are skipped.
func parseIgnoreFiles(root string) ([]string, error) {
	var patterns []string
	for _, name := range ignoreFileNames {
		filePatterns, err := parseIgnoreFile(filepath.Join(root, name))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		patterns = append(patterns, filePatterns...)
	}
	return deduplicate(patterns), nil
}

func parseIgnoreFile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var patterns []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		pattern := parseIgnoreLine(scanner.Text())
		if pattern != "" {
			patterns = append(patterns, pattern)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return patterns, nil
}

// parseIgnoreLine parses one line from a gitignore-style file. Comments,
// blank lines, and negation patterns (unsupported) yield "".
func parseIgnoreLine(line string) string {
	line = strings.TrimRight(line, " \t")
	if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "!") {
		return ""
	}
	return toGlobPattern(line)
}

// toGlobPattern converts a gitignore pattern to the glob form matchPattern
// understands.
func toGlobPattern(pattern string) string {
	pattern = strings.TrimPrefix(pattern, "/")

	// A trailing slash means a directory: match everything below it.
	if strings.HasSuffix(pattern, "/") {
		pattern += "**"
	}

	// Patterns without a slash match at any depth.
	if !strings.Contains(pattern, "/") {
		pattern = "**/" + pattern
	}

	return pattern
}

// matchPattern matches a slash-separated relative path against a glob
// pattern. Supported forms beyond filepath.Match: a leading "**/" matches
// at any depth, and a trailing "/**" matches a directory and everything
// below it.
func matchPattern(pattern, path string, isDir bool) bool {
	if strings.HasPrefix(pattern, "**/") {
		sub := strings.TrimPrefix(pattern, "**/")
		segs := strings.Split(path, "/")
		for n := range segs {
			if matchPattern(sub, strings.Join(segs[n:], "/"), isDir) {
				return true
			}
		}
		return false
	}

	if strings.HasSuffix(pattern, "/**") {
		prefix := strings.TrimSuffix(pattern, "/**")
		segs := strings.Split(path, "/")
		for n := 1; n <= len(segs); n++ {
			if ok, _ := filepath.Match(prefix, strings.Join(segs[:n], "/")); ok {
				return true
			}
		}
		return false
	}

	ok, _ := filepath.Match(pattern, path)
	return ok
}

// deduplicate removes duplicate patterns while preserving order.
func deduplicate(patterns []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(patterns))
	for _, p := range patterns {
		if !seen[p] {
			seen[p] = true
			result = append(result, p)
		}
	}
	return result
}
