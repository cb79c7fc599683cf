package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LoadTargets returns the lane's inline targets followed by the entries of
// its targets_file (one id per line, '#' starts a comment). Relative file
// paths resolve against baseDir (usually the config file's directory).
func (rl ResolvedLane) LoadTargets(baseDir string) ([]string, error) {
	out := append([]string(nil), rl.Targets...)
	if rl.TargetsFile == "" {
		return out, nil
	}
	path := rl.TargetsFile
	if !filepath.IsAbs(path) && baseDir != "" {
		path = filepath.Join(baseDir, path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("lanes.%s.targets_file: %w", rl.Name, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if i := strings.IndexByte(line, '#'); i >= 0 {
			line = line[:i]
		}
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("lanes.%s.targets_file: %w", rl.Name, err)
	}
	return out, nil
}
