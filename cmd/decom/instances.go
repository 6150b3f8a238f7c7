package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
)

// lister is the part of the inventory used for discovery
type lister interface {
	ListAllInstances(ctx context.Context) []string
}

// discover returns the target IDs from path, or every instance on the
// account when path is empty.
func discover(ctx context.Context, path string, inv lister) ([]string, error) {
	if path == "" {
		return inv.ListAllInstances(ctx), nil
	}
	return readInstanceList(path)
}

// readInstanceList reads one instance ID per line. Blank lines are skipped
// and CRLF line endings are accepted.
func readInstanceList(path string) ([]string, error) {
	f, err := os.Open(path) // #nosec G304 -- path is the operator's argument
	if err != nil {
		return nil, fmt.Errorf("open instance list: %w", err)
	}
	defer func() { _ = f.Close() }()

	var ids []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		id := strings.TrimSpace(strings.TrimSuffix(scanner.Text(), "\r"))
		if id == "" {
			continue
		}
		ids = append(ids, id)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read instance list: %w", err)
	}
	return ids, nil
}
