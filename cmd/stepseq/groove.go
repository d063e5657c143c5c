package main

import (
	"fmt"
	"os"

	stepseq "github.com/cbegin/stepseq-go"
)

const defaultGroove = `# x . . . x . . . x . . . x . . .
kick:  [true, false, false, false, true, false, false, false, true, false, false, false, true, false, false, false]
snare: [false, false, false, false, true, false, false, false, false, false, false, false, true, false, false, false]
hihat: [true, false, true, false, true, false, true, false, true, false, true, false, true, false, true, true]
bass:  [true, false, false, true, false, false, true, false, false, false, true, false, false, true, false, false]
`

// readPattern returns the document at path, or the built-in groove.
func readPattern(path string) ([]byte, error) {
	if path == "" {
		return []byte(defaultGroove), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pattern: %w", err)
	}
	return data, nil
}

// loadPattern decodes the pattern document for commands that need the whole
// mapping up front.
func loadPattern(path string) (map[string][]bool, error) {
	data, err := readPattern(path)
	if err != nil {
		return nil, err
	}
	return stepseq.DecodePattern(data)
}
