package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// readInputs parses one token sequence per line: whitespace separated
// integer ids. Blank lines and lines starting with '#' are skipped.
func readInputs(r io.Reader) ([][]int, error) {
	var out [][]int
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		seq := make([]int, len(fields))
		for i, f := range fields {
			v, err := strconv.Atoi(f)
			if err != nil {
				return nil, fmt.Errorf("line %d: token %d: %w", line, i+1, err)
			}
			if v < 0 {
				return nil, fmt.Errorf("line %d: token %d: negative id %d", line, i+1, v)
			}
			seq[i] = v
		}
		out = append(out, seq)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func loadInputs(path string) ([][]int, error) {
	if path == "" || path == "-" {
		return readInputs(os.Stdin)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	inputs, err := readInputs(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return inputs, nil
}
