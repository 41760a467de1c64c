package main

import (
	"strings"
	"testing"
)

// The merge sort program exercises the whole surface: pointers, runtime
// arrays, nested loops, recursion and function calls. It must compile at
// every optimization level.
func TestMergeSortCompiles(t *testing.T) {
	for _, opt := range []string{"0", "1", "2"} {
		t.Run("opt"+opt, func(t *testing.T) {
			out, errOut, err := runCLI("--file-name", "testdata/merge_sort.c", "--opt", opt)
			if err != nil {
				t.Fatalf("compilation failed: %v\nstderr: %s", err, errOut)
			}
			for _, want := range []string{"merge:", "mergeSort:", "main:", "init:"} {
				if !strings.Contains(out, want) {
					t.Errorf("assembly missing %q", want)
				}
			}
			// Recursion requires real calls and a real frame.
			if !strings.Contains(out, "jal\tra, mergeSort") {
				t.Error("expected recursive calls to mergeSort")
			}
			if !strings.Contains(out, "sw\tra, ") {
				t.Error("expected ra to be saved in the prologue")
			}
		})
	}
}

// Optimized output must not be larger than the unoptimized one.
func TestOptimizationShrinksOutput(t *testing.T) {
	out0, _, err := runCLI("--file-name", "testdata/merge_sort.c", "--opt", "0")
	if err != nil {
		t.Fatal(err)
	}
	out2, _, err := runCLI("--file-name", "testdata/merge_sort.c", "--opt", "2")
	if err != nil {
		t.Fatal(err)
	}

	lines0 := strings.Count(out0, "\n")
	lines2 := strings.Count(out2, "\n")
	if lines2 > lines0 {
		t.Errorf("opt 2 output (%d lines) larger than opt 0 (%d lines)", lines2, lines0)
	}
}
