package main

import (
	"fmt"
	"strconv"
	"strings"
)

// splitList accepts space- or comma-separated values, possibly spread over
// repeated flag occurrences: -b "2 3" -b 4,5 yields [2 3 4 5].
func splitList(values []string) []string {
	var out []string
	for _, value := range values {
		for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == ' ' }) {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func parseDevices(value string) ([]int, error) {
	parts := splitList([]string{value})
	if len(parts) == 0 {
		return nil, fmt.Errorf("empty device list")
	}
	devices := make([]int, 0, len(parts))
	for _, part := range parts {
		device, err := strconv.Atoi(part)
		if err != nil {
			return nil, fmt.Errorf("invalid device '%s'", part)
		}
		devices = append(devices, device)
	}
	return devices, nil
}

type passthrough struct {
	QuantArgs   []string
	MeasureArgs []string
	Cleaned     []string
}

// splitPassthrough extracts the `--quant-args -- ...` and `--measure-args --
// ...` blocks before cobra ever sees the command line. The `--` delimiter is
// required; a block runs until the next block flag or the end of the line.
func splitPassthrough(argv []string) (passthrough, error) {
	var p passthrough

	readBlock := func(i int) ([]string, int, error) {
		if i+1 >= len(argv) || argv[i+1] != "--" {
			return nil, 0, fmt.Errorf("expected '--' after %s (example: %s -- -d 0,1)", argv[i], argv[i])
		}
		var block []string
		j := i + 2
		for j < len(argv) && argv[j] != "--quant-args" && argv[j] != "--measure-args" {
			block = append(block, argv[j])
			j++
		}
		return block, j, nil
	}

	for i := 0; i < len(argv); {
		switch argv[i] {
		case "--quant-args":
			if p.QuantArgs != nil {
				return p, fmt.Errorf("duplicate --quant-args block")
			}
			block, next, err := readBlock(i)
			if err != nil {
				return p, err
			}
			p.QuantArgs, i = block, next

		case "--measure-args":
			if p.MeasureArgs != nil {
				return p, fmt.Errorf("duplicate --measure-args block")
			}
			block, next, err := readBlock(i)
			if err != nil {
				return p, err
			}
			p.MeasureArgs, i = block, next

		default:
			p.Cleaned = append(p.Cleaned, argv[i])
			i++
		}
	}
	return p, nil
}

// applyMeasureArgs folds the supported `--measure-args` overrides into the
// resolved rows and device list. Anything else is rejected outright rather
// than silently forwarded.
func applyMeasureArgs(args []string, rows int, devices []int) (int, []int, error) {
	for i := 0; i < len(args); {
		switch args[i] {
		case "-r", "--rows":
			if i+1 >= len(args) {
				return 0, nil, fmt.Errorf("missing value for --measure-args %s", args[i])
			}
			value, err := strconv.Atoi(args[i+1])
			if err != nil {
				return 0, nil, fmt.Errorf("invalid rows value '%s'", args[i+1])
			}
			rows = value
			i += 2

		case "-d", "--device", "--devices":
			if i+1 >= len(args) {
				return 0, nil, fmt.Errorf("missing value for --measure-args %s", args[i])
			}
			value, err := parseDevices(args[i+1])
			if err != nil {
				return 0, nil, err
			}
			devices = value
			i += 2

		default:
			return 0, nil, fmt.Errorf("unsupported --measure-args token '%s' (supported: -r/--rows, -d/--device/--devices)", args[i])
		}
	}
	return rows, devices, nil
}
