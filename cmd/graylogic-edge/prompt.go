package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nerrad567/gray-logic-edge/internal/infrastructure/config"
)

// promptThresholds asks the operator whether to keep each enabled loop's
// threshold. Anything other than a valid number keeps the default.
func promptThresholds(loops *config.LoopsConfig, in io.Reader, out io.Writer) {
	scanner := bufio.NewScanner(in)

	ask := func(name string, threshold *float64) {
		fmt.Fprintf(out, "%s: continue with default threshold %g? (Y/N) ", name, *threshold)
		if !scanner.Scan() {
			return
		}
		if !strings.EqualFold(strings.TrimSpace(scanner.Text()), "n") {
			return
		}

		fmt.Fprintf(out, "%s: new threshold: ", name)
		if !scanner.Scan() {
			return
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(scanner.Text()), 64)
		if err != nil {
			fmt.Fprintf(out, "invalid threshold, keeping %g\n", *threshold)
			return
		}
		*threshold = v
	}

	if loops.Soil.Enabled {
		ask("soil", &loops.Soil.Threshold)
	}
	if loops.Temperature.Enabled {
		ask("temperature", &loops.Temperature.Threshold)
	}
	if loops.Light.Enabled {
		ask("light", &loops.Light.Threshold)
	}
}
