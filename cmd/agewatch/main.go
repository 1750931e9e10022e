// Command agewatch monitors host resource usage and forecasts software aging.
package main

import (
	"os"

	"github.com/agewatch/agewatch/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
