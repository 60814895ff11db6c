// Command optionscorer prepares option rows, trains the harm scorer, fits
// the ridge baseline and exports the browser artifacts.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
