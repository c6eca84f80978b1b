package main

import (
	"errors"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		// The export summary already explained which users failed.
		if errors.Is(err, errExportIncomplete) {
			os.Exit(1)
		}

		exitOnError(err)
	}
}
