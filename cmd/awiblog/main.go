// awiblog is the blog platform daemon: the human CRUD API plus the
// governed agent API with rate limiting, reputation tiers, and durable
// session state.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
