// # cmd/synsched/main.go
package main

import (
	"os"

	"synsched/internal/ui/cli"
)

func main() {
	os.Exit(cli.Run(os.Args[1:]))
}
