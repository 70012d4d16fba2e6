package main

import (
	"os"

	"github.com/localdoc/docsearch/cmd/docsearch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
