package main

import (
	"os"

	"github.com/MosChaimong123/gameedu-sub001/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
