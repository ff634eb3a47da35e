package main

import (
	"os"

	"k8s.io/klog/v2"

	"github.com/tahsin716/workq/internal/cli"
)

func main() {
	defer klog.Flush()

	if err := cli.NewRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
