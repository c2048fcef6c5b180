// Command kloop generates, verifies and caches blocked GEMM k-loops.
package main

import (
	"os"

	"k8s.io/klog/v2"

	"github.com/roach88/kloop/internal/cli"
)

func main() {
	defer klog.Flush()
	if err := cli.NewRootCommand().Execute(); err != nil {
		klog.V(1).Infof("kloop failed: %+v", err)
		klog.Flush()
		os.Exit(cli.GetExitCode(err))
	}
}
