// Package main provides the entry point for piesss-cni.
//
// piesss-cni is the CNI binary installed at /opt/cni/bin/piesss-cni. It
// forwards ADD/DEL/CHECK to piesss-binder over its Unix socket.
//
// Configuration (via stdin):
//
//	{
//	  "cniVersion": "1.0.0",
//	  "name": "piesss",
//	  "type": "piesss-cni",
//	  "serverSocket": "/var/run/piesss/binder.sock",
//	  "logFile": "/var/log/piesss/cni.log",
//	  "segments": [
//	    {"id": "seg-1", "networkType": "piesss", "segmentationID": 42}
//	  ]
//	}
package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/containernetworking/cni/pkg/skel"
	"github.com/containernetworking/cni/pkg/version"

	"github.com/jiayi-1994/piesss-binder/pkg/cni"
)

// Version information (set at build time)
var pluginVersion = "dev"

func main() {
	if runtime.GOOS != "linux" {
		fmt.Fprintf(os.Stderr, "piesss-cni only supports Linux\n")
		os.Exit(1)
	}

	skel.PluginMain(
		cni.CmdAdd,
		cni.CmdCheck,
		cni.CmdDel,
		version.All,
		fmt.Sprintf("piesss-cni CNI plugin %s", pluginVersion),
	)
}
