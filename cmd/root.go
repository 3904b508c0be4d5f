package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
)

// rootCmd is a base command.
var rootCmd = &cobra.Command{
	Use:   "collaborate-doc",
	Short: "Collaborate JSON document client/server",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// glog reads its flags from the Go flag set
		flag.CommandLine.Parse(nil)
	},
}

func main() {
	flag.Set("logtostderr", "true")
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
	defer glog.Flush()

	if err := rootCmd.Execute(); err != nil {
		glog.Exitf("rootCmd.Execute: %v", err)
	}
}
