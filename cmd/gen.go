package main

import (
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/itiky/collaborate-doc/storage"
)

const (
	FlagFilePath = "file-path"
	FlagDocSize  = "doc-size"
)

// GetGenerateCmd returns generate mock document command.
func GetGenerateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a mock JSON document",
		Run: func(cmd *cobra.Command, args []string) {
			// Parse inputs
			filePath, err := cmd.Flags().GetString(FlagFilePath)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagFilePath, err)
			}
			docSize, err := cmd.Flags().GetInt(FlagDocSize)
			if err != nil {
				glog.Fatalf("%s flag: %v", FlagDocSize, err)
			}

			// Work
			if err := storage.GenAndSaveInitialDocument(filePath, docSize); err != nil {
				glog.Fatalf("gen failed: %v", err)
			}
		},
	}
	cmd.Flags().String(FlagFilePath, "./doc_v0.json", "(optional) output file path")
	cmd.Flags().Int(FlagDocSize, 1000, "(optional) number of document properties")

	return cmd
}

func init() {
	rootCmd.AddCommand(GetGenerateCmd())
}
