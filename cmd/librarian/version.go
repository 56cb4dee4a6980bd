package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"librarian/internal/version"
)

var versionFormat string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		if versionFormat == "json" {
			data, _ := json.MarshalIndent(map[string]string{
				"version":       version.Version,
				"commit":        version.Commit,
				"buildDate":     version.BuildDate,
				"schemaVersion": fmt.Sprintf("%d", version.SchemaVersion),
			}, "", "  ")
			fmt.Println(string(data))
			return
		}
		fmt.Println(version.Full())
	},
}

func init() {
	versionCmd.Flags().StringVar(&versionFormat, "format", "human", "Output format (json, human)")
	rootCmd.AddCommand(versionCmd)
}
