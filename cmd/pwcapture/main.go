// Copyright 2019 Lanikai Labs LLC. All rights reserved.

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/lanikai/pwcapture/internal/logging"
	"github.com/lanikai/pwcapture/internal/transport"
)

// Populated via -ldflags="-X ...".
var GitRevisionId string

var log = logging.DefaultLogger.WithTag("pwcapture")

var cfgFile string

var rootCmd = &cobra.Command{
	Use:           "pwcapture",
	Short:         "Stream rendered frames into a media graph",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		version()
	},
}

var transportsCmd = &cobra.Command{
	Use:   "transports",
	Short: "List available transports",
	Run: func(cmd *cobra.Command, args []string) {
		for _, tag := range transport.Tags() {
			fmt.Println(tag)
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "YAML configuration file")
	defaultHelp := rootCmd.HelpFunc()
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd == rootCmd {
			help()
		}
		defaultHelp(cmd, args)
	})
	rootCmd.AddCommand(versionCmd, transportsCmd)
}

// version displays information and exits successfully (GNU convention)
func version() {
	rev := GitRevisionId
	if rev == "" {
		rev = "devel"
	}
	fmt.Println("pwcapture", rev)
	fmt.Println("Copyright 2019 Lanikai Labs LLC. All rights reserved.")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
