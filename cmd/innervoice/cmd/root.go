package cmd

import (
	"os"

	"github.com/spf13/cobra"

	"innervoice/cmd/innervoice/cmd/cliconfig"
	"innervoice/cmd/innervoice/cmd/health"
	"innervoice/cmd/innervoice/cmd/serve"
	"innervoice/cmd/innervoice/cmd/transcribe"
	"innervoice/cmd/innervoice/cmd/version"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "innervoice",
	Short: "Transcribe and translate long voice recordings through a whisper backend",
	Long: `innervoice splits long recordings into fixed-length segments, sends every
segment to a whisper backend with retries, and assembles the results into
transcription and translation sections.
- transcribe processes local files and prints the result
- serve exposes the job queue over HTTP`,
	TraverseChildren: true,
	SilenceUsage:     true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(transcribe.Cmd)
	rootCmd.AddCommand(serve.Cmd)
	rootCmd.AddCommand(health.Cmd)
	rootCmd.AddCommand(version.Cmd)

	rootCmd.PersistentFlags().StringVarP(&cliconfig.Path, "config", "c", "", "YAML config file (environment variables override it)")
	rootCmd.PersistentFlags().BoolVarP(&cliconfig.Verbose, "verbose", "V", false, "verbose output")
}
