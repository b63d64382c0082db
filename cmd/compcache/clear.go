package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/compcache/diskcache"
)

var clearCmd = &cobra.Command{
	Use:          "clear",
	Short:        "Remove all local cache entries",
	Long:         `Delete every entry from the local cache directory. Remote storage is not touched. Do not run this while a server is using the same directory.`,
	RunE:         runClear,
	SilenceUsage: true,
}

func init() {
	clearCmd.Flags().String("cache-dir", "", "Local cache directory")
}

func runClear(cmd *cobra.Command, _ []string) error {
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))

	disk, err := diskcache.Open(diskcache.Config{Dir: viper.GetString("cache_dir")})
	if err != nil {
		return err
	}
	defer disk.Close()

	if err := disk.Clear(); err != nil {
		return err
	}

	cmd.Printf("cleared %s\n", viper.GetString("cache_dir"))

	return nil
}
