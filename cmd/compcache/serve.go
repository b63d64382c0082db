package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/hupe1980/compcache"
	"github.com/hupe1980/compcache/compiler"
	"github.com/hupe1980/compcache/diskcache"
	"github.com/hupe1980/compcache/resultstore"
	"github.com/hupe1980/compcache/server"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Run the cache server",
	Long:         `Start the compile cache server. It listens on a local socket, serves compile requests from the cache when possible, and shuts itself down when idle.`,
	RunE:         runServe,
	SilenceUsage: true,
}

func init() {
	serveCmd.Flags().String("cache-dir", "", "Local cache directory")
	serveCmd.Flags().Int64("max-size", 0, "Local cache size limit in bytes (0 = auto)")
	serveCmd.Flags().String("backend", "", "Remote backend (none, local, s3, minio, redis)")
	serveCmd.Flags().String("compression", "", "Entry compression (none, lz4, zstd)")
	serveCmd.Flags().Int64("max-compiles", 0, "Maximum simultaneous real compiles")
	serveCmd.Flags().Duration("idle-timeout", 0, "Shut down after this long without requests (0 = never)")
	serveCmd.Flags().Bool("recache", false, "Ignore existing cache entries and overwrite them")
}

func runServe(cmd *cobra.Command, _ []string) error {
	// Bind here rather than in init so other subcommands with
	// same-named flags do not steal the binding.
	_ = viper.BindPFlag("cache_dir", cmd.Flags().Lookup("cache-dir"))
	_ = viper.BindPFlag("max_size", cmd.Flags().Lookup("max-size"))
	_ = viper.BindPFlag("backend", cmd.Flags().Lookup("backend"))
	_ = viper.BindPFlag("compression", cmd.Flags().Lookup("compression"))
	_ = viper.BindPFlag("max_compiles", cmd.Flags().Lookup("max-compiles"))
	_ = viper.BindPFlag("idle_timeout", cmd.Flags().Lookup("idle-timeout"))
	_ = viper.BindPFlag("recache", cmd.Flags().Lookup("recache"))

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := newLogger()

	compression, err := resultstore.ParseCompression(viper.GetString("compression"))
	if err != nil {
		return err
	}

	disk, err := diskcache.Open(diskcache.Config{
		Dir:     viper.GetString("cache_dir"),
		MaxSize: viper.GetInt64("max_size"),
	})
	if err != nil {
		return err
	}
	defer disk.Close()

	remote, err := storageFromConfig(ctx)
	if err != nil {
		return err
	}

	store := resultstore.New(disk, remote, resultstore.Options{
		Compression:   compression,
		RemoteTimeout: viper.GetDuration("remote_timeout"),
		Logger:        logger.Logger,
	})
	defer store.Close()

	orch := compcache.NewOrchestrator(store, compiler.NewExecRunner(),
		compcache.WithLogger(logger),
		compcache.WithMaxConcurrentCompiles(viper.GetInt64("max_compiles")),
		compcache.WithForceRecache(viper.GetBool("recache")),
	)

	srv, err := server.New(orch, server.Config{
		Addr:        viper.GetString("addr"),
		IdleTimeout: viper.GetDuration("idle_timeout"),
		Logger:      logger,
	})
	if err != nil {
		return err
	}

	logger.Info("cache ready",
		"dir", viper.GetString("cache_dir"),
		"max_size", disk.MaxSize(),
		"backend", viper.GetString("backend"),
	)

	return srv.Serve(ctx)
}
