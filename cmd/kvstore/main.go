package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/jeffasante/kv-store/src/config"
	"github.com/jeffasante/kv-store/src/network"
	"github.com/jeffasante/kv-store/src/replication"
	"github.com/jeffasante/kv-store/src/store"
)

var (
	dbPath     string
	configPath string
)

func main() {
	root := &cobra.Command{
		Use:   "kvstore",
		Short: "A replicated key-value store",
	}
	root.PersistentFlags().StringVar(&dbPath, "db", "", "snapshot file path (overrides KV_SNAPSHOT_PATH)")
	root.PersistentFlags().StringVar(&configPath, "config", ".env", "config file path")

	root.AddCommand(serverCmd())
	root.AddCommand(addBackupCmd())
	root.AddCommand(promoteCmd())
	root.AddCommand(getCmd(), putCmd(), deleteCmd(), keysCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() *config.Config {
	cfg, err := config.Load(configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load config")
	}
	if dbPath != "" {
		cfg.SnapshotPath = dbPath
	}
	return cfg
}

func serverCmd() *cobra.Command {
	var (
		address     string
		role        string
		primaryAddr string
		metricsAddr string
	)

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run a node",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			if metricsAddr != "" {
				cfg.MetricsAddr = metricsAddr
			}
			runServer(cfg, address, role, primaryAddr)
		},
	}
	cmd.Flags().StringVarP(&address, "address", "a", "127.0.0.1:7000", "listen address")
	cmd.Flags().StringVar(&role, "role", "primary", "node role: primary or backup")
	cmd.Flags().StringVar(&primaryAddr, "primary", "", "primary address (backup role)")
	cmd.Flags().StringVar(&metricsAddr, "metrics", "", "prometheus endpoint address")
	return cmd
}

func runServer(cfg *config.Config, address, role, primaryAddr string) {
	st, err := store.Open(cfg.SnapshotPath)
	if err != nil {
		logrus.WithError(err).Fatal("cannot load snapshot")
	}

	metrics := replication.NewMetrics(prometheus.DefaultRegisterer)
	metrics.SetStoreKeys(st.Len())
	repl := replication.NewManager(st, cfg, metrics)

	switch role {
	case "primary":
		repl.StartPrimary()
	case "backup":
		if primaryAddr == "" {
			logrus.Fatal("backup role requires --primary")
		}
		repl.StartBackup(primaryAddr)
	default:
		logrus.WithField("role", role).Fatal("role must be primary or backup")
	}

	srv := network.NewServer(st, repl, address, metrics)
	if err := srv.Start(); err != nil {
		logrus.WithError(err).Fatal("cannot bind listen address")
	}
	go func() {
		if err := srv.Serve(); err != nil {
			logrus.WithError(err).Error("serve failed")
		}
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(cfg.MetricsAddr, nil); err != nil {
				logrus.WithError(err).Error("metrics endpoint failed")
			}
		}()
	}

	stopSnapshots := make(chan struct{})
	if cfg.SnapshotInterval > 0 {
		go func() {
			ticker := time.NewTicker(cfg.SnapshotInterval)
			defer ticker.Stop()
			for {
				select {
				case <-stopSnapshots:
					return
				case <-ticker.C:
					if err := st.Save(); err != nil {
						logrus.WithError(err).Error("periodic snapshot failed")
					}
				}
			}
		}()
	}

	// Wait for interrupt signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	// Graceful shutdown: stop accepting, drain replication, final snapshot.
	close(stopSnapshots)
	srv.Close()
	repl.Stop()
	if err := st.Save(); err != nil {
		logrus.WithError(err).Error("final snapshot failed")
	}
}
