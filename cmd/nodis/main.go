// Copyright (c) 2015, Rod Dong <rod.dong@gmail.com>
// All rights reserved.
//
// Use of this source code is governed by The MIT License.

package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/rod6/log6"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nodisdb/nodis/internal/command"
	nconfig "github.com/nodisdb/nodis/internal/config"
	"github.com/nodisdb/nodis/internal/lock"
	"github.com/nodisdb/nodis/internal/netsrv"
	"github.com/nodisdb/nodis/internal/stats"
	"github.com/nodisdb/nodis/internal/store"
)

func main() {
	var configFile string

	root := &cobra.Command{
		Use:   "nodis",
		Short: "nodis is a disk-backed, Redis-protocol-compatible key/value server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configFile)
		},
	}
	root.Flags().StringVarP(&configFile, "config", "c", "", "path to a nodis config file")

	if err := root.Execute(); err != nil {
		log6.Fatal("nodis: %v", err)
	}
}

func run(configFile string) error {
	cfg, err := nconfig.Load(viper.New(), configFile)
	if err != nil {
		return err
	}

	engine, err := store.Open(store.Options{
		Dir:             cfg.Dir,
		MaxDBSize:       cfg.MaxDBSize,
		MaxIOMB:         cfg.MaxIOMB,
		WriteBufferSize: cfg.LSM.WriteBufferSize,
		MaxOpenFiles:    cfg.LSM.MaxOpenFiles,
		Compression:     cfg.LSM.Compression,
		BlockCacheSize:  (cfg.LSM.MetadataBlockCacheMB + cfg.LSM.SubkeyBlockCacheMB) << 20,
		CodisEnabled:    cfg.CodisEnabled,
	})
	if err != nil {
		return err
	}
	defer engine.Close()

	ctx := &command.Context{
		Engine:  engine,
		Locks:   lock.New(),
		Stats:   stats.New(),
		SlowLog: stats.NewSlowLog(cfg.SlowLogCapacity, cfg.SlowLogThresholdUs),
		PerfLog: stats.NewPerfLog(cfg.PerfLogCapacity),
		Monitor: stats.NewMonitorFanout(),
		PubSub:  stats.NewPubSubHub(),
		Host:    stats.NewHostCollector(cfg.Dir, 5*time.Second),
		State:   stats.NewServerState(),
		Config:  cfg,
	}
	ctx.Host.Start()
	defer ctx.Host.Stop()

	reaperCtx, cancelReaper := context.WithCancel(context.Background())
	reaper := store.NewReaper(engine, store.DefaultReaperConfig)
	go reaper.Run(reaperCtx)
	defer cancelReaper()

	stopSizeCheck := make(chan struct{})
	go runSizeChecker(engine, stopSizeCheck)
	defer close(stopSizeCheck)

	stopBackups := make(chan struct{})
	go runBackupScheduler(engine, cfg, stopBackups)
	defer close(stopBackups)

	addr := cfg.Bind + ":" + strconv.Itoa(cfg.Port)
	srv := netsrv.NewServer(addr, ctx)
	defer srv.Close()

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run() }()

	select {
	case sig := <-sc:
		log6.Info("nodis: received signal %v, shutting down", sig)
	case err := <-errCh:
		if err != nil {
			log6.Warn("nodis: server exited: %v", err)
			return err
		}
	}
	return nil
}

// runSizeChecker periodically enforces the soft on-disk size cap spec §6
// describes, flipping the engine into read-only rejection once exceeded.
func runSizeChecker(engine *store.Engine, stop <-chan struct{}) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			engine.CheckDBSizeLimit()
		case <-stop:
			return
		}
	}
}

// runBackupScheduler takes a full backup on the cadence config.Config's
// retention policy derives, and prunes anything older than that policy
// allows.
func runBackupScheduler(engine *store.Engine, cfg *nconfig.Config, stop <-chan struct{}) {
	if cfg.NumBackupsToKeep <= 0 {
		return
	}
	ticker := time.NewTicker(cfg.BackupInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if _, err := engine.CreateBackup(); err != nil {
				log6.Warn("nodis: backup failed: %v", err)
				continue
			}
			if err := engine.PurgeOldBackups(cfg.NumBackupsToKeep, cfg.BackupMaxKeepHours); err != nil {
				log6.Warn("nodis: backup purge failed: %v", err)
			}
		case <-stop:
			return
		}
	}
}
