// Package config loads and validates the server's configuration surface
// via viper, the same layered (flag/env/file) configuration approach
// _examples/ValentinKolb-dKV builds its own config package on.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

// LSMOptions bundles the LSM tunables spec §6 enumerates that this
// config carries: write-buffer size, max open files, compression, target
// file size, WAL TTL/size, delayed-write rate, readahead, and
// metadata/subkey block-cache sizes. goleveldb has no separate
// metadata/subkey caches (it has one shared block cache across the whole
// DB, matching this engine's single physical DB / prefix-emulated column
// families), so those two fields collapse onto BlockCacheSize.
// WriteBufferSize, MaxOpenFiles and Compression are passed to the engine;
// TargetFileSizeBase, the WAL fields, DelayedWriteRateMB and
// ReadaheadSizeKB are loaded but not passed to it. There are no fields
// for compaction parallelism, pipelined write or L0 slowdown/stop
// triggers.
type LSMOptions struct {
	WriteBufferSize    int
	MaxOpenFiles       int
	Compression        opt.Compression
	TargetFileSizeBase int
	WALTTLSeconds       int
	WALSizeLimitMB      int
	DelayedWriteRateMB  int
	ReadaheadSizeKB     int
	MetadataBlockCacheMB int
	SubkeyBlockCacheMB   int
}

// Config is the read-only struct every collaborator in spec §6 is handed
// a reference to. Fields map directly onto the enumerated configuration
// surface.
type Config struct {
	Dir  string
	Bind string
	Port int

	RequirePass    string
	SlaveReadonly  bool
	MaxDBSize      int64 // GiB, 0 = unlimited
	MaxIOMB        int64 // 0 = built-in ~1 TiB/s cap

	ProfilingSampleRatio               int // 0-100
	ProfilingSampleAllCommands         bool
	ProfilingSampleCommands            []string
	ProfilingSampleRecordThresholdMs   int64

	CodisEnabled bool

	NumBackupsToKeep    int
	BackupMaxKeepHours  int

	SlowLogThresholdUs int64
	SlowLogCapacity    int
	PerfLogCapacity    int

	LSM LSMOptions
}

// Default returns the built-in defaults every field falls back to when
// unset by flag, environment, or file.
func Default() *Config {
	return &Config{
		Dir:                 "./data",
		Bind:                "0.0.0.0",
		Port:                6666,
		SlaveReadonly:       true,
		MaxDBSize:           0,
		MaxIOMB:             0,
		ProfilingSampleRatio: 0,
		CodisEnabled:        false,
		NumBackupsToKeep:    7,
		BackupMaxKeepHours:  24 * 7,
		SlowLogThresholdUs:  10_000,
		SlowLogCapacity:     128,
		PerfLogCapacity:     128,
		LSM: LSMOptions{
			WriteBufferSize:      4 << 20,
			MaxOpenFiles:         500,
			Compression:          opt.SnappyCompression,
			TargetFileSizeBase:   2 << 20,
			WALTTLSeconds:        0,
			WALSizeLimitMB:       0,
			DelayedWriteRateMB:   16,
			ReadaheadSizeKB:      256,
			MetadataBlockCacheMB: 32,
			SubkeyBlockCacheMB:   32,
		},
	}
}

// Load reads configuration from an optional file at path (if non-empty),
// environment variables prefixed NODIS_, and whatever a caller has
// already bound to v via flags, in ascending priority (flags/env win
// over file, file wins over Default).
func Load(v *viper.Viper, path string) (*Config, error) {
	def := Default()
	bindDefaults(v, def)

	v.SetEnvPrefix("NODIS")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindDefaults(v *viper.Viper, def *Config) {
	v.SetDefault("dir", def.Dir)
	v.SetDefault("bind", def.Bind)
	v.SetDefault("port", def.Port)
	v.SetDefault("requirepass", def.RequirePass)
	v.SetDefault("slavereadonly", def.SlaveReadonly)
	v.SetDefault("maxdbsize", def.MaxDBSize)
	v.SetDefault("maxiomb", def.MaxIOMB)
	v.SetDefault("profilingsampleratio", def.ProfilingSampleRatio)
	v.SetDefault("profilingsampleallcommands", def.ProfilingSampleAllCommands)
	v.SetDefault("profilingsamplecommands", def.ProfilingSampleCommands)
	v.SetDefault("profilingsamplerecordthresholdms", def.ProfilingSampleRecordThresholdMs)
	v.SetDefault("codisenabled", def.CodisEnabled)
	v.SetDefault("numbackupstokeep", def.NumBackupsToKeep)
	v.SetDefault("backupmaxkeephours", def.BackupMaxKeepHours)
	v.SetDefault("slowlogthresholdus", def.SlowLogThresholdUs)
	v.SetDefault("slowlogcapacity", def.SlowLogCapacity)
	v.SetDefault("perflogcapacity", def.PerfLogCapacity)
}

// Validate rejects configurations that would leave the server in an
// unreachable or nonsensical state.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Port)
	}
	if c.Dir == "" {
		return fmt.Errorf("config: dir must not be empty")
	}
	if c.ProfilingSampleRatio < 0 || c.ProfilingSampleRatio > 100 {
		return fmt.Errorf("config: profiling_sample_ratio must be 0-100, got %d", c.ProfilingSampleRatio)
	}
	return nil
}

// BackupInterval derives a reasonable automatic-backup cadence from the
// retention policy; a caller that wants a fixed cadence instead can
// ignore this and schedule its own ticker.
func (c *Config) BackupInterval() time.Duration {
	if c.NumBackupsToKeep <= 0 {
		return time.Hour
	}
	return time.Duration(c.BackupMaxKeepHours) * time.Hour / time.Duration(c.NumBackupsToKeep)
}
