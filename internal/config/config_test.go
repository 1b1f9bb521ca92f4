package config

import (
	"testing"
	"time"

	"github.com/spf13/viper"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("Default() failed Validate: %v", err)
	}
}

func TestValidateRejectsBadPort(t *testing.T) {
	cfg := Default()
	cfg.Port = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port 0")
	}
	cfg.Port = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for port > 65535")
	}
}

func TestValidateRejectsEmptyDir(t *testing.T) {
	cfg := Default()
	cfg.Dir = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty dir")
	}
}

func TestValidateRejectsOutOfRangeSampleRatio(t *testing.T) {
	cfg := Default()
	cfg.ProfilingSampleRatio = 101
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for sample ratio > 100")
	}
	cfg.ProfilingSampleRatio = -1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative sample ratio")
	}
}

func TestLoadWithNoFileUsesDefaults(t *testing.T) {
	cfg, err := Load(viper.New(), "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != Default().Port || cfg.Dir != Default().Dir {
		t.Fatalf("Load() without a file diverged from Default(): %+v", cfg)
	}
}

func TestBackupIntervalDisabledWhenNoBackupsKept(t *testing.T) {
	cfg := Default()
	cfg.NumBackupsToKeep = 0
	if got := cfg.BackupInterval(); got != time.Hour {
		t.Fatalf("BackupInterval() with NumBackupsToKeep=0 = %v, want 1h fallback", got)
	}
}

func TestBackupIntervalDerivedFromRetention(t *testing.T) {
	cfg := Default()
	cfg.BackupMaxKeepHours = 24
	cfg.NumBackupsToKeep = 4
	want := 6 * time.Hour
	if got := cfg.BackupInterval(); got != want {
		t.Fatalf("BackupInterval() = %v, want %v", got, want)
	}
}
