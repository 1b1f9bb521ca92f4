package command

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/nodisdb/nodis/internal/config"
	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerAdminCommands() {
	register("info", -1, false, cmdInfo)
	register("dbsize", 1, false, cmdDBSize)
	register("config", -2, false, cmdConfig)
	register("slowlog", -2, false, cmdSlowLog)
	register("monitor", 1, false, cmdMonitor)
}

// cmdInfo renders the operator-facing sections spec §6 calls out:
// server identity, keyspace-adjacent stats, per-command call/latency
// figures, and host resource usage (when a collector is attached).
func cmdInfo(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "# Server\r\nnodis_mode:standalone\r\ntcp_port:%d\r\n", ctx.Config.Port)
	fmt.Fprintf(&b, "role:%s\r\n", roleName(ctx))
	fmt.Fprintf(&b, "loading:%d\r\n", boolToInt(ctx.State.IsLoading()))
	fmt.Fprintf(&b, "connected_clients_executing:%d\r\n", ctx.State.ExecutingCommandNum())

	snap := ctx.Stats.Snapshot()
	fmt.Fprintf(&b, "\r\n# Stats\r\ntotal_inbound_bytes:%d\r\n", snap.InboundBytes)
	for name, c := range snap.Commands {
		fmt.Fprintf(&b, "cmdstat_%s:calls=%d,p50_us=%.1f,p99_us=%.1f,mean_us=%.1f\r\n",
			name, c.Calls, c.P50Micros, c.P99Micros, c.MeanMicros)
	}

	if ctx.Host != nil {
		h := ctx.Host.Snapshot()
		fmt.Fprintf(&b, "\r\n# Host\r\nused_cpu_percent:%.2f\r\nused_memory_percent:%.2f\r\nused_disk_percent:%.2f\r\n",
			h.CPUPercent, h.MemPercent, h.DiskPercent)
	}

	if size, err := ctx.Engine.GetTotalSize(); err == nil {
		fmt.Fprintf(&b, "\r\n# Persistence\r\ntotal_disk_bytes:%d\r\n", size)
	}

	return resp.BulkString([]byte(b.String())), nil
}

func roleName(ctx *Context) string {
	if ctx.State.IsSlave() {
		return "slave"
	}
	return "master"
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}

// cmdDBSize counts every live metadata record in the current namespace.
// Expired-but-not-yet-reaped records are excluded via the same lazy TTL
// check reads use, so DBSIZE never over-reports what GET/EXISTS would see.
func cmdDBSize(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	prefix := store.MakeNsKey(conn.Namespace, nil)
	it := ctx.Engine.CFIterator(nil, store.CFMetadata)
	defer it.Release()

	now := ctx.now()
	var count int64
	for it.Next() {
		// it.Key() is the physical key: a one-byte CF tag followed by the
		// ns_key. Skip anything outside the caller's namespace.
		if !hasNsPrefix(it.Key()[1:], prefix) {
			continue
		}
		meta, err := store.DecodeMetadata(it.Value())
		if err != nil {
			continue
		}
		if !meta.Expired(now) {
			count++
		}
	}
	if err := it.Error(); err != nil {
		return nil, err
	}
	return resp.Integer(count), nil
}

func hasNsPrefix(key, prefix []byte) bool {
	return len(key) >= len(prefix) && string(key[:len(prefix)]) == string(prefix)
}

func cmdConfig(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	sub := strings.ToUpper(string(args[0]))
	switch sub {
	case "GET":
		if len(args) != 2 {
			return nil, resp.Error("ERR wrong number of arguments for 'config|get' command")
		}
		name := strings.ToLower(string(args[1]))
		val, ok := getConfigValue(ctx.Config, name)
		if !ok {
			return resp.Array(nil), nil
		}
		return resp.Array{resp.BulkString([]byte(name)), resp.BulkString([]byte(val))}, nil
	case "SET":
		if len(args) != 3 {
			return nil, resp.Error("ERR wrong number of arguments for 'config|set' command")
		}
		name := strings.ToLower(string(args[1]))
		if err := setConfigValue(ctx.Config, name, string(args[2])); err != nil {
			return nil, resp.Error("ERR " + err.Error())
		}
		if name == "slowlogthresholdus" && ctx.SlowLog != nil {
			ctx.SlowLog.SetThreshold(ctx.Config.SlowLogThresholdUs)
		}
		return resp.OK, nil
	default:
		return nil, resp.Error("ERR unknown CONFIG subcommand '" + sub + "'")
	}
}

func getConfigValue(cfg *config.Config, name string) (string, bool) {
	switch name {
	case "dir":
		return cfg.Dir, true
	case "bind":
		return cfg.Bind, true
	case "port":
		return strconv.Itoa(cfg.Port), true
	case "requirepass":
		return cfg.RequirePass, true
	case "slavereadonly":
		return strconv.FormatBool(cfg.SlaveReadonly), true
	case "maxdbsize":
		return strconv.FormatInt(cfg.MaxDBSize, 10), true
	case "maxiomb":
		return strconv.FormatInt(cfg.MaxIOMB, 10), true
	case "profilingsampleratio":
		return strconv.Itoa(cfg.ProfilingSampleRatio), true
	case "codisenabled":
		return strconv.FormatBool(cfg.CodisEnabled), true
	case "numbackupstokeep":
		return strconv.Itoa(cfg.NumBackupsToKeep), true
	case "backupmaxkeephours":
		return strconv.Itoa(cfg.BackupMaxKeepHours), true
	case "slowlogthresholdus":
		return strconv.FormatInt(cfg.SlowLogThresholdUs, 10), true
	default:
		return "", false
	}
}

func setConfigValue(cfg *config.Config, name, value string) error {
	switch name {
	case "requirepass":
		cfg.RequirePass = value
	case "slavereadonly":
		v, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		cfg.SlaveReadonly = v
	case "maxdbsize":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.MaxDBSize = v
	case "slowlogthresholdus":
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		cfg.SlowLogThresholdUs = v
	case "profilingsampleratio":
		v, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		if v < 0 || v > 100 {
			return fmt.Errorf("profilingsampleratio must be 0-100")
		}
		cfg.ProfilingSampleRatio = v
	default:
		return fmt.Errorf("unsupported or read-only parameter '%s'", name)
	}
	return nil
}

func cmdSlowLog(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	sub := strings.ToUpper(string(args[0]))
	switch sub {
	case "LEN":
		return resp.Integer(len(ctx.SlowLog.Recent())), nil
	case "RESET":
		ctx.SlowLog.Reset()
		return resp.OK, nil
	case "GET":
		entries := ctx.SlowLog.Recent()
		var out resp.Array
		for i, e := range entries {
			var argv resp.Array
			for _, a := range e.Args {
				argv = append(argv, resp.BulkString([]byte(a)))
			}
			out = append(out, resp.Array{
				resp.Integer(int64(i)),
				resp.Integer(e.At),
				resp.Integer(e.DurationUs),
				argv,
			})
		}
		return out, nil
	default:
		return nil, resp.Error("ERR unknown SLOWLOG subcommand '" + sub + "'")
	}
}

// cmdMonitor puts conn into monitor mode: every other connection's
// dispatched argv is fanned out to it from this point on (spec §4.8 step
// 13). Requires the transport layer to have attached a MonitorSink.
func cmdMonitor(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	conn.InMonitor = true
	if conn.MonitorSink != nil {
		ctx.Monitor.Subscribe(conn.ID, conn.MonitorSink)
	}
	return resp.OK, nil
}
