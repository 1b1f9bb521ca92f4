package command

import (
	"github.com/nodisdb/nodis/internal/resp"
)

func registerConnectionCommands() {
	register("auth", 2, false, cmdAuth)
	register("ping", -1, false, cmdPing)
	register("echo", 2, false, cmdEcho)
	register("select", 2, false, cmdSelect)
	register("quit", 1, false, cmdQuit)
}

func cmdAuth(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	if ctx.Config.RequirePass == "" {
		return nil, resp.Error("ERR Client sent AUTH, but no password is set")
	}
	if string(args[0]) != ctx.Config.RequirePass {
		return nil, resp.Error("ERR invalid password")
	}
	conn.Authed = true
	conn.Namespace = DefaultNamespace
	return resp.OK, nil
}

func cmdPing(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	if len(args) == 0 {
		return resp.SimpleString("PONG"), nil
	}
	return resp.BulkString(args[0]), nil
}

func cmdEcho(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	return resp.BulkString(args[0]), nil
}

func cmdSelect(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	// Namespaces here play the role Redis's numbered databases do: a
	// disjoint keyspace under a shared engine, addressed by name instead
	// of a small integer index (spec §4.1's ns_key encoding is
	// name-shaped, not index-shaped).
	ns := args[0]
	if len(ns) > 255 {
		return nil, resp.Error("ERR namespace name too long")
	}
	conn.Namespace = append([]byte(nil), ns...)
	return resp.OK, nil
}

func cmdQuit(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	conn.CloseAfter = true
	return resp.OK, nil
}
