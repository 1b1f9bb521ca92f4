package command

import (
	"github.com/nodisdb/nodis/internal/resp"
	"github.com/nodisdb/nodis/internal/store"
)

func registerPubSubCommands() {
	register("subscribe", -2, false, cmdSubscribe)
	register("unsubscribe", -1, false, cmdUnsubscribe)
	register("publish", 3, true, cmdPublish)
}

// cmdSubscribe registers conn against every listed channel in the
// in-process fanout and writes a durable bookkeeping record to the
// pubsub column family (spec §3's "transient channel subscriptions"),
// which the reaper's staleness sweep clears if this connection never
// unsubscribes or refreshes it.
func cmdSubscribe(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	channels := args
	batch := store.NewBatch()
	now := uint32(ctx.now().Unix())
	var out resp.Array
	for _, ch := range channels {
		channel := string(ch)
		conn.SubChannels[channel] = true
		if conn.Subscriber != nil {
			ctx.PubSub.Subscribe(channel, conn.ID, conn.Subscriber)
		}
		batch.Put(store.CFPubSub, store.MakePubSubKey(channel, conn.ID), store.EncodePubSubRecord(now))
		out = append(out,
			resp.BulkString([]byte("subscribe")),
			resp.BulkString(ch),
			resp.Integer(int64(len(conn.SubChannels))),
		)
	}
	if err := ctx.Engine.Write(batch); err != nil {
		return nil, err
	}
	return out, nil
}

func cmdUnsubscribe(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	channels := args
	if len(channels) == 0 {
		for ch := range conn.SubChannels {
			channels = append(channels, []byte(ch))
		}
	}
	batch := store.NewBatch()
	var out resp.Array
	for _, ch := range channels {
		channel := string(ch)
		delete(conn.SubChannels, channel)
		ctx.PubSub.Unsubscribe(channel, conn.ID)
		batch.Delete(store.CFPubSub, store.MakePubSubKey(channel, conn.ID))
		out = append(out,
			resp.BulkString([]byte("unsubscribe")),
			resp.BulkString(ch),
			resp.Integer(int64(len(conn.SubChannels))),
		)
	}
	if batch.Len() > 0 {
		if err := ctx.Engine.Write(batch); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func cmdPublish(ctx *Context, conn *Conn, args [][]byte) (resp.Value, error) {
	channel := string(args[0])
	n := ctx.PubSub.Publish(channel, args[1])
	return resp.Integer(n), nil
}
