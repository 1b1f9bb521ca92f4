package store

import (
	"encoding/binary"
	"testing"
	"time"
)

func TestReaperSweepMetadataDropsExpired(t *testing.T) {
	e := openTestEngine(t)
	past := uint32(time.Now().Add(-time.Hour).Unix())
	future := uint32(time.Now().Add(time.Hour).Unix())

	b := NewBatch()
	b.Put(CFMetadata, MakeNsKey(nil, []byte("expired")), EncodeMetadata(&Metadata{
		Type: TypeString, Expire: past, Version: 1, Value: []byte("v"),
	}))
	b.Put(CFMetadata, MakeNsKey(nil, []byte("alive")), EncodeMetadata(&Metadata{
		Type: TypeString, Expire: future, Version: 1, Value: []byte("v"),
	}))
	b.Put(CFMetadata, MakeNsKey(nil, []byte("no-ttl")), EncodeMetadata(&Metadata{
		Type: TypeString, Expire: 0, Version: 1, Value: []byte("v"),
	}))
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepMetadata(); err != nil {
		t.Fatalf("sweepMetadata: %v", err)
	}

	if _, err := e.Get(nil, CFMetadata, MakeNsKey(nil, []byte("expired"))); !IsNotFound(err) {
		t.Fatalf("expected expired key to be swept, got err=%v", err)
	}
	if _, err := e.Get(nil, CFMetadata, MakeNsKey(nil, []byte("alive"))); err != nil {
		t.Fatalf("expected key with future expiry to survive, got %v", err)
	}
	if _, err := e.Get(nil, CFMetadata, MakeNsKey(nil, []byte("no-ttl"))); err != nil {
		t.Fatalf("expected key with no ttl to survive, got %v", err)
	}
}

func TestReaperSweepScoresDropsOrphaned(t *testing.T) {
	e := openTestEngine(t)
	nsKey := MakeNsKey(nil, []byte("zs"))

	b := NewBatch()
	// No metadata record at all backs this key: the score entry is orphaned.
	b.Put(CFZSetScore, MakeScoreKey(nsKey, 1, 1.0, []byte("m1")), nil)
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepScores(); err != nil {
		t.Fatalf("sweepScores: %v", err)
	}

	it := e.CFIterator(nil, CFZSetScore)
	defer it.Release()
	if it.Next() {
		t.Fatal("expected orphaned score entry to be swept")
	}
}

func TestReaperSweepScoresKeepsCurrentVersion(t *testing.T) {
	e := openTestEngine(t)
	nsKey := MakeNsKey(nil, []byte("zs"))

	b := NewBatch()
	b.Put(CFMetadata, nsKey, EncodeMetadata(&Metadata{Type: TypeZSetScored, Version: 1}))
	b.Put(CFZSetScore, MakeScoreKey(nsKey, 1, 1.0, []byte("m1")), nil)
	b.Put(CFZSetScore, MakeScoreKey(nsKey, 0, 1.0, []byte("stale")), nil) // old version
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepScores(); err != nil {
		t.Fatalf("sweepScores: %v", err)
	}

	it := e.CFIterator(nil, CFZSetScore)
	defer it.Release()
	var members []string
	for it.Next() {
		_, _, _, member, err := ParseScoreKey(it.Key()[1:])
		if err != nil {
			t.Fatalf("ParseScoreKey: %v", err)
		}
		members = append(members, string(member))
	}
	if len(members) != 1 || members[0] != "m1" {
		t.Fatalf("got surviving members %v, want [m1]", members)
	}
}

func TestReaperSweepSubkeysDropsOrphaned(t *testing.T) {
	e := openTestEngine(t)
	nsKey := MakeNsKey(nil, []byte("h"))

	b := NewBatch()
	// No metadata record at all backs this key: the field entry is orphaned.
	b.Put(CFDefault, MakeSubKey(nsKey, 1, []byte("f1")), []byte("v1"))
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepSubkeys(); err != nil {
		t.Fatalf("sweepSubkeys: %v", err)
	}

	it := e.CFIterator(nil, CFDefault)
	defer it.Release()
	if it.Next() {
		t.Fatal("expected orphaned subkey entry to be swept")
	}
}

func TestReaperSweepSubkeysKeepsCurrentVersion(t *testing.T) {
	e := openTestEngine(t)
	nsKey := MakeNsKey(nil, []byte("h"))

	b := NewBatch()
	b.Put(CFMetadata, nsKey, EncodeMetadata(&Metadata{Type: TypeHash, Version: 2}))
	b.Put(CFDefault, MakeSubKey(nsKey, 2, []byte("f1")), []byte("v1"))
	b.Put(CFDefault, MakeSubKey(nsKey, 1, []byte("stale")), []byte("orphan")) // old version
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepSubkeys(); err != nil {
		t.Fatalf("sweepSubkeys: %v", err)
	}

	it := e.CFIterator(nil, CFDefault)
	defer it.Release()
	var fields []string
	for it.Next() {
		_, _, field, err := ParseSubKey(it.Key()[1:])
		if err != nil {
			t.Fatalf("ParseSubKey: %v", err)
		}
		fields = append(fields, string(field))
	}
	if len(fields) != 1 || fields[0] != "f1" {
		t.Fatalf("got surviving fields %v, want [f1]", fields)
	}
}

func TestReaperSweepSlotsDropsOrphanedAndDecrementsCounter(t *testing.T) {
	e := openTestEngine(t)
	userKey := []byte("k")
	slot := SlotID(userKey)

	b := NewBatch()
	b.Put(CFSlot, slotKey(slot, userKey), []byte{1})
	counter := make([]byte, 8)
	binary.BigEndian.PutUint64(counter, 1)
	b.Put(CFSlotMetadata, slotCounterKey(slot), counter)
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepSlots(); err != nil {
		t.Fatalf("sweepSlots: %v", err)
	}

	if _, err := e.Get(nil, CFSlot, slotKey(slot, userKey)); !IsNotFound(err) {
		t.Fatalf("expected orphaned slot entry to be swept, got err=%v", err)
	}
	cur, err := e.Get(nil, CFSlotMetadata, slotCounterKey(slot))
	if err != nil {
		t.Fatalf("Get slot counter: %v", err)
	}
	if got := binary.BigEndian.Uint64(cur); got != 0 {
		t.Fatalf("slot counter after sweep = %d, want 0", got)
	}
}

func TestReaperSweepSlotsKeepsLiveKey(t *testing.T) {
	e := openTestEngine(t)
	userKey := []byte("live")
	slot := SlotID(userKey)

	b := NewBatch()
	b.Put(CFMetadata, MakeNsKey(nil, userKey), EncodeMetadata(&Metadata{Type: TypeString, Version: 1, Value: []byte("v")}))
	b.Put(CFSlot, slotKey(slot, userKey), []byte{1})
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepSlots(); err != nil {
		t.Fatalf("sweepSlots: %v", err)
	}

	if _, err := e.Get(nil, CFSlot, slotKey(slot, userKey)); err != nil {
		t.Fatalf("expected live key's slot entry to survive, got %v", err)
	}
}

func TestReaperSweepPubSubDropsStale(t *testing.T) {
	e := openTestEngine(t)
	staleTS := uint32(time.Now().Add(-time.Hour).Unix())
	freshTS := uint32(time.Now().Unix())

	b := NewBatch()
	b.Put(CFPubSub, MakePubSubKey("ch", "old-conn"), EncodePubSubRecord(staleTS))
	b.Put(CFPubSub, MakePubSubKey("ch", "new-conn"), EncodePubSubRecord(freshTS))
	if err := e.Write(b); err != nil {
		t.Fatalf("Write: %v", err)
	}

	r := NewReaper(e, ReaperConfig{Interval: time.Hour, BatchSize: 10})
	if err := r.sweepPubSub(); err != nil {
		t.Fatalf("sweepPubSub: %v", err)
	}

	if _, err := e.Get(nil, CFPubSub, MakePubSubKey("ch", "old-conn")); !IsNotFound(err) {
		t.Fatalf("expected stale pubsub record to be swept, got err=%v", err)
	}
	if _, err := e.Get(nil, CFPubSub, MakePubSubKey("ch", "new-conn")); err != nil {
		t.Fatalf("expected fresh pubsub record to survive, got %v", err)
	}
}
