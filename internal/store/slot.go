package store

import "encoding/binary"

// NumSlots is the number of fixed hash buckets a sharded front-end
// pre-hashes keys into (spec glossary: "Slot").
const NumSlots = 1024

// crc16Table is the CCITT (poly 0x1021, XMODEM variant) table Redis
// Cluster and Codis both use for slot hashing. No CRC16 library appears
// anywhere in the retrieved corpus; hand-rolling this exact table is
// standard practice among Redis-protocol implementations — go-redis's
// internal hashtag package and Redis's own cluster.c both embed the same
// 256-entry table rather than pulling in a dependency for one function.
var crc16Table = func() [256]uint16 {
	const poly = 0x1021
	var t [256]uint16
	for i := 0; i < 256; i++ {
		crc := uint16(i) << 8
		for j := 0; j < 8; j++ {
			if crc&0x8000 != 0 {
				crc = (crc << 1) ^ poly
			} else {
				crc = crc << 1
			}
		}
		t[i] = crc
	}
	return t
}()

// CRC16 computes the CRC16-CCITT checksum of data.
func CRC16(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc = (crc << 8) ^ crc16Table[byte(crc>>8)^b]
	}
	return crc
}

// SlotID hashes a user key (its hash-tag, if `{tag}` is present, else the
// whole key — the same convention Redis Cluster and Codis use so multi-key
// operations can be co-located) into a fixed 1024-bucket slot.
func SlotID(userKey []byte) uint16 {
	tag := hashTag(userKey)
	return CRC16(tag) % NumSlots
}

// hashTag extracts the {...} hash tag from a key, or returns the whole key
// if no tag is present or the tag is empty.
func hashTag(key []byte) []byte {
	l := -1
	for i, c := range key {
		if c == '{' {
			l = i
			break
		}
	}
	if l < 0 {
		return key
	}
	r := -1
	for i := l + 1; i < len(key); i++ {
		if key[i] == '}' {
			r = i
			break
		}
	}
	if r < 0 || r == l+1 {
		return key
	}
	return key[l+1 : r]
}

// slotKey composes the physical CFSlot key: slot_id ‖ user_key.
func slotKey(slot uint16, userKey []byte) []byte {
	out := make([]byte, 2+len(userKey))
	binary.BigEndian.PutUint16(out, slot)
	copy(out[2:], userKey)
	return out
}

// slotCounterKey composes the CFSlotMetadata counter key for a slot.
func slotCounterKey(slot uint16) []byte {
	out := make([]byte, 4)
	binary.BigEndian.PutUint32(out, uint32(slot))
	return out
}

// extractTouchedKeys walks a batch's metadata-column-family puts and
// deletes and returns the set of distinct user keys touched, as a
// tagged-union fold rather than a visitor object (spec §4.9's Design
// Notes recommendation).
func extractTouchedKeys(batch *Batch) (puts, deletes [][]byte) {
	seenPut := map[string]bool{}
	seenDel := map[string]bool{}
	for _, op := range batch.Ops() {
		if op.CF != CFMetadata {
			continue
		}
		switch op.Kind {
		case opPut:
			_, userKey, err := ParseNsKey(op.Key)
			if err != nil {
				continue
			}
			k := string(userKey)
			if !seenPut[k] {
				seenPut[k] = true
				puts = append(puts, userKey)
			}
			if seenDel[k] {
				delete(seenDel, k)
				for i, d := range deletes {
					if string(d) == k {
						deletes = append(deletes[:i], deletes[i+1:]...)
						break
					}
				}
			}
		case opDelete:
			_, userKey, err := ParseNsKey(op.Key)
			if err != nil {
				continue
			}
			k := string(userKey)
			if !seenDel[k] && !seenPut[k] {
				seenDel[k] = true
				deletes = append(deletes, userKey)
			}
		}
	}
	return puts, deletes
}

// foldSlotIndex extends batch in place with the CFSlot/CFSlotMetadata
// mutations that mirror its CFMetadata puts and deletes, so the reverse
// index commits atomically with the user-visible write (spec §4.6). It is
// a no-op when the batch touches no metadata keys. Because a per-slot
// counter delta requires reading the current value, this must read
// through the live engine — the read is folded into the same batch that
// will make the write, so the counter and the index entries it counts
// still commit as one unit.
func (e *Engine) foldSlotIndex(batch *Batch) error {
	puts, deletes := extractTouchedKeys(batch)
	if len(puts) == 0 && len(deletes) == 0 {
		return nil
	}

	delta := map[uint16]int64{}
	for _, k := range puts {
		slot := SlotID(k)
		sk := slotKey(slot, k)
		if _, err := e.Get(nil, CFSlot, sk); IsNotFound(err) {
			delta[slot]++
		} else if err != nil {
			return err
		}
		batch.Put(CFSlot, sk, []byte{1})
	}
	for _, k := range deletes {
		slot := SlotID(k)
		sk := slotKey(slot, k)
		if _, err := e.Get(nil, CFSlot, sk); err == nil {
			delta[slot]--
		} else if !IsNotFound(err) {
			return err
		}
		batch.Delete(CFSlot, sk)
	}

	for slot, d := range delta {
		cur, err := e.Get(nil, CFSlotMetadata, slotCounterKey(slot))
		if err != nil && !IsNotFound(err) {
			return err
		}
		var count int64
		if len(cur) == 8 {
			count = int64(binary.BigEndian.Uint64(cur))
		}
		count += d
		if count < 0 {
			count = 0
		}
		out := make([]byte, 8)
		binary.BigEndian.PutUint64(out, uint64(count))
		batch.Put(CFSlotMetadata, slotCounterKey(slot), out)
	}
	return nil
}

// ClearSlotIndex wipes the slot index wholesale, used by flushdb (spec
// §4.6).
func (e *Engine) ClearSlotIndex() error {
	if err := e.DeleteWholeCF(CFSlot); err != nil {
		return err
	}
	return e.DeleteWholeCF(CFSlotMetadata)
}
