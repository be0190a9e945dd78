package testutil

import (
	"bytes"
	"context"
	"testing"

	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

// RunResultCacheSuite runs the behaviour every ResultCache must share.
// newCache must return an empty, created store; the suite closes it.
// bulk is the number of records used by the chunking test and should exceed
// the adapter's chunk size.
func RunResultCacheSuite(t *testing.T, newCache func(t *testing.T) outbound.AdminCache, bulk int) {
	t.Helper()
	ctx := context.Background()

	t.Run("empty store reports everything missing", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		ids := []entity.CallID{RecordID(1), RecordID(2)}
		l, err := c.Get(ctx, ids)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(l.Found) != 0 || len(l.Missing) != 2 {
			t.Errorf("expected 0 found / 2 missing, got %d / %d", len(l.Found), len(l.Missing))
		}
		if l.Missing[0] != ids[0] || l.Missing[1] != ids[1] {
			t.Error("missing ids should keep request order")
		}
	})

	t.Run("put then get", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		records := MakeRecords(6)
		if err := c.PutAll(ctx, records); err != nil {
			t.Fatalf("PutAll: %v", err)
		}

		ids := []entity.CallID{records[4].ID, RecordID(100), records[0].ID}
		l, err := c.Get(ctx, ids)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(l.Found) != 2 || len(l.Missing) != 1 {
			t.Fatalf("expected 2 found / 1 missing, got %d / %d", len(l.Found), len(l.Missing))
		}
		if l.Found[0].ID != records[4].ID || l.Found[1].ID != records[0].ID {
			t.Error("found results should keep request order")
		}
		if l.Missing[0] != RecordID(100) {
			t.Errorf("unexpected missing id %s", l.Missing[0])
		}

		got := l.ByID()
		if r := got[records[4].ID]; !r.Success || !bytes.Equal(r.Response, records[4].Response) {
			t.Errorf("record 4 mismatch: %+v", r)
		}
		if r := got[records[0].ID]; r.Success || len(r.Response) != 0 {
			t.Errorf("record 0 should be a revert without response: %+v", r)
		}
	})

	t.Run("writes are idempotent", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		original := MakeRecord(1)
		if err := c.PutAll(ctx, []*entity.CallRecord{original}); err != nil {
			t.Fatalf("PutAll: %v", err)
		}

		changed := *original
		changed.Response = []byte{0xde, 0xad}
		if err := c.PutAll(ctx, []*entity.CallRecord{&changed, original, original}); err != nil {
			t.Fatalf("second PutAll should skip duplicates, got %v", err)
		}

		n, err := c.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 1 {
			t.Errorf("expected 1 record, got %d", n)
		}
		r, ok, err := c.GetOne(ctx, original.ID)
		if err != nil || !ok {
			t.Fatalf("GetOne: ok=%v err=%v", ok, err)
		}
		if !bytes.Equal(r.Response, original.Response) {
			t.Errorf("first write must win, got %x", r.Response)
		}
	})

	t.Run("empty success response survives", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		rec, err := entity.NewCallRecord(RecordID(7), "0x0000000000000000000000000000000000000000", "balanceOf(address)(uint256)", "()", nil, 1, 1, true, []byte{})
		if err != nil {
			t.Fatalf("NewCallRecord: %v", err)
		}
		if err := c.PutAll(ctx, []*entity.CallRecord{rec}); err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		r, ok, err := c.GetOne(ctx, rec.ID)
		if err != nil || !ok {
			t.Fatalf("GetOne: ok=%v err=%v", ok, err)
		}
		if !r.Success || len(r.Response) != 0 {
			t.Errorf("expected success with empty response, got %+v", r)
		}
	})

	t.Run("is cached and delete", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		rec := MakeRecord(2)
		if err := c.PutAll(ctx, []*entity.CallRecord{rec}); err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		if ok, err := c.IsCached(ctx, rec.ID); err != nil || !ok {
			t.Fatalf("expected cached, ok=%v err=%v", ok, err)
		}

		deleted, err := c.Delete(ctx, rec.ID)
		if err != nil || !deleted {
			t.Fatalf("expected first delete to report true, got %v (%v)", deleted, err)
		}
		deleted, err = c.Delete(ctx, rec.ID)
		if err != nil || deleted {
			t.Fatalf("expected second delete to report false, got %v (%v)", deleted, err)
		}
		if ok, _ := c.IsCached(ctx, rec.ID); ok {
			t.Error("expected record gone after delete")
		}
		if _, ok, _ := c.GetOne(ctx, rec.ID); ok {
			t.Error("expected GetOne to miss after delete")
		}
	})

	t.Run("bulk lookups are chunked", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		records := MakeRecords(bulk)
		if err := c.PutAll(ctx, records); err != nil {
			t.Fatalf("PutAll: %v", err)
		}

		ids := make([]entity.CallID, 0, bulk+10)
		for _, r := range records {
			ids = append(ids, r.ID)
		}
		for i := 0; i < 10; i++ {
			ids = append(ids, RecordID(bulk+i))
		}

		l, err := c.Get(ctx, ids)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(l.Found) != bulk || len(l.Missing) != 10 {
			t.Errorf("expected %d found / 10 missing, got %d / %d", bulk, len(l.Found), len(l.Missing))
		}
		n, _ := c.Count(ctx)
		if n != int64(bulk) {
			t.Errorf("expected %d records, got %d", bulk, n)
		}
	})

	t.Run("drop and recreate", func(t *testing.T) {
		c := newCache(t)
		defer c.Close()

		if err := c.PutAll(ctx, MakeRecords(3)); err != nil {
			t.Fatalf("PutAll: %v", err)
		}
		if err := c.DropStore(ctx); err != nil {
			t.Fatalf("DropStore: %v", err)
		}
		if err := c.CreateStore(ctx); err != nil {
			t.Fatalf("CreateStore: %v", err)
		}
		n, err := c.Count(ctx)
		if err != nil {
			t.Fatalf("Count: %v", err)
		}
		if n != 0 {
			t.Errorf("expected empty store, got %d", n)
		}
	})
}
