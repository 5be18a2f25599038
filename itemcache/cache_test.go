package itemcache_test

import (
	"testing"
	"time"

	"github.com/modsagraphy/universa/hashid"
	"github.com/modsagraphy/universa/item"
	"github.com/modsagraphy/universa/itemcache"
)

func newItem(id hashid.ID) *item.Item {
	return item.New(id, time.Now(), time.Now().Add(time.Hour), nil)
}

func TestPutThenGetRoundTrips(t *testing.T) {
	c := itemcache.New(time.Minute)
	id := hashid.Of([]byte("x"))
	body := newItem(id)
	c.Put(body)

	got, ok := c.Get(id)
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.ID != id {
		t.Fatalf("expected id %s, got %s", id, got.ID)
	}
	if !c.Have(id) {
		t.Fatal("expected Have to report true")
	}
}

func TestGetMissOnUnknownID(t *testing.T) {
	c := itemcache.New(time.Minute)
	_, ok := c.Get(hashid.Of([]byte("unknown")))
	if ok {
		t.Fatal("expected cache miss for unknown id")
	}
	if c.Have(hashid.Of([]byte("unknown"))) {
		t.Fatal("expected Have to report false for unknown id")
	}
}

func TestEntryExpiresAfterMaxAge(t *testing.T) {
	c := itemcache.New(10 * time.Millisecond)
	id := hashid.Of([]byte("stale"))
	c.Put(newItem(id))

	time.Sleep(25 * time.Millisecond)

	if _, ok := c.Get(id); ok {
		t.Fatal("expected entry to have expired")
	}
}
