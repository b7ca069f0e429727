package idlecache

import (
	"net"
	"testing"
	"time"
)

func TestAddThenGetExactMatch(t *testing.T) {
	c := NewCache(10, 100)
	client, server := net.Pipe()
	defer client.Close()

	c.Add("10.0.0.1:3306", "alice", server)

	e, ok := c.Get("10.0.0.1:3306", "alice", true)
	if !ok {
		t.Fatal("Get: expected a hit")
	}
	if e.Username != "alice" || e.Backend != "10.0.0.1:3306" {
		t.Fatalf("got %+v", e)
	}
}

func TestGetMissReturnsFalse(t *testing.T) {
	c := NewCache(10, 100)
	if _, ok := c.Get("10.0.0.1:3306", "bob", true); ok {
		t.Fatal("Get on empty cache returned ok=true")
	}
}

func TestGetIsLIFO(t *testing.T) {
	c := NewCache(10, 100)
	_, s1 := net.Pipe()
	_, s2 := net.Pipe()
	defer s1.Close()
	defer s2.Close()

	c.Add("b:3306", "alice", s1)
	time.Sleep(time.Millisecond)
	c.Add("b:3306", "alice", s2)

	e, ok := c.Get("b:3306", "alice", true)
	if !ok {
		t.Fatal("expected a hit")
	}
	if e.Conn != s2 {
		t.Fatal("Get did not return the most recently inserted entry")
	}
}

func TestGetExactDoesNotBorrowAcrossUsers(t *testing.T) {
	c := NewCache(10, 0)
	_, server := net.Pipe()
	defer server.Close()

	c.Add("b:3306", "alice", server)

	if _, ok := c.Get("b:3306", "bob", true); ok {
		t.Fatal("exact Get should not borrow across usernames")
	}
}

func TestGetBorrowsAcrossUsersAboveThreshold(t *testing.T) {
	c := NewCache(10, 0)
	_, server := net.Pipe()
	defer server.Close()

	c.Add("b:3306", "alice", server)

	e, ok := c.Get("b:3306", "bob", false)
	if !ok {
		t.Fatal("expected cross-user borrowing to succeed")
	}
	if e.Username != "alice" {
		t.Fatalf("borrowed entry belongs to %q, want alice", e.Username)
	}
}

func TestGetBorrowRespectsMinIdleThreshold(t *testing.T) {
	c := NewCache(10, 5)
	_, server := net.Pipe()
	defer server.Close()

	c.Add("b:3306", "alice", server)

	if _, ok := c.Get("b:3306", "bob", false); ok {
		t.Fatal("should not borrow: idle count below MinIdleConnections threshold")
	}
}

func TestAddEvictsOldestWhenBackendFull(t *testing.T) {
	c := NewCache(1, 100)
	client1, server1 := net.Pipe()
	_, server2 := net.Pipe()
	defer client1.Close()
	defer server2.Close()

	e1 := c.Add("b:3306", "alice", server1)
	time.Sleep(time.Millisecond)
	c.Add("b:3306", "bob", server2)

	if c.Count("b:3306") != 1 {
		t.Fatalf("Count = %d, want 1 (oldest evicted)", c.Count("b:3306"))
	}
	if _, ok := c.Get("b:3306", "alice", true); ok {
		t.Fatal("evicted entry should not be retrievable")
	}
	_ = e1
}

func TestRemoveIsIdempotent(t *testing.T) {
	c := NewCache(10, 100)
	_, server := net.Pipe()

	e := c.Add("b:3306", "alice", server)
	c.Remove(e)
	c.Remove(e) // must not panic or double-close watchDone
}

func TestWatchEvictsOnUnsolicitedData(t *testing.T) {
	c := NewCache(10, 100)
	client, server := net.Pipe()
	defer client.Close()

	c.Add("b:3306", "alice", server)

	client.Write([]byte{0x01})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.Count("b:3306") == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("watcher did not evict the entry after unsolicited data")
}
