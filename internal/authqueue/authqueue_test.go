package authqueue_test

import (
	"net"
	"testing"
	"time"

	"github.com/lodecast/masterd/internal/authqueue"
	"github.com/lodecast/masterd/internal/discovery"
	"github.com/lodecast/masterd/internal/wire"
)

func pipe(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	a, b := net.Pipe()
	t.Cleanup(func() {
		a.Close()
		b.Close()
	})
	return a, b
}

func testConfig() authqueue.Config {
	cfg := authqueue.DefaultConfig()
	cfg.IteratorBudget = 200 * time.Millisecond
	return cfg
}

// S3: a happy-path AUTH exchange flips the entry inactive and yields
// exactly one ConnectedNode.
func TestManageAdmitsValidSecret(t *testing.T) {
	client, server := pipe(t)
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte(" "))
	q := authqueue.New(testConfig(), authn, registry, nil)

	e := authqueue.NewAutheableEntry(server, "127.0.0.1:1", time.Minute)
	entry := q.Insert(e)

	go func() {
		framed, _ := wire.Frame(wire.AuthMsg{Identifier: []byte(" ")})
		client.Write(framed)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for entry.Active() && time.Now().Before(deadline) {
		q.Spin()
		time.Sleep(5 * time.Millisecond)
	}

	if entry.Active() {
		t.Fatalf("expected entry to be inactive after admission")
	}
	if registry.Len() != 1 {
		t.Fatalf("registry Len() = %d, want 1", registry.Len())
	}
}

// S4: a denied AUTH flips the entry inactive but never registers a
// node.
func TestManageDeniesWrongSecret(t *testing.T) {
	client, server := pipe(t)
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("x"))
	q := authqueue.New(testConfig(), authn, registry, nil)

	e := authqueue.NewAutheableEntry(server, "127.0.0.1:2", time.Minute)
	entry := q.Insert(e)

	go func() {
		framed, _ := wire.Frame(wire.AuthMsg{Identifier: []byte(" ")})
		client.Write(framed)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for entry.Active() && time.Now().Before(deadline) {
		q.Spin()
		time.Sleep(5 * time.Millisecond)
	}

	if entry.Active() {
		t.Fatalf("expected entry to be inactive after denial")
	}
	if registry.Len() != 0 {
		t.Fatalf("registry Len() = %d, want 0 for denied auth", registry.Len())
	}
}

// Invariant 6: an entry whose deadline has already passed is marked
// inactive within one manage() pass, even with no data pending.
func TestManageExpiresPastDeadline(t *testing.T) {
	_, server := pipe(t)
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("s"))
	q := authqueue.New(testConfig(), authn, registry, nil)

	e := authqueue.NewAutheableEntry(server, "127.0.0.1:3", -time.Second)
	entry := q.Insert(e)

	q.Spin()

	if entry.Active() {
		t.Fatalf("expected entry past its deadline to be marked inactive")
	}
}

// A non-AUTH message is treated the same as a failed authentication:
// the entry is dropped.
func TestManageRejectsNonAuthMessage(t *testing.T) {
	client, server := pipe(t)
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("s"))
	q := authqueue.New(testConfig(), authn, registry, nil)

	e := authqueue.NewAutheableEntry(server, "127.0.0.1:4", time.Minute)
	entry := q.Insert(e)

	go func() {
		framed, _ := wire.Frame(wire.ShutdownMsg{Code: 1})
		client.Write(framed)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for entry.Active() && time.Now().Before(deadline) {
		q.Spin()
		time.Sleep(5 * time.Millisecond)
	}

	if entry.Active() {
		t.Fatalf("expected entry to be inactive after a non-AUTH message")
	}
	if registry.Len() != 0 {
		t.Fatalf("registry Len() = %d, want 0", registry.Len())
	}
}

func TestDeletionHeuristicRespectsCutoff(t *testing.T) {
	cfg := testConfig()
	cfg.Cutoff = 2
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("s"))
	q := authqueue.New(cfg, authn, registry, nil)

	_, s1 := pipe(t)
	_, s2 := pipe(t)
	e1 := q.Insert(authqueue.NewAutheableEntry(s1, "a", time.Minute))
	e2 := q.Insert(authqueue.NewAutheableEntry(s2, "b", time.Minute))
	e1.SetActive(false)

	if q.DeletionHeuristicForTest() {
		t.Fatalf("expected no compaction with only 1 of 2 cutoff inactive")
	}
	e2.SetActive(false)
	if !q.DeletionHeuristicForTest() {
		t.Fatalf("expected compaction once inactive count reaches cutoff")
	}
}

func TestSessionAuthenticatorAcceptsIssuedSession(t *testing.T) {
	a := authqueue.NewSessionAuthenticator([]byte("secret"))
	sessionID := []byte("abc123")
	a.IssueSession(sessionID)

	if !a.Authenticate(wire.AuthMsg{IsSessionID: true, Identifier: sessionID}) {
		t.Fatalf("expected issued session to authenticate")
	}
	a.RevokeSession(sessionID)
	if a.Authenticate(wire.AuthMsg{IsSessionID: true, Identifier: sessionID}) {
		t.Fatalf("expected revoked session to be rejected")
	}
}

// An admitted entry's connection must survive compaction: ownership
// has moved to the ConnectedNode, so DeletionPredicate must not close
// it out from under the registry.
func TestAdmissionTransfersConnectionOwnership(t *testing.T) {
	cfg := testConfig()
	cfg.Cutoff = 1
	client, server := pipe(t)
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte(" "))
	q := authqueue.New(cfg, authn, registry, nil)

	e := authqueue.NewAutheableEntry(server, "127.0.0.1:9", time.Minute)
	entry := q.Insert(e)

	go func() {
		framed, _ := wire.Frame(wire.AuthMsg{Identifier: []byte(" ")})
		client.Write(framed)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for entry.Active() && time.Now().Before(deadline) {
		q.Spin()
		time.Sleep(5 * time.Millisecond)
	}
	if entry.Active() {
		t.Fatalf("expected entry to be inactive after admission")
	}

	// Cutoff is 1, so the Spin that admitted the entry already
	// compacted it out; one more pass runs against the emptied queue.
	q.Spin()

	node, ok := registry.Get("127.0.0.1:9#1")
	if !ok {
		t.Fatalf("expected admitted node in registry")
	}
	if node.Transport == nil {
		t.Fatalf("expected admitted node to carry the transferred transport")
	}
	// A net.Pipe write only returns once the other end reads it, so
	// drain the probe byte on the server side (clearing the read
	// deadline the last RecvFor left behind).
	go func() {
		server.SetReadDeadline(time.Time{})
		server.Read(make([]byte, 1))
	}()
	if _, err := client.Write([]byte{0}); err != nil {
		t.Fatalf("expected connection to remain open after compaction, got %v", err)
	}
}

// Only the session-id variant of AUTH should end up in Session — the
// password variant's identifier is the shared secret itself and has
// no business persisting in the registry.
func TestAdmitDoesNotPersistPassword(t *testing.T) {
	client, server := pipe(t)
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("hunter2"))
	q := authqueue.New(testConfig(), authn, registry, nil)

	e := authqueue.NewAutheableEntry(server, "127.0.0.1:10", time.Minute)
	entry := q.Insert(e)

	go func() {
		framed, _ := wire.Frame(wire.AuthMsg{Identifier: []byte("hunter2")})
		client.Write(framed)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for entry.Active() && time.Now().Before(deadline) {
		q.Spin()
		time.Sleep(5 * time.Millisecond)
	}

	node, ok := registry.Get("127.0.0.1:10#1")
	if !ok {
		t.Fatalf("expected admitted node in registry")
	}
	if len(node.Session) != 0 {
		t.Fatalf("expected no persisted session for password auth, got %q", node.Session)
	}
}

func TestMetricsReportsQueueDepth(t *testing.T) {
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("s"))
	q := authqueue.New(testConfig(), authn, registry, nil)

	_, s1 := pipe(t)
	_, s2 := pipe(t)
	q.Insert(authqueue.NewAutheableEntry(s1, "127.0.0.1:20", time.Minute))
	q.Insert(authqueue.NewAutheableEntry(s2, "127.0.0.1:21", time.Minute))

	if got := q.Metrics().Depth; got != 2 {
		t.Fatalf("Metrics().Depth = %d, want 2", got)
	}
}

func TestTryInsertRespectsPerAddrCap(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerAddr = 1
	cfg.Cutoff = 1
	registry := discovery.NewNodeRegistry(0, 0)
	authn := authqueue.NewSharedSecretAuthenticator([]byte("s"))
	q := authqueue.New(cfg, authn, registry, nil)

	_, s1 := pipe(t)
	_, s2 := pipe(t)

	entry, ok := q.TryInsert(authqueue.NewAutheableEntry(s1, "10.0.0.1:9", time.Minute))
	if !ok {
		t.Fatalf("expected first entry from an address to be admitted")
	}
	if _, ok := q.TryInsert(authqueue.NewAutheableEntry(s2, "10.0.0.1:9", time.Minute)); ok {
		t.Fatalf("expected second entry from the same address to be refused at cap 1")
	}

	entry.SetActive(false)
	q.Spin()

	if _, ok := q.TryInsert(authqueue.NewAutheableEntry(s2, "10.0.0.1:9", time.Minute)); !ok {
		t.Fatalf("expected a slot to free up once the first entry compacted out")
	}
}

func TestSessionAuthenticatorFallsBackForPassword(t *testing.T) {
	fallback := authqueue.NewSharedSecretAuthenticator([]byte("pw"))
	a := authqueue.NewSessionAuthenticator([]byte("secret"))
	a.Fallback = fallback

	if !a.Authenticate(wire.AuthMsg{Identifier: []byte("pw")}) {
		t.Fatalf("expected fallback authenticator to accept matching password")
	}
}
