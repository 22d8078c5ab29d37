package realtime_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"kusheet/internal/model"
	"kusheet/internal/realtime"
	"kusheet/internal/testutil"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func hasMessage(v *realtime.ChatView, id string) bool {
	for _, m := range v.Messages() {
		if m.ID == id {
			return true
		}
	}
	return false
}

func TestAPIClientAgainstServer(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ctx := context.Background()

	alice := realtime.NewAPIClient(ts.URL, testutil.Alice.Token, nil)
	sent, err := alice.PostMessage(ctx, testutil.GroupID, model.SendRequest{Content: "hello"})
	if err != nil {
		t.Fatalf("PostMessage: %v", err)
	}
	if sent.User.ID != testutil.Alice.ID || sent.Seq == 0 {
		t.Fatalf("unexpected message %+v", sent)
	}

	snap, err := alice.FetchChat(ctx, testutil.GroupID)
	if err != nil {
		t.Fatalf("FetchChat: %v", err)
	}
	if len(snap.Messages) != 1 || snap.Messages[0].ID != sent.ID {
		t.Fatalf("unexpected snapshot %+v", snap)
	}

	page, err := alice.History(ctx, testutil.GroupID, 0, 10)
	if err != nil || len(page.Messages) != 1 {
		t.Fatalf("History: %+v %v", page, err)
	}

	eve := realtime.NewAPIClient(ts.URL, testutil.Eve.Token, nil)
	if _, err := eve.FetchChat(ctx, testutil.GroupID); !errors.Is(err, realtime.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
	if _, err := eve.PostMessage(ctx, testutil.GroupID, model.SendRequest{Content: "x"}); !errors.Is(err, realtime.ErrForbidden) {
		t.Fatalf("expected ErrForbidden, got %v", err)
	}
}

func TestSocketAndFallbackClientsConverge(t *testing.T) {
	ts := testutil.NewTestServer(t)
	ctx := context.Background()

	// Alice 走 socket
	aliceSock := realtime.NewWSSocket(realtime.SocketOptions{URL: ts.WSURL(), Token: testutil.Alice.Token})
	t.Cleanup(aliceSock.Close)
	aliceSock.Start()
	alice := realtime.NewChatView(testutil.GroupID, aliceSock,
		realtime.NewAPIClient(ts.URL, testutil.Alice.Token, nil), realtime.ViewOptions{})
	if err := alice.Mount(ctx); err != nil {
		t.Fatalf("Mount alice: %v", err)
	}
	t.Cleanup(alice.Unmount)
	waitFor(t, "alice joined", alice.SocketReady)
	if alice.StreamOpen() {
		t.Fatalf("alice should not keep an SSE stream once joined")
	}

	// Bob 的 socket 不启动，只能依赖 SSE 与 REST
	bobSock := realtime.NewWSSocket(realtime.SocketOptions{URL: ts.WSURL(), Token: testutil.Bob.Token})
	bob := realtime.NewChatView(testutil.GroupID, bobSock,
		realtime.NewAPIClient(ts.URL, testutil.Bob.Token, nil), realtime.ViewOptions{})
	if err := bob.Mount(ctx); err != nil {
		t.Fatalf("Mount bob: %v", err)
	}
	t.Cleanup(bob.Unmount)
	if !bob.StreamOpen() {
		t.Fatalf("bob should fall back to SSE")
	}
	waitFor(t, "both subscribed", func() bool { return ts.Hub.Count(testutil.GroupID) == 2 })

	fromAlice, err := alice.Send(ctx, "via socket")
	if err != nil {
		t.Fatalf("alice Send: %v", err)
	}
	fromBob, err := bob.Send(ctx, "via rest")
	if err != nil {
		t.Fatalf("bob Send: %v", err)
	}

	waitFor(t, "bob sees alice", func() bool { return hasMessage(bob, fromAlice.ID) })
	waitFor(t, "alice sees bob", func() bool { return hasMessage(alice, fromBob.ID) })
	time.Sleep(50 * time.Millisecond)
	if len(alice.Messages()) != 2 || len(bob.Messages()) != 2 {
		t.Fatalf("expected 2 messages each, got alice=%d bob=%d", len(alice.Messages()), len(bob.Messages()))
	}
	if ts.Store.MessageCount(testutil.GroupID) != 2 {
		t.Fatalf("expected 2 stored messages, got %d", ts.Store.MessageCount(testutil.GroupID))
	}

	bob.Unmount()
	waitFor(t, "bob stream closed", func() bool { return ts.Hub.Count(testutil.GroupID) == 1 })
	alice.Unmount()
	waitFor(t, "alice left", func() bool { return ts.Hub.Count(testutil.GroupID) == 0 })
	if n := aliceSock.ListenerCount(); n != 0 {
		t.Fatalf("listeners leaked on alice socket: %d", n)
	}
}

func TestNonMemberViewIsRestricted(t *testing.T) {
	ts := testutil.NewTestServer(t)
	sock := realtime.NewWSSocket(realtime.SocketOptions{URL: ts.WSURL(), Token: testutil.Eve.Token})
	t.Cleanup(sock.Close)
	sock.Start()

	v := realtime.NewChatView(testutil.GroupID, sock,
		realtime.NewAPIClient(ts.URL, testutil.Eve.Token, nil), realtime.ViewOptions{})
	if err := v.Mount(context.Background()); err != nil {
		t.Fatalf("Mount: %v", err)
	}
	defer v.Unmount()
	if !v.Restricted() || v.StreamOpen() {
		t.Fatalf("non-member should be restricted without a stream")
	}
	if sock.ListenerCount() != 0 {
		t.Fatalf("non-member view should not register listeners")
	}
}

func TestSharedConnection(t *testing.T) {
	ts := testutil.NewTestServer(t)
	opts := realtime.SocketOptions{URL: ts.WSURL(), Token: testutil.Alice.Token}

	first := realtime.GetConnection(opts)
	second := realtime.GetConnection(opts)
	if first != second {
		t.Fatalf("GetConnection should return the shared socket")
	}
	waitFor(t, "connected", first.Connected)

	realtime.TeardownConnection()
	realtime.TeardownConnection()
	waitFor(t, "disconnected", func() bool { return !first.Connected() })

	third := realtime.GetConnection(opts)
	defer realtime.TeardownConnection()
	if third == first {
		t.Fatalf("teardown should drop the shared socket")
	}
}
