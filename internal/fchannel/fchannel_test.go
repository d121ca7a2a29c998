package fchannel_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
	"github.com/anillo-os/anillo-os-sub007/internal/fchannel"
)

func TestSendReceiveFIFOOrder(t *testing.T) {
	a, b := fchannel.NewPair()

	for i, body := range []string{"one", "two", "three"} {
		require.Equal(t, errs.Ok, a.Send(&fchannel.Message{Body: []byte(body), ConversationID: uint64(i)}, false))
	}
	for _, want := range []string{"one", "two", "three"} {
		msg, status := b.Receive()
		require.Equal(t, errs.Ok, status)
		require.Equal(t, want, string(msg.Body))
	}
}

func TestReceiveOnEmptyClosedPeerIsPermanentOutage(t *testing.T) {
	a, b := fchannel.NewPair()
	a.Close()

	_, status := b.Receive()
	require.Equal(t, errs.PermanentOutage, status)
}

func TestReceiveOnEmptyOpenPeerIsNoWait(t *testing.T) {
	a, _ := fchannel.NewPair()
	_, status := a.Receive()
	require.Equal(t, errs.NoWait, status)
}

func TestConversationIDsMonotonicAndUnique(t *testing.T) {
	a, _ := fchannel.NewPair()
	seen := map[uint64]bool{}
	last := uint64(0)
	for i := 0; i < 10; i++ {
		id := a.NextConversationID()
		require.False(t, seen[id])
		require.Greater(t, id, last)
		seen[id] = true
		last = id
	}
}

func TestRequestReplyRoundTrip(t *testing.T) {
	a, b := fchannel.NewPair()

	go func() {
		msg, status := b.Receive()
		require.Equal(t, errs.Ok, status)
		require.Equal(t, "ping", string(msg.Body))
		b.Send(&fchannel.Message{Body: []byte("pong"), ConversationID: msg.ConversationID}, false)
	}()

	reply, status := a.SendWithReply([]byte("ping"), nil, func(convID uint64) (*fchannel.Message, errs.Status) {
		for {
			msg, status := a.Receive()
			if status == errs.Ok {
				return msg, status
			}
			if status != errs.NoWait {
				return nil, status
			}
		}
	})
	require.Equal(t, errs.Ok, status)
	require.Equal(t, "pong", string(reply.Body))
}

func TestCloseReleasesAttachedObjectsOnPendingMessages(t *testing.T) {
	a, b := fchannel.NewPair()

	released := false
	obj := releaseFunc(func() { released = true })
	require.Equal(t, errs.Ok, a.Send(&fchannel.Message{Body: []byte("x"), Attached: []fchannel.AttachedObject{obj}}, false))

	b.Close()
	require.True(t, released)
}

func TestSendToClosedPeerIsPermanentOutage(t *testing.T) {
	a, b := fchannel.NewPair()
	b.Close()

	status := a.Send(&fchannel.Message{Body: []byte("x")}, false)
	require.Equal(t, errs.PermanentOutage, status)
}

func TestServerAcceptDeliversConnection(t *testing.T) {
	realm := fchannel.NewRealm()
	server, status := realm.Register("svc")
	require.Equal(t, errs.Ok, status)

	client, status := realm.Connect("svc")
	require.Equal(t, errs.Ok, status)
	require.NotNil(t, client)

	accepted, status := server.Accept()
	require.Equal(t, errs.Ok, status)
	require.NotNil(t, accepted)

	require.Equal(t, errs.Ok, client.Send(&fchannel.Message{Body: []byte("hi")}, false))
	msg, status := accepted.Receive()
	require.Equal(t, errs.Ok, status)
	require.Equal(t, "hi", string(msg.Body))
}

func TestConnectToUnknownNameFails(t *testing.T) {
	realm := fchannel.NewRealm()
	_, status := realm.Connect("nope")
	require.Equal(t, errs.NoSuchResource, status)
}

type releaseFunc func()

func (f releaseFunc) Release() { f() }
