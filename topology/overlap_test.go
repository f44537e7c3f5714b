package topology_test

import (
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/attaradev/nats-pubsub-sub004/topology"
)

// fakeJetStream implements only the JetStreamContext surface the
// topology package exercises.
type fakeJetStream struct {
	nats.JetStreamContext
	streams []*nats.StreamInfo
}

func (f *fakeJetStream) StreamsInfo(opts ...nats.JSOpt) <-chan *nats.StreamInfo {
	ch := make(chan *nats.StreamInfo, len(f.streams))
	for _, s := range f.streams {
		ch <- s
	}
	close(ch)
	return ch
}

func TestOverlapGuardPartitionAllowed(t *testing.T) {
	js := &fakeJetStream{streams: []*nats.StreamInfo{
		{Config: nats.StreamConfig{Name: "STREAM_A", Subjects: []string{"test.events.users.>"}}},
	}}
	guard := topology.NewOverlapGuard(js)

	allowed, blocked, conflicts, err := guard.PartitionAllowed([]string{"test.events.>"}, "STREAM_B")
	require.NoError(t, err)
	assert.Empty(t, allowed)
	assert.Equal(t, []string{"test.events.>"}, blocked)
	require.Len(t, conflicts, 1)
	assert.Equal(t, "STREAM_A", conflicts[0].ExistingStream)
}

func TestOverlapGuardExcludesOwnStream(t *testing.T) {
	js := &fakeJetStream{streams: []*nats.StreamInfo{
		{Config: nats.StreamConfig{Name: "STREAM_A", Subjects: []string{"test.events.>"}}},
	}}
	guard := topology.NewOverlapGuard(js)

	allowed, blocked, _, err := guard.PartitionAllowed([]string{"test.events.>"}, "STREAM_A")
	require.NoError(t, err)
	assert.Equal(t, []string{"test.events.>"}, allowed)
	assert.Empty(t, blocked)
}

func TestOverlapGuardCheckRaises(t *testing.T) {
	js := &fakeJetStream{streams: []*nats.StreamInfo{
		{Config: nats.StreamConfig{Name: "STREAM_A", Subjects: []string{"test.events.users.>"}}},
	}}
	guard := topology.NewOverlapGuard(js)

	err := guard.Check([]string{"test.events.>"}, "STREAM_B")
	require.Error(t, err)
	var conflictErr *topology.ConflictError
	assert.ErrorAs(t, err, &conflictErr)
	assert.Contains(t, conflictErr.Error(), "test.events.>")
}
