package common

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"chunkqueue/chunkqueue"
)

func TestStreamPumpProducesExactPattern(t *testing.T) {
	InitBinaryBufferPool(8)

	var out bytes.Buffer
	streamPump(&out, 20, 8, 0, false, "")

	var want bytes.Buffer
	for want.Len() < 20 {
		want.Write(DataPattern)
	}
	require.Equal(t, want.Bytes()[:20], out.Bytes())
}

func TestQueuePatternReaderDrainsExactTotal(t *testing.T) {
	InitBinaryBufferPool(4)

	r := &queuePatternReader{q: chunkqueue.New(streamPool), remaining: 10, chunkSize: 4}
	var out bytes.Buffer
	buf := make([]byte, 3)
	for {
		n, err := r.Read(buf)
		out.Write(buf[:n])
		if err != nil {
			break
		}
	}

	require.Equal(t, 10, out.Len())
}
