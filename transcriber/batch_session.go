package transcriber

import (
	"encoding/binary"
	"fmt"
	"strings"
	"sync"
	"time"

	"twin/encoder"
)

type transcribeFunc func(audio []byte) (*Result, error)

// batchSession encodes FLAC concurrently with capture so Close only pays for
// the upload.
type batchSession struct {
	transcribe transcribeFunc
	encoder    encoder.Encoder
	updates    chan Update
	blockChan  chan []int16
	encodeDone chan struct{}
	sampleBuf  []int16
	bufMu      sync.Mutex
	closed     bool
}

func newBatchSession(transcribe transcribeFunc) (*batchSession, error) {
	enc, err := encoder.NewFlac()
	if err != nil {
		return nil, err
	}

	bs := &batchSession{
		transcribe: transcribe,
		encoder:    enc,
		updates:    make(chan Update),
		blockChan:  make(chan []int16, 64),
		encodeDone: make(chan struct{}),
	}

	go func() {
		defer close(bs.encodeDone)
		for block := range bs.blockChan {
			start := time.Now()
			bs.encoder.EncodeBlock(block)
			bs.encoder.AddEncodeTime(time.Since(start))
		}
	}()
	return bs, nil
}

func (bs *batchSession) Feed(pcm []byte) {
	bs.bufMu.Lock()
	if bs.closed {
		bs.bufMu.Unlock()
		return
	}
	for i := 0; i+1 < len(pcm); i += 2 {
		bs.sampleBuf = append(bs.sampleBuf, int16(binary.LittleEndian.Uint16(pcm[i:])))
	}
	var blocks [][]int16
	for len(bs.sampleBuf) >= encoder.BlockSize {
		block := make([]int16, encoder.BlockSize)
		copy(block, bs.sampleBuf[:encoder.BlockSize])
		bs.sampleBuf = bs.sampleBuf[encoder.BlockSize:]
		blocks = append(blocks, block)
	}
	// sending under the lock keeps Close from closing blockChan mid-send
	for _, block := range blocks {
		bs.blockChan <- block
	}
	bs.bufMu.Unlock()
}

func (bs *batchSession) Updates() <-chan Update { return bs.updates }

func (bs *batchSession) Close() (SessionResult, error) {
	bs.bufMu.Lock()
	if bs.closed {
		bs.bufMu.Unlock()
		return SessionResult{}, fmt.Errorf("session already closed")
	}
	bs.closed = true
	if len(bs.sampleBuf) > 0 {
		bs.blockChan <- bs.sampleBuf
		bs.sampleBuf = nil
	}
	close(bs.blockChan)
	bs.bufMu.Unlock()

	<-bs.encodeDone
	close(bs.updates)

	if err := bs.encoder.Close(); err != nil {
		return SessionResult{}, err
	}
	enc := bs.encoder
	if enc.TotalFrames() == 0 {
		return SessionResult{NoSpeech: true}, nil
	}

	result, err := bs.transcribe(enc.Bytes())
	if err != nil {
		return SessionResult{}, err
	}

	text := strings.TrimSpace(result.Text)
	rawSize := enc.TotalFrames() * 2
	encodedSize := uint64(len(enc.Bytes()))
	compressionPct := (1.0 - float64(encodedSize)/float64(rawSize)) * 100
	audioDuration := float64(enc.TotalFrames()) / float64(encoder.SampleRate)

	stats := &BatchStats{
		AudioLengthS:     audioDuration,
		RawSizeKB:        float64(rawSize) / 1024,
		CompressedSizeKB: float64(encodedSize) / 1024,
		CompressionPct:   compressionPct,
		EncodeTimeMs:     float64(enc.EncodeTime().Milliseconds()),
		Confidence:       result.Confidence,
	}
	lines := []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB → %.1f KB flac (%.0f%% smaller)",
			audioDuration, stats.RawSizeKB, stats.CompressedSizeKB, compressionPct),
		fmt.Sprintf("encode:     %dms (concurrent)", enc.EncodeTime().Milliseconds()),
	}
	if m := result.Metrics; m != nil {
		stats.TTFBMs = float64(m.TTFB.Milliseconds())
		stats.TotalTimeMs = float64(m.Sum().Milliseconds())
		stats.ConnReused = m.ConnReused
		lines = append(lines, m.Lines()...)
	}
	if result.Confidence > 0 {
		lines = append(lines, fmt.Sprintf("confidence: %.4f", result.Confidence))
	}

	sr := SessionResult{
		Text:      text,
		HasText:   text != "",
		NoSpeech:  text == "",
		RateLimit: result.RateLimit,
		Batch:     stats,
		Metrics:   lines,
	}
	sr.captureMemStats()
	return sr, nil
}
