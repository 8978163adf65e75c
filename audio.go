package callmgr

import (
	"fmt"
	"sync"

	"github.com/gordonklaus/portaudio"
)

const (
	frameSize    = 480 // 60ms frames at 8kHz; a legal opus frame size
	buffPoolSize = 10_000
)

// AudioIO records and plays raw PCM frames through portaudio. Frames are
// []int16 so they can be handed to the opus codec without conversion, and
// are recycled through BuffPool to keep the capture path allocation-free.
type AudioIO struct {
	BuffPool   *sync.Pool
	sampleRate int
}

func NewAudioIO(sampleRate int) *AudioIO {
	buffPool := &sync.Pool{
		New: func() interface{} {
			return make([]int16, frameSize)
		},
	}
	// warm up buffer pool
	for i := 0; i < buffPoolSize; i++ {
		buffPool.Put(buffPool.New())
	}
	return &AudioIO{
		BuffPool:   buffPool,
		sampleRate: sampleRate,
	}
}

// Play streams over the given `buffStream` and plays the audio frames. It
// exits when `buffStream` is closed.
func (a *AudioIO) Play(buffStream <-chan []int16) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init err: %s", err.Error())
	}
	defer portaudio.Terminate()
	paStreamBuff := a.BuffPool.Get().([]int16)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(a.sampleRate), frameSize, &paStreamBuff)
	if err != nil {
		return fmt.Errorf("stream init fail: %s", err.Error())
	}
	defer stream.Close()
	if err := stream.Start(); err != nil {
		return fmt.Errorf("stream start err: %s", err.Error())
	}
	defer stream.Stop()
	// stream over the buffStream and write to the audio stream
	for next := range buffStream {
		copy(paStreamBuff, next)
		a.BuffPool.Put(next)
		stream.Write()
	}
	return nil
}

// Record records audio frames and sends them on the returned channel. The
// `done` chan completes the recording operation and closes the returned
// record stream channel.
func (a *AudioIO) Record(done chan struct{}) (<-chan []int16, error) {
	recBuff := a.BuffPool.Get().([]int16)
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init err: %s", err.Error())
	}
	stream, err := portaudio.OpenDefaultStream(1, 0, float64(a.sampleRate), frameSize, &recBuff)
	if err != nil {
		return nil, fmt.Errorf("stream init fail: %s", err.Error())
	}
	if err := stream.Start(); err != nil {
		return nil, fmt.Errorf("stream start err: %s", err.Error())
	}
	// read frames from the audio stream and serve them over `recordStream`
	recordStream := make(chan []int16)
	go func() {
		defer portaudio.Terminate()
		defer stream.Close()
		defer stream.Stop()

		var next []int16
		for {
			select {
			case <-done:
				stream.Stop()
				close(recordStream)
				return
			default:
				stream.Read()
				next = a.BuffPool.Get().([]int16)
				copy(next, recBuff)
				recordStream <- next
			}
		}
	}()
	return recordStream, nil
}
