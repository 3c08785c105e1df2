package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// Chunk is one contiguous slice of a media file.
type Chunk struct {
	Index  int
	Offset int64
	Data   []byte
}

// SplitChunks reads r in chunkSize pieces and hands each to fn in order. It
// fails if the stream is shorter or longer than declared.
func SplitChunks(r io.Reader, declared, chunkSize int64, fn func(Chunk) error) error {
	if chunkSize <= 0 {
		return errors.New("chunk size must be positive")
	}
	if declared <= 0 {
		return fmt.Errorf("%w: empty media", ErrInvalidPost)
	}

	var offset int64
	for index := 0; offset < declared; index++ {
		size := chunkSize
		if remaining := declared - offset; remaining < size {
			size = remaining
		}
		data, err := readExactly(r, size)
		if err != nil {
			return fmt.Errorf("chunk %d at offset %d: %w", index, offset, err)
		}
		if err := fn(Chunk{Index: index, Offset: offset, Data: data}); err != nil {
			return err
		}
		offset += size
	}

	if err := expectEOF(r); err != nil {
		return err
	}
	return nil
}

// readExactly reads n bytes or reports the media as shorter than declared.
func readExactly(r io.Reader, n int64) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: media shorter than declared size", ErrInvalidPost)
		}
		return nil, err
	}
	return buf, nil
}

func expectEOF(r io.Reader) error {
	var one [1]byte
	n, err := r.Read(one[:])
	if n > 0 {
		return fmt.Errorf("%w: media longer than declared size", ErrInvalidPost)
	}
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

type PollState int

const (
	PollPending PollState = iota
	PollReady
	PollFailed
)

// PollConfig bounds how long a strategy waits for a provider to finish
// processing uploaded media.
type PollConfig struct {
	Interval time.Duration
	Attempts int
}

var DefaultPollConfig = PollConfig{Interval: 5 * time.Second, Attempts: 60}

// pollUntilReady calls check until it reports ready or failed, sleeping
// Interval between calls, for at most Attempts calls.
func pollUntilReady(ctx context.Context, cfg PollConfig, check func(ctx context.Context) (PollState, error)) error {
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		state, err := check(ctx)
		if err != nil {
			return err
		}
		switch state {
		case PollReady:
			return nil
		case PollFailed:
			return ErrMediaProcessingFailed
		}

		if attempt == cfg.Attempts {
			break
		}
		timer := time.NewTimer(cfg.Interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return ErrMediaProcessingTimeout
}
