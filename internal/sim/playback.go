package sim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"manet-sim/internal/telemetry"
)

// replayBatchSize caps how many rows an unpaced replay hands to a writer at once.
const replayBatchSize = 256

// ReplayLog replays sample rows from a JSONL log to writer. Rows are spaced by
// their simulated time divided by speed; speed <= 0 replays without delay and
// delivers rows in batches to writers that support it.
// It returns the number of rows replayed.
func ReplayLog(ctx context.Context, r io.Reader, writer SampleWriter, speed float64) (int, error) {
	if speed <= 0 {
		return replayBatched(ctx, json.NewDecoder(r), writer)
	}
	dec := json.NewDecoder(r)
	n := 0
	prev := -1.0
	for {
		var row telemetry.SampleRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return n, nil
			}
			return n, fmt.Errorf("replay row %d: %w", n+1, err)
		}
		if prev >= 0 {
			diff := time.Duration((row.SimulationSecond - prev) / speed * float64(time.Second))
			if err := sleepCtx(ctx, diff); err != nil {
				return n, err
			}
		} else if err := ctx.Err(); err != nil {
			return n, err
		}
		if err := writer.Write(row); err != nil {
			return n, err
		}
		prev = row.SimulationSecond
		n++
	}
}

func replayBatched(ctx context.Context, dec *json.Decoder, writer SampleWriter) (int, error) {
	n := 0
	batch := make([]telemetry.SampleRow, 0, replayBatchSize)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := writeSamples(writer, batch); err != nil {
			return err
		}
		n += len(batch)
		batch = batch[:0]
		return nil
	}
	for {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		var row telemetry.SampleRow
		if err := dec.Decode(&row); err != nil {
			if errors.Is(err, io.EOF) {
				return n, flush()
			}
			decodeErr := fmt.Errorf("replay row %d: %w", n+len(batch)+1, err)
			if ferr := flush(); ferr != nil {
				return n, ferr
			}
			return n, decodeErr
		}
		batch = append(batch, row)
		if len(batch) == replayBatchSize {
			if err := flush(); err != nil {
				return n, err
			}
		}
	}
}

// ReplayLogFile opens a file and replays its sample rows.
func ReplayLogFile(ctx context.Context, path string, writer SampleWriter, speed float64) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return ReplayLog(ctx, f, writer, speed)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
