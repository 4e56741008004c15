// Package replay feeds captured L4 messages back through the ingestion loop.
package replay

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"l4book/internal/metrics"
	"l4book/logger"
	"l4book/models"
)

const maxLine = 64 << 20

// Source reads one websocket message per line, as written by the live
// reader's capture option. Lines for other markets are passed through and
// left to the ingestor to discard.
type Source struct {
	market  string
	scanner *bufio.Scanner
	closer  io.Closer
	line    int
	log     *logger.Entry
}

// New wraps r. market fills frames that carry no coin of their own.
func New(r io.Reader, market string) *Source {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLine)
	s := &Source{
		market:  market,
		scanner: sc,
		log:     logger.GetLogger().WithComponent("replay_reader").WithMarket(market),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	return s
}

// Open replays the capture file at path.
func Open(path, market string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("replay: open %s: %w", path, err)
	}
	return New(f, market), nil
}

// Next returns the next frame in the file, or io.EOF at its end. A line that
// holds a corrupt L4 frame is an error: replaying past it would hide a gap.
func (s *Source) Next(ctx context.Context) (models.Frame, error) {
	for {
		if err := ctx.Err(); err != nil {
			return models.Frame{}, err
		}
		if !s.scanner.Scan() {
			if err := s.scanner.Err(); err != nil {
				return models.Frame{}, fmt.Errorf("replay: line %d: %w", s.line+1, err)
			}
			return models.Frame{}, io.EOF
		}
		s.line++
		raw := s.scanner.Bytes()
		if len(raw) == 0 {
			continue
		}

		frame, ok, err := models.DecodeMessage(raw)
		if err != nil {
			metrics.EmitDropMetric(logger.GetLogger(), metrics.DropMetricUndecodable, s.market, "replay")
			if errors.Is(err, models.ErrMalformedFrame) {
				return models.Frame{}, fmt.Errorf("replay: line %d: %w", s.line, err)
			}
			s.log.WithError(err).WithField("line", s.line).Warn("skipping undecodable line")
			continue
		}
		if !ok {
			continue
		}
		if frame.Market == "" {
			frame.Market = s.market
		}
		frame.ReceivedAt = time.Now()
		return frame, nil
	}
}

// Lines reports how many lines have been consumed.
func (s *Source) Lines() int { return s.line }

func (s *Source) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}
