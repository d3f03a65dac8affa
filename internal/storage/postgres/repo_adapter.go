package postgres

import (
	"context"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
)

// newSink is a test hook that points to NewSink by default.
var newSink = NewSink

func init() {
	storage.Register("postgres", func(ctx context.Context, dsn string, opt storage.Options) (storage.Sink, error) {
		s, err := newSink(ctx, dsn, opt)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
