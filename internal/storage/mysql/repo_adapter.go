package mysql

import (
	"context"

	"github.com/Meng-nanco/Disaster-Response-Pipelines/internal/storage"
)

// openSink is a test hook that points to Open by default.
var openSink = Open

// init registers the "mysql" backend with the factory.
func init() {
	storage.Register("mysql", func(ctx context.Context, dsn string, opt storage.Options) (storage.Sink, error) {
		s, err := openSink(ctx, dsn, opt)
		if err != nil {
			return nil, err
		}
		return s, nil
	})
}
