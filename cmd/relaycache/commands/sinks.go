package commands

import (
	"go.uber.org/zap"

	"github.com/poprelay/relaycache/internal/cache"
	"github.com/poprelay/relaycache/internal/config"
	"github.com/poprelay/relaycache/internal/relay"
	"github.com/poprelay/relaycache/internal/sink"
)

// openSink returns the Redis sink when a redis url is configured, the cache file otherwise
func openSink(c *config.Config) (sink.Sink, error) {
	if c.Cache.RedisURL != "" {
		s, err := sink.NewRedisSink(c.Cache.RedisURL, c.Cache.RedisKey, c.SinkOptions())
		if err != nil {
			return nil, err
		}
		logger.Info("caching to redis", zap.String("key", s.Key()))
		return s, nil
	}

	s, err := sink.NewFileSink(c.Cache.Path, c.SinkOptions())
	if err != nil {
		return nil, err
	}
	logger.Info("caching to file", zap.String("path", s.Path()))
	return s, nil
}

// cacheLocation describes where records go, for status output
func cacheLocation(c *config.Config) string {
	if c.Cache.RedisURL != "" {
		return "redis " + c.Cache.RedisKey
	}
	return c.Cache.Path
}

// newWriter opens the sink and builds a started writer on bus (which may be nil).
// The returned close func stops the writer, flushes what is queued and closes the sink.
func newWriter(bus *relay.Bus) (*cache.Writer, func() error, error) {
	s, err := openSink(cfg)
	if err != nil {
		return nil, nil, err
	}

	w := cache.NewWriter(cfg.WriterConfig(), s, bus, logger)
	if err := w.Start(); err != nil {
		s.Close()
		return nil, nil, err
	}

	closeFn := func() error {
		if err := w.Stop(); err != nil {
			logger.Warn("failed to stop cache writer", zap.Error(err))
		}
		w.Flush()
		return s.Close()
	}
	return w, closeFn, nil
}
