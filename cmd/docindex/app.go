package main

import (
	"time"

	"github.com/fyerfyer/doc-index/config"
	"github.com/fyerfyer/doc-index/internal/cache"
	"github.com/fyerfyer/doc-index/internal/database"
	"github.com/fyerfyer/doc-index/internal/document"
	"github.com/fyerfyer/doc-index/internal/embedding"
	"github.com/fyerfyer/doc-index/internal/indexstore"
	"github.com/fyerfyer/doc-index/internal/lock"
	"github.com/fyerfyer/doc-index/internal/logger"
	"github.com/fyerfyer/doc-index/internal/repository"
	"github.com/fyerfyer/doc-index/internal/services"
	"github.com/fyerfyer/doc-index/pkg/storage"
	"github.com/sirupsen/logrus"
)

// app 按配置装配的各组件
type app struct {
	cfg       *config.Config
	logger    *logrus.Logger
	store     *indexstore.Store
	builder   *services.Builder
	retriever *services.Retriever
	documents *services.DocumentService
	closers   []func()
}

func newApp(cfg *config.Config) (*app, error) {
	a := &app{
		cfg: cfg,
		logger: logger.New(logger.Config{
			Level:      cfg.Log.Level,
			File:       cfg.Log.File,
			MaxSizeMB:  cfg.Log.MaxSizeMB,
			MaxBackups: cfg.Log.MaxBackups,
			MaxAgeDays: cfg.Log.MaxAgeDays,
		}),
	}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	mirror, err := storage.New(storage.Config{
		Type:  cfg.Mirror.Type,
		Local: storage.LocalConfig{Path: cfg.Mirror.Path},
		Minio: storage.MinioConfig{
			Endpoint:  cfg.Mirror.Endpoint,
			AccessKey: cfg.Mirror.AccessKey,
			SecretKey: cfg.Mirror.SecretKey,
			UseSSL:    cfg.Mirror.UseSSL,
			Bucket:    cfg.Mirror.Bucket,
		},
	})
	if err != nil {
		return nil, err
	}

	storeOpts := []indexstore.Option{
		indexstore.WithLogger(a.logger),
		indexstore.WithStaleStaging(cfg.Index.StaleStaging),
	}
	if mirror != nil {
		storeOpts = append(storeOpts, indexstore.WithMirror(mirror))
	}
	a.store, err = indexstore.Open(cfg.Index.Root, storeOpts...)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewClient(cfg.Embed.Provider,
		embedding.WithAPIKey(cfg.Embed.APIKey),
		embedding.WithBaseURL(cfg.Embed.Endpoint),
		embedding.WithModel(cfg.Embed.Model),
		embedding.WithTimeout(cfg.Embed.Timeout),
		embedding.WithMaxRetries(cfg.Embed.MaxRetries),
		embedding.WithDimensions(cfg.Embed.Dimensions),
		embedding.WithBatchSize(cfg.Embed.BatchSize),
	)
	if err != nil {
		return nil, err
	}

	splitter, err := document.NewTextSplitter(document.SplitterConfig{
		ChunkSize:    cfg.Index.ChunkSize,
		ChunkOverlap: cfg.Index.ChunkOverlap,
	})
	if err != nil {
		return nil, err
	}

	opts, err := a.serviceOptions()
	if err != nil {
		return nil, err
	}

	a.builder, err = services.NewBuilder(splitter, embedder, a.store, opts...)
	if err != nil {
		return nil, err
	}
	a.retriever, err = services.NewRetriever(embedder, a.store, opts...)
	if err != nil {
		return nil, err
	}
	a.documents = services.NewDocumentService(a.store, opts...)

	a.logger.WithFields(logrus.Fields{
		"config":   cfg.String(),
		"mirrored": a.store.Mirror() != nil,
	}).Debug("Components initialized")
	ok = true
	return a, nil
}

// serviceOptions 根据配置创建锁、缓存和文档目录
func (a *app) serviceOptions() ([]services.Option, error) {
	cfg := a.cfg
	opts := []services.Option{
		services.WithLogger(a.logger),
		services.WithIndexType(cfg.Index.Type),
		services.WithDimension(cfg.Embed.Dimensions),
		services.WithBatchSize(cfg.Embed.BatchSize),
		services.WithWorkers(cfg.Embed.Workers),
		services.WithMinContentLength(cfg.Index.MinContent),
		services.WithTopK(cfg.Search.TopK),
	}

	locker, err := lock.New(lock.Config{
		Type:          cfg.Lock.Type,
		RedisAddr:     cfg.Lock.Address,
		RedisPassword: cfg.Lock.Password,
		RedisDB:       cfg.Lock.DB,
		TTL:           cfg.Lock.TTL,
	})
	if err != nil {
		return nil, err
	}
	opts = append(opts, services.WithLocker(locker))

	if cfg.Cache.IndexEntries > 0 {
		indexCache, err := cache.NewIndexCache(cfg.Cache.IndexEntries)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, indexCache.Purge)
		opts = append(opts, services.WithIndexCache(indexCache))
	}

	if cfg.Cache.Enable {
		cacheCfg := cache.DefaultConfig()
		cacheCfg.Type = cfg.Cache.Type
		cacheCfg.RedisAddr = cfg.Cache.Address
		cacheCfg.RedisPassword = cfg.Cache.Password
		cacheCfg.RedisDB = cfg.Cache.DB
		if cfg.Cache.TTL > 0 {
			cacheCfg.DefaultTTL = time.Duration(cfg.Cache.TTL) * time.Second
		}

		resultCache, err := cache.NewCache(cacheCfg)
		if err != nil {
			return nil, err
		}
		opts = append(opts, services.WithResultCache(resultCache, cacheCfg.DefaultTTL))
	}

	if cfg.Database.Enable {
		dbCfg := database.DefaultConfig()
		dbCfg.Type = cfg.Database.Type
		dbCfg.DSN = cfg.Database.DSN

		db, err := database.Open(dbCfg, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = database.Close(db) })
		opts = append(opts, services.WithCatalog(repository.NewDocumentRepository(db)))
	}

	return opts, nil
}

// Close 释放资源
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
