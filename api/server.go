package api

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	awsCfg "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/microcosm-cc/bluemonday"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"techgenie/adapters/realtime"
	redisAdapter "techgenie/adapters/redis"
	internalS3 "techgenie/adapters/s3"
	"techgenie/auction"
	"techgenie/models"
)

type ServerImpl struct {
	engine      *auction.Engine
	hub         realtime.IHub[Frame]
	s3Operator  *internalS3.Operator
	htmlChecker *bluemonday.Policy
	redisClient *redis.Client
	db          *gorm.DB

	framesProducer  redisAdapter.IProducer[realtime.Envelope[Frame]]
	cleanupProducer redisAdapter.IProducer[ImageCleanupTask]
	cleanupConsumer redisAdapter.IGroupConsumer[ImageCleanupTask]

	wg         sync.WaitGroup
	cancelFunc context.CancelFunc

	config ServerConfig
}

func NewServer(config ServerConfig) (*ServerImpl, error) {
	const op = "NewServer"

	// 初始化S3客戶端
	s3Cfg, err := awsCfg.LoadDefaultConfig(
		context.Background(),
		awsCfg.WithBaseEndpoint(config.S3.Endpoint),
		awsCfg.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(config.S3.AccessKeyID, config.S3.SecretAccessKey, "")),
		awsCfg.WithRegion("auto"),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to load AWS config, err=%w", op, err)
	}
	s3Operator, err := internalS3.NewOperator(s3.NewFromConfig(s3Cfg), config.S3.Bucket, config.S3.PublicBaseURL)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create S3 operator, err=%w", op, err)
	}

	// 初始化資料庫連線
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable&search_path=%s", config.DB.User, config.DB.Password, config.DB.Host, config.DB.Port, config.DB.Database, config.DB.Schema)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		NamingStrategy: schema.NamingStrategy{
			TablePrefix: config.DB.Schema + ".",
		},
	})
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to connect to database, err=%w", op, err)
	}
	if err := db.AutoMigrate(&models.Ad{}, &models.Bid{}, &models.Image{}); err != nil {
		return nil, fmt.Errorf("[%s] Fail to migrate database, err=%w", op, err)
	}

	// 初始化Redis連線
	redisClient := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
	})

	// 初始化推播hub，經由Redis Stream讓多個實例共享事件
	framesProducer, err := redisAdapter.NewProducer[realtime.Envelope[Frame]](redisClient, config.Redis.StreamKeys.Events)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create frames producer, err=%w", op, err)
	}
	framesConsumer, err := redisAdapter.NewConsumer[realtime.Envelope[Frame]](redisClient, config.Redis.StreamKeys.Events)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create frames consumer, err=%w", op, err)
	}
	hub := realtime.NewHub[Frame](
		realtime.WithHubLogger[Frame](slog.Default()),
		realtime.WithHubSubscriber[Frame](framesConsumer),
		realtime.WithHubPublisher[Frame](framesProducer),
	)

	// 初始化圖片清理的stream
	cleanupProducer, err := redisAdapter.NewProducer[ImageCleanupTask](redisClient, config.Redis.StreamKeys.Cleanup)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create cleanup producer, err=%w", op, err)
	}
	cleanupConsumer, err := redisAdapter.NewGroupConsumer[ImageCleanupTask](
		redisClient,
		config.Redis.StreamKeys.Cleanup,
		config.Redis.ConsumerGroup,
		config.ID,
		redisAdapter.WithGroupConsumerLogger[ImageCleanupTask](slog.Default()),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create cleanup consumer, err=%w", op, err)
	}

	// 初始化競標引擎
	notifier := NewEventNotifier(hub, cleanupProducer, slog.Default())
	engine, err := auction.NewEngine(
		db,
		auction.WithNotifier(notifier),
		auction.WithBidCache(redisClient, config.Redis.KeyPrefix, config.Redis.ExpireTime),
		auction.WithLockFactory(func(key string) redisAdapter.IAutoRenewMutex {
			return redisAdapter.NewAutoRenewMutex(redisClient, key)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("[%s] Fail to create auction engine, err=%w", op, err)
	}

	return &ServerImpl{
		engine:          engine,
		hub:             hub,
		s3Operator:      s3Operator,
		htmlChecker:     bluemonday.UGCPolicy(),
		redisClient:     redisClient,
		db:              db,
		framesProducer:  framesProducer,
		cleanupProducer: cleanupProducer,
		cleanupConsumer: cleanupConsumer,
		config:          config,
	}, nil
}

func (impl *ServerImpl) Start() error {
	const op = "Start"
	// 啟動producer
	impl.framesProducer.Start()
	impl.cleanupProducer.Start()
	// 啟動hub(連同跨實例的consumer)
	impl.hub.Start()
	// 啟動group consumer
	if err := impl.cleanupConsumer.Start(); err != nil {
		return fmt.Errorf("[%s] Fail to start cleanup consumer, err=%w", op, err)
	}
	// 啟動一個worker用於清除已刪除刊登的圖片
	ctx, cancel := context.WithCancel(context.Background())
	impl.cancelFunc = cancel
	slog.Info("Start image cleanup worker")
	impl.wg.Add(1)
	go func() {
		logger := slog.Default().With(slog.String("caller", "ImageCleanup"))
		defer impl.wg.Done()
		defer slog.Info("Image cleanup worker stopped")
		ch := impl.cleanupConsumer.Subscribe()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				logger.Debug("Receive cleanup task", slog.String("adID", msg.Data.AdID.String()))
				handleErr := impl.cleanupImages(ctx, msg.Data)
				if handleErr != nil {
					logger.Error("Fail to cleanup images", slog.Any("error", handleErr))
					if err := msg.Fail(ctx, handleErr); err != nil {
						logger.Error("Fail to fail message", slog.Any("error", err))
					}
					continue
				}
				if err := msg.Done(ctx); err != nil {
					logger.Error("Cleanup success but fail to done message", slog.Any("error", err))
					if err := msg.Fail(ctx, err); err != nil {
						logger.Error("Cleanup success but fail to fail message", slog.Any("error", err))
					}
					continue
				}
				logger.Debug("Cleanup success")
			}
		}
	}()
	return nil
}

// cleanupImages 從S3移除刊登引用的所有圖片，並清掉對應的上傳紀錄
func (impl *ServerImpl) cleanupImages(ctx context.Context, task ImageCleanupTask) error {
	for _, imageURL := range task.Images {
		key, ok := impl.s3Operator.KeyFromURL(imageURL)
		if !ok {
			// 不屬於這個bucket的外部連結，跳過
			continue
		}
		if err := impl.s3Operator.Delete(ctx, key); err != nil {
			return fmt.Errorf("fail to delete image %s, err=%w", key, err)
		}
		if result := impl.db.WithContext(ctx).Where("url = ?", imageURL).Delete(&models.Image{}); result.Error != nil {
			return fmt.Errorf("fail to delete image record %s, err=%w", imageURL, result.Error)
		}
	}
	return nil
}

func (impl *ServerImpl) Close() {
	// 關閉group consumer
	_ = impl.cleanupConsumer.Close()
	// 關閉worker
	if impl.cancelFunc != nil {
		impl.cancelFunc()
	}
	impl.wg.Wait()
	// 關閉hub(連同跨實例的consumer)
	impl.hub.Done()
	// 關閉producer
	impl.framesProducer.Close()
	impl.cleanupProducer.Close()
}
