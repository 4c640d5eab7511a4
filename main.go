package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"talkroom/internal/database"
	"talkroom/internal/handlers"
	"talkroom/internal/jwt"
	"talkroom/internal/keyValue"
	"talkroom/internal/models"
	"talkroom/internal/provider"
	"talkroom/internal/room"
	"talkroom/internal/snowflake"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func setupLogger(cfg models.ConfigFile) (*zap.SugaredLogger, error) {
	config := zap.NewProductionConfig()
	config.OutputPaths = []string{"stdout"}
	if cfg.LogToFile {
		config.OutputPaths = append(config.OutputPaths, "app.log")
	}

	level := zap.NewAtomicLevelAt(zap.InfoLevel)
	if cfg.LogLevel != "" {
		parsed, err := zap.ParseAtomicLevel(cfg.LogLevel)
		if err != nil {
			return nil, err
		}
		level = parsed
	}
	config.Level = level

	logger, err := config.Build()
	if err != nil {
		return nil, err
	}

	return logger.Sugar(), nil
}

func readConfigFile(path string) (models.ConfigFile, error) {
	var cfg models.ConfigFile

	configFile, err := os.Open(path)
	if err != nil {
		return cfg, err
	}
	defer configFile.Close()

	bytes, err := io.ReadAll(configFile)
	if err != nil {
		return cfg, err
	}

	err = json.Unmarshal(bytes, &cfg)
	if err != nil {
		return cfg, err
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		cfg.JwtSecret = secret
	}
	if hash := os.Getenv("ADMIN_KEY_HASH"); hash != "" {
		cfg.AdminKeyHash = hash
	}
	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DbPassword = password
	}
	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	return cfg, nil
}

func setupKeyValue(cfg models.ConfigFile, sugar *zap.SugaredLogger) (*keyValue.Store, error) {
	if cfg.RedisAddress == "" {
		sugar.Info("No redis address configured, using local key value store")
		return keyValue.NewLocal(sugar), nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress,
		Password: cfg.RedisPassword,
		DB:       0,
	})

	err := rdb.Ping(context.Background()).Err()
	if err != nil {
		return nil, err
	}

	return keyValue.NewRedis(sugar, rdb), nil
}

func main() {
	// a missing .env is fine, the environment may already be set
	_ = godotenv.Load()

	configPath := os.Getenv("TALK_CONFIG")
	if configPath == "" {
		configPath = "config.json"
	}

	fmt.Println("Reading config file...")
	cfg, err := readConfigFile(configPath)
	if err != nil {
		fmt.Println(err)
		return
	}

	fmt.Println("Setting up logger...")
	sugar, err := setupLogger(cfg)
	if err != nil {
		fmt.Println(err)
		return
	}
	defer sugar.Sync()

	db, err := database.Setup(&cfg, sugar)
	if err != nil {
		sugar.Fatal(err)
	}
	defer db.Close()

	kv, err := setupKeyValue(cfg, sugar)
	if err != nil {
		sugar.Fatal(err)
	}
	defer kv.Close()

	node, err := snowflake.NewNode(cfg.SnowflakeWorkerID)
	if err != nil {
		sugar.Fatal(err)
	}

	isHttps := cfg.TlsCert != "" && cfg.TlsKey != ""

	issuer, err := jwt.NewIssuer(cfg.JwtSecret, isHttps)
	if err != nil {
		sugar.Fatal(err)
	}

	p := provider.New(database.NewMessageTable(db, node), sugar)

	registry, err := room.NewRegistry(cfg.Rooms, cfg.DefaultRoomMode, p, kv, sugar)
	if err != nil {
		sugar.Fatal(err)
	}

	var httpProtocol string
	if isHttps {
		httpProtocol = "https"
	} else {
		httpProtocol = "http"
	}

	sugar.Infof("Server is running on %s://%s:%s", httpProtocol, cfg.Address, cfg.Port)

	err = handlers.Setup(isHttps, &cfg, sugar, registry, issuer, node)
	if err != nil {
		sugar.Fatal(err)
	}
}
